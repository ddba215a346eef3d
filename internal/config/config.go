package config

import (
	"fmt"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/infra/database"
)

// 支持的传输类型
const (
	TransportZMQ  = "zmq"
	TransportGRPC = "grpc"
)

// Config dealer 客户端配置
// 各模块配置通过组合方式引入
type Config struct {
	DataDir string `yaml:"data_dir"` // e.g., "./data"

	Defaults  DefaultsConfig           `yaml:"defaults"`  // 全局默认值
	Services  map[string]ServiceConfig `yaml:"services"`  // 服务别名 -> 服务配置
	Transport TransportConfig          `yaml:"transport"` // 传输层配置
	Journal   JournalConfig            `yaml:"journal"`   // 发送记录
	Proxy     ProxyConfig              `yaml:"proxy"`     // HTTP 代理
	Serve     ServeConfig              `yaml:"serve"`     // 本地应用服务端
	Logging   LoggingConfig            `yaml:"logging"`   // 日志
}

// DefaultsConfig 未在服务中单独配置时使用的默认值
type DefaultsConfig struct {
	Transport string       `yaml:"transport"` // e.g., "zmq"
	Policy    PolicyConfig `yaml:"policy"`
}

// ServiceConfig 单个服务别名的配置
type ServiceConfig struct {
	App       string        `yaml:"app"`       // 远端应用名，默认与别名相同
	Transport string        `yaml:"transport"` // "zmq" or "grpc"
	Endpoints []string      `yaml:"endpoints"` // e.g., ["tcp://127.0.0.1:5000"] or ["127.0.0.1:50070"]
	Policy    *PolicyConfig `yaml:"policy"`    // 覆盖默认策略，可选
}

// PolicyConfig 投递策略，时间以秒为单位
type PolicyConfig struct {
	Urgent          *bool    `yaml:"urgent"`
	DeadlineSeconds *float64 `yaml:"deadline"`
	TimeoutSeconds  *float64 `yaml:"timeout"`
	MaxRetries      *int     `yaml:"max_retries"`
}

// Merge 用 o 中已设置的字段覆盖 p，返回新配置
func (p PolicyConfig) Merge(o *PolicyConfig) PolicyConfig {
	if o == nil {
		return p
	}
	if o.Urgent != nil {
		p.Urgent = o.Urgent
	}
	if o.DeadlineSeconds != nil {
		p.DeadlineSeconds = o.DeadlineSeconds
	}
	if o.TimeoutSeconds != nil {
		p.TimeoutSeconds = o.TimeoutSeconds
	}
	if o.MaxRetries != nil {
		p.MaxRetries = o.MaxRetries
	}
	return p
}

// Deadline 返回 deadline 时长，未设置为 0
func (p PolicyConfig) Deadline() time.Duration { return seconds(p.DeadlineSeconds) }

// Timeout 返回 timeout 时长，未设置为 0
func (p PolicyConfig) Timeout() time.Duration { return seconds(p.TimeoutSeconds) }

func seconds(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}

// TransportConfig 各传输实现的参数
type TransportConfig struct {
	ZMQ  ZMQConfig  `yaml:"zmq"`
	GRPC GRPCConfig `yaml:"grpc"`
}

// ZMQConfig ZMQ dealer socket 配置
type ZMQConfig struct {
	MailboxLimit int `yaml:"mailbox_limit"` // 单个请求缓存的最大块数，默认 4096
}

// GRPCConfig gRPC 客户端配置
type GRPCConfig struct {
	MaxMessageSizeMB int `yaml:"max_message_size_mb"` // 默认 16
	MailboxLimit     int `yaml:"mailbox_limit"`       // 默认 4096
}

// JournalConfig 发送记录（SQLite）配置
type JournalConfig struct {
	Enabled         bool             `yaml:"enabled"`
	database.Config `yaml:",inline"` // db_path 默认 <data_dir>/journal.db
}

// ProxyConfig HTTP 代理配置
type ProxyConfig struct {
	ListenAddr  string `yaml:"listen_addr"`   // 默认 ":8080"
	JWTSecret   string `yaml:"jwt_secret"`    // 为空时不启用认证
	MaxBodySize int64  `yaml:"max_body_size"` // 默认 16MB
}

// ServeConfig 本地应用服务端配置（用于 echo 等示例应用）
type ServeConfig struct {
	Transport string `yaml:"transport"` // "zmq" or "grpc"
	Endpoint  string `yaml:"endpoint"`  // e.g., "tcp://*:5000" or ":50070"
	App       string `yaml:"app"`       // 对外提供的应用名，默认 "echo"
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level         string `yaml:"level"`          // e.g., "info"
	Dir           string `yaml:"dir"`            // 为空时只输出到控制台
	RetentionDays int    `yaml:"retention_days"` // 默认 3
}

// Service 返回服务别名的配置
func (c *Config) Service(alias string) (ServiceConfig, bool) {
	svc, ok := c.Services[alias]
	return svc, ok
}

// PolicyFor 返回服务的合并后策略
func (c *Config) PolicyFor(alias string) (PolicyConfig, bool) {
	svc, ok := c.Services[alias]
	if !ok {
		return PolicyConfig{}, false
	}
	return c.Defaults.Policy.Merge(svc.Policy), true
}

// Validate 检查服务配置是否可用
func (c *Config) Validate() error {
	for alias, svc := range c.Services {
		switch svc.Transport {
		case TransportZMQ, TransportGRPC:
		default:
			return fmt.Errorf("service %s: unknown transport %q", alias, svc.Transport)
		}
		if len(svc.Endpoints) == 0 {
			return fmt.Errorf("service %s: no endpoints configured", alias)
		}
		if err := validatePolicy(c.Defaults.Policy.Merge(svc.Policy)); err != nil {
			return fmt.Errorf("service %s: %w", alias, err)
		}
	}
	return nil
}

func validatePolicy(p PolicyConfig) error {
	if p.DeadlineSeconds != nil && *p.DeadlineSeconds < 0 {
		return fmt.Errorf("negative deadline")
	}
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds < 0 {
		return fmt.Errorf("negative timeout")
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		return fmt.Errorf("negative max_retries")
	}
	return nil
}
