package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// LoadConfig 从配置源加载配置并应用默认值
// source 可以是文件路径，也可以是内联 YAML
func LoadConfig(source string) (*Config, error) {
	data, err := readSource(source)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// 应用默认值
	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func readSource(source string) ([]byte, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("empty config source")
	}
	if strings.Contains(source, "\n") {
		return []byte(source), nil
	}
	data, err := os.ReadFile(source)
	if err == nil {
		return data, nil
	}
	if os.IsNotExist(err) && looksInline(source) {
		return []byte(source), nil
	}
	return nil, fmt.Errorf("failed to read config %s: %w", source, err)
}

// looksInline 报告 source 是否更像内联 YAML 而不是路径
func looksInline(source string) bool {
	ext := filepath.Ext(source)
	return strings.Contains(source, ":") && ext != ".yaml" && ext != ".yml"
}

// ApplyDefaults 为配置项设置默认值
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Defaults.Transport == "" {
		cfg.Defaults.Transport = TransportZMQ
	}

	for alias, svc := range cfg.Services {
		if svc.App == "" {
			svc.App = alias
		}
		if svc.Transport == "" {
			svc.Transport = cfg.Defaults.Transport
		}
		cfg.Services[alias] = svc
	}

	// 传输层默认值
	if cfg.Transport.ZMQ.MailboxLimit == 0 {
		cfg.Transport.ZMQ.MailboxLimit = 4096
	}
	if cfg.Transport.GRPC.MaxMessageSizeMB == 0 {
		cfg.Transport.GRPC.MaxMessageSizeMB = 16
	}
	if cfg.Transport.GRPC.MailboxLimit == 0 {
		cfg.Transport.GRPC.MailboxLimit = 4096
	}

	cfg.Journal.ApplyDefaults(cfg.DataDir, "journal.db")

	if cfg.Proxy.ListenAddr == "" {
		cfg.Proxy.ListenAddr = ":8080"
	}
	if cfg.Proxy.MaxBodySize == 0 {
		cfg.Proxy.MaxBodySize = 16 << 20
	}

	if cfg.Serve.Transport == "" {
		cfg.Serve.Transport = cfg.Defaults.Transport
	}
	if cfg.Serve.App == "" {
		cfg.Serve.App = "echo"
	}
	if cfg.Serve.Endpoint == "" {
		if cfg.Serve.Transport == TransportGRPC {
			cfg.Serve.Endpoint = ":50070"
		} else {
			cfg.Serve.Endpoint = "tcp://*:5000"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.RetentionDays == 0 {
		cfg.Logging.RetentionDays = 3
	}
}
