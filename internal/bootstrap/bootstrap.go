package bootstrap

import (
	"fmt"

	"github.com/cocaine/cocaine-framework-go/internal/client"
	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Initialize 初始化所有模块
// 按照依赖顺序初始化：日志 -> 基础设施 -> Client -> Gateway -> Transport
func Initialize(cfg *config.Config, opts ...client.Option) (*Dealer, error) {
	d := &Dealer{Config: cfg}

	// 1. 日志
	if err := bootstrapLogging(d); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	// 2. 基础设施（指标、journal）
	if err := bootstrapInfra(d); err != nil {
		d.Stop()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	// 3. dealer 客户端与 gateway
	if err := bootstrapGateway(d, opts...); err != nil {
		d.Stop()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	// 4. HTTP 代理（创建但不启动）
	if err := bootstrapTransport(d); err != nil {
		d.Stop()
		return nil, fmt.Errorf("failed to initialize transport layer: %w", err)
	}

	logrus.Info("All modules initialized successfully")
	return d, nil
}
