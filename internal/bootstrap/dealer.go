package bootstrap

import (
	"github.com/cocaine/cocaine-framework-go/internal/client"
	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/infra/metrics"
	"github.com/cocaine/cocaine-framework-go/internal/infra/repository/journal"
	"github.com/cocaine/cocaine-framework-go/internal/transport/http"
	"github.com/cocaine/cocaine-framework-go/internal/util"
	"github.com/sirupsen/logrus"
)

type Dealer struct {
	// 配置
	Config *config.Config

	// 基础设施
	LogHook *util.FileHook
	Metrics *metrics.Metrics
	Journal journal.Repo // journal.enabled 为 false 时为 nil

	// dealer 客户端
	Client  *client.Dealer
	Gateway *dealer.Gateway

	// 传输层
	HTTPServer *http.Server
}

// StartProxy 启动 HTTP 代理
func (d *Dealer) StartProxy() <-chan error {
	return d.HTTPServer.Start()
}

// Stop 停止所有服务并清理资源，可在部分初始化后调用
func (d *Dealer) Stop() error {
	if d.HTTPServer != nil {
		d.HTTPServer.Stop()
	}

	if d.Client != nil {
		if err := d.Client.Close(); err != nil {
			logrus.Errorf("Error closing dealer client: %v", err)
		}
	}

	if d.Journal != nil {
		if err := d.Journal.Close(); err != nil {
			logrus.Errorf("Error closing journal: %v", err)
		}
	}

	logrus.Info("All services stopped")

	if d.LogHook != nil {
		d.LogHook.Close()
	}
	return nil
}
