package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cocaine/cocaine-framework-go/internal/bootstrap"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var proxyListen string

// proxyCmd 启动 HTTP 代理
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "启动 HTTP / WebSocket 代理",
	Long: `启动代理，路由:
  POST /dealer/{service}/{handle}  请求体为 payload，响应为分块传输的响应块
  GET  /ws/{service}/{handle}      WebSocket，首条消息为 payload
  GET  /status, /metrics, /journal`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		if proxyListen != "" {
			cfg.Proxy.ListenAddr = proxyListen
		}

		d, err := bootstrap.Initialize(cfg)
		if err != nil {
			return err
		}
		defer d.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := d.StartProxy()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logrus.Info("Shutting down...")
			return nil
		}
	},
}

func init() {
	proxyCmd.Flags().StringVar(&proxyListen, "listen", "", "监听地址 (默认使用配置)")
}
