package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cocaine/cocaine-framework-go/internal/bootstrap"
	"github.com/cocaine/cocaine-framework-go/internal/util"
	"github.com/cocaine/cocaine-framework-go/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveOpts struct {
	transport string
	endpoint  string
	app       string
}

// serveCmd 提供示例应用
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "在本地提供 echo 示例应用",
	Long: `在 zmq 或 grpc 端点上提供示例应用，handle 包括:
  ping, echo  原样返回请求
  chunks      按行拆分请求，每行一个响应块
  repeat      请求为次数 n，返回 n 个序号块`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}
		util.InitLogger()
		util.SetLevel(cfg.Logging.Level)

		serve := cfg.Serve
		if serveOpts.transport != "" {
			serve.Transport = serveOpts.transport
		}
		if serveOpts.endpoint != "" {
			serve.Endpoint = serveOpts.endpoint
		}
		if serveOpts.app != "" {
			serve.App = serveOpts.app
		}

		mux := worker.NewMux()
		worker.RegisterDefaults(mux, serve.App)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logrus.Infof("Serving app %s over %s on %s", serve.App, serve.Transport, serve.Endpoint)
		return bootstrap.Serve(ctx, serve, mux)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.transport, "transport", "", "zmq 或 grpc (默认使用配置)")
	f.StringVar(&serveOpts.endpoint, "endpoint", "", "监听端点 (默认使用配置)")
	f.StringVar(&serveOpts.app, "app", "", "应用名 (默认 echo)")
}
