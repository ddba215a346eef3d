package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/transport/rpc"
	"github.com/cocaine/cocaine-framework-go/internal/transport/zmq"
	"github.com/cocaine/cocaine-framework-go/internal/worker"
	"github.com/sirupsen/logrus"
)

// Serve 在 cfg.Endpoint 上提供 mux 中注册的应用，阻塞直到 ctx 结束
func Serve(ctx context.Context, cfg config.ServeConfig, mux *worker.Mux) error {
	switch cfg.Transport {
	case config.TransportZMQ:
		srv, err := zmq.NewServer(cfg.Endpoint, mux)
		if err != nil {
			return err
		}
		defer srv.Close()
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil

	case config.TransportGRPC:
		srv := rpc.NewServer(mux)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(cfg.Endpoint) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logrus.Info("Stopping gRPC app server")
			srv.Shutdown(10 * time.Second)
			return <-errCh
		}

	default:
		return fmt.Errorf("unknown serve transport %q", cfg.Transport)
	}
}
