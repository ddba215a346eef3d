package bootstrap

import (
	"github.com/cocaine/cocaine-framework-go/internal/transport/http"
	httpauth "github.com/cocaine/cocaine-framework-go/internal/transport/http/util/auth"
	"github.com/sirupsen/logrus"
)

// bootstrapTransport 创建 HTTP 代理（不启动，由 StartProxy 启动）
func bootstrapTransport(d *Dealer) error {
	cfg := d.Config.Proxy

	var auth *httpauth.Authenticator
	if cfg.JWTSecret != "" {
		a, err := httpauth.NewAuthenticator(cfg.JWTSecret, 0)
		if err != nil {
			return err
		}
		auth = a
		logrus.Info("Proxy authentication enabled")
	}

	d.HTTPServer = http.NewServer(http.Options{
		Addr:        cfg.ListenAddr,
		MaxBodySize: cfg.MaxBodySize,
		Gateway:     d.Gateway,
		Services:    d.Client.Services(),
		Metrics:     d.Metrics,
		Journal:     d.Journal,
		Auth:        auth,
	})

	logrus.Info("Transport layer initialized")
	return nil
}
