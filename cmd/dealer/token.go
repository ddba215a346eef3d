package main

import (
	"errors"
	"fmt"
	"time"

	httpauth "github.com/cocaine/cocaine-framework-go/internal/transport/http/util/auth"
	"github.com/spf13/cobra"
)

var tokenOpts struct {
	services []string
	ttl      time.Duration
}

// tokenCmd 签发代理访问令牌
var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "签发代理访问令牌",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		if cfg.Proxy.JWTSecret == "" {
			return errors.New("proxy.jwt_secret is not configured")
		}

		auth, err := httpauth.NewAuthenticator(cfg.Proxy.JWTSecret, tokenOpts.ttl)
		if err != nil {
			return err
		}
		token, err := auth.GenerateToken(args[0], tokenOpts.services...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenOpts.services, "service", nil, "允许访问的服务，可重复；为空表示全部")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", httpauth.DefaultTokenTTL, "令牌有效期")
}
