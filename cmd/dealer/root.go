package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/spf13/cobra"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	Config   string // 配置文件路径或内联 YAML
	LogLevel string // 覆盖配置中的日志级别
}

var globalFlags GlobalFlags

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "dealer",
	Short: "cocaine dealer 客户端",
	Long: `dealer - 向 cocaine 应用发送请求并读取流式响应

子命令:
  send     发送一次请求并输出响应块
  serve    在本地提供 echo 等示例应用
  proxy    启动 HTTP / WebSocket 代理
  journal  查看发送记录
  token    签发代理访问令牌`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Config, "config", "c", "dealer.yaml", "配置文件路径或内联 YAML")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "日志级别 (默认使用配置)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig 加载 --config；allowMissing 为 true 且未显式指定时，文件不存在则使用默认配置
func loadConfig(cmd *cobra.Command, allowMissing bool) (*config.Config, error) {
	if allowMissing && !cmd.Flags().Changed("config") {
		if _, err := os.Stat(globalFlags.Config); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			applyLogLevel(cfg)
			return cfg, nil
		}
	}
	cfg, err := config.LoadConfig(globalFlags.Config)
	if err != nil {
		return nil, &dealer.Error{Kind: dealer.ErrConfiguration, Op: "load config", Err: err}
	}
	applyLogLevel(cfg)
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	if globalFlags.LogLevel != "" {
		cfg.Logging.Level = globalFlags.LogLevel
	}
}

// exitCode 按错误类别返回进程退出码
func exitCode(err error) int {
	switch {
	case errors.Is(err, dealer.ErrConfiguration):
		return 78
	case errors.Is(err, dealer.ErrMalformedRequest), errors.Is(err, dealer.ErrUsage):
		return 64
	case errors.Is(err, dealer.ErrUnresolvedLocation):
		return 68
	case errors.Is(err, dealer.ErrTransportFailure):
		return 69
	default:
		return 1
	}
}
