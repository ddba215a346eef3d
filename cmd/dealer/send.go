package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/bootstrap"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

type sendFlags struct {
	file        string
	pollTimeout time.Duration
	lines       bool
	unpack      bool

	urgent     bool
	deadline   time.Duration
	timeout    time.Duration
	maxRetries int
}

var sendOpts sendFlags

// sendCmd 发送一次请求
var sendCmd = &cobra.Command{
	Use:   "send <service>/<handle> [payload]",
	Short: "发送请求并输出响应块",
	Long: `向 service 的 handle 发送 payload，并按顺序输出响应块。

payload 可以作为参数给出，或通过 --file 读取（"-" 表示标准输入）。
未指定策略标志时使用服务的默认投递策略。`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := dealer.ParsePath(args[0])
		if err != nil {
			return &dealer.Error{Kind: dealer.ErrMalformedRequest, Op: "send", Err: err}
		}
		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		d, err := bootstrap.Initialize(cfg)
		if err != nil {
			return err
		}
		defer d.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stream, err := d.Gateway.SendWith(ctx, dest, payload, overridesFrom(cmd))
		if err != nil {
			return err
		}
		defer stream.Release()

		out := bufio.NewWriter(cmd.OutOrStdout())
		defer out.Flush()

		for {
			r, err := stream.PollContext(ctx, sendOpts.pollTimeout)
			if err != nil {
				return err
			}
			switch r.Kind {
			case dealer.KindTimeout:
				logrus.Warnf("No response from %s within %s, still waiting", dest, sendOpts.pollTimeout)
				continue
			case dealer.KindEnd:
				return nil
			}
			if err := writeChunk(out, r.Data); err != nil {
				return err
			}
		}
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.file, "file", "f", "", "从文件读取 payload，\"-\" 表示标准输入")
	f.DurationVar(&sendOpts.pollTimeout, "poll-timeout", -1, "单次等待响应块的时间，负数表示无限等待")
	f.BoolVar(&sendOpts.lines, "lines", false, "每个响应块后输出换行")
	f.BoolVar(&sendOpts.unpack, "unpack", false, "将响应块按 MessagePack 解码后输出")

	f.BoolVar(&sendOpts.urgent, "urgent", false, "紧急投递")
	f.DurationVar(&sendOpts.deadline, "deadline", 0, "投递 deadline")
	f.DurationVar(&sendOpts.timeout, "timeout", 0, "请求超时")
	f.IntVar(&sendOpts.maxRetries, "max-retries", 0, "最大重试次数")
}

func readPayload(args []string) ([]byte, error) {
	switch {
	case sendOpts.file == "-":
		return io.ReadAll(os.Stdin)
	case sendOpts.file != "":
		return os.ReadFile(sendOpts.file)
	case len(args) == 2:
		return []byte(args[1]), nil
	default:
		return []byte{}, nil
	}
}

// overridesFrom 只覆盖显式给出的策略标志
func overridesFrom(cmd *cobra.Command) *dealer.PolicyOverrides {
	o := &dealer.PolicyOverrides{}
	f := cmd.Flags()
	if f.Changed("urgent") {
		o.Urgent = &sendOpts.urgent
	}
	if f.Changed("deadline") {
		o.Deadline = &sendOpts.deadline
	}
	if f.Changed("timeout") {
		o.Timeout = &sendOpts.timeout
	}
	if f.Changed("max-retries") {
		o.MaxRetries = &sendOpts.maxRetries
	}
	return o
}

func writeChunk(w io.Writer, chunk []byte) error {
	if sendOpts.unpack {
		var v any
		if err := msgpack.Unmarshal(chunk, &v); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
	if _, err := w.Write(chunk); err != nil {
		return err
	}
	if sendOpts.lines {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
