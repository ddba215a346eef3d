package worker

import (
	"context"
	"errors"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/transport/mailbox"
)

// Local 在进程内执行调用，与网络 backend 提供相同的发送接口
type Local struct {
	mux   *Mux
	limit int
}

// NewLocal 创建进程内 backend，limit 为单个请求缓存的最大块数
func NewLocal(mux *Mux, limit int) *Local {
	return &Local{mux: mux, limit: limit}
}

// Send 在新的 goroutine 中执行处理函数，块写入返回的通道
func (l *Local) Send(_ context.Context, app, handle string, payload []byte, policy dealer.Policy) (dealer.ChannelHandle, error) {
	if _, err := l.mux.Lookup(app, handle); err != nil {
		return nil, err
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if policy.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), policy.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	mb := mailbox.New(l.limit, cancel)

	go func() {
		defer cancel()
		req := Request{App: app, Handle: handle, Policy: policy, Payload: payload}
		err := l.mux.Serve(ctx, req, func(chunk []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mb.Push(chunk)
			return nil
		})
		switch {
		case err == nil:
			mb.Close()
		case errors.Is(err, context.DeadlineExceeded):
			mb.Fail(dealer.NewClientError(dealer.CodeInternal, "%s/%s: %v", app, handle, err))
		default:
			mb.Fail(err)
		}
	}()
	return mb, nil
}

func (l *Local) Close() error { return nil }
