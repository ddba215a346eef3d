package worker

import (
	"bytes"
	"context"
	"strconv"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
)

// Echo 原样返回请求内容，一个块
func Echo(ctx context.Context, payload []byte, emit Emitter) error {
	return emit(payload)
}

// Chunker 按换行拆分请求，每行一个块；空行产生空块
func Chunker(ctx context.Context, payload []byte, emit Emitter) error {
	if len(payload) == 0 {
		return nil
	}
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

// Repeat 请求内容为次数 n，返回 n 个序号块
func Repeat(ctx context.Context, payload []byte, emit Emitter) error {
	n, err := strconv.Atoi(string(payload))
	if err != nil || n < 0 {
		return dealer.NewClientError(dealer.CodeRequest, "repeat expects a non-negative count, got %q", payload)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit([]byte(strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDefaults 在 app 下注册 echo/chunker/repeat
func RegisterDefaults(m *Mux, app string) {
	m.Handle(app, "ping", Echo)
	m.Handle(app, "echo", Echo)
	m.Handle(app, "chunks", Chunker)
	m.Handle(app, "repeat", Repeat)
}
