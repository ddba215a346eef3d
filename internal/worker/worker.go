package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
)

// Emitter 向调用方写回一个响应块
type Emitter func(chunk []byte) error

// Handler 处理一次调用，通过 emit 写回任意数量的块，返回即表示响应结束
type Handler func(ctx context.Context, payload []byte, emit Emitter) error

// Request 一次应用调用
type Request struct {
	App     string
	Handle  string
	Policy  dealer.Policy
	Payload []byte
}

// Mux 按 app/handle 分发调用
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// NewMux 创建空的分发器
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]map[string]Handler)}
}

// Handle 注册 app 的 handle
func (m *Mux) Handle(app, handle string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[app] == nil {
		m.handlers[app] = make(map[string]Handler)
	}
	m.handlers[app][handle] = h
}

// Lookup 查找处理函数，找不到时返回 location 错误
func (m *Mux) Lookup(app, handle string) (Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handles, ok := m.handlers[app]
	if !ok {
		return nil, dealer.NewClientError(dealer.CodeLocation, "app %s is not available", app)
	}
	h, ok := handles[handle]
	if !ok {
		return nil, dealer.NewClientError(dealer.CodeLocation, "app %s has no handle %s", app, handle)
	}
	return h, nil
}

// Serve 执行一次请求
func (m *Mux) Serve(ctx context.Context, req Request, emit Emitter) error {
	h, err := m.Lookup(req.App, req.Handle)
	if err != nil {
		return err
	}
	if req.Policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Policy.Deadline)
		defer cancel()
	}
	if err := h(ctx, req.Payload, emit); err != nil {
		return fmt.Errorf("%s/%s: %w", req.App, req.Handle, err)
	}
	return nil
}
