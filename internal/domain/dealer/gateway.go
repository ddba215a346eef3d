package dealer

import (
	"context"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Gateway 将发送请求转发给外部客户端，并返回独占通道的 Stream
// Gateway 可被多个 goroutine 并发使用，每次发送互不影响
type Gateway struct {
	client   Client
	journal  Journal
	observer Observer
}

// Option 配置 Gateway
type Option func(*Gateway)

// WithJournal 为每次发送写入 journal
func WithJournal(j Journal) Option {
	return func(g *Gateway) { g.journal = j }
}

// WithObserver 注册事件观察者
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// NewGateway 创建 Gateway
func NewGateway(client Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:   client,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send 向 dest 发送 payload
// policy 为 nil 时先向外部客户端解析该服务的默认策略。
// 每次调用恰好转发一次，不在本层重试。
func (g *Gateway) Send(ctx context.Context, dest Destination, payload []byte, policy *Policy) (*Stream, error) {
	if err := dest.Validate(); err != nil {
		err = &Error{Kind: ErrMalformedRequest, Op: "send", Destination: dest, Err: err}
		g.observer.ObserveSend(dest.Service, err)
		return nil, err
	}

	var resolved Policy
	if policy != nil {
		resolved = *policy
	} else {
		p, err := g.client.ResolvePolicy(dest.Service)
		if err != nil {
			err = classify("resolve policy", dest, err)
			g.observer.ObserveSend(dest.Service, err)
			return nil, err
		}
		resolved = p
	}

	return g.send(ctx, dest, payload, resolved)
}

// SendWith 解析服务默认策略，叠加 overrides 后发送
func (g *Gateway) SendWith(ctx context.Context, dest Destination, payload []byte, overrides *PolicyOverrides) (*Stream, error) {
	if overrides.Empty() {
		return g.Send(ctx, dest, payload, nil)
	}
	if err := dest.Validate(); err != nil {
		return g.Send(ctx, dest, payload, nil)
	}
	base, err := g.client.ResolvePolicy(dest.Service)
	if err != nil {
		err = classify("resolve policy", dest, err)
		g.observer.ObserveSend(dest.Service, err)
		return nil, err
	}
	policy := overrides.Apply(base)
	return g.Send(ctx, dest, payload, &policy)
}

// SendPath 按 "service/handle" 路径发送 message
// []byte 与 string 原样发送，其他值使用 MessagePack 序列化
func (g *Gateway) SendPath(ctx context.Context, path string, message any, overrides *PolicyOverrides) (*Stream, error) {
	dest, err := ParsePath(path)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedRequest, Op: "send", Err: err}
	}
	payload, err := Pack(message)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedRequest, Op: "send", Destination: dest, Err: err}
	}
	return g.SendWith(ctx, dest, payload, overrides)
}

// Pack 将消息转换为发送用的字节
func Pack(message any) ([]byte, error) {
	switch m := message.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	default:
		return msgpack.Marshal(m)
	}
}

func (g *Gateway) send(ctx context.Context, dest Destination, payload []byte, policy Policy) (*Stream, error) {
	id := util.NewID("req.")
	log := logrus.WithFields(logrus.Fields{
		"request": id,
		"service": dest.Service,
		"handle":  dest.Handle,
	})
	log.Debugf("Sending %d bytes (urgent=%v, timeout=%s)", len(payload), policy.Urgent, policy.Timeout)

	handle, err := g.client.Send(ctx, payload, dest, policy)
	if err != nil {
		err = classify("send", dest, err)
		log.Warnf("Send failed: %v", err)
		g.observer.ObserveSend(dest.Service, err)
		g.record(ctx, Entry{ID: id, Destination: dest, Policy: policy, Size: len(payload), State: StateRejected, Detail: err.Error()})
		return nil, err
	}

	g.observer.ObserveSend(dest.Service, nil)
	g.observer.StreamOpened(dest.Service)
	g.record(ctx, Entry{ID: id, Destination: dest, Policy: policy, Size: len(payload), State: StateSent})

	return newStream(id, dest, handle, g.observer, func(state State, detail string) {
		if g.journal == nil {
			return
		}
		if err := g.journal.Finish(context.Background(), id, state, detail); err != nil {
			logrus.Warnf("Failed to update journal for request %s: %v", id, err)
		}
	}), nil
}

func (g *Gateway) record(ctx context.Context, entry Entry) {
	if g.journal == nil {
		return
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	if err := g.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		logrus.Warnf("Failed to journal request %s: %v", entry.ID, err)
	}
}
