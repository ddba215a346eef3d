package zmq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/transport/mailbox"
	"github.com/cocaine/cocaine-framework-go/internal/util"
	"github.com/sirupsen/logrus"
	"gopkg.in/zeromq/goczmq.v4"
)

// Backend 通过 ZMQ DEALER socket 向应用节点发送请求
// 同一 socket 上的多个在途请求按请求 ID 复用
type Backend struct {
	send      chan<- [][]byte
	recv      <-chan [][]byte
	destroy   func()
	endpoints string
	limit     int

	mu      sync.Mutex
	pending map[string]*request // request ID -> 在途请求
	closed  bool
	stop    chan struct{}
}

type request struct {
	mb    *mailbox.Mailbox
	timer *time.Timer
}

// NewBackend 连接到 endpoints 并启动接收循环
func NewBackend(endpoints []string, cfg config.ZMQConfig) (*Backend, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no zmq endpoints")
	}
	normalized := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		normalized = append(normalized, normalizeEndpoint(ep))
	}
	joined := strings.Join(normalized, ",")

	ch := goczmq.NewDealerChanneler(joined)
	if ch == nil || ch.SendChan == nil || ch.RecvChan == nil {
		return nil, fmt.Errorf("failed to create ZMQ dealer for %s", joined)
	}

	b := newBackend(joined, cfg.MailboxLimit, ch.SendChan, ch.RecvChan, ch.Destroy)
	go b.receive()

	logrus.Infof("ZMQ dealer connected to %s", joined)
	return b, nil
}

func newBackend(endpoints string, limit int, send chan<- [][]byte, recv <-chan [][]byte, destroy func()) *Backend {
	return &Backend{
		send:      send,
		recv:      recv,
		destroy:   destroy,
		endpoints: endpoints,
		limit:     limit,
		pending:   make(map[string]*request),
		stop:      make(chan struct{}),
	}
}

// normalizeEndpoint 补全协议前缀
func normalizeEndpoint(ep string) string {
	if strings.HasPrefix(ep, "tcp://") || strings.HasPrefix(ep, "ipc://") || strings.HasPrefix(ep, "inproc://") {
		return ep
	}
	return "tcp://" + ep
}

// Send 发送一次调用，返回该请求的投递通道
func (b *Backend) Send(ctx context.Context, app, handle string, payload []byte, policy dealer.Policy) (dealer.ChannelHandle, error) {
	id := util.NewID("")
	frames, err := encodeInvoke(invoke{ID: id, App: app, Handle: handle, Policy: policy, Payload: payload})
	if err != nil {
		return nil, dealer.NewClientError(dealer.CodeRequest, "%v", err)
	}

	mb := mailbox.New(b.limit, func() { b.cancel(id) })
	req := &request{mb: mb}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("zmq backend %s is closed", b.endpoints)
	}
	if policy.Timeout > 0 {
		req.timer = time.AfterFunc(policy.Timeout, func() {
			if b.forget(id) != nil {
				mb.Fail(dealer.NewClientError(dealer.CodeInternal, "request %s timed out after %s", id, policy.Timeout))
				b.sendCancel(id)
			}
		})
	}
	b.pending[id] = req
	b.mu.Unlock()

	select {
	case b.send <- frames:
		logrus.Debugf("Sent request %s to %s/%s via %s (%d bytes)", id, app, handle, b.endpoints, len(payload))
	case <-ctx.Done():
		b.forget(id)
		return nil, fmt.Errorf("send to %s/%s: %w", app, handle, ctx.Err())
	case <-b.stop:
		b.forget(id)
		return nil, fmt.Errorf("zmq backend %s is closed", b.endpoints)
	}
	return mb, nil
}

// cancel 由 mailbox 在请求被放弃时调用
func (b *Backend) cancel(id string) {
	if b.forget(id) == nil {
		return
	}
	b.sendCancel(id)
}

func (b *Backend) sendCancel(id string) {
	select {
	case b.send <- encodeCancel(id):
		logrus.Debugf("Sent cancel for request %s", id)
	case <-b.stop:
	default:
		logrus.Warnf("Failed to send cancel for request %s: SendChan is busy", id)
	}
}

// forget 移除在途请求并停止其超时计时器，返回其 mailbox
func (b *Backend) forget(id string) *mailbox.Mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	if req.timer != nil {
		req.timer.Stop()
	}
	return req.mb
}

func (b *Backend) lookup(id string) *mailbox.Mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req, ok := b.pending[id]; ok {
		return req.mb
	}
	return nil
}

func (b *Backend) receive() {
	for {
		select {
		case <-b.stop:
			return
		case msg, ok := <-b.recv:
			if !ok {
				logrus.Info("ZMQ RecvChan closed")
				b.failAll(fmt.Errorf("zmq connection to %s closed", b.endpoints))
				return
			}
			b.dispatch(msg)
		}
	}
}

func (b *Backend) dispatch(msg [][]byte) {
	id, kind, body, failure, err := decodeReply(msg)
	if err != nil {
		logrus.Warnf("Dropping malformed reply from %s: %v", b.endpoints, err)
		return
	}

	switch kind {
	case replyChunk:
		if mb := b.lookup(id); mb != nil {
			mb.Push(body)
			return
		}
	case replyChoke:
		if mb := b.forget(id); mb != nil {
			mb.Close()
			return
		}
	case replyError:
		if mb := b.forget(id); mb != nil {
			mb.Fail(failure)
			return
		}
	}
	logrus.Debugf("Reply %s for unknown request %s ignored", kind, id)
}

func (b *Backend) failAll(err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]*request)
	b.mu.Unlock()

	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.mb.Fail(err)
	}
}

// Close 停止接收循环，销毁 socket，并使所有在途请求失败
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.stop)
	b.mu.Unlock()

	b.failAll(fmt.Errorf("zmq backend %s closed", b.endpoints))
	if b.destroy != nil {
		b.destroy()
	}
	logrus.Infof("ZMQ dealer for %s closed", b.endpoints)
	return nil
}
