package zmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/worker"
	"github.com/sirupsen/logrus"
	"gopkg.in/zeromq/goczmq.v4"
)

// Server wraps a goczmq ROUTER channeler and serves worker handlers to dealers.
// Each invoke runs in its own goroutine; a cancel frame stops it.
type Server struct {
	send    chan<- [][]byte
	recv    <-chan [][]byte
	destroy func()
	mux     *worker.Mux

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // identity + request ID -> cancel
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(endpoint string, mux *worker.Mux) (*Server, error) {
	base := goczmq.NewRouterChanneler(endpoint)
	if base == nil || base.SendChan == nil || base.RecvChan == nil {
		return nil, fmt.Errorf("failed to create ZMQ router for %s", endpoint)
	}
	logrus.Infof("ZMQ router bound to %s", endpoint)
	return newServer(base.SendChan, base.RecvChan, base.Destroy, mux), nil
}

func newServer(send chan<- [][]byte, recv <-chan [][]byte, destroy func(), mux *worker.Mux) *Server {
	return &Server{
		send:     send,
		recv:     recv,
		destroy:  destroy,
		mux:      mux,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Close cancels running handlers and destroys the channeler.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.inflight {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.destroy != nil {
		s.destroy()
	}
	logrus.Info("ZMQ router closed and resources released")
	return nil
}

// Serve processes frames until ctx is done or the channeler closes.
func (s *Server) Serve(ctx context.Context) error {
	logrus.Info("ZMQ router started, waiting for dealers...")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("ZMQ router stopped")
			return ctx.Err()
		case msg, ok := <-s.recv:
			if !ok {
				logrus.Info("ZMQ RecvChan closed")
				return nil
			}
			if len(msg) < 3 {
				logrus.Warnf("Received invalid message format, expected at least 3 frames, got %d", len(msg))
				continue
			}
			s.handle(ctx, msg[0], msg[1:])
		}
	}
}

func (s *Server) handle(ctx context.Context, identity []byte, frames [][]byte) {
	kind, inv, err := decodeRequest(frames)
	if err != nil {
		logrus.Warnf("Dropping malformed request from %x: %v", identity, err)
		return
	}
	key := string(identity) + "/" + inv.ID

	if kind == frameCancel {
		s.mu.Lock()
		cancel, ok := s.inflight[key]
		s.mu.Unlock()
		if ok {
			logrus.Debugf("Request %s cancelled by dealer", inv.ID)
			cancel()
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	reqCtx, cancel := context.WithCancel(ctx)
	s.inflight[key] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			cancel()
		}()

		logrus.Debugf("Invoke %s/%s (request %s, %d bytes)", inv.App, inv.Handle, inv.ID, len(inv.Payload))
		req := worker.Request{App: inv.App, Handle: inv.Handle, Policy: inv.Policy, Payload: inv.Payload}
		err := s.mux.Serve(reqCtx, req, func(chunk []byte) error {
			return s.reply(reqCtx, identity, encodeChunk(inv.ID, chunk))
		})

		if reqCtx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			code := dealer.CodeInternal
			var ce *dealer.ClientError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			logrus.Warnf("Request %s to %s/%s failed: %v", inv.ID, inv.App, inv.Handle, err)
			s.reply(ctx, identity, encodeError(inv.ID, code, err.Error()))
			return
		}
		s.reply(ctx, identity, encodeChoke(inv.ID))
	}()
}

func (s *Server) reply(ctx context.Context, identity []byte, frames [][]byte) error {
	msg := make([][]byte, 0, len(frames)+1)
	msg = append(msg, identity)
	msg = append(msg, frames...)
	select {
	case s.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
