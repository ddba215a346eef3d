package dealer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type streamState int

const (
	streamOpen streamState = iota
	streamEnded
	streamFailed
	streamReleased
)

// Stream 单个在途请求的响应游标
//
// Stream 独占其 ChannelHandle。同一时刻只允许一个 Poll：
// 并发的第二个 Poll 立即返回 ErrUsage，不会等待也不会改变流状态。
// 调用方丢弃 Stream 而未 Release 时，通道会在对象被回收后放弃。
type Stream struct {
	id      string
	dest    Destination
	polling atomic.Bool

	mu      sync.Mutex
	state   streamState
	handle  ChannelHandle
	err     error
	cleanup runtime.Cleanup

	observer Observer
	finish   func(state State, detail string)
	once     sync.Once
}

// newStream 接管 handle 的所有权
func newStream(id string, dest Destination, handle ChannelHandle, observer Observer, finish func(State, string)) *Stream {
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Stream{
		id:       id,
		dest:     dest,
		handle:   handle,
		observer: observer,
		finish:   finish,
	}
	s.cleanup = runtime.AddCleanup(s, abandonOrphan, orphan{
		id:       id,
		dest:     dest,
		handle:   handle,
		observer: observer,
		finish:   finish,
	})
	return s
}

// orphan 流被回收后放弃通道所需的状态，不能引用 Stream 本身
type orphan struct {
	id       string
	dest     Destination
	handle   ChannelHandle
	observer Observer
	finish   func(State, string)
}

func abandonOrphan(o orphan) {
	if err := o.handle.Abandon(); err != nil {
		logrus.Debugf("Abandon collected channel: %v", err)
	}
	logrus.Debugf("Request %s to %s collected before completion", o.id, o.dest)
	o.observer.StreamClosed(o.dest.Service, StateAbandoned)
	if o.finish != nil {
		o.finish(StateAbandoned, "collected before completion")
	}
}

// ID 返回请求 ID
func (s *Stream) ID() string { return s.id }

// Destination 返回请求目标
func (s *Stream) Destination() Destination { return s.dest }

// Poll 等待下一个数据块，timeout < 0 表示无限等待
func (s *Stream) Poll(timeout time.Duration) (Result, error) {
	return s.PollContext(context.Background(), timeout)
}

// PollContext 与 Poll 相同，ctx 取消时停止等待但不结束流
func (s *Stream) PollContext(ctx context.Context, timeout time.Duration) (Result, error) {
	if !s.polling.CompareAndSwap(false, true) {
		return Result{}, &Error{Kind: ErrUsage, Op: "poll", Destination: s.dest, Err: errors.New("concurrent poll on stream")}
	}
	defer s.polling.Store(false)

	s.mu.Lock()
	switch s.state {
	case streamReleased:
		s.mu.Unlock()
		return Result{}, &Error{Kind: ErrUsage, Op: "poll", Destination: s.dest, Err: errors.New("stream released")}
	case streamEnded:
		s.mu.Unlock()
		return Result{Kind: KindEnd}, nil
	case streamFailed:
		err := s.err
		s.mu.Unlock()
		return Result{}, err
	}
	handle := s.handle
	s.mu.Unlock()

	chunk, more, err := handle.Poll(ctx, timeout)

	s.mu.Lock()
	if s.state == streamReleased {
		s.mu.Unlock()
		return Result{}, &Error{Kind: ErrUsage, Op: "poll", Destination: s.dest, Err: errors.New("stream released during poll")}
	}

	switch {
	case errors.Is(err, ErrPollTimeout):
		s.mu.Unlock()
		s.observer.ObservePoll(s.dest.Service, KindTimeout, nil)
		return Result{Kind: KindTimeout}, nil
	case err != nil && ctx.Err() != nil:
		s.mu.Unlock()
		return Result{}, ctx.Err()
	case err != nil:
		s.state = streamFailed
		s.err = classify("poll", s.dest, err)
		failure := s.err
		s.mu.Unlock()
		s.cleanup.Stop()
		s.observer.ObservePoll(s.dest.Service, KindEnd, failure)
		s.done(StateFailed, err.Error())
		return Result{}, failure
	case !more:
		s.state = streamEnded
		s.mu.Unlock()
		s.cleanup.Stop()
		s.observer.ObservePoll(s.dest.Service, KindEnd, nil)
		s.done(StateCompleted, "")
		return Result{Kind: KindEnd}, nil
	}
	s.mu.Unlock()

	if chunk == nil {
		chunk = []byte{}
	}
	s.observer.ObservePoll(s.dest.Service, KindData, nil)
	return Result{Kind: KindData, Data: chunk}, nil
}

// Next 前进一个数据块，无限等待直到数据、结束、错误或 ctx 取消
func (s *Stream) Next(ctx context.Context) (Result, error) {
	for {
		r, err := s.PollContext(ctx, -1)
		if err != nil {
			return Result{}, err
		}
		if r.Kind != KindTimeout {
			return r, nil
		}
	}
}

// Chunks 顺序迭代所有数据块，正常结束时停止
// 出错时产出一次 (nil, err) 后停止
func (s *Stream) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			r, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if r.IsEnd() {
				return
			}
			if !yield(r.Data, nil) {
				return
			}
		}
	}
}

// Release 释放流；流仍在途时放弃底层通道。可重复调用。
func (s *Stream) Release() {
	s.mu.Lock()
	if s.state == streamReleased {
		s.mu.Unlock()
		return
	}
	prev := s.state
	handle := s.handle
	s.state = streamReleased
	s.handle = nil
	s.mu.Unlock()

	s.cleanup.Stop()
	if prev != streamOpen {
		return
	}
	if err := handle.Abandon(); err != nil {
		logrus.Warnf("Failed to abandon request %s to %s: %v", s.id, s.dest, err)
	}
	s.done(StateAbandoned, "released before completion")
}

// Err 返回使流失败的错误
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) done(state State, detail string) {
	s.once.Do(func() {
		logrus.Debugf("Request %s to %s finished: %s", s.id, s.dest, state)
		s.observer.StreamClosed(s.dest.Service, state)
		if s.finish != nil {
			s.finish(state, detail)
		}
	})
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream(%s %s)", s.id, s.dest)
}
