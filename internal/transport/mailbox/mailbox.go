// Package mailbox buffers the chunks of one in-flight request until the
// owning stream polls them. Both the zmq and the gRPC backends deliver
// through it.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
)

// ErrOverflow is reported when a producer outruns the consumer past the limit.
var ErrOverflow = errors.New("mailbox overflow")

// Mailbox is an unbounded-until-limit FIFO of chunks with a terminal state.
// It implements dealer.ChannelHandle when given an abandon function.
type Mailbox struct {
	mu      sync.Mutex
	queue   [][]byte
	limit   int
	closed  bool
	err     error
	notify  chan struct{}
	abandon func()
}

// New returns a mailbox holding at most limit chunks; limit <= 0 means no limit.
// abandon is invoked at most once when the consumer gives up early.
func New(limit int, abandon func()) *Mailbox {
	return &Mailbox{
		limit:   limit,
		notify:  make(chan struct{}),
		abandon: abandon,
	}
}

// Push appends a chunk. Chunks pushed after close are dropped.
// Overflow fails the mailbox and gives up on the producer through abandon.
func (m *Mailbox) Push(chunk []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.limit > 0 && len(m.queue) >= m.limit {
		m.closeLocked(ErrOverflow)
		abandon := m.abandon
		m.abandon = nil
		m.mu.Unlock()
		if abandon != nil {
			abandon()
		}
		return
	}
	m.queue = append(m.queue, chunk)
	m.wakeLocked()
	m.mu.Unlock()
}

// Close marks the end of the response; queued chunks remain readable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(nil)
}

// Fail terminates the response with err; queued chunks remain readable first.
func (m *Mailbox) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(err)
}

// Done reports whether the producer side has finished.
func (m *Mailbox) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) closeLocked(err error) {
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	m.wakeLocked()
}

func (m *Mailbox) wakeLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// Poll implements dealer.ChannelHandle.
func (m *Mailbox) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			chunk := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return chunk, true, nil
		}
		if m.closed {
			err := m.err
			m.mu.Unlock()
			return nil, false, err
		}
		wait := m.notify
		m.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return nil, false, dealer.ErrPollTimeout
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Abandon implements dealer.ChannelHandle. It is a no-op once the response completed.
func (m *Mailbox) Abandon() error {
	m.mu.Lock()
	if m.closed {
		m.queue = nil
		m.mu.Unlock()
		return nil
	}
	m.closeLocked(errors.New("abandoned"))
	m.queue = nil
	abandon := m.abandon
	m.abandon = nil
	m.mu.Unlock()

	if abandon != nil {
		abandon()
	}
	return nil
}
