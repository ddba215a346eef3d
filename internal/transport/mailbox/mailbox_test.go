package mailbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxDeliversInOrderThenEnds(t *testing.T) {
	m := New(0, nil)
	m.Push([]byte("a"))
	m.Push([]byte{})
	m.Push([]byte("c"))
	m.Close()

	for _, want := range []string{"a", "", "c"} {
		chunk, more, err := m.Poll(context.Background(), -1)
		require.NoError(t, err)
		require.True(t, more)
		assert.Equal(t, want, string(chunk))
	}

	chunk, more, err := m.Poll(context.Background(), -1)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Nil(t, chunk)
}

func TestMailboxPollTimeout(t *testing.T) {
	m := New(0, nil)
	start := time.Now()
	_, _, err := m.Poll(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, dealer.ErrPollTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMailboxWakesBlockedPoller(t *testing.T) {
	m := New(0, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Push([]byte("late"))
	}()

	chunk, more, err := m.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "late", string(chunk))
}

func TestMailboxContextCancel(t *testing.T) {
	m := New(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := m.Poll(ctx, -1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Done())
}

func TestMailboxFailAfterQueuedChunks(t *testing.T) {
	m := New(0, nil)
	boom := errors.New("boom")
	m.Push([]byte("x"))
	m.Fail(boom)

	chunk, more, err := m.Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "x", string(chunk))

	_, _, err = m.Poll(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
}

func TestMailboxOverflow(t *testing.T) {
	var calls atomic.Int32
	m := New(1, func() { calls.Add(1) })
	m.Push([]byte("1"))
	m.Push([]byte("2"))
	assert.Equal(t, int32(1), calls.Load(), "overflow cancels the producer")

	_, _, err := m.Poll(context.Background(), 0)
	require.NoError(t, err)
	_, _, err = m.Poll(context.Background(), 0)
	assert.ErrorIs(t, err, ErrOverflow)

	m.Push([]byte("3"))
	require.NoError(t, m.Abandon())
	assert.Equal(t, int32(1), calls.Load())
}

func TestMailboxAbandonOnlyWhenOpen(t *testing.T) {
	var calls atomic.Int32
	m := New(0, func() { calls.Add(1) })
	require.NoError(t, m.Abandon())
	require.NoError(t, m.Abandon())
	assert.Equal(t, int32(1), calls.Load())

	done := New(0, func() { calls.Add(1) })
	done.Close()
	require.NoError(t, done.Abandon())
	assert.Equal(t, int32(1), calls.Load())
}
