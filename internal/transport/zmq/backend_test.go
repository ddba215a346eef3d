package zmq

import (
	"context"
	"testing"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBackend 用内存通道替代 DEALER socket
func newTestBackend(t *testing.T, limit int) (*Backend, chan [][]byte, chan [][]byte) {
	t.Helper()
	out := make(chan [][]byte, 16)
	in := make(chan [][]byte, 16)
	b := newBackend("tcp://127.0.0.1:5000", limit, out, in, nil)
	go b.receive()
	t.Cleanup(func() { b.Close() })
	return b, out, in
}

func recvFrames(t *testing.T, ch <-chan [][]byte) [][]byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frames sent")
		return nil
	}
}

func sentInvoke(t *testing.T, out <-chan [][]byte) invoke {
	t.Helper()
	kind, inv, err := decodeRequest(recvFrames(t, out))
	require.NoError(t, err)
	require.Equal(t, frameInvoke, kind)
	return inv
}

func TestBackendMultiplexesByID(t *testing.T) {
	b, out, in := newTestBackend(t, 0)
	ctx := context.Background()

	h1, err := b.Send(ctx, "echo", "ping", []byte("a"), dealer.Policy{})
	require.NoError(t, err)
	h2, err := b.Send(ctx, "echo", "chunks", []byte("b"), dealer.Policy{Urgent: true})
	require.NoError(t, err)

	first := sentInvoke(t, out)
	second := sentInvoke(t, out)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "ping", first.Handle)
	assert.Equal(t, "chunks", second.Handle)
	assert.True(t, second.Policy.Urgent)

	in <- encodeChunk(second.ID, []byte("b1"))
	in <- encodeChunk(second.ID, nil)
	in <- encodeChoke(second.ID)
	in <- encodeError(first.ID, dealer.CodeLocation, "no such handle")

	chunk, more, err := h2.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "b1", string(chunk))
	chunk, more, err = h2.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Empty(t, chunk)
	_, more, err = h2.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, more)

	_, _, err = h1.Poll(ctx, time.Second)
	var ce *dealer.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, dealer.CodeLocation, ce.Code)
	assert.Equal(t, "no such handle", ce.Message)

	assert.Nil(t, b.lookup(first.ID))
	assert.Nil(t, b.lookup(second.ID))
}

func TestBackendDropsUnknownReplies(t *testing.T) {
	b, out, in := newTestBackend(t, 0)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "ping", nil, dealer.Policy{})
	require.NoError(t, err)
	inv := sentInvoke(t, out)

	in <- encodeChunk("ghost", []byte("lost"))
	in <- [][]byte{[]byte("garbage")}
	in <- encodeChoke(inv.ID)

	_, more, err := h.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestBackendAbandonSendsCancel(t *testing.T) {
	b, out, in := newTestBackend(t, 0)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "repeat", []byte("100"), dealer.Policy{})
	require.NoError(t, err)
	inv := sentInvoke(t, out)

	require.NoError(t, h.Abandon())
	kind, cancelled, err := decodeRequest(recvFrames(t, out))
	require.NoError(t, err)
	assert.Equal(t, frameCancel, kind)
	assert.Equal(t, inv.ID, cancelled.ID)
	assert.Nil(t, b.lookup(inv.ID))

	// 放弃后的迟到回复被丢弃
	in <- encodeChunk(inv.ID, []byte("late"))
	require.NoError(t, h.Abandon())
	assert.Empty(t, out)
}

func TestBackendOverflowCancelsRequest(t *testing.T) {
	b, out, in := newTestBackend(t, 1)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "repeat", []byte("5"), dealer.Policy{})
	require.NoError(t, err)
	inv := sentInvoke(t, out)

	in <- encodeChunk(inv.ID, []byte("0"))
	in <- encodeChunk(inv.ID, []byte("1"))

	kind, cancelled, err := decodeRequest(recvFrames(t, out))
	require.NoError(t, err)
	assert.Equal(t, frameCancel, kind)
	assert.Equal(t, inv.ID, cancelled.ID)
	assert.Nil(t, b.lookup(inv.ID))

	_, _, err = h.Poll(ctx, time.Second)
	require.NoError(t, err)
	_, _, err = h.Poll(ctx, time.Second)
	assert.Error(t, err)
}

func TestBackendTimeoutFailsRequest(t *testing.T) {
	b, out, _ := newTestBackend(t, 0)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "ping", nil, dealer.Policy{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	inv := sentInvoke(t, out)

	_, _, err = h.Poll(ctx, 2*time.Second)
	var ce *dealer.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, dealer.CodeInternal, ce.Code)

	kind, cancelled, err := decodeRequest(recvFrames(t, out))
	require.NoError(t, err)
	assert.Equal(t, frameCancel, kind)
	assert.Equal(t, inv.ID, cancelled.ID)
	assert.Nil(t, b.lookup(inv.ID))
}

func TestBackendCompletionStopsTimer(t *testing.T) {
	b, out, in := newTestBackend(t, 0)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "ping", nil, dealer.Policy{Timeout: time.Hour})
	require.NoError(t, err)
	inv := sentInvoke(t, out)

	b.mu.Lock()
	req := b.pending[inv.ID]
	b.mu.Unlock()
	require.NotNil(t, req)
	require.NotNil(t, req.timer)

	in <- encodeChoke(inv.ID)
	_, more, err := h.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, more)

	assert.False(t, req.timer.Stop(), "timer already stopped on completion")
}

func TestBackendCloseFailsPending(t *testing.T) {
	b, out, _ := newTestBackend(t, 0)
	ctx := context.Background()

	h, err := b.Send(ctx, "echo", "ping", nil, dealer.Policy{})
	require.NoError(t, err)
	sentInvoke(t, out)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, _, err = h.Poll(ctx, time.Second)
	assert.Error(t, err)

	_, err = b.Send(ctx, "echo", "ping", nil, dealer.Policy{})
	assert.Error(t, err)
}

func TestBackendSendHonoursContext(t *testing.T) {
	out := make(chan [][]byte)
	b := newBackend("tcp://127.0.0.1:5000", 0, out, make(chan [][]byte), nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Send(ctx, "echo", "ping", nil, dealer.Policy{})
	assert.ErrorIs(t, err, context.Canceled)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.pending)
}
