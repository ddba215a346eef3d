package zmq

import (
	"testing"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeFramesCarryPolicyAndPayload(t *testing.T) {
	policy := dealer.Policy{Urgent: true, Deadline: 2 * time.Second, Timeout: 500 * time.Millisecond, MaxRetries: 3}
	frames, err := encodeInvoke(invoke{ID: "r1", App: "echo", Handle: "ping", Policy: policy, Payload: []byte{0, 1, 0}})
	require.NoError(t, err)
	require.Len(t, frames, 6)

	kind, inv, err := decodeRequest(frames)
	require.NoError(t, err)
	assert.Equal(t, frameInvoke, kind)
	assert.Equal(t, "r1", inv.ID)
	assert.Equal(t, "echo", inv.App)
	assert.Equal(t, "ping", inv.Handle)
	assert.Equal(t, policy, inv.Policy)
	assert.Equal(t, []byte{0, 1, 0}, inv.Payload)
}

func TestInvokeWithEmptyPayload(t *testing.T) {
	frames, err := encodeInvoke(invoke{ID: "r2", App: "a", Handle: "h"})
	require.NoError(t, err)
	_, inv, err := decodeRequest(frames)
	require.NoError(t, err)
	assert.Empty(t, inv.Payload)
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	_, _, err := decodeRequest([][]byte{[]byte("invoke")})
	assert.Error(t, err)

	_, _, err = decodeRequest([][]byte{[]byte("invoke"), []byte("id"), []byte("app")})
	assert.Error(t, err)

	_, _, err = decodeRequest([][]byte{[]byte("dance"), []byte("id")})
	assert.Error(t, err)

	kind, inv, err := decodeRequest(encodeCancel("r3"))
	require.NoError(t, err)
	assert.Equal(t, frameCancel, kind)
	assert.Equal(t, "r3", inv.ID)
}

func TestReplyFrames(t *testing.T) {
	id, kind, body, failure, err := decodeReply(encodeChunk("r1", nil))
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
	assert.Equal(t, replyChunk, kind)
	assert.Empty(t, body)
	assert.Nil(t, failure)

	_, kind, _, _, err = decodeReply(encodeChoke("r1"))
	require.NoError(t, err)
	assert.Equal(t, replyChoke, kind)

	_, kind, _, failure, err = decodeReply(encodeError("r1", dealer.CodeLocation, "no such app"))
	require.NoError(t, err)
	assert.Equal(t, replyError, kind)
	require.NotNil(t, failure)
	assert.Equal(t, dealer.CodeLocation, failure.Code)
	assert.Equal(t, "no such app", failure.Message)

	_, _, _, _, err = decodeReply([][]byte{[]byte("r1")})
	assert.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1:5000", normalizeEndpoint("127.0.0.1:5000"))
	assert.Equal(t, "ipc:///tmp/app", normalizeEndpoint("ipc:///tmp/app"))
}
