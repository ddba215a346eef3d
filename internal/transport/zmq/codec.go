package zmq

import (
	"fmt"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/vmihailenco/msgpack/v5"
)

// 请求帧类型
const (
	frameInvoke = "invoke"
	frameCancel = "cancel"
)

// 响应帧类型
const (
	replyChunk = "chunk"
	replyChoke = "choke"
	replyError = "error"
)

// wirePolicy 线上的策略表示，时间以秒为单位
type wirePolicy struct {
	Urgent     bool    `msgpack:"urgent"`
	Deadline   float64 `msgpack:"deadline"`
	Timeout    float64 `msgpack:"timeout"`
	MaxRetries int     `msgpack:"max_retries"`
}

type wireError struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

// invoke 解码后的调用请求
type invoke struct {
	ID      string
	App     string
	Handle  string
	Policy  dealer.Policy
	Payload []byte
}

// encodeInvoke 构造 [invoke, id, app, handle, policy, payload]
func encodeInvoke(inv invoke) ([][]byte, error) {
	policy, err := msgpack.Marshal(wirePolicy{
		Urgent:     inv.Policy.Urgent,
		Deadline:   inv.Policy.Deadline.Seconds(),
		Timeout:    inv.Policy.Timeout.Seconds(),
		MaxRetries: inv.Policy.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	payload := inv.Payload
	if payload == nil {
		payload = []byte{}
	}
	return [][]byte{
		[]byte(frameInvoke),
		[]byte(inv.ID),
		[]byte(inv.App),
		[]byte(inv.Handle),
		policy,
		payload,
	}, nil
}

func encodeCancel(id string) [][]byte {
	return [][]byte{[]byte(frameCancel), []byte(id)}
}

// decodeRequest 解析 dealer 发来的帧（不含 router 身份帧）
func decodeRequest(frames [][]byte) (kind string, inv invoke, err error) {
	if len(frames) < 2 {
		return "", inv, fmt.Errorf("expected at least 2 frames, got %d", len(frames))
	}
	kind = string(frames[0])
	inv.ID = string(frames[1])
	switch kind {
	case frameCancel:
		return kind, inv, nil
	case frameInvoke:
		if len(frames) != 6 {
			return "", inv, fmt.Errorf("invoke expects 6 frames, got %d", len(frames))
		}
		var wp wirePolicy
		if err := msgpack.Unmarshal(frames[4], &wp); err != nil {
			return "", inv, fmt.Errorf("failed to decode policy: %w", err)
		}
		inv.App = string(frames[2])
		inv.Handle = string(frames[3])
		inv.Policy = dealer.Policy{
			Urgent:     wp.Urgent,
			Deadline:   time.Duration(wp.Deadline * float64(time.Second)),
			Timeout:    time.Duration(wp.Timeout * float64(time.Second)),
			MaxRetries: wp.MaxRetries,
		}
		inv.Payload = frames[5]
		return kind, inv, nil
	default:
		return "", inv, fmt.Errorf("unknown frame type %q", kind)
	}
}

func encodeChunk(id string, chunk []byte) [][]byte {
	if chunk == nil {
		chunk = []byte{}
	}
	return [][]byte{[]byte(id), []byte(replyChunk), chunk}
}

func encodeChoke(id string) [][]byte {
	return [][]byte{[]byte(id), []byte(replyChoke), {}}
}

func encodeError(id string, code dealer.Code, message string) [][]byte {
	body, err := msgpack.Marshal(wireError{Code: int(code), Message: message})
	if err != nil {
		body = []byte(message)
	}
	return [][]byte{[]byte(id), []byte(replyError), body}
}

// decodeReply 解析 [id, kind, body]；kind 为 error 时返回解码后的 ClientError
func decodeReply(frames [][]byte) (id, kind string, body []byte, failure *dealer.ClientError, err error) {
	if len(frames) != 3 {
		return "", "", nil, nil, fmt.Errorf("reply expects 3 frames, got %d", len(frames))
	}
	id, kind, body = string(frames[0]), string(frames[1]), frames[2]
	switch kind {
	case replyChunk, replyChoke:
		return id, kind, body, nil, nil
	case replyError:
		var we wireError
		if err := msgpack.Unmarshal(body, &we); err != nil {
			return id, kind, nil, dealer.NewClientError(dealer.CodeInternal, "%s", string(body)), nil
		}
		return id, kind, nil, &dealer.ClientError{Code: dealer.Code(we.Code), Message: we.Message}, nil
	default:
		return "", "", nil, nil, fmt.Errorf("unknown reply type %q", kind)
	}
}
