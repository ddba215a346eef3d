package dealer

import (
	"errors"
	"fmt"
)

// 错误类别，调用方通过 errors.Is 判断
var (
	ErrConfiguration      = errors.New("configuration failure")
	ErrMalformedRequest   = errors.New("malformed request")
	ErrUnresolvedLocation = errors.New("unresolved location")
	ErrTransportFailure   = errors.New("transport failure")
	ErrUsage              = errors.New("usage error")
)

// ErrPollTimeout 由 ChannelHandle.Poll 在有界等待超时时返回
var ErrPollTimeout = errors.New("poll timed out")

// Code 外部客户端上报的错误类别
type Code int

const (
	CodeInternal Code = iota
	CodeRequest
	CodeLocation
)

func (c Code) String() string {
	switch c {
	case CodeRequest:
		return "request_error"
	case CodeLocation:
		return "location_error"
	default:
		return "internal_error"
	}
}

// ClientError 外部客户端（backend）返回的带类别错误
type ClientError struct {
	Code    Code
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewClientError 创建带类别的客户端错误
func NewClientError(code Code, format string, args ...any) *ClientError {
	return &ClientError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error 是 gateway 与 stream 对外返回的错误
// Kind 为上面的类别哨兵之一，Err 为原始原因
type Error struct {
	Kind        error
	Op          string
	Destination Destination
	Err         error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Destination.Service != "" || e.Destination.Handle != "" {
		msg += " " + e.Destination.String()
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classify 将外部客户端错误映射到对外类别
func classify(op string, dest Destination, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	kind := ErrTransportFailure
	var ce *ClientError
	if errors.As(err, &ce) {
		switch ce.Code {
		case CodeRequest:
			kind = ErrMalformedRequest
		case CodeLocation:
			kind = ErrUnresolvedLocation
		}
	} else {
		for _, k := range []error{ErrConfiguration, ErrMalformedRequest, ErrUnresolvedLocation, ErrUsage} {
			if errors.Is(err, k) {
				kind = k
				break
			}
		}
	}
	return &Error{Kind: kind, Op: op, Destination: dest, Err: err}
}

// Category 返回错误类别的短名，用于指标标签与 HTTP 响应
func Category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrUnresolvedLocation):
		return "unresolved_location"
	case errors.Is(err, ErrUsage):
		return "usage"
	default:
		return "transport"
	}
}
