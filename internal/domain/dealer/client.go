package dealer

import (
	"context"
	"time"
)

// Client 外部 dealer 客户端
// gateway 只调用这三个能力：解析服务默认策略、发送、轮询通道
type Client interface {
	// ResolvePolicy 返回 service 的默认投递策略
	ResolvePolicy(service string) (Policy, error)

	// Send 发起一次异步发送，不等待响应
	Send(ctx context.Context, payload []byte, dest Destination, policy Policy) (ChannelHandle, error)
}

// ChannelHandle 一个在途请求的投递通道，由唯一的 Stream 独占
type ChannelHandle interface {
	// Poll 等待下一个数据块
	// timeout < 0 表示无限等待；超时返回 ErrPollTimeout。
	// more 为 false 表示通道已完成，此时 chunk 为空。
	Poll(ctx context.Context, timeout time.Duration) (chunk []byte, more bool, err error)

	// Abandon 放弃在途请求，尽力通知远端；对已完成的通道是空操作
	Abandon() error
}

// Journal 记录每次发送及其终态
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	Finish(ctx context.Context, id string, state State, detail string) error
}

// Entry journal 中的一条发送记录
type Entry struct {
	ID          string
	Destination Destination
	Policy      Policy
	Size        int
	State       State
	Detail      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Observer 接收 gateway 与 stream 的事件，用于指标
type Observer interface {
	ObserveSend(service string, err error)
	ObservePoll(service string, kind ResultKind, err error)
	StreamOpened(service string)
	StreamClosed(service string, state State)
}

type nopObserver struct{}

func (nopObserver) ObserveSend(string, error)             {}
func (nopObserver) ObservePoll(string, ResultKind, error) {}
func (nopObserver) StreamOpened(string)                   {}
func (nopObserver) StreamClosed(string, State)            {}
