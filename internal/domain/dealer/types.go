package dealer

import (
	"fmt"
	"strings"
	"time"
)

// Destination 远端端点：服务别名 + 方法（handle）
type Destination struct {
	Service string
	Handle  string
}

// ParsePath 解析 "service/handle" 形式的路径
func ParsePath(path string) (Destination, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Destination{}, fmt.Errorf("malformed message path %q", path)
	}
	return Destination{Service: parts[0], Handle: parts[1]}, nil
}

// Validate 检查 service 与 handle 均非空
func (d Destination) Validate() error {
	if d.Service == "" {
		return fmt.Errorf("service name is empty")
	}
	if d.Handle == "" {
		return fmt.Errorf("handle name is empty")
	}
	return nil
}

func (d Destination) String() string {
	return d.Service + "/" + d.Handle
}

// Policy 投递策略
// 零值即 dealer 的默认策略：非紧急、无 deadline、无超时、不重试
type Policy struct {
	Urgent     bool
	Deadline   time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// PolicyOverrides 以命名可选字段覆盖服务默认策略，nil 字段保持默认值
type PolicyOverrides struct {
	Urgent     *bool
	Deadline   *time.Duration
	Timeout    *time.Duration
	MaxRetries *int
}

// Apply 将覆盖项叠加到 base 上并返回新策略
func (o *PolicyOverrides) Apply(base Policy) Policy {
	if o == nil {
		return base
	}
	if o.Urgent != nil {
		base.Urgent = *o.Urgent
	}
	if o.Deadline != nil {
		base.Deadline = *o.Deadline
	}
	if o.Timeout != nil {
		base.Timeout = *o.Timeout
	}
	if o.MaxRetries != nil {
		base.MaxRetries = *o.MaxRetries
	}
	return base
}

// Empty 报告是否没有任何覆盖项
func (o *PolicyOverrides) Empty() bool {
	return o == nil || (o.Urgent == nil && o.Deadline == nil && o.Timeout == nil && o.MaxRetries == nil)
}

// ResultKind 标记一次 Poll 的结果类型
type ResultKind int

const (
	KindData    ResultKind = iota // 一个数据块（可能为空）
	KindEnd                       // 流已正常结束
	KindTimeout                   // 有界等待超时，流仍然可用
)

func (k ResultKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindEnd:
		return "end"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result 一次 Poll 的结果
// 空数据块与流结束通过 Kind 区分，不依赖 Data 的长度
type Result struct {
	Kind ResultKind
	Data []byte
}

// IsEnd 报告结果是否为流结束
func (r Result) IsEnd() bool { return r.Kind == KindEnd }

// State 请求在 journal 中的状态
type State string

const (
	StateSent      State = "sent"
	StateRejected  State = "rejected"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateAbandoned State = "abandoned"
)
