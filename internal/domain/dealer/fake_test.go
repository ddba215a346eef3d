package dealer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeHandle 按脚本逐个投递事件的 ChannelHandle
type fakeHandle struct {
	mu        sync.Mutex
	events    chan event
	abandoned int
	done      bool
}

type event struct {
	chunk []byte
	end   bool
	err   error
}

func newFakeHandle(events ...event) *fakeHandle {
	h := &fakeHandle{events: make(chan event, len(events)+16)}
	for _, e := range events {
		h.events <- e
	}
	return h
}

func (h *fakeHandle) push(e event) { h.events <- e }

func (h *fakeHandle) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	var timer <-chan time.Time
	if timeout >= 0 {
		timer = time.After(timeout)
	}
	select {
	case e := <-h.events:
		if e.err != nil || e.end {
			h.mu.Lock()
			h.done = true
			h.mu.Unlock()
		}
		if e.err != nil {
			return nil, false, e.err
		}
		return e.chunk, !e.end, nil
	case <-timer:
		return nil, false, ErrPollTimeout
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (h *fakeHandle) Abandon() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		h.abandoned++
	}
	return nil
}

func (h *fakeHandle) abandonCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abandoned
}

type sendCall struct {
	payload []byte
	dest    Destination
	policy  Policy
}

// fakeClient 记录发送调用的 Client
type fakeClient struct {
	mu       sync.Mutex
	policies map[string]Policy
	calls    []sendCall
	sendErr  error
	next     *fakeHandle
}

func newFakeClient() *fakeClient {
	return &fakeClient{policies: map[string]Policy{
		"echo":    {Timeout: 5 * time.Second},
		"storage": {Urgent: true, Deadline: time.Second, MaxRetries: 2},
	}}
}

func (c *fakeClient) ResolvePolicy(service string) (Policy, error) {
	p, ok := c.policies[service]
	if !ok {
		return Policy{}, NewClientError(CodeLocation, "unknown service %s", service)
	}
	return p, nil
}

func (c *fakeClient) Send(_ context.Context, payload []byte, dest Destination, policy Policy) (ChannelHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	if _, ok := c.policies[dest.Service]; !ok {
		return nil, NewClientError(CodeLocation, "unknown service %s", dest.Service)
	}
	c.calls = append(c.calls, sendCall{payload, dest, policy})
	h := c.next
	c.next = nil
	if h == nil {
		h = newFakeHandle(event{end: true})
	}
	return h, nil
}

func (c *fakeClient) lastCall() sendCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type journalCall struct {
	entry  Entry
	finish State
	detail string
}

type fakeJournal struct {
	mu      sync.Mutex
	records []Entry
	finish  map[string]journalCall
}

func (j *fakeJournal) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, e)
	return nil
}

func (j *fakeJournal) Finish(_ context.Context, id string, state State, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finish == nil {
		j.finish = make(map[string]journalCall)
	}
	if _, ok := j.finish[id]; ok {
		return errors.New("finished twice")
	}
	j.finish[id] = journalCall{finish: state, detail: detail}
	return nil
}

type countingObserver struct {
	mu     sync.Mutex
	sends  map[string]int
	polls  map[ResultKind]int
	open   int
	closed map[State]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{sends: map[string]int{}, polls: map[ResultKind]int{}, closed: map[State]int{}}
}

func (o *countingObserver) ObserveSend(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends[Category(err)]++
}

func (o *countingObserver) ObservePoll(_ string, kind ResultKind, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls[kind]++
}

func (o *countingObserver) StreamOpened(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open++
}

func (o *countingObserver) StreamClosed(_ string, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open--
	o.closed[state]++
}
