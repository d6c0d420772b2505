// Package transport 把一条用户消息连同上下文快照发送给后端，并把单次回复或流式回复
// 统一成同一种事件序列交给会话编排器。
package transport

import (
	"context"
	"strings"

	"docchat-go/internal/errs"
	"docchat-go/internal/selection"
)

// EventKind 是传输结果的标签。
type EventKind int

const (
	// EventComplete 携带一次性返回的完整回复。
	EventComplete EventKind = iota + 1
	// EventFragment 携带流式回复的一个文本片段。
	EventFragment
	// EventEnd 表示流正常结束。
	EventEnd
	// EventFailed 表示发送失败，Err 为 *errs.Error。
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventComplete:
		return "complete"
	case EventFragment:
		return "fragment"
	case EventEnd:
		return "end"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal 判断事件是否结束本次发送。
func (k EventKind) Terminal() bool {
	return k == EventComplete || k == EventEnd || k == EventFailed
}

// Event 是 Complete(text) | Fragment(text) | End | Failed(err) 的标签联合。
type Event struct {
	Kind EventKind
	Text string
	// MessageID 是后端报告的助手消息 ID，可能为空。
	MessageID string
	Err       error
}

// Request 是一次发送的输入。
type Request struct {
	ConversationID string
	Text           string
	Context        selection.Snapshot
}

// Transport 发送一条消息。
//
// 返回的 channel 按到达顺序投递零个或多个 Fragment，随后恰好一个终止事件
// （Complete、End 或 Failed），然后关闭；调用方必须读到 channel 关闭为止。
// 在任何网络调用之前就能判定的失败（校验、凭证）以及在收到响应头之前发生的失败
// 通过 error 直接返回。Transport 内部不做重试。
type Transport interface {
	Send(ctx context.Context, req Request) (<-chan Event, error)
}

// Validate 检查请求并返回规范化（文本去除首尾空白）后的副本。
// 没有会话 ID 的发送会被拒绝，会话必须先通过会话目录创建。
func Validate(req Request) (Request, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, errs.Validation("message text must not be empty")
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return req, errs.Validation("no active conversation: create one before sending")
	}
	return req, nil
}

// emitter 负责在读取协程里按顺序投递事件，并保证只投递一个终止事件。
type emitter struct {
	ch       chan Event
	sawEvent bool
	done     bool
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, 16)}
}

func (e *emitter) fragment(text string) {
	if e.done {
		return
	}
	e.sawEvent = true
	e.ch <- Event{Kind: EventFragment, Text: text}
}

func (e *emitter) terminal(ev Event) {
	if e.done {
		return
	}
	e.sawEvent = true
	e.done = true
	e.ch <- ev
}

func (e *emitter) fail(err error) {
	e.terminal(Event{Kind: EventFailed, Err: err})
}

func (e *emitter) close() {
	close(e.ch)
}
