// Package session 编排单个活动会话的消息发送。
//
// Orchestrator 独占会话的消息日志：日志只追加、不重排、不删除；同一会话同一时刻
// 最多只有一个发送在进行中。用户消息先以 pending 状态乐观追加，传输层有了结果后
// 再与之对账。
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/internal/selection"
	"docchat-go/internal/transport"
	"docchat-go/pkg/log"

	"github.com/google/uuid"
)

// State 是编排器的状态。
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// ErrBusy 表示已有发送在进行中，新的提交被拒绝。
var ErrBusy = errs.Validation("a message is already being sent")

// 失败时写入助手消息的提示文本。
const (
	cancelledText    = "Response cancelled"
	unauthorizedText = "Error: not authorized, please log in again"
	failedText       = "Error: failed to get response"
)

// SnapshotSource 提供发送时刻的上下文快照，*selection.Store 实现了它。
type SnapshotSource interface {
	Snapshot() selection.Snapshot
}

// ChangeKind 标识日志或状态的变化类型。
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota + 1
	ChangeUpdated
	ChangeState
)

// Change 描述一次变化，供界面实时渲染。
type Change struct {
	Kind ChangeKind
	// Index 是变化消息在日志中的位置，ChangeState 时为 -1。
	Index   int
	Message model.Message
	// Fragment 是本次追加到流式消息上的文本片段。
	Fragment string
	State    State
	Err      error
}

// Observer 在提交所在的 goroutine 上按发生顺序被同步调用，不应阻塞。
type Observer func(Change)

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

// WithHistory 用已提交的历史消息初始化日志。
func WithHistory(history []model.Message) Option {
	return func(o *Orchestrator) {
		o.log = append(o.log, history...)
	}
}

// WithObserver 注册变化通知。
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// WithIDGenerator 替换临时消息 ID 的生成方式。
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithClock 替换时间来源。
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = fn
	}
}

// Orchestrator 拥有一个会话的消息日志和发送状态机：
// Idle → Sending → (Streaming)? → Idle，失败后停在带错误的 Idle。
type Orchestrator struct {
	conv      model.Conversation
	transport transport.Transport
	selection SnapshotSource
	observer  Observer
	newID     func() string
	now       func() time.Time

	mu              sync.Mutex
	log             []model.Message
	state           State
	lastErr         error
	cancel          context.CancelFunc
	cancelRequested bool
	inFlight        *selection.Snapshot
}

// New 创建绑定到 conv 的 Orchestrator。
func New(conv model.Conversation, tr transport.Transport, sel SnapshotSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conv:      conv,
		transport: tr,
		selection: sel,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Conversation 返回绑定的会话。
func (o *Orchestrator) Conversation() model.Conversation {
	return o.conv
}

// Messages 返回日志的副本。
func (o *Orchestrator) Messages() []model.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Message(nil), o.log...)
}

// State 返回当前状态。
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy 在发送或流式接收期间为 true，由状态推导而来。
func (o *Orchestrator) Busy() bool {
	s := o.State()
	return s == StateSending || s == StateStreaming
}

// Err 返回最近一次发送的错误；下一次提交开始时清空。
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// InFlightContext 返回进行中的发送所捕获的上下文快照。
func (o *Orchestrator) InFlightContext() (selection.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight == nil {
		return selection.Snapshot{}, false
	}
	return *o.inFlight, true
}

// Submit 发送一条用户消息并阻塞到本次发送结束。
//
// 空白文本返回 Validation 错误且不修改日志、不调用传输层；已有发送进行中时返回
// ErrBusy。传输失败会被记录为一条 failed 助手消息并通过 Err 暴露，同时作为返回值。
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errs.Validation("message text must not be empty")
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.conv.ID == "" {
		o.mu.Unlock()
		return errs.Validation("no active conversation: create one before sending")
	}
	snap := o.selection.Snapshot()
	sendCtx, cancel := context.WithCancel(ctx)
	userIdx := o.appendLocked(model.Message{
		ID:        o.newID(),
		Role:      model.RoleUser,
		Text:      text,
		Status:    model.StatusPending,
		CreatedAt: o.now(),
	})
	o.state = StateSending
	o.lastErr = nil
	o.cancel = cancel
	o.cancelRequested = false
	o.inFlight = &snap
	userMsg := o.log[userIdx]
	o.mu.Unlock()
	defer cancel()

	o.notify(Change{Kind: ChangeAppended, Index: userIdx, Message: userMsg})
	o.notify(Change{Kind: ChangeState, Index: -1, State: StateSending})
	log.Infow("sending message", "chat_id", o.conv.ID, "mode", snap.Mode, "documents", len(snap.DocumentIDs), "templates", len(snap.TemplateIDs))

	events, err := o.transport.Send(sendCtx, transport.Request{
		ConversationID: o.conv.ID,
		Text:           text,
		Context:        snap,
	})
	if err != nil {
		return o.settleFailure(userIdx, -1, err)
	}
	return o.consume(userIdx, events)
}

// Resubmit 重新提交最近一次失败回复所对应的用户消息，作为新的一轮追加到日志末尾。
func (o *Orchestrator) Resubmit(ctx context.Context) error {
	o.mu.Lock()
	text, ok := o.lastFailedPromptLocked()
	o.mu.Unlock()
	if !ok {
		return errs.Validation("nothing to retry")
	}
	return o.Submit(ctx, text)
}

// Cancel 取消进行中的发送，返回是否有发送被取消。
// 结果是带 Cancelled 错误的 Idle；已收到的部分流式内容被替换为取消标记，记录本身保留。
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateIdle || o.cancel == nil {
		return false
	}
	o.cancelRequested = true
	o.cancel()
	return true
}

func (o *Orchestrator) consume(userIdx int, events <-chan transport.Event) error {
	placeholder := -1
	for ev := range events {
		switch ev.Kind {
		case transport.EventFragment:
			o.commitUser(userIdx)
			if placeholder < 0 {
				placeholder = o.openPlaceholder()
			}
			o.appendFragment(placeholder, ev.Text)

		case transport.EventComplete:
			o.commitUser(userIdx)
			if placeholder >= 0 {
				// 片段之后的完整回复覆盖占位消息，日志中仍只有一条助手回复
				o.finishStream(placeholder, ev)
			} else {
				o.finishComplete(ev)
			}
			drainRest(events)
			return nil

		case transport.EventEnd:
			o.commitUser(userIdx)
			if placeholder < 0 {
				// 显式结束但没有任何片段：确认送达，回复为空
				o.finishComplete(transport.Event{Kind: transport.EventComplete, MessageID: ev.MessageID})
			} else {
				o.finishStream(placeholder, ev)
			}
			drainRest(events)
			return nil

		case transport.EventFailed:
			err := ev.Err
			if err == nil {
				err = errs.Transport("send failed", nil)
			}
			drainRest(events)
			return o.settleFailure(userIdx, placeholder, err)
		}
	}
	// channel 关闭却没有终止事件：不能假设已送达
	return o.settleFailure(userIdx, placeholder, errs.Transport("transport closed without a result", nil))
}

func (o *Orchestrator) commitUser(idx int) {
	o.mu.Lock()
	if o.log[idx].Status != model.StatusPending {
		o.mu.Unlock()
		return
	}
	o.log[idx].Status = model.StatusCommitted
	msg := o.log[idx]
	o.mu.Unlock()
	o.notify(Change{Kind: ChangeUpdated, Index: idx, Message: msg})
}

func (o *Orchestrator) openPlaceholder() int {
	o.mu.Lock()
	idx := o.appendLocked(model.Message{
		ID:        o.newID(),
		Role:      model.RoleAssistant,
		Status:    model.StatusPending,
		CreatedAt: o.now(),
	})
	o.state = StateStreaming
	msg := o.log[idx]
	o.mu.Unlock()

	o.notify(Change{Kind: ChangeAppended, Index: idx, Message: msg})
	o.notify(Change{Kind: ChangeState, Index: -1, State: StateStreaming})
	return idx
}

func (o *Orchestrator) appendFragment(idx int, fragment string) {
	o.mu.Lock()
	o.log[idx].Text += fragment
	msg := o.log[idx]
	o.mu.Unlock()
	o.notify(Change{Kind: ChangeUpdated, Index: idx, Message: msg, Fragment: fragment})
}

func (o *Orchestrator) finishComplete(ev transport.Event) {
	id := ev.MessageID
	if id == "" {
		id = o.newID()
	}
	o.mu.Lock()
	idx := o.appendLocked(model.Message{
		ID:        id,
		Role:      model.RoleAssistant,
		Text:      ev.Text,
		Status:    model.StatusCommitted,
		CreatedAt: o.now(),
	})
	msg := o.log[idx]
	o.toIdleLocked(nil)
	o.mu.Unlock()

	o.notify(Change{Kind: ChangeAppended, Index: idx, Message: msg})
	o.notify(Change{Kind: ChangeState, Index: -1, State: StateIdle})
	log.Infow("reply received", "chat_id", o.conv.ID, "message_id", id, "length", len(ev.Text))
}

// finishStream 提交流式占位消息。ev 为 Complete 时以其文本为准。
func (o *Orchestrator) finishStream(idx int, ev transport.Event) {
	o.mu.Lock()
	o.log[idx].Status = model.StatusCommitted
	if ev.Kind == transport.EventComplete {
		o.log[idx].Text = ev.Text
	}
	if ev.MessageID != "" {
		o.log[idx].ID = ev.MessageID
	}
	msg := o.log[idx]
	o.toIdleLocked(nil)
	o.mu.Unlock()

	o.notify(Change{Kind: ChangeUpdated, Index: idx, Message: msg})
	o.notify(Change{Kind: ChangeState, Index: -1, State: StateIdle})
	log.Infow("stream completed", "chat_id", o.conv.ID, "message_id", msg.ID, "length", len(msg.Text))
}

// settleFailure 把失败记录到日志：用户消息保持（或转为）committed，
// 流式占位消息被标记为 failed，没有占位消息时追加一条 failed 助手消息。
func (o *Orchestrator) settleFailure(userIdx, placeholder int, cause error) error {
	o.mu.Lock()
	err := cause
	if o.cancelRequested && !errs.Is(err, errs.KindCancelled) {
		err = errs.Cancelled(cause)
	}
	var changes []Change
	if o.log[userIdx].Status == model.StatusPending {
		o.log[userIdx].Status = model.StatusCommitted
		changes = append(changes, Change{Kind: ChangeUpdated, Index: userIdx, Message: o.log[userIdx]})
	}

	kind := errs.KindOf(err)
	text := failureText(err)
	if placeholder >= 0 {
		o.log[placeholder].Status = model.StatusFailed
		o.log[placeholder].FailureKind = string(kind)
		o.log[placeholder].Text = text
		changes = append(changes, Change{Kind: ChangeUpdated, Index: placeholder, Message: o.log[placeholder]})
	} else {
		idx := o.appendLocked(model.Message{
			ID:          o.newID(),
			Role:        model.RoleAssistant,
			Text:        text,
			Status:      model.StatusFailed,
			FailureKind: string(kind),
			CreatedAt:   o.now(),
		})
		changes = append(changes, Change{Kind: ChangeAppended, Index: idx, Message: o.log[idx]})
	}
	o.toIdleLocked(err)
	o.mu.Unlock()

	for _, c := range changes {
		o.notify(c)
	}
	o.notify(Change{Kind: ChangeState, Index: -1, State: StateIdle, Err: err})
	log.Warnw("send failed", "chat_id", o.conv.ID, "kind", kind, "error", err)
	return err
}

func (o *Orchestrator) toIdleLocked(err error) {
	o.state = StateIdle
	o.lastErr = err
	o.cancel = nil
	o.cancelRequested = false
	o.inFlight = nil
}

func (o *Orchestrator) appendLocked(m model.Message) int {
	o.log = append(o.log, m)
	return len(o.log) - 1
}

func (o *Orchestrator) lastFailedPromptLocked() (string, bool) {
	for i := len(o.log) - 1; i > 0; i-- {
		m := o.log[i]
		if m.Role != model.RoleAssistant {
			continue
		}
		if m.Status != model.StatusFailed {
			return "", false
		}
		prev := o.log[i-1]
		if prev.Role == model.RoleUser {
			return prev.Text, true
		}
		return "", false
	}
	return "", false
}

func (o *Orchestrator) notify(c Change) {
	if o.observer != nil {
		o.observer(c)
	}
}

func failureText(err error) string {
	switch errs.KindOf(err) {
	case errs.KindCancelled:
		return cancelledText
	case errs.KindUnauthorized:
		return unauthorizedText
	}
	if msg := errs.MessageOf(err); msg != "" {
		return fmt.Sprintf("%s (%s)", failedText, msg)
	}
	return failedText
}

// drainRest 读完终止事件之后可能残留的事件，保证发送方 goroutine 能退出。
func drainRest(events <-chan transport.Event) {
	for range events {
	}
}

// IsBusy 判断错误是否为 ErrBusy。
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
