package model

import "time"

// Role 标识消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status 是消息在客户端日志中的状态。
type Status string

const (
	// StatusPending 表示用户消息仍在发送中，或助手消息仍在流式接收中。
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Message 是会话日志中的一条记录。
// ID 对临时记录由本地生成，后端返回消息 ID 时会被替换。
type Message struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Text   string `json:"text"`
	Status Status `json:"status"`
	// FailureKind 仅在 Status 为 failed 时有值，例如 "transport"、"cancelled"。
	FailureKind string    `json:"failure_kind,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromChatMessage 将后端已提交的历史消息转换为日志记录。
func FromChatMessage(m ChatMessage) Message {
	return Message{
		ID:        m.ID,
		Role:      Role(m.Role),
		Text:      m.Content,
		Status:    StatusCommitted,
		CreatedAt: m.Timestamp,
	}
}
