package model

// Envelope 是所有 JSON 接口统一的响应外壳。
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// CreateChatRequest 是创建会话的请求体。
type CreateChatRequest struct {
	Name        string   `json:"name"`
	Mode        Mode     `json:"mode"`
	DocumentIDs []string `json:"document_ids"`
}

// SendMessageRequest 是发送消息的请求体，websocket 每轮也使用同样的结构。
type SendMessageRequest struct {
	Message     string   `json:"message"`
	Mode        Mode     `json:"mode"`
	DocumentIDs []string `json:"document_ids"`
	TemplateIDs []string `json:"template_ids"`
}

// SendMessageResponse 是单次（非流式）回复的响应体。
type SendMessageResponse struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// StreamFragment 是 SSE fragment 事件的数据。
type StreamFragment struct {
	Fragment string `json:"fragment"`
}

// StreamEnd 是 SSE end 事件的数据。
type StreamEnd struct {
	MessageID string `json:"message_id,omitempty"`
}

// StreamError 是 SSE error 事件以及 websocket 错误帧的数据。
type StreamError struct {
	Error string `json:"error"`
}

// SSE 事件名称。
const (
	EventFragment = "fragment"
	EventEnd      = "end"
	EventError    = "error"
)

// LoginRequest 是登录请求体。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ChangePasswordRequest 是 POST /auth/change-password 的请求体。
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// LoginResponse 是登录成功后返回的令牌。
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// WSFrame 是 websocket 下行帧。分块帧只有 chunk 字段，
// 完成帧的 type 为 "completion"，错误帧带有 error 字段。
type WSFrame struct {
	Type      string `json:"type,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// WSFrameCompletion 是完成帧的 type 值。
const WSFrameCompletion = "completion"
