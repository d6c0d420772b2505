// Package model 包含了应用的数据模型定义。
package model

import "time"

// Conversation 代表一个绑定了名称、模式和文档范围的会话。
// 创建后除追加消息外不再修改。
type Conversation struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"chat_id"`
	UserID      uint      `gorm:"index;not null" json:"-"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Mode        Mode      `gorm:"type:varchar(16);not null" json:"mode"`
	DocumentIDs []string  `gorm:"type:text;serializer:json" json:"document_ids"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ChatMessage 代表存储在 Redis 中的单条已提交对话消息。
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
