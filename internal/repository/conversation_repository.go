package repository

import (
	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了会话记录的持久化操作。
type ConversationRepository interface {
	Create(conv *model.Conversation) error
	// ListByUser 按创建时间倒序返回用户的会话。
	ListByUser(userID uint) ([]model.Conversation, error)
	FindByID(userID uint, id string) (*model.Conversation, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(conv *model.Conversation) error {
	return r.db.Create(conv).Error
}

func (r *conversationRepository) ListByUser(userID uint) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Find(&convs).Error
	return convs, err
}

// FindByID 只返回属于该用户的会话，其他用户的会话视为不存在。
func (r *conversationRepository) FindByID(userID uint, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
