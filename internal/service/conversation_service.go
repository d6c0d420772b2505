package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationService 定义了会话业务逻辑的接口。
type ConversationService interface {
	Create(ctx context.Context, user *model.User, req model.CreateChatRequest) (*model.Conversation, error)
	List(ctx context.Context, user *model.User) ([]model.Conversation, error)
	Get(ctx context.Context, user *model.User, id string) (*model.Conversation, error)
	// History 返回会话最近 limit 条已提交消息。
	History(ctx context.Context, user *model.User, id string, limit int) ([]model.ChatMessage, error)
}

type conversationService struct {
	repo     repository.ConversationRepository
	messages repository.MessageRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, messages repository.MessageRepository) ConversationService {
	return &conversationService{repo: repo, messages: messages}
}

func (s *conversationService) Create(_ context.Context, user *model.User, req model.CreateChatRequest) (*model.Conversation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: 会话名称不能为空", ErrInvalidArgument)
	}
	mode := req.Mode
	if mode == "" {
		mode = model.DefaultMode
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: 未知的模式 %q", ErrInvalidArgument, req.Mode)
	}
	docs := req.DocumentIDs
	if docs == nil {
		docs = []string{}
	}

	conv := &model.Conversation{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Name:        name,
		Mode:        mode,
		DocumentIDs: docs,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *conversationService) List(_ context.Context, user *model.User) ([]model.Conversation, error) {
	convs, err := s.repo.ListByUser(user.ID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

func (s *conversationService) Get(_ context.Context, user *model.User, id string) (*model.Conversation, error) {
	conv, err := s.repo.FindByID(user.ID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: 会话 %s 不存在", ErrNotFound, id)
	}
	return conv, err
}

func (s *conversationService) History(ctx context.Context, user *model.User, id string, limit int) ([]model.ChatMessage, error) {
	if _, err := s.Get(ctx, user, id); err != nil {
		return nil, err
	}
	return s.messages.History(ctx, id, limit)
}
