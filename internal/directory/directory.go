// Package directory 维护当前用户的会话列表。
package directory

import (
	"context"
	"strings"
	"sync"

	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/internal/selection"
	"docchat-go/pkg/log"
)

// Backend 是会话目录依赖的后端接口，*api.Client 实现了它。
type Backend interface {
	ListChats(ctx context.Context) ([]model.Conversation, error)
	CreateChat(ctx context.Context, in model.CreateChatRequest) (model.Conversation, error)
	ChatMessages(ctx context.Context, chatID string, limit int) ([]model.ChatMessage, error)
}

// Directory 持有会话列表的本地视图。与任何会话的发送流程相互独立，可并发使用。
type Directory struct {
	backend Backend

	mu            sync.RWMutex
	conversations []model.Conversation
}

// New 创建一个空的 Directory。
func New(backend Backend) *Directory {
	return &Directory{backend: backend}
}

// List 从后端拉取会话列表并替换本地视图，保持服务端顺序。失败不会自动重试，本地视图保持不变。
func (d *Directory) List(ctx context.Context) ([]model.Conversation, error) {
	chats, err := d.backend.ListChats(ctx)
	if err != nil {
		log.Warnw("list conversations failed", "error", err)
		return nil, err
	}

	d.mu.Lock()
	d.conversations = cloneAll(chats)
	d.mu.Unlock()
	return cloneAll(chats), nil
}

// Create 以名称和上下文快照创建会话。成功后记录插入到本地列表头部；失败时本地列表不变。
// 切换活动会话由调用方负责。
func (d *Directory) Create(ctx context.Context, name string, snap selection.Snapshot) (model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Conversation{}, errs.Validation("conversation name must not be empty")
	}
	mode := snap.Mode
	if mode == "" {
		mode = model.DefaultMode
	}

	conv, err := d.backend.CreateChat(ctx, model.CreateChatRequest{
		Name:        name,
		Mode:        mode,
		DocumentIDs: append([]string{}, snap.DocumentIDs...),
	})
	if err != nil {
		log.Warnw("create conversation failed", "name", name, "error", err)
		return model.Conversation{}, err
	}

	d.mu.Lock()
	d.conversations = append([]model.Conversation{clone(conv)}, d.conversations...)
	d.mu.Unlock()

	log.Infow("conversation created", "chat_id", conv.ID, "mode", conv.Mode, "documents", len(conv.DocumentIDs))
	return clone(conv), nil
}

// Conversations 返回本地列表的副本。
func (d *Directory) Conversations() []model.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneAll(d.conversations)
}

// Find 在本地列表中按 ID 查找会话。
func (d *Directory) Find(id string) (model.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.conversations {
		if c.ID == id {
			return clone(c), true
		}
	}
	return model.Conversation{}, false
}

// History 返回会话的已提交历史，用于初始化会话编排器的日志。
func (d *Directory) History(ctx context.Context, id string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.Validation("conversation id must not be empty")
	}
	raw, err := d.backend.ChatMessages(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, model.FromChatMessage(m))
	}
	return out, nil
}

func clone(c model.Conversation) model.Conversation {
	c.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	return c
}

func cloneAll(in []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(in))
	for i, c := range in {
		out[i] = clone(c)
	}
	return out
}
