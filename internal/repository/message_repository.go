package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// maxStoredMessages 是每个会话在 Redis 中保留的最多消息条数。
const maxStoredMessages = 200

// MessageRepository 定义了会话消息历史的操作接口。
type MessageRepository interface {
	// Append 在会话历史末尾追加已提交的消息。
	Append(ctx context.Context, conversationID string, messages ...model.ChatMessage) error
	// History 返回最近 limit 条消息，按时间正序；limit 小于等于 0 时返回全部。
	History(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error)
}

type redisMessageRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。ttl 为 0 时历史不过期。
func NewMessageRepository(redisClient *redis.Client, ttl time.Duration) MessageRepository {
	return &redisMessageRepository{redisClient: redisClient, ttl: ttl}
}

func messagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *redisMessageRepository) Append(ctx context.Context, conversationID string, messages ...model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, b)
	}

	key := messagesKey(conversationID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -maxStoredMessages, -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

func (r *redisMessageRepository) History(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.redisClient.LRange(ctx, messagesKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}
