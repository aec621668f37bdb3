package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"idle-universe-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 历史按 WebSocket 会话 ID 组织，由聊天层持有并显式传入问答链，
// 核心流水线不感知也不持久化它。
type ConversationRepository interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	AppendTurn(ctx context.Context, sessionID string, question, answer string, limit int) error
	Clear(ctx context.Context, sessionID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

const conversationTTL = 24 * time.Hour

func conversationKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

// GetHistory 从 Redis 获取会话的对话历史记录，无历史时返回空切片。
func (r *redisConversationRepository) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取对话历史失败: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("解析对话历史失败: %w", err)
	}
	return messages, nil
}

// AppendTurn 把一轮问答追加到会话历史，超出 limit 的旧消息被裁剪。
func (r *redisConversationRepository) AppendTurn(ctx context.Context, sessionID string, question, answer string, limit int) error {
	messages, err := r.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	messages = append(messages,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("序列化对话历史失败: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(sessionID), jsonData, conversationTTL).Err(); err != nil {
		return fmt.Errorf("写入对话历史失败: %w", err)
	}
	return nil
}

// Clear 丢弃会话的全部历史，会话结束时调用。
func (r *redisConversationRepository) Clear(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, conversationKey(sessionID)).Err()
}
