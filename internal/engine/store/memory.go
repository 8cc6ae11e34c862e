package store

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/pkg/utils/json"
)

// MemoryConfig 会话记忆配置。
type MemoryConfig struct {
	// KeyPrefix 记忆键前缀。
	KeyPrefix string
	// MaxEntries 每个会话保留的最大条目数。
	MaxEntries int64
	// TTL 会话记忆过期时间。
	TTL time.Duration
}

// MemoryStore 基于 Redis list 的会话记忆存储。
// redis 为 nil 时所有操作降级为空操作。
type MemoryStore struct {
	redis  *goredis.Client
	config *MemoryConfig
}

// NewMemoryStore 创建会话记忆存储实例。
func NewMemoryStore(redis *goredis.Client, config *MemoryConfig) *MemoryStore {
	if config == nil {
		config = &MemoryConfig{
			KeyPrefix:  "ragcore:memory:",
			MaxEntries: 50,
			TTL:        24 * time.Hour,
		}
	}
	return &MemoryStore{redis: redis, config: config}
}

func (m *MemoryStore) key(userID, conversationID string) string {
	return fmt.Sprintf("%s%s:%s", m.config.KeyPrefix, userID, conversationID)
}

// Store 追加一条会话记忆。
func (m *MemoryStore) Store(ctx context.Context, entry *model.MemoryEntry) error {
	if m.redis == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	key := m.key(entry.UserID, entry.ConversationID)
	pipe := m.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -m.config.MaxEntries, -1)
	pipe.Expire(ctx, key, m.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store memory entry: %w", err)
	}
	return nil
}

// Retrieve 按时间顺序返回会话中最近的 limit 条记忆。
func (m *MemoryStore) Retrieve(ctx context.Context, userID, conversationID string, limit int) ([]*model.MemoryEntry, error) {
	if m.redis == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = int(m.config.MaxEntries)
	}

	key := m.key(userID, conversationID)
	raw, err := m.redis.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memory: %w", err)
	}

	entries := make([]*model.MemoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.MemoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			logger.Warnw("skipping corrupt memory entry", "key", key, "error", err.Error())
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Clear 清空一个会话的记忆。
func (m *MemoryStore) Clear(ctx context.Context, userID, conversationID string) error {
	if m.redis == nil {
		return nil
	}
	return m.redis.Del(ctx, m.key(userID, conversationID)).Err()
}
