package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/pkg/utils/json"
)

// OptimizerConfig 查询优化器配置。
type OptimizerConfig struct {
	// CacheEnabled 是否启用结果缓存。
	CacheEnabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
	// DocIndexPrefix 文档反向索引键前缀。
	DocIndexPrefix string
}

// DefaultOptimizerConfig 返回默认优化器配置。
func DefaultOptimizerConfig() *OptimizerConfig {
	return &OptimizerConfig{
		CacheEnabled:   true,
		TTL:            time.Hour,
		KeyPrefix:      "ragcore:query:",
		DocIndexPrefix: "ragcore:query:doc:",
	}
}

// abbreviations 查询重写时展开的常见缩写。
var abbreviations = map[string]string{
	"ai":  "artificial intelligence",
	"ml":  "machine learning",
	"dl":  "deep learning",
	"nlp": "natural language processing",
	"db":  "database",
	"k8s": "kubernetes",
	"llm": "large language model",
	"rag": "retrieval augmented generation",
}

// QueryOptimizer 负责查询重写规范化与查询结果缓存。
// redis 为 nil 时缓存操作降级为空操作。
type QueryOptimizer struct {
	redis  *goredis.Client
	config *OptimizerConfig
}

// NewQueryOptimizer 创建查询优化器实例。
func NewQueryOptimizer(redis *goredis.Client, config *OptimizerConfig) *QueryOptimizer {
	if config == nil {
		config = DefaultOptimizerConfig()
	}
	return &QueryOptimizer{redis: redis, config: config}
}

// Rewrite 规范化查询：折叠空白、小写化并展开常见缩写。
func (o *QueryOptimizer) Rewrite(query string) string {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	for i, token := range tokens {
		bare := strings.Trim(token, ".,!?;:")
		if expanded, ok := abbreviations[bare]; ok {
			tokens[i] = strings.Replace(token, bare, expanded, 1)
		}
	}
	return strings.Join(tokens, " ")
}

// CacheKey 基于租户、规范化查询与检索参数派生缓存键。
func (o *QueryOptimizer) CacheKey(tenantID, normalizedQuery string, strategy RetrievalStrategy, topK int, threshold float32) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%.4f", tenantID, normalizedQuery, strategy, topK, threshold)
	hash := sha256.Sum256([]byte(payload))
	return o.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// Lookup 查询缓存。未命中返回 (nil, nil)。
func (o *QueryOptimizer) Lookup(ctx context.Context, key string) (*model.QueryResult, error) {
	if !o.enabled() {
		return nil, nil
	}

	data, err := o.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		logger.Warnw("query cache lookup failed", "error", err.Error(), "key", key)
		return nil, err
	}

	var result model.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("corrupt cache entry, dropping", "error", err.Error(), "key", key)
		_ = o.redis.Del(ctx, key).Err()
		return nil, nil
	}
	return &result, nil
}

// Store 写入查询结果缓存，并为结果涉及的每个文档维护反向索引，
// 使文档变更时可以定向失效相关缓存条目。
func (o *QueryOptimizer) Store(ctx context.Context, key string, result *model.QueryResult) error {
	if !o.enabled() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal query result: %w", err)
	}

	pipe := o.redis.TxPipeline()
	pipe.Set(ctx, key, data, o.config.TTL)
	for _, docID := range resultDocumentIDs(result) {
		docKey := o.config.DocIndexPrefix + docID
		pipe.SAdd(ctx, docKey, key)
		// 反向索引存活时间略长于缓存条目
		pipe.Expire(ctx, docKey, o.config.TTL+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warnw("failed to store query cache", "error", err.Error(), "key", key)
		return err
	}
	return nil
}

// InvalidateDocument 失效所有引用了该文档的缓存条目。
// 这是唯一由外部触发的失效路径，其余条目依赖 TTL 过期。
func (o *QueryOptimizer) InvalidateDocument(ctx context.Context, documentID string) error {
	if !o.enabled() {
		return nil
	}

	docKey := o.config.DocIndexPrefix + documentID
	keys, err := o.redis.SMembers(ctx, docKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read cache index for document %s: %w", documentID, err)
	}

	if len(keys) > 0 {
		if err := o.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to invalidate cache entries: %w", err)
		}
	}
	if err := o.redis.Del(ctx, docKey).Err(); err != nil {
		return err
	}
	logger.Infow("invalidated query cache for document", "document_id", documentID, "entries", len(keys))
	return nil
}

// Stats 返回缓存统计信息。
func (o *QueryOptimizer) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{"enabled": o.enabled()}
	if !o.enabled() {
		return stats
	}

	keyCount := 0
	iter := o.redis.Scan(ctx, 0, o.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keyCount++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("cache stats scan failed", "error", err.Error())
		return stats
	}
	stats["key_count"] = keyCount
	stats["ttl"] = o.config.TTL.String()
	return stats
}

func (o *QueryOptimizer) enabled() bool {
	return o != nil && o.config.CacheEnabled && o.redis != nil
}

func resultDocumentIDs(result *model.QueryResult) []string {
	seen := make(map[string]struct{}, len(result.RankedChunks))
	var ids []string
	for _, chunk := range result.RankedChunks {
		if _, ok := seen[chunk.DocumentID]; ok {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}
		ids = append(ids, chunk.DocumentID)
	}
	return ids
}
