package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kart-io/ragcore/internal/pkg/textutil"
)

// MemStore 是进程内的向量存储实现，用于测试与单机部署。
// 所有方法都是并发安全的。
type MemStore struct {
	mu          sync.RWMutex
	collections map[string][]*Chunk
}

// NewMemStore 创建内存向量存储实例。
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string][]*Chunk),
	}
}

// CreateCollection 创建集合，已存在时为幂等操作。
func (s *MemStore) CreateCollection(_ context.Context, config *CollectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[config.Name]; !ok {
		s.collections[config.Name] = nil
	}
	return nil
}

// Insert 批量插入文档块。
func (s *MemStore) Insert(_ context.Context, collection string, chunks []*Chunk) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		c := *chunk
		s.collections[collection] = append(s.collections[collection], &c)
		ids[i] = chunk.ID
	}
	return ids, nil
}

// Search 执行租户内向量相似度搜索，分数归一化到 [0,1]。
func (s *MemStore) Search(_ context.Context, collection string, embedding []float32, tenantID string, topK int) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}

	var results []*SearchResult
	for _, chunk := range chunks {
		if chunk.TenantID != tenantID || len(chunk.Embedding) == 0 {
			continue
		}
		sim := textutil.CosineSimilarity(embedding, chunk.Embedding)
		results = append(results, &SearchResult{
			ID:         chunk.ID,
			DocumentID: chunk.DocumentID,
			TenantID:   chunk.TenantID,
			Title:      chunk.Title,
			Position:   chunk.Position,
			Text:       chunk.Text,
			Metadata:   chunk.Metadata,
			Score:      float32(textutil.NormalizeCosineSimilarity(sim)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ListByTenant 列出租户下的文档块。
func (s *MemStore) ListByTenant(_ context.Context, collection string, tenantID string, limit int) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*Chunk
	for _, chunk := range s.collections[collection] {
		if chunk.TenantID != tenantID {
			continue
		}
		c := *chunk
		c.Embedding = nil
		chunks = append(chunks, &c)
		if limit > 0 && len(chunks) >= limit {
			break
		}
	}
	return chunks, nil
}

// ListByDocument 列出文档下的所有块，按 Position 升序。
func (s *MemStore) ListByDocument(_ context.Context, collection string, documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*Chunk
	for _, chunk := range s.collections[collection] {
		if chunk.DocumentID != documentID {
			continue
		}
		c := *chunk
		c.Embedding = nil
		chunks = append(chunks, &c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })
	return chunks, nil
}

// DeleteByDocument 删除文档下的所有块。
func (s *MemStore) DeleteByDocument(_ context.Context, collection string, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.collections[collection][:0]
	for _, chunk := range s.collections[collection] {
		if chunk.DocumentID != documentID {
			kept = append(kept, chunk)
		}
	}
	s.collections[collection] = kept
	return nil
}

// DeleteChunks 按 ID 删除指定的文档块。
func (s *MemStore) DeleteChunks(_ context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.collections[collection][:0]
	for _, chunk := range s.collections[collection] {
		if _, ok := drop[chunk.ID]; !ok {
			kept = append(kept, chunk)
		}
	}
	s.collections[collection] = kept
	return nil
}

// GetStats 获取集合统计信息。
func (s *MemStore) GetStats(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

// Close 关闭存储。
func (s *MemStore) Close(_ context.Context) error {
	return nil
}

// 确保 MemStore 实现了 VectorStore 接口。
var _ VectorStore = (*MemStore)(nil)
