// Package store provides vector, relational and cache storage for the engine.
package store

import (
	"context"
)

// Chunk 表示文档块。
type Chunk struct {
	// ID 文档块 ID，由文档 ID、序号和内容哈希派生，全局稳定。
	ID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// TenantID 所属租户 ID。
	TenantID string
	// Title 所属文档标题。
	Title string
	// Position 块在文档内的序号，单调递增。
	Position int
	// Text 文档内容。
	Text string
	// Hash 内容哈希，用于增量更新比对。
	Hash string
	// TokenEstimate 估算的 token 数量。
	TokenEstimate int
	// Metadata 合并后的文档级与块级元数据。
	Metadata map[string]string
	// Embedding 嵌入向量。
	Embedding []float32
}

// SearchResult 表示检索结果。
type SearchResult struct {
	// ID 文档块 ID。
	ID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// TenantID 所属租户 ID。
	TenantID string
	// Title 所属文档标题。
	Title string
	// Position 块在文档内的序号。
	Position int
	// Text 文档内容。
	Text string
	// Metadata 块元数据。
	Metadata map[string]string
	// Score 相似度分数，归一化到 [0,1]。
	Score float32
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// CreateCollection 创建集合，已存在时为幂等操作。
	CreateCollection(ctx context.Context, config *CollectionConfig) error

	// Insert 批量插入文档块。
	Insert(ctx context.Context, collection string, chunks []*Chunk) ([]string, error)

	// Search 向量相似度搜索，结果限定在指定租户内。
	Search(ctx context.Context, collection string, embedding []float32, tenantID string, topK int) ([]*SearchResult, error)

	// ListByTenant 列出租户下的文档块（不含向量），用于关键词检索。
	ListByTenant(ctx context.Context, collection string, tenantID string, limit int) ([]*Chunk, error)

	// ListByDocument 列出文档下的所有块（不含向量），按 Position 升序。
	ListByDocument(ctx context.Context, collection string, documentID string) ([]*Chunk, error)

	// DeleteByDocument 删除文档下的所有块。
	DeleteByDocument(ctx context.Context, collection string, documentID string) error

	// DeleteChunks 按 ID 删除指定的文档块，用于增量更新。
	DeleteChunks(ctx context.Context, collection string, ids []string) error

	// GetStats 获取集合统计信息。
	GetStats(ctx context.Context, collection string) (int64, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}
