// Package model provides data models for the ragcore engine.
package model

import (
	"time"
)

// Document represents a document in the knowledge base.
type Document struct {
	ID         string            `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Title      string            `json:"title" gorm:"type:varchar(255);not null"`
	Source     string            `json:"source" gorm:"type:varchar(512)"` // File path or URL
	TenantID   string            `json:"tenant_id" gorm:"type:varchar(64);index;not null"`
	Content    string            `json:"content,omitempty" gorm:"type:longtext"`
	Hash       string            `json:"hash" gorm:"type:varchar(64);index"` // Content hash for change detection
	Metadata   map[string]string `json:"metadata,omitempty" gorm:"-"`
	MetadataJS string            `json:"-" gorm:"column:metadata;type:text"` // Serialized metadata
	ChunkNum   int               `json:"chunk_num" gorm:"default:0"`
	Version    int               `json:"version" gorm:"default:1"`
	Status     string            `json:"status" gorm:"type:varchar(32);default:'pending'"` // pending, indexed, failed
	CreatedAt  time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Document status values.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// DocumentVersion is an append-only snapshot of a document taken before a
// content-changing update. Rows are never mutated after creation.
type DocumentVersion struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	DocumentID   string    `json:"document_id" gorm:"type:varchar(64);index:idx_doc_version,unique;not null"`
	VersionLabel string    `json:"version_label" gorm:"type:varchar(32);index:idx_doc_version,unique;not null"`
	SnapshotMeta string    `json:"snapshot_metadata" gorm:"type:text"`
	ContentHash  string    `json:"content_hash" gorm:"type:varchar(64)"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for DocumentVersion.
func (DocumentVersion) TableName() string {
	return "rag_document_versions"
}

// QueryResult represents a RAG query result.
type QueryResult struct {
	QueryText      string          `json:"query_text"`
	RewrittenQuery string          `json:"rewritten_query,omitempty"`
	Answer         string          `json:"answer"`
	RankedChunks   []RankedChunk   `json:"ranked_chunks"`
	Generation     *GenerationMeta `json:"generation_metadata,omitempty"`
	CacheHit       bool            `json:"cache_hit"`
}

// RankedChunk represents a retrieved chunk with its relevance score.
type RankedChunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Position   int               `json:"position"`
	Text       string            `json:"text"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// GenerationMeta carries token usage and timing for a generation call.
type GenerationMeta struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
}

// MemoryEntry is one turn of conversational memory.
type MemoryEntry struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user or assistant
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
