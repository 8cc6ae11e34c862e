package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/ragcore/internal/pkg/textutil"
	"github.com/kart-io/ragcore/pkg/component/milvus"
	"github.com/kart-io/ragcore/pkg/utils/json"
)

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client *milvus.Client
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client) *MilvusStore {
	return &MilvusStore{client: client}
}

// chunkOutputFields 检索与查询时返回的标量字段。
var chunkOutputFields = []string{"chunk_id", "document_id", "tenant_id", "title", "position", "hash", "content", "meta"}

// CreateCollection 创建 Milvus 集合。
func (s *MilvusStore) CreateCollection(ctx context.Context, config *CollectionConfig) error {
	schema := &milvus.CollectionSchema{
		Name:        config.Name,
		Description: config.Description,
		Dimension:   config.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "tenant_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "title", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "position", DataType: entity.FieldTypeInt64},
			{Name: "hash", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: "meta", DataType: entity.FieldTypeVarChar, MaxLen: 8192},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// Insert 批量插入文档块到 Milvus。
func (s *MilvusStore) Insert(ctx context.Context, collection string, chunks []*Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(chunks))
	metadata := map[string][]any{
		"chunk_id":    make([]any, len(chunks)),
		"document_id": make([]any, len(chunks)),
		"tenant_id":   make([]any, len(chunks)),
		"title":       make([]any, len(chunks)),
		"position":    make([]any, len(chunks)),
		"hash":        make([]any, len(chunks)),
		"content":     make([]any, len(chunks)),
		"meta":        make([]any, len(chunks)),
	}

	for i, chunk := range chunks {
		embeddings[i] = chunk.Embedding
		metadata["chunk_id"][i] = chunk.ID
		metadata["document_id"][i] = chunk.DocumentID
		metadata["tenant_id"][i] = chunk.TenantID
		metadata["title"][i] = textutil.TruncateString(chunk.Title, 250)
		metadata["position"][i] = int64(chunk.Position)
		metadata["hash"][i] = chunk.Hash
		metadata["content"][i] = textutil.TruncateString(chunk.Text, 65000)
		metadata["meta"][i] = encodeMeta(chunk.Metadata)
	}

	data := &milvus.InsertData{
		Embeddings: embeddings,
		Metadata:   metadata,
	}

	if _, err := s.client.Insert(ctx, collection, data); err != nil {
		return nil, fmt.Errorf("failed to insert into milvus: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids, nil
}

// Search 执行租户内向量相似度搜索。
// Milvus 返回余弦相似度（[-1,1]），归一化为 [0,1] 后返回。
func (s *MilvusStore) Search(ctx context.Context, collection string, embedding []float32, tenantID string, topK int) ([]*SearchResult, error) {
	expr := fmt.Sprintf("tenant_id == %q", sanitizeExpr(tenantID))
	results, err := s.client.Search(ctx, collection, embedding, topK, expr, chunkOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		sr := resultFromMeta(r.Metadata)
		sr.Score = float32(textutil.NormalizeCosineSimilarity(float64(r.Score)))
		searchResults = append(searchResults, sr)
	}
	return searchResults, nil
}

// ListByTenant 列出租户下的文档块。
func (s *MilvusStore) ListByTenant(ctx context.Context, collection string, tenantID string, limit int) ([]*Chunk, error) {
	expr := fmt.Sprintf("tenant_id == %q", sanitizeExpr(tenantID))
	return s.queryChunks(ctx, collection, expr, limit)
}

// ListByDocument 列出文档下的所有块，按 Position 升序。
func (s *MilvusStore) ListByDocument(ctx context.Context, collection string, documentID string) ([]*Chunk, error) {
	expr := fmt.Sprintf("document_id == %q", sanitizeExpr(documentID))
	chunks, err := s.queryChunks(ctx, collection, expr, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })
	return chunks, nil
}

func (s *MilvusStore) queryChunks(ctx context.Context, collection, expr string, limit int) ([]*Chunk, error) {
	results, err := s.client.Query(ctx, collection, expr, chunkOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to query milvus: %w", err)
	}

	chunks := make([]*Chunk, 0, len(results))
	for _, r := range results {
		sr := resultFromMeta(r.Metadata)
		chunks = append(chunks, &Chunk{
			ID:         sr.ID,
			DocumentID: sr.DocumentID,
			TenantID:   sr.TenantID,
			Title:      sr.Title,
			Position:   sr.Position,
			Text:       sr.Text,
			Hash:       stringMeta(r.Metadata, "hash"),
			Metadata:   sr.Metadata,
		})
		if limit > 0 && len(chunks) >= limit {
			break
		}
	}
	return chunks, nil
}

// DeleteByDocument 删除文档下的所有块。
func (s *MilvusStore) DeleteByDocument(ctx context.Context, collection string, documentID string) error {
	expr := fmt.Sprintf("document_id == %q", sanitizeExpr(documentID))
	if err := s.client.DeleteByExpr(ctx, collection, expr); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// DeleteChunks 按 chunk_id 删除指定的文档块。
func (s *MilvusStore) DeleteChunks(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", sanitizeExpr(id))
	}
	expr := fmt.Sprintf("chunk_id in [%s]", strings.Join(quoted, ", "))
	if err := s.client.DeleteByExpr(ctx, collection, expr); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// GetStats 获取集合统计信息。
func (s *MilvusStore) GetStats(ctx context.Context, collection string) (int64, error) {
	return s.client.GetCollectionStats(ctx, collection)
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func resultFromMeta(meta map[string]any) *SearchResult {
	position := 0
	if p, ok := meta["position"].(int64); ok {
		position = int(p)
	}
	return &SearchResult{
		ID:         stringMeta(meta, "chunk_id"),
		DocumentID: stringMeta(meta, "document_id"),
		TenantID:   stringMeta(meta, "tenant_id"),
		Title:      stringMeta(meta, "title"),
		Position:   position,
		Text:       stringMeta(meta, "content"),
		Metadata:   decodeMeta(stringMeta(meta, "meta")),
	}
}

func stringMeta(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func encodeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return textutil.TruncateString(string(data), 8000)
}

func decodeMeta(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}

// sanitizeExpr strips quote characters so caller-supplied IDs cannot break
// out of a Milvus filter expression.
func sanitizeExpr(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	return strings.ReplaceAll(s, "'", "")
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
