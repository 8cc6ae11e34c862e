package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/pkg/errors"
	"github.com/kart-io/ragcore/pkg/llm"
	"github.com/kart-io/ragcore/pkg/llm/resilience"
)

const testCollection = "test_chunks"

// mockEmbedder 返回固定向量的嵌入供应商。
type mockEmbedder struct {
	vector []float32
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector
	}
	return out, nil
}

func (m *mockEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

func (m *mockEmbedder) Name() string { return "mock-embedding" }

var _ llm.EmbeddingProvider = (*mockEmbedder)(nil)

// newTestRetriever 构建基于内存向量存储的检索器，并预置两个租户的块。
func newTestRetriever(t *testing.T) (*Retriever, *store.MemStore) {
	t.Helper()

	memStore := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, memStore.CreateCollection(ctx, &store.CollectionConfig{Name: testCollection, Dimension: 2}))

	chunks := []*store.Chunk{
		// 余弦相似度（对查询向量 [1,0]）：A=1.0 B=0.6 C=0.0 D=-1.0
		// 归一化后：A=1.0 B=0.8 C=0.5 D=0.0
		{ID: "doc1-0000", DocumentID: "doc1", TenantID: "acme", Title: "Databases", Position: 0,
			Text: "PostgreSQL is a relational database with strong consistency.", Embedding: []float32{1, 0}},
		{ID: "doc1-0001", DocumentID: "doc1", TenantID: "acme", Title: "Databases", Position: 1,
			Text: "Redis provides caching with sub-millisecond latency.", Embedding: []float32{0.6, 0.8}},
		{ID: "doc2-0000", DocumentID: "doc2", TenantID: "acme", Title: "Queues", Position: 0,
			Text: "Kafka is a distributed log for event streaming.", Embedding: []float32{0, 1}},
		{ID: "doc2-0001", DocumentID: "doc2", TenantID: "acme", Title: "Queues", Position: 1,
			Text: "RabbitMQ implements AMQP message brokering.", Embedding: []float32{-1, 0}},
		{ID: "doc9-0000", DocumentID: "doc9", TenantID: "globex", Title: "Other", Position: 0,
			Text: "PostgreSQL database notes for another tenant.", Embedding: []float32{1, 0}},
	}
	_, err := memStore.Insert(ctx, testCollection, chunks)
	require.NoError(t, err)

	embedder := &mockEmbedder{vector: []float32{1, 0}}
	retriever := NewRetriever(memStore, embedder, DefaultRetrieverConfig(testCollection))
	return retriever, memStore
}

func TestRetrieverInvalidStrategy(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	_, err := retriever.Retrieve(context.Background(), "query", "acme", RetrievalStrategy("graph"), 5, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.GetCode(errors.ErrInvalidStrategy)))
}

func TestRetrieverVectorSearch(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "database", "acme", RetrievalVector, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// 分数降序且在 [0,1] 内
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Score, float32(0))
		assert.LessOrEqual(t, r.Score, float32(1))
		if i > 0 {
			assert.LessOrEqual(t, r.Score, results[i-1].Score)
		}
	}
	assert.Equal(t, "doc1-0000", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
	assert.Equal(t, "doc1-0001", results[1].ID)
	assert.InDelta(t, 0.8, float64(results[1].Score), 0.001)
}

func TestRetrieverTenantIsolation(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "database", "globex", RetrievalVector, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc9-0000", results[0].ID)

	// 未知租户得到空结果而非错误
	results, err = retriever.Retrieve(context.Background(), "database", "nobody", RetrievalVector, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverThreshold(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "database", "acme", RetrievalVector, 10, 0.7)
	require.NoError(t, err)
	// 归一化分数 1.0 和 0.8 通过阈值，0.5 和 0.0 被过滤
	require.Len(t, results, 2)
	assert.Equal(t, "doc1-0000", results[0].ID)
	assert.Equal(t, "doc1-0001", results[1].ID)
}

func TestRetrieverTopK(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "database", "acme", RetrievalVector, 2, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieverKeywordSearch(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "postgresql database", "acme", RetrievalKeyword, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1-0000", results[0].ID)
	// 两个查询词元都命中
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
}

func TestRetrieverKeywordPartialMatch(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "redis kafka", "acme", RetrievalKeyword, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// 各命中一个词元，覆盖率 0.5，同分按块 ID 升序
	assert.InDelta(t, 0.5, float64(results[0].Score), 0.001)
	assert.Equal(t, "doc1-0001", results[0].ID)
	assert.Equal(t, "doc2-0000", results[1].ID)
}

func TestRetrieverKeywordNoTokens(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "!!!", "acme", RetrievalKeyword, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverHybridSearch(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "postgresql database", "acme", RetrievalHybrid, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// doc1-0000：向量 1.0 关键词 1.0 -> 0.7*1.0 + 0.3*1.0 = 1.0
	assert.Equal(t, "doc1-0000", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)

	// 其余块只有向量信号，分数被权重缩放
	for _, r := range results[1:] {
		assert.Less(t, r.Score, float32(0.7)+0.001)
	}
}

// brokenScanStore 向量搜索正常，但租户扫描始终失败。
type brokenScanStore struct {
	store.VectorStore
}

func (b *brokenScanStore) ListByTenant(_ context.Context, _ string, _ string, _ int) ([]*store.Chunk, error) {
	return nil, assert.AnError
}

func TestRetrieverHybridKeywordFailure(t *testing.T) {
	_, memStore := newTestRetriever(t)

	config := DefaultRetrieverConfig(testCollection)
	config.Retry = resilience.DefaultRetryConfig()
	config.Retry.MaxAttempts = 1
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	retriever := NewRetriever(&brokenScanStore{VectorStore: memStore}, embedder, config)

	// 关键词一路失败时不允许静默退化为纯向量结果
	_, err := retriever.Retrieve(context.Background(), "postgresql database", "acme", RetrievalHybrid, 10, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.GetCode(errors.ErrRetrieval)))
}

func TestRetrieverEmbedError(t *testing.T) {
	memStore := store.NewMemStore()
	require.NoError(t, memStore.CreateCollection(context.Background(), &store.CollectionConfig{Name: testCollection, Dimension: 2}))

	embedder := &mockEmbedder{err: assert.AnError}
	retriever := NewRetriever(memStore, embedder, DefaultRetrieverConfig(testCollection))

	_, err := retriever.Retrieve(context.Background(), "query", "acme", RetrievalVector, 5, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.GetCode(errors.ErrEmbedding)))
}
