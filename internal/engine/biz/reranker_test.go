package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragcore/internal/engine/store"
)

func TestRerankerNilPassthrough(t *testing.T) {
	var reranker *Reranker

	candidates := []*store.SearchResult{
		{ID: "a", Text: "alpha", Score: 0.9},
		{ID: "b", Text: "beta", Score: 0.8},
	}
	out := reranker.Rerank(context.Background(), "query", candidates, 2)
	assert.Equal(t, candidates, out)
}

func TestRerankerEmptyCandidates(t *testing.T) {
	reranker := NewReranker(nil)
	out := reranker.Rerank(context.Background(), "query", nil, 5)
	assert.Empty(t, out)
}

func TestRerankerCancelledContext(t *testing.T) {
	reranker := NewReranker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidates := []*store.SearchResult{
		{ID: "a", Text: "alpha", Score: 0.9},
	}
	out := reranker.Rerank(ctx, "query", candidates, 1)
	// 取消时直通返回原始顺序
	assert.Equal(t, candidates, out)
}

func TestRerankerPromotesTextualMatch(t *testing.T) {
	reranker := NewReranker(&RerankerConfig{
		TopKBefore:     10,
		TopKAfter:      3,
		OriginalWeight: 0.3,
		CrossWeight:    0.7,
	})

	// 原始名次第二的候选与查询词元高度重叠，应被提升到第一
	candidates := []*store.SearchResult{
		{ID: "a", Text: "completely unrelated content about cooking pasta", Score: 0.9},
		{ID: "b", Text: "vector database indexing", Score: 0.85},
		{ID: "c", Text: "another unrelated entry", Score: 0.8},
	}
	out := reranker.Rerank(context.Background(), "vector database indexing", candidates, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
}

func TestRerankerScoreBounds(t *testing.T) {
	reranker := NewReranker(nil)

	candidates := []*store.SearchResult{
		{ID: "a", Text: "exact query text", Score: 1.0},
		{ID: "b", Text: "nothing in common at all", Score: 0.0},
	}
	out := reranker.Rerank(context.Background(), "exact query text", candidates, 2)
	for _, r := range out {
		assert.GreaterOrEqual(t, r.Score, float32(0))
		assert.LessOrEqual(t, r.Score, float32(1))
	}
}

func TestRerankerDeterministicTies(t *testing.T) {
	reranker := NewReranker(&RerankerConfig{
		TopKBefore:     10,
		TopKAfter:      10,
		OriginalWeight: 1.0,
		CrossWeight:    0,
	})

	// 同分候选：并列按原始名次裁决
	candidates := []*store.SearchResult{
		{ID: "z", Text: "same text", Score: 0.5},
		{ID: "a", Text: "same text", Score: 0.5},
	}
	out1 := reranker.Rerank(context.Background(), "query", candidates, 2)
	out2 := reranker.Rerank(context.Background(), "query", candidates, 2)
	require.Len(t, out1, 2)
	assert.Equal(t, "z", out1[0].ID)
	assert.Equal(t, out1[0].ID, out2[0].ID)
	assert.Equal(t, out1[1].ID, out2[1].ID)
}

func TestRerankerTopKAfter(t *testing.T) {
	reranker := NewReranker(&RerankerConfig{
		TopKBefore:     10,
		TopKAfter:      2,
		OriginalWeight: 1.0,
		CrossWeight:    0,
	})

	candidates := []*store.SearchResult{
		{ID: "a", Text: "one", Score: 0.9},
		{ID: "b", Text: "two", Score: 0.8},
		{ID: "c", Text: "three", Score: 0.7},
	}
	out := reranker.Rerank(context.Background(), "query", candidates, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestRerankerLimitWidensWindow(t *testing.T) {
	reranker := NewReranker(&RerankerConfig{
		TopKBefore:     20,
		TopKAfter:      5,
		OriginalWeight: 1.0,
		CrossWeight:    0,
	})

	// 调用方请求 8 条时不能被 TopKAfter=5 截断
	candidates := make([]*store.SearchResult, 0, 10)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, &store.SearchResult{
			ID:    string(rune('a' + i)),
			Text:  "candidate text",
			Score: float32(10-i) / 10,
		})
	}
	out := reranker.Rerank(context.Background(), "query", candidates, 8)
	require.Len(t, out, 8)
	assert.Equal(t, "a", out[0].ID)
}

func TestRerankerDiversityPenalty(t *testing.T) {
	reranker := NewReranker(&RerankerConfig{
		TopKBefore:       10,
		TopKAfter:        3,
		OriginalWeight:   1.0,
		CrossWeight:      0,
		DiversityPenalty: 0.9,
	})

	// 第二名与第一名近乎重复，惩罚后应落到独特的第三名之后
	candidates := []*store.SearchResult{
		{ID: "a", Text: "kubernetes cluster deployment guide", Score: 0.9},
		{ID: "b", Text: "kubernetes cluster deployment guide", Score: 0.85},
		{ID: "c", Text: "an entirely different topic on billing", Score: 0.8},
	}
	out := reranker.Rerank(context.Background(), "query", candidates, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
	assert.Equal(t, "b", out[2].ID)
}
