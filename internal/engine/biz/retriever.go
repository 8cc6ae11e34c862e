package biz

import (
	"context"
	"sort"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/internal/pkg/textutil"
	"github.com/kart-io/ragcore/pkg/errors"
	"github.com/kart-io/ragcore/pkg/llm"
	"github.com/kart-io/ragcore/pkg/llm/resilience"
)

// RetrievalStrategy 检索策略。
type RetrievalStrategy string

// 支持的检索策略。
const (
	RetrievalVector  RetrievalStrategy = "vector"
	RetrievalKeyword RetrievalStrategy = "keyword"
	RetrievalHybrid  RetrievalStrategy = "hybrid"
)

// ValidRetrievalStrategy reports whether s is a known retrieval strategy.
func ValidRetrievalStrategy(s RetrievalStrategy) bool {
	switch s {
	case RetrievalVector, RetrievalKeyword, RetrievalHybrid:
		return true
	}
	return false
}

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// Collection 集合名称。
	Collection string
	// VectorWeight hybrid 策略下向量分数的权重。
	VectorWeight float32
	// KeywordWeight hybrid 策略下关键词分数的权重。
	KeywordWeight float32
	// KeywordScanLimit 关键词检索扫描的最大块数。
	KeywordScanLimit int
	// Retry 向量存储调用的重试配置。
	Retry *resilience.RetryConfig
}

// DefaultRetrieverConfig 返回默认检索配置。
func DefaultRetrieverConfig(collection string) *RetrieverConfig {
	return &RetrieverConfig{
		Collection:       collection,
		VectorWeight:     0.7,
		KeywordWeight:    0.3,
		KeywordScanLimit: 2000,
		Retry:            resilience.DefaultRetryConfig(),
	}
}

// Retriever 负责查询嵌入、向量检索、关键词检索与分数融合。
type Retriever struct {
	store         store.VectorStore
	embedProvider llm.EmbeddingProvider
	config        *RetrieverConfig
}

// NewRetriever 创建检索器实例。
func NewRetriever(vectorStore store.VectorStore, embedProvider llm.EmbeddingProvider, config *RetrieverConfig) *Retriever {
	if config.VectorWeight <= 0 && config.KeywordWeight <= 0 {
		config.VectorWeight, config.KeywordWeight = 0.7, 0.3
	}
	return &Retriever{
		store:         vectorStore,
		embedProvider: embedProvider,
		config:        config,
	}
}

// Retrieve 按策略执行检索。分数归一化到 [0,1]，按分数降序返回，
// 同分时按块 ID 保证确定性排序。空结果不视为错误。
func (r *Retriever) Retrieve(ctx context.Context, query string, tenantID string, strategy RetrievalStrategy, topK int, threshold float32) ([]*store.SearchResult, error) {
	if !ValidRetrievalStrategy(strategy) {
		return nil, errors.ErrInvalidStrategy.WithMessagef("unknown retrieval strategy: %s", strategy)
	}

	var results []*store.SearchResult
	var err error
	switch strategy {
	case RetrievalVector:
		results, err = r.vectorSearch(ctx, query, tenantID, topK)
	case RetrievalKeyword:
		results, err = r.keywordSearch(ctx, query, tenantID, topK)
	case RetrievalHybrid:
		results, err = r.hybridSearch(ctx, query, tenantID, topK)
	}
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= threshold {
			filtered = append(filtered, res)
		}
	}
	sortResults(filtered)
	if topK > 0 && len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query, tenantID string, topK int) ([]*store.SearchResult, error) {
	embedding, err := r.embedProvider.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrEmbedding.WithMessage("failed to embed query").WithCause(err)
	}

	var results []*store.SearchResult
	err = resilience.RetryWithBackoff(ctx, r.config.Retry, func() error {
		var searchErr error
		results, searchErr = r.store.Search(ctx, r.config.Collection, embedding, tenantID, topK)
		return searchErr
	})
	if err != nil {
		return nil, errors.ErrRetrieval.WithMessage("vector search failed").WithCause(err)
	}
	return results, nil
}

// keywordSearch 基于词元重叠的词频评分，独立于嵌入向量。
func (r *Retriever) keywordSearch(ctx context.Context, query, tenantID string, topK int) ([]*store.SearchResult, error) {
	queryTokens := textutil.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	var chunks []*store.Chunk
	err := resilience.RetryWithBackoff(ctx, r.config.Retry, func() error {
		var listErr error
		chunks, listErr = r.store.ListByTenant(ctx, r.config.Collection, tenantID, r.config.KeywordScanLimit)
		return listErr
	})
	if err != nil {
		return nil, errors.ErrRetrieval.WithMessage("keyword scan failed").WithCause(err)
	}

	var results []*store.SearchResult
	for _, chunk := range chunks {
		score := keywordScore(queryTokens, chunk.Text)
		if score <= 0 {
			continue
		}
		results = append(results, &store.SearchResult{
			ID:         chunk.ID,
			DocumentID: chunk.DocumentID,
			TenantID:   chunk.TenantID,
			Title:      chunk.Title,
			Position:   chunk.Position,
			Text:       chunk.Text,
			Metadata:   chunk.Metadata,
			Score:      score,
		})
	}

	sortResults(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// hybridSearch 融合向量与关键词分数：加权和后重新降序排序。
func (r *Retriever) hybridSearch(ctx context.Context, query, tenantID string, topK int) ([]*store.SearchResult, error) {
	// 两路各取更宽的候选集，融合后再截断
	candidateK := topK * 3
	if candidateK < 10 {
		candidateK = 10
	}

	vectorResults, err := r.vectorSearch(ctx, query, tenantID, candidateK)
	if err != nil {
		return nil, err
	}
	keywordResults, err := r.keywordSearch(ctx, query, tenantID, candidateK)
	if err != nil {
		logger.Errorw("keyword search failed in hybrid mode", "error", err.Error())
		return nil, err
	}

	vw, kw := r.config.VectorWeight, r.config.KeywordWeight
	merged := make(map[string]*store.SearchResult, len(vectorResults)+len(keywordResults))
	for _, res := range vectorResults {
		combined := *res
		combined.Score = vw * res.Score
		merged[res.ID] = &combined
	}
	for _, res := range keywordResults {
		if existing, ok := merged[res.ID]; ok {
			existing.Score += kw * res.Score
			continue
		}
		combined := *res
		combined.Score = kw * res.Score
		merged[res.ID] = &combined
	}

	results := make([]*store.SearchResult, 0, len(merged))
	for _, res := range merged {
		results = append(results, res)
	}
	sortResults(results)
	return results, nil
}

// keywordScore 返回查询词元在块文本中的覆盖率，范围 [0,1]。
func keywordScore(queryTokens []string, text string) float32 {
	chunkTokens := make(map[string]struct{})
	for _, t := range textutil.Tokenize(text) {
		chunkTokens[t] = struct{}{}
	}
	if len(chunkTokens) == 0 {
		return 0
	}

	matched := 0
	for _, t := range queryTokens {
		if _, ok := chunkTokens[t]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(queryTokens))
}

// sortResults 按分数降序排序，同分按块 ID 升序保证确定性。
func sortResults(results []*store.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
