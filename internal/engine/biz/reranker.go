package biz

import (
	"context"
	"sort"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/internal/pkg/textutil"
)

// RerankerConfig 重排序器配置。
type RerankerConfig struct {
	// TopKBefore 参与重排序的候选数量。
	TopKBefore int
	// TopKAfter 重排序后保留的数量。
	TopKAfter int
	// OriginalWeight 原始检索分数的权重。
	OriginalWeight float32
	// CrossWeight 交叉信号分数的权重。
	CrossWeight float32
	// DiversityPenalty 近重复块的多样性惩罚系数，0 表示关闭。
	DiversityPenalty float32
}

// DefaultRerankerConfig 返回默认重排序配置。
func DefaultRerankerConfig() *RerankerConfig {
	return &RerankerConfig{
		TopKBefore:       20,
		TopKAfter:        5,
		OriginalWeight:   0.3,
		CrossWeight:      0.7,
		DiversityPenalty: 0.5,
	}
}

// Reranker 使用更精确的文本相似度信号对候选集做二次排序，
// 并对近重复内容施加多样性惩罚。nil Reranker 等价于直通。
type Reranker struct {
	config *RerankerConfig
}

// NewReranker 创建重排序器实例。
func NewReranker(config *RerankerConfig) *Reranker {
	if config == nil {
		config = DefaultRerankerConfig()
	}
	return &Reranker{config: config}
}

// rerankEntry 记录候选的原始名次，用于稳定的打分与并列裁决。
type rerankEntry struct {
	result       *store.SearchResult
	originalRank int
	score        float32
}

// Rerank 对候选集重排序。结果保持严格全序：分数相同时先按
// 原始名次、再按块 ID 裁决。返回数量取 TopKAfter 与 limit 的较大者，
// 调用方请求的 top_k 大于重排窗口时不会被截断。limit 为 0 时退回 TopKAfter。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*store.SearchResult, limit int) []*store.SearchResult {
	if r == nil || len(candidates) == 0 {
		return candidates
	}
	if ctx.Err() != nil {
		return candidates
	}

	pool := candidates
	if r.config.TopKBefore > 0 && len(pool) > r.config.TopKBefore {
		pool = pool[:r.config.TopKBefore]
	}

	entries := make([]*rerankEntry, len(pool))
	for i, candidate := range pool {
		cross := float32(textutil.JaccardSimilarity(query, candidate.Text))
		entries[i] = &rerankEntry{
			result:       candidate,
			originalRank: i,
			score:        r.config.OriginalWeight*candidate.Score + r.config.CrossWeight*cross,
		}
	}

	sortEntries(entries)

	// 贪心选择，对与已选集合相似的候选施加惩罚
	if r.config.DiversityPenalty > 0 {
		entries = r.applyDiversity(entries)
	}

	window := r.config.TopKAfter
	if limit > window {
		window = limit
	}
	if window <= 0 || window > len(entries) {
		window = len(entries)
	}

	reranked := make([]*store.SearchResult, 0, window)
	for _, entry := range entries[:window] {
		res := *entry.result
		res.Score = clampScore(entry.score)
		reranked = append(reranked, &res)
	}
	logger.Debugw("rerank complete", "candidates", len(candidates), "returned", len(reranked))
	return reranked
}

// applyDiversity 按当前排序贪心选择，每个候选的分数按其与已选
// 集合的最大相似度折减，然后重新排序。
func (r *Reranker) applyDiversity(entries []*rerankEntry) []*rerankEntry {
	var selected []*rerankEntry
	remaining := append([]*rerankEntry(nil), entries...)

	for len(remaining) > 0 {
		best := remaining[0]
		selected = append(selected, best)
		remaining = remaining[1:]

		for _, entry := range remaining {
			sim := float32(textutil.JaccardSimilarity(best.result.Text, entry.result.Text))
			penalized := entry.score * (1 - r.config.DiversityPenalty*sim)
			if penalized < entry.score {
				entry.score = penalized
			}
		}
		sortEntries(remaining)
	}
	return selected
}

func sortEntries(entries []*rerankEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].originalRank != entries[j].originalRank {
			return entries[i].originalRank < entries[j].originalRank
		}
		return entries[i].result.ID < entries[j].result.ID
	})
}

func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
