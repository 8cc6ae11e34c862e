package biz

import (
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/internal/pkg/textutil"
)

// ChunkDiff 增量更新的分类结果。
type ChunkDiff struct {
	// Unchanged 位置与内容哈希都匹配的新块，无需重新嵌入。
	Unchanged []*store.Chunk
	// Modified 位置匹配但哈希不同的新块，需要重新嵌入。
	Modified []*store.Chunk
	// Replaced 被 Modified 中新块取代的旧块，需要删除。
	// 块 ID 含内容哈希，同位置的新旧块 ID 并不相同。
	Replaced []*store.Chunk
	// Added 没有对应旧块的新块，需要嵌入。
	Added []*store.Chunk
	// Removed 没有对应新块的旧块，需要删除。
	Removed []*store.Chunk
}

// NeedsEmbedding 返回需要送入嵌入客户端的块（Added + Modified）。
func (d *ChunkDiff) NeedsEmbedding() []*store.Chunk {
	out := make([]*store.Chunk, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Modified...)
	out = append(out, d.Added...)
	return out
}

// IncrementalUpdater 将新内容的块集合与既有块集合做哈希比对，
// 把嵌入成本限制在真正变化的部分。
type IncrementalUpdater struct{}

// NewIncrementalUpdater 创建增量更新器。
func NewIncrementalUpdater() *IncrementalUpdater {
	return &IncrementalUpdater{}
}

// Diff 按位置对齐比较旧块与新块的内容哈希。
// oldChunks 必须按 Position 升序；newChunks 由调用方从新内容切分而来。
func (u *IncrementalUpdater) Diff(oldChunks, newChunks []*store.Chunk) *ChunkDiff {
	oldByPosition := make(map[int]*store.Chunk, len(oldChunks))
	for _, chunk := range oldChunks {
		oldByPosition[chunk.Position] = chunk
	}

	diff := &ChunkDiff{}
	for _, chunk := range newChunks {
		if chunk.Hash == "" {
			chunk.Hash = textutil.HashString(chunk.Text)
		}
		old, ok := oldByPosition[chunk.Position]
		if !ok {
			diff.Added = append(diff.Added, chunk)
			continue
		}
		delete(oldByPosition, chunk.Position)
		if old.Hash == chunk.Hash {
			diff.Unchanged = append(diff.Unchanged, chunk)
		} else {
			diff.Modified = append(diff.Modified, chunk)
			diff.Replaced = append(diff.Replaced, old)
		}
	}

	for _, old := range oldByPosition {
		diff.Removed = append(diff.Removed, old)
	}
	return diff
}
