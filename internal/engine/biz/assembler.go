package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/internal/pkg/textutil"
)

// AssemblerConfig 上下文组装器配置。
type AssemblerConfig struct {
	// TokenBudget 上下文的 token 预算。
	TokenBudget int
	// MemoryFraction 为会话记忆保留的预算比例。
	MemoryFraction float64
}

// DefaultAssemblerConfig 返回默认组装配置。
func DefaultAssemblerConfig() *AssemblerConfig {
	return &AssemblerConfig{
		TokenBudget:    4096,
		MemoryFraction: 0.2,
	}
}

// ContextAssembler 将排序后的块与会话记忆组装为受预算约束的上下文。
type ContextAssembler struct {
	config *AssemblerConfig
}

// NewContextAssembler 创建上下文组装器实例。
func NewContextAssembler(config *AssemblerConfig) *ContextAssembler {
	if config == nil {
		config = DefaultAssemblerConfig()
	}
	return &ContextAssembler{config: config}
}

// Assemble 按排序拼接块文本，每块带来源标记；会话记忆置于最前，
// 最多占用 MemoryFraction 的预算。超出预算时从最低名次的块开始
// 整块丢弃，从不截断块内部。
func (a *ContextAssembler) Assemble(chunks []*store.SearchResult, memory []*model.MemoryEntry) string {
	budget := a.config.TokenBudget
	if budget <= 0 {
		budget = DefaultAssemblerConfig().TokenBudget
	}

	var sb strings.Builder

	// 会话记忆段
	if len(memory) > 0 {
		memoryBudget := int(float64(budget) * a.config.MemoryFraction)
		memoryText := a.assembleMemory(memory, memoryBudget)
		if memoryText != "" {
			sb.WriteString("Conversation history:\n")
			sb.WriteString(memoryText)
			sb.WriteString("\n")
			budget -= textutil.EstimateTokens(sb.String())
		}
	}

	// 块按名次填充，超预算的块整块丢弃
	used := 0
	included := 0
	for i, chunk := range chunks {
		block := fmt.Sprintf("[%d] From %s (%s):\n%s\n\n", i+1, chunk.Title, chunk.ID, chunk.Text)
		cost := textutil.EstimateTokens(block)
		if used+cost > budget {
			break
		}
		sb.WriteString(block)
		used += cost
		included++
	}

	if included < len(chunks) {
		logger.Debugw("context budget reached", "included", included, "dropped", len(chunks)-included)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// assembleMemory 组装最近的会话记忆，最旧的优先丢弃。
func (a *ContextAssembler) assembleMemory(memory []*model.MemoryEntry, budget int) string {
	// 从最近的条目向前选取
	var selected []*model.MemoryEntry
	used := 0
	for i := len(memory) - 1; i >= 0; i-- {
		entry := memory[i]
		line := fmt.Sprintf("%s: %s\n", entry.Role, entry.Content)
		cost := textutil.EstimateTokens(line)
		if used+cost > budget {
			break
		}
		selected = append([]*model.MemoryEntry{entry}, selected...)
		used += cost
	}

	var sb strings.Builder
	for _, entry := range selected {
		sb.WriteString(fmt.Sprintf("%s: %s\n", entry.Role, entry.Content))
	}
	return sb.String()
}
