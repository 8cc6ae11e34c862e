package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/pkg/errors"
	"github.com/kart-io/ragcore/pkg/llm"
)

// DefaultSystemPrompt is the default prompt template for answer generation.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.
Use the following context to answer the question. If you cannot find the answer in the context, say so.
Always cite the source documents when providing information.

Context:
{{context}}

Question: {{question}}

Answer:`

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 系统提示词模板，包含 {{context}} 与 {{question}} 占位符。
	SystemPrompt string
	// Model 模型名称，仅用于结果元数据。
	Model string
}

// Generator 负责调用 LLM 网关生成答案。
type Generator struct {
	chatProvider llm.ChatProvider
	config       *GeneratorConfig
}

// NewGenerator 创建生成器实例。
func NewGenerator(chatProvider llm.ChatProvider, config *GeneratorConfig) *Generator {
	if config == nil {
		config = &GeneratorConfig{}
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Generator{
		chatProvider: chatProvider,
		config:       config,
	}
}

// Generate 将上下文与问题填入模板并调用 LLM，返回答案与生成元数据。
func (g *Generator) Generate(ctx context.Context, contextText, question string) (string, *model.GenerationMeta, error) {
	if ctx.Err() != nil {
		return "", nil, errors.ErrQueryTimeout.WithCause(ctx.Err())
	}

	prompt := strings.ReplaceAll(g.config.SystemPrompt, "{{context}}", contextText)
	prompt = strings.ReplaceAll(prompt, "{{question}}", question)

	start := time.Now()
	resp, err := g.chatProvider.Generate(ctx, prompt, "")
	latency := time.Since(start)
	if err != nil {
		logger.Errorw("LLM generation failed", "error", err.Error(), "question", question)
		return "", nil, errors.ErrGeneration.WithCause(err)
	}

	meta := &model.GenerationMeta{
		Model:     g.config.Model,
		LatencyMs: latency.Milliseconds(),
	}
	if resp.TokenUsage != nil {
		meta.PromptTokens = resp.TokenUsage.PromptTokens
		meta.CompletionTokens = resp.TokenUsage.CompletionTokens
		meta.TotalTokens = resp.TokenUsage.TotalTokens
	}

	logger.Infof("LLM answer generated (length: %d, latency: %s)", len(resp.Content), latency)
	return resp.Content, meta, nil
}
