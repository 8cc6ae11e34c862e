// Package engine provides the RAG engine application.
package engine

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/ragcore/internal/engine/biz"
	"github.com/kart-io/ragcore/pkg/component/database"
	cacheopts "github.com/kart-io/ragcore/pkg/options/cache"
	llmopts "github.com/kart-io/ragcore/pkg/options/llm"
	logopts "github.com/kart-io/ragcore/pkg/options/logger"
	milvusopts "github.com/kart-io/ragcore/pkg/options/milvus"
	httpopts "github.com/kart-io/ragcore/pkg/options/server/http"
)

// Supported vector store drivers.
const (
	StoreDriverMilvus = "milvus"
	StoreDriverMemory = "memory"
)

// Options contains all engine service options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains Milvus client configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Database contains the document ledger database configuration.
	Database *database.Options `json:"database" mapstructure:"database"`

	// Cache contains query cache and memory store configuration.
	Cache *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// Embedding contains embedding provider configuration.
	Embedding *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// Engine contains pipeline configuration.
	Engine *EngineOptions `json:"engine" mapstructure:"engine"`
}

// EngineOptions RAG 管线配置。
type EngineOptions struct {
	// StoreDriver 向量存储驱动（milvus 或 memory）。
	StoreDriver string `json:"store-driver" mapstructure:"store-driver"`

	// Collection 向量集合名称。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// ChunkStrategy 分块策略（fixed/sentence/paragraph/semantic）。
	ChunkStrategy string `json:"chunk-strategy" mapstructure:"chunk-strategy"`

	// ChunkSize 目标块大小（按 rune 计）。
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap fixed 策略下相邻块的重叠大小。
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// MinChunkSize 最小块大小。
	MinChunkSize int `json:"min-chunk-size" mapstructure:"min-chunk-size"`

	// MaxChunkSize 最大块大小。
	MaxChunkSize int `json:"max-chunk-size" mapstructure:"max-chunk-size"`

	// TopK 查询默认返回的块数。
	TopK int `json:"top-k" mapstructure:"top-k"`

	// Threshold 查询默认相似度阈值。
	Threshold float32 `json:"threshold" mapstructure:"threshold"`

	// VectorWeight hybrid 检索中向量分数权重。
	VectorWeight float32 `json:"vector-weight" mapstructure:"vector-weight"`

	// KeywordWeight hybrid 检索中关键词分数权重。
	KeywordWeight float32 `json:"keyword-weight" mapstructure:"keyword-weight"`

	// RerankEnabled 是否启用重排序。
	RerankEnabled bool `json:"rerank-enabled" mapstructure:"rerank-enabled"`

	// RerankTopKBefore 参与重排序的候选数量。
	RerankTopKBefore int `json:"rerank-top-k-before" mapstructure:"rerank-top-k-before"`

	// RerankTopKAfter 重排序后保留的数量。
	RerankTopKAfter int `json:"rerank-top-k-after" mapstructure:"rerank-top-k-after"`

	// TokenBudget 上下文组装的 token 预算。
	TokenBudget int `json:"token-budget" mapstructure:"token-budget"`

	// MemoryFraction 会话记忆占上下文预算的比例。
	MemoryFraction float64 `json:"memory-fraction" mapstructure:"memory-fraction"`

	// MemoryTurns 查询注入的对话记忆轮数。
	MemoryTurns int `json:"memory-turns" mapstructure:"memory-turns"`

	// SystemPrompt 生成阶段的系统提示词模板。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// EmbedBatchSize 嵌入请求的批大小。
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// BatchConcurrency 批量摄取的最大并发数。
	BatchConcurrency int `json:"batch-concurrency" mapstructure:"batch-concurrency"`
}

// NewEngineOptions 创建默认管线配置。
func NewEngineOptions() *EngineOptions {
	return &EngineOptions{
		StoreDriver:      StoreDriverMilvus,
		Collection:       "ragcore_chunks",
		EmbeddingDim:     768, // nomic-embed-text dimension
		ChunkStrategy:    string(biz.StrategySentence),
		ChunkSize:        512,
		ChunkOverlap:     50,
		MinChunkSize:     10,
		MaxChunkSize:     2048,
		TopK:             5,
		Threshold:        0.7,
		VectorWeight:     0.7,
		KeywordWeight:    0.3,
		RerankEnabled:    true,
		RerankTopKBefore: 20,
		RerankTopKAfter:  5,
		TokenBudget:      4096,
		MemoryFraction:   0.2,
		MemoryTurns:      6,
		EmbedBatchSize:   16,
		BatchConcurrency: 4,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	cacheOpts := cacheopts.NewOptions()
	cacheOpts.KeyPrefix = "ragcore:query:"

	return &Options{
		HTTP:      httpopts.NewOptions(),
		Log:       logopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Database:  database.NewOptions(),
		Cache:     cacheOpts,
		Embedding: llmopts.NewEmbeddingOptions(),
		Chat:      llmopts.NewChatOptions(),
		Engine:    NewEngineOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Database.AddFlags(fs, "database.")
	o.Cache.AddFlags(fs)
	o.addProviderFlags(fs, "embedding", o.Embedding)
	o.addProviderFlags(fs, "chat", o.Chat)
	o.addEngineFlags(fs)
}

func (o *Options) addProviderFlags(fs *pflag.FlagSet, prefix string, p *llmopts.ProviderOptions) {
	fs.StringVar(&p.Provider, prefix+".provider", p.Provider, "LLM provider (ollama, openai)")
	fs.StringVar(&p.BaseURL, prefix+".base-url", p.BaseURL, "LLM API base URL")
	fs.StringVar(&p.APIKey, prefix+".api-key", p.APIKey, "LLM API key (for OpenAI)")
	fs.StringVar(&p.Model, prefix+".model", p.Model, "LLM model name")
	fs.DurationVar(&p.Timeout, prefix+".timeout", p.Timeout, "LLM request timeout")
	fs.IntVar(&p.MaxRetries, prefix+".max-retries", p.MaxRetries, "LLM max retries")
}

func (o *Options) addEngineFlags(fs *pflag.FlagSet) {
	e := o.Engine
	fs.StringVar(&e.StoreDriver, "engine.store-driver", e.StoreDriver, "Vector store driver (milvus, memory)")
	fs.StringVar(&e.Collection, "engine.collection", e.Collection, "Vector collection name")
	fs.IntVar(&e.EmbeddingDim, "engine.embedding-dim", e.EmbeddingDim, "Embedding vector dimension")
	fs.StringVar(&e.ChunkStrategy, "engine.chunk-strategy", e.ChunkStrategy, "Chunking strategy (fixed, sentence, paragraph, semantic)")
	fs.IntVar(&e.ChunkSize, "engine.chunk-size", e.ChunkSize, "Target chunk size in runes")
	fs.IntVar(&e.ChunkOverlap, "engine.chunk-overlap", e.ChunkOverlap, "Overlap between fixed-size chunks")
	fs.IntVar(&e.MinChunkSize, "engine.min-chunk-size", e.MinChunkSize, "Minimum chunk size")
	fs.IntVar(&e.MaxChunkSize, "engine.max-chunk-size", e.MaxChunkSize, "Maximum chunk size")
	fs.IntVar(&e.TopK, "engine.top-k", e.TopK, "Default number of chunks returned per query")
	fs.Float32Var(&e.Threshold, "engine.threshold", e.Threshold, "Default similarity threshold")
	fs.Float32Var(&e.VectorWeight, "engine.vector-weight", e.VectorWeight, "Vector score weight for hybrid retrieval")
	fs.Float32Var(&e.KeywordWeight, "engine.keyword-weight", e.KeywordWeight, "Keyword score weight for hybrid retrieval")
	fs.BoolVar(&e.RerankEnabled, "engine.rerank-enabled", e.RerankEnabled, "Enable result reranking")
	fs.IntVar(&e.RerankTopKBefore, "engine.rerank-top-k-before", e.RerankTopKBefore, "Number of candidates fed into reranking")
	fs.IntVar(&e.RerankTopKAfter, "engine.rerank-top-k-after", e.RerankTopKAfter, "Number of chunks kept after reranking")
	fs.IntVar(&e.TokenBudget, "engine.token-budget", e.TokenBudget, "Token budget for context assembly")
	fs.Float64Var(&e.MemoryFraction, "engine.memory-fraction", e.MemoryFraction, "Fraction of the token budget reserved for conversation memory")
	fs.IntVar(&e.MemoryTurns, "engine.memory-turns", e.MemoryTurns, "Number of conversation memory turns injected per query")
	fs.StringVar(&e.SystemPrompt, "engine.system-prompt", e.SystemPrompt, "System prompt template for answer generation")
	fs.IntVar(&e.EmbedBatchSize, "engine.embed-batch-size", e.EmbedBatchSize, "Batch size for embedding requests")
	fs.IntVar(&e.BatchConcurrency, "engine.batch-concurrency", e.BatchConcurrency, "Maximum concurrency for batch ingestion")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if errs := o.HTTP.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if o.Engine.StoreDriver == StoreDriverMilvus {
		if errs := o.Milvus.Validate(); len(errs) > 0 {
			return errs[0]
		}
	}
	if err := o.Database.Validate(); err != nil {
		return err
	}
	if errs := o.Cache.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if errs := o.Embedding.Validate(); len(errs) > 0 {
		return fmt.Errorf("embedding: %w", errs[0])
	}
	if errs := o.Chat.Validate(); len(errs) > 0 {
		return fmt.Errorf("chat: %w", errs[0])
	}
	return o.validateEngine()
}

func (o *Options) validateEngine() error {
	e := o.Engine
	switch e.StoreDriver {
	case StoreDriverMilvus, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported store driver: %s", e.StoreDriver)
	}
	if !biz.ValidChunkStrategy(biz.ChunkStrategy(e.ChunkStrategy)) {
		return fmt.Errorf("unknown chunk strategy: %s", e.ChunkStrategy)
	}
	if e.Collection == "" {
		return fmt.Errorf("engine.collection is required")
	}
	if e.EmbeddingDim <= 0 {
		return fmt.Errorf("engine.embedding-dim must be positive")
	}
	if e.ChunkSize <= 0 {
		return fmt.Errorf("engine.chunk-size must be positive")
	}
	if e.TopK <= 0 {
		return fmt.Errorf("engine.top-k must be positive")
	}
	if e.Threshold < 0 || e.Threshold > 1 {
		return fmt.Errorf("engine.threshold must be in [0, 1]")
	}
	if e.MemoryFraction < 0 || e.MemoryFraction >= 1 {
		return fmt.Errorf("engine.memory-fraction must be in [0, 1)")
	}
	if e.BatchConcurrency <= 0 {
		return fmt.Errorf("engine.batch-concurrency must be positive")
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	if err := o.Database.Complete(); err != nil {
		return err
	}
	if err := o.Cache.Complete(); err != nil {
		return err
	}
	if err := o.Embedding.Complete(); err != nil {
		return err
	}
	return o.Chat.Complete()
}

// EngineConfig 将选项转换为 biz 层引擎配置。
func (o *Options) EngineConfig() *biz.EngineConfig {
	e := o.Engine

	config := biz.DefaultEngineConfig(e.Collection)
	config.ChunkerConfig = &biz.ChunkerConfig{
		Strategy:  biz.ChunkStrategy(e.ChunkStrategy),
		ChunkSize: e.ChunkSize,
		MinSize:   e.MinChunkSize,
		MaxSize:   e.MaxChunkSize,
		Overlap:   e.ChunkOverlap,
	}
	config.RetrieverConfig.VectorWeight = e.VectorWeight
	config.RetrieverConfig.KeywordWeight = e.KeywordWeight
	config.RerankerConfig.TopKBefore = e.RerankTopKBefore
	config.RerankerConfig.TopKAfter = e.RerankTopKAfter
	config.OptimizerConfig.CacheEnabled = o.Cache.Enabled
	config.OptimizerConfig.TTL = o.Cache.TTL
	config.OptimizerConfig.KeyPrefix = o.Cache.KeyPrefix
	config.OptimizerConfig.DocIndexPrefix = o.Cache.KeyPrefix + "doc:"
	config.AssemblerConfig = &biz.AssemblerConfig{
		TokenBudget:    e.TokenBudget,
		MemoryFraction: e.MemoryFraction,
	}
	config.GeneratorConfig = &biz.GeneratorConfig{
		SystemPrompt: e.SystemPrompt,
		Model:        o.Chat.Model,
	}
	config.DefaultTopK = e.TopK
	config.DefaultThreshold = e.Threshold
	config.EmbedBatchSize = e.EmbedBatchSize
	config.BatchConcurrency = e.BatchConcurrency
	config.MemoryTurns = e.MemoryTurns
	config.RerankEnabled = e.RerankEnabled

	return config
}
