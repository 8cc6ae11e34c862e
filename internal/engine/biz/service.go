package biz

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/ragcore/internal/engine/metrics"
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/internal/pkg/docutil"
	"github.com/kart-io/ragcore/internal/pkg/textutil"
	"github.com/kart-io/ragcore/pkg/errors"
	"github.com/kart-io/ragcore/pkg/id"
	"github.com/kart-io/ragcore/pkg/infra/pool"
	"github.com/kart-io/ragcore/pkg/llm"
	"github.com/kart-io/ragcore/pkg/llm/resilience"
)

// IngestRequest 文档摄取请求。
type IngestRequest struct {
	// DocumentID 文档 ID，为空时自动生成 ULID。
	DocumentID string `json:"document_id"`
	// TenantID 租户 ID，必填。
	TenantID string `json:"tenant_id"`
	// Title 文档标题，为空时从内容提取。
	Title string `json:"title"`
	// Source 文档来源（文件路径或 URL）。
	Source string `json:"source"`
	// Content 文档内容，必填。
	Content string `json:"content"`
	// Metadata 文档级元数据，与自动提取的元数据合并。
	Metadata map[string]string `json:"metadata"`
	// Schema 可选的元数据校验模式（字段名到类型 string/int/date）。
	Schema map[string]string `json:"schema"`
}

// IngestResult 文档摄取结果。
type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Version    int    `json:"version"`
	// Unchanged 为 true 时表示内容哈希未变化，本次摄取为幂等空操作。
	Unchanged bool `json:"unchanged,omitempty"`
}

// BatchItemResult 批量摄取中单个文档的结果。
type BatchItemResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// BatchResult 批量摄取结果。
type BatchResult struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Items     []*BatchItemResult `json:"items"`
}

// QueryRequest RAG 查询请求。
type QueryRequest struct {
	// TenantID 租户 ID，必填。
	TenantID string `json:"tenant_id"`
	// Question 用户问题，必填。
	Question string `json:"question"`
	// TopK 返回的最相关块数，默认 5。
	TopK int `json:"top_k"`
	// Strategy 检索策略（vector/keyword/hybrid），默认 vector。
	Strategy RetrievalStrategy `json:"strategy"`
	// Threshold 最低相似度阈值，默认 0.7。
	Threshold *float32 `json:"threshold"`
	// UseMemory 是否使用对话记忆，默认 true。
	UseMemory *bool `json:"use_memory"`
	// UserID 与 ConversationID 定位对话记忆。
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// UpdateRequest 文档更新请求。
type UpdateRequest struct {
	DocumentID string            `json:"document_id"`
	TenantID   string            `json:"tenant_id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

// UpdateResult 文档更新结果。
type UpdateResult struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
	// SnapshotLabel 更新前创建的版本快照标签。
	SnapshotLabel string `json:"snapshot_label,omitempty"`
	ChunkCount    int    `json:"chunk_count"`
	// Reembedded 增量更新中重新嵌入的块数。
	Reembedded int `json:"reembedded"`
	// Unchanged 为 true 时表示内容与元数据均未变化。
	Unchanged bool `json:"unchanged,omitempty"`
}

// Service 定义 RAG 引擎对外服务接口。
type Service interface {
	// IngestDocument 摄取单个文档（分块、嵌入、入库）。
	IngestDocument(ctx context.Context, req *IngestRequest) (*IngestResult, error)
	// IngestBatch 并发摄取多个文档，单个失败不影响其余文档。
	IngestBatch(ctx context.Context, reqs []*IngestRequest) (*BatchResult, error)
	// IngestDirectory 扫描本地目录并批量摄取其中的文档文件。
	IngestDirectory(ctx context.Context, tenantID, dir string) (*BatchResult, error)
	// Query 执行 RAG 查询。
	Query(ctx context.Context, req *QueryRequest) (*model.QueryResult, error)
	// UpdateDocument 更新文档，先创建版本快照再增量更新向量。
	UpdateDocument(ctx context.Context, req *UpdateRequest) (*UpdateResult, error)
	// DeleteDocument 删除文档及其所有块，并失效相关查询缓存。
	DeleteDocument(ctx context.Context, tenantID, documentID string) error
	// GetDocument 获取文档记录。
	GetDocument(ctx context.Context, tenantID, documentID string) (*model.Document, error)
	// GetDocumentVersion 获取文档的历史版本快照。
	GetDocumentVersion(ctx context.Context, tenantID, documentID, label string) (*model.DocumentVersion, error)
	// ListDocumentVersions 列出文档的所有版本快照。
	ListDocumentVersions(ctx context.Context, tenantID, documentID string) ([]*model.DocumentVersion, error)
	// GetStats 获取引擎统计信息。
	GetStats(ctx context.Context) (map[string]any, error)
}

// EngineConfig RAG 引擎配置。
type EngineConfig struct {
	ChunkerConfig   *ChunkerConfig
	RetrieverConfig *RetrieverConfig
	RerankerConfig  *RerankerConfig
	OptimizerConfig *OptimizerConfig
	AssemblerConfig *AssemblerConfig
	GeneratorConfig *GeneratorConfig

	// Collection 向量集合名称。
	Collection string
	// DefaultTopK 查询未指定时的默认返回块数。
	DefaultTopK int
	// DefaultThreshold 查询未指定时的默认相似度阈值。
	DefaultThreshold float32
	// EmbedBatchSize 嵌入请求的批大小。
	EmbedBatchSize int
	// BatchConcurrency 批量摄取的最大并发数。
	BatchConcurrency int
	// MemoryTurns 查询时注入的对话记忆轮数。
	MemoryTurns int
	// RerankEnabled 是否启用重排序。
	RerankEnabled bool
}

// DefaultEngineConfig 返回默认引擎配置。
func DefaultEngineConfig(collection string) *EngineConfig {
	return &EngineConfig{
		ChunkerConfig:    DefaultChunkerConfig(),
		RetrieverConfig:  DefaultRetrieverConfig(collection),
		RerankerConfig:   DefaultRerankerConfig(),
		OptimizerConfig:  DefaultOptimizerConfig(),
		AssemblerConfig:  DefaultAssemblerConfig(),
		GeneratorConfig:  &GeneratorConfig{},
		Collection:       collection,
		DefaultTopK:      5,
		DefaultThreshold: 0.7,
		EmbedBatchSize:   16,
		BatchConcurrency: 4,
		MemoryTurns:      6,
		RerankEnabled:    true,
	}
}

// Engine 组合分块、检索、重排、缓存、生成与版本账本，提供完整的 RAG 服务。
type Engine struct {
	chunker   *Chunker
	extractor *MetadataExtractor
	retriever *Retriever
	reranker  *Reranker
	optimizer *QueryOptimizer
	assembler *ContextAssembler
	generator *Generator
	updater   *IncrementalUpdater

	store  store.VectorStore
	ledger *store.Ledger
	memory *store.MemoryStore

	embedProvider llm.EmbeddingProvider
	chatProvider  llm.ChatProvider

	config    *EngineConfig
	batchPool *pool.Pool
	retry     *resilience.RetryConfig
	metrics   *metrics.EngineMetrics
}

// NewEngine 创建 RAG 引擎实例。
// optimizer 与 memory 可为 nil（未配置 Redis 时缓存与对话记忆禁用）。
func NewEngine(
	vectorStore store.VectorStore,
	ledger *store.Ledger,
	memory *store.MemoryStore,
	optimizer *QueryOptimizer,
	embedProvider llm.EmbeddingProvider,
	chatProvider llm.ChatProvider,
	config *EngineConfig,
) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("engine config is required")
	}

	var reranker *Reranker
	if config.RerankEnabled {
		if config.RerankerConfig == nil {
			config.RerankerConfig = DefaultRerankerConfig()
		}
		reranker = NewReranker(config.RerankerConfig)
	}

	batchPool, err := pool.NewPool("ingest-batch", pool.DefaultPool, &pool.Config{
		Capacity:       config.BatchConcurrency,
		ExpiryDuration: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest pool: %w", err)
	}

	return &Engine{
		chunker:       NewChunker(config.ChunkerConfig),
		extractor:     NewMetadataExtractor(),
		retriever:     NewRetriever(vectorStore, embedProvider, config.RetrieverConfig),
		reranker:      reranker,
		optimizer:     optimizer,
		assembler:     NewContextAssembler(config.AssemblerConfig),
		generator:     NewGenerator(chatProvider, config.GeneratorConfig),
		updater:       NewIncrementalUpdater(),
		store:         vectorStore,
		ledger:        ledger,
		memory:        memory,
		embedProvider: embedProvider,
		chatProvider:  chatProvider,
		config:        config,
		batchPool:     batchPool,
		retry:         resilience.DefaultRetryConfig(),
		metrics:       metrics.GetEngineMetrics(),
	}, nil
}

// IngestDocument 摄取单个文档。
// 流程：校验 -> 分块 -> 嵌入 -> 入库 -> 记账。嵌入或入库失败时不保留任何块。
func (e *Engine) IngestDocument(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if err := e.validateIngest(req); err != nil {
		e.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if req.DocumentID == "" {
		req.DocumentID = id.NewULID()
	}
	contentHash := textutil.HashString(req.Content)

	// 幂等：同一文档同一内容重复摄取直接返回
	existing, err := e.ledger.GetDocument(ctx, req.DocumentID)
	if err == nil {
		if existing.TenantID != req.TenantID {
			return nil, errors.ErrDocumentNotFound.WithMessagef("document %s not found", req.DocumentID)
		}
		if existing.Hash == contentHash && existing.Status == model.StatusIndexed {
			logger.Debugw("文档内容未变化，跳过摄取", "document_id", req.DocumentID)
			return &IngestResult{
				DocumentID: req.DocumentID,
				ChunkCount: existing.ChunkNum,
				Version:    existing.Version,
				Unchanged:  true,
			}, nil
		}
		// 已存在但内容变化，走更新路径（含版本快照与增量嵌入）
		updateResult, err := e.UpdateDocument(ctx, &UpdateRequest{
			DocumentID: req.DocumentID,
			TenantID:   req.TenantID,
			Title:      req.Title,
			Content:    req.Content,
			Metadata:   req.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return &IngestResult{
			DocumentID: updateResult.DocumentID,
			ChunkCount: updateResult.ChunkCount,
			Version:    updateResult.Version,
		}, nil
	} else if err != store.ErrNotFound {
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to load document record").WithCause(err)
	}

	docMeta := e.extractor.Extract(req.Content, req.Source)
	docMeta = mergeMetadata(docMeta, req.Metadata)
	if len(req.Schema) > 0 {
		if err := e.extractor.ValidateSchema(docMeta, req.Schema); err != nil {
			e.metrics.RecordIngest(0, 0, err)
			return nil, err
		}
	}

	title := req.Title
	if title == "" {
		title = docMeta[MetaTitle]
	}

	doc := &model.Document{
		ID:       req.DocumentID,
		Title:    title,
		Source:   req.Source,
		TenantID: req.TenantID,
		Content:  req.Content,
		Hash:     contentHash,
		Metadata: docMeta,
		Version:  1,
		Status:   model.StatusPending,
	}
	if err := e.ledger.CreateDocument(ctx, doc); err != nil {
		e.metrics.RecordIngest(0, 0, err)
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to create document record").WithCause(err)
	}

	chunks, err := e.buildChunks(doc)
	if err != nil {
		_ = e.ledger.SetStatus(ctx, doc.ID, model.StatusFailed, 0)
		e.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if err := e.embedChunks(ctx, chunks); err != nil {
		_ = e.ledger.SetStatus(ctx, doc.ID, model.StatusFailed, 0)
		e.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if _, err := e.store.Insert(ctx, e.config.Collection, chunks); err != nil {
		_ = e.ledger.SetStatus(ctx, doc.ID, model.StatusFailed, 0)
		e.metrics.RecordIngest(0, 0, err)
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to store chunks").WithCause(err)
	}

	if err := e.ledger.SetStatus(ctx, doc.ID, model.StatusIndexed, len(chunks)); err != nil {
		logger.Warnw("更新文档状态失败", "document_id", doc.ID, "error", err.Error())
	}

	e.metrics.RecordIngest(1, len(chunks), nil)
	logger.Infof("文档摄取完成: id=%s chunks=%d tenant=%s", doc.ID, len(chunks), req.TenantID)

	return &IngestResult{
		DocumentID: doc.ID,
		ChunkCount: len(chunks),
		Version:    doc.Version,
	}, nil
}

// IngestBatch 并发摄取多个文档。
// 单个文档失败不中断其余文档，结果按输入顺序返回。
func (e *Engine) IngestBatch(ctx context.Context, reqs []*IngestRequest) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, errors.ErrValidation.WithMessage("empty batch")
	}

	result := &BatchResult{Items: make([]*BatchItemResult, len(reqs))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			item := &BatchItemResult{DocumentID: req.DocumentID}
			ingestResult, err := e.IngestDocument(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				item.Error = err.Error()
				result.Failed++
			} else {
				item.DocumentID = ingestResult.DocumentID
				item.ChunkCount = ingestResult.ChunkCount
				result.Succeeded++
			}
			result.Items[i] = item
		}
		if err := e.batchPool.Submit(task); err != nil {
			// 池不可用时降级为同步执行
			logger.Warnw("摄取池提交失败，降级为同步执行", "error", err.Error())
			task()
		}
	}
	wg.Wait()

	logger.Infof("批量摄取完成: total=%d succeeded=%d failed=%d", len(reqs), result.Succeeded, result.Failed)
	return result, nil
}

// ingestExtensions 目录摄取支持的文件扩展名。
var ingestExtensions = []string{".md", ".mdx", ".txt"}

// IngestDirectory 扫描本地目录并批量摄取其中的文档文件。
// 文档 ID 由租户与文件路径哈希派生，重复摄取同一目录是幂等操作。
func (e *Engine) IngestDirectory(ctx context.Context, tenantID, dir string) (*BatchResult, error) {
	if tenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	if !docutil.DirExists(dir) {
		return nil, errors.ErrValidation.WithMessagef("directory %s does not exist", dir)
	}

	files, err := docutil.FindFiles(dir, ingestExtensions)
	if err != nil {
		return nil, errors.ErrDocumentProcessing.WithMessagef("failed to scan directory %s", dir).WithCause(err)
	}
	if len(files) == 0 {
		return nil, errors.ErrValidation.WithMessagef("no ingestible files under %s", dir)
	}

	reqs := make([]*IngestRequest, 0, len(files))
	var unreadable []*BatchItemResult
	for _, path := range files {
		content, err := docutil.ReadFileContent(path)
		if err != nil {
			logger.Warnw("读取文件失败，跳过", "path", path, "error", err.Error())
			unreadable = append(unreadable, &BatchItemResult{DocumentID: path, Error: err.Error()})
			continue
		}
		reqs = append(reqs, &IngestRequest{
			DocumentID: "doc-" + textutil.HashString(tenantID+":"+path)[:16],
			TenantID:   tenantID,
			Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Source:     path,
			Content:    content,
		})
	}
	if len(reqs) == 0 {
		return nil, errors.ErrDocumentProcessing.WithMessagef("no readable files under %s", dir)
	}

	result, err := e.IngestBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}
	result.Failed += len(unreadable)
	result.Items = append(result.Items, unreadable...)
	return result, nil
}

// Query 执行 RAG 查询。
// 流程：改写 -> 缓存检查 -> 检索 -> 重排 -> 上下文组装 -> 生成 -> 缓存写入。
func (e *Engine) Query(ctx context.Context, req *QueryRequest) (*model.QueryResult, error) {
	if req.TenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	if req.Question == "" {
		return nil, errors.ErrValidation.WithMessage("question is empty")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.config.DefaultTopK
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = RetrievalVector
	}
	if !ValidRetrievalStrategy(strategy) {
		return nil, errors.ErrInvalidStrategy.WithMessagef("unknown retrieval strategy %q", strategy)
	}
	threshold := e.config.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	useMemory := req.UseMemory == nil || *req.UseMemory

	rewritten := req.Question
	var cacheKey string
	if e.optimizer != nil {
		rewritten = e.optimizer.Rewrite(req.Question)
		cacheKey = e.optimizer.CacheKey(req.TenantID, rewritten, strategy, topK, threshold)

		cached, err := e.optimizer.Lookup(ctx, cacheKey)
		if err != nil {
			logger.Warnw("查询缓存读取失败", "error", err.Error())
		}
		if cached != nil {
			cached.CacheHit = true
			e.metrics.RecordQuery(true, nil)
			return cached, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.ErrQueryTimeout.WithCause(err)
	}

	// 检索候选：启用重排时先取较大的候选集
	retrieveK := topK
	if e.reranker != nil && e.config.RerankerConfig.TopKBefore > topK {
		retrieveK = e.config.RerankerConfig.TopKBefore
	}

	retrievalStart := time.Now()
	results, err := e.retriever.Retrieve(ctx, rewritten, req.TenantID, strategy, retrieveK, threshold)
	e.metrics.RecordRetrieval(time.Since(retrievalStart), err)
	if err != nil {
		e.metrics.RecordQuery(false, err)
		return nil, err
	}

	if e.reranker != nil {
		rerankStart := time.Now()
		results = e.reranker.Rerank(ctx, rewritten, results, topK)
		e.metrics.RecordRerank(time.Since(rerankStart))
	}
	if len(results) > topK {
		results = results[:topK]
	}

	if err := ctx.Err(); err != nil {
		e.metrics.RecordQuery(false, err)
		return nil, errors.ErrQueryTimeout.WithCause(err)
	}

	var memoryEntries []*model.MemoryEntry
	if useMemory && e.memory != nil && req.UserID != "" {
		memoryEntries, err = e.memory.Retrieve(ctx, req.UserID, req.ConversationID, e.config.MemoryTurns)
		if err != nil {
			logger.Warnw("对话记忆读取失败", "user_id", req.UserID, "error", err.Error())
			memoryEntries = nil
		}
	}

	contextText := e.assembler.Assemble(results, memoryEntries)

	llmStart := time.Now()
	answer, genMeta, err := e.generator.Generate(ctx, contextText, req.Question)
	promptTokens, completionTokens := 0, 0
	if genMeta != nil {
		promptTokens = genMeta.PromptTokens
		completionTokens = genMeta.CompletionTokens
	}
	e.metrics.RecordLLMCall(time.Since(llmStart), promptTokens, completionTokens, err)
	if err != nil {
		e.metrics.RecordQuery(false, err)
		return nil, err
	}

	queryResult := &model.QueryResult{
		QueryText:      req.Question,
		RewrittenQuery: rewritten,
		Answer:         answer,
		RankedChunks:   toRankedChunks(results),
		Generation:     genMeta,
	}

	if useMemory && e.memory != nil && req.UserID != "" {
		e.storeMemoryTurn(ctx, req, answer)
	}

	if e.optimizer != nil && cacheKey != "" {
		if err := e.optimizer.Store(ctx, cacheKey, queryResult); err != nil {
			logger.Warnw("查询缓存写入失败", "error", err.Error())
		}
	}

	e.metrics.RecordQuery(false, nil)
	return queryResult, nil
}

// UpdateDocument 更新文档内容与元数据。
// 内容变化时先写入版本快照，再做位置对齐的哈希比对，仅重新嵌入变化的块。
func (e *Engine) UpdateDocument(ctx context.Context, req *UpdateRequest) (*UpdateResult, error) {
	if req.TenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	if req.DocumentID == "" {
		return nil, errors.ErrValidation.WithMessage("document_id is required")
	}
	if req.Content == "" {
		return nil, errors.ErrValidation.WithMessage("document content is empty")
	}

	doc, err := e.getTenantDocument(ctx, req.TenantID, req.DocumentID)
	if err != nil {
		return nil, err
	}

	newHash := textutil.HashString(req.Content)
	if doc.Hash == newHash && req.Title == "" && len(req.Metadata) == 0 {
		return &UpdateResult{
			DocumentID: doc.ID,
			Version:    doc.Version,
			ChunkCount: doc.ChunkNum,
			Unchanged:  true,
		}, nil
	}

	// 内容变化前先落版本快照，账本只追加不修改
	var snapshotLabel string
	if doc.Hash != newHash {
		snapshotLabel, err = e.ledger.Snapshot(ctx, doc.ID)
		if err != nil {
			return nil, errors.ErrDocumentProcessing.WithMessage("failed to snapshot document").WithCause(err)
		}
		e.metrics.RecordVersion()
	}

	doc.Content = req.Content
	doc.Hash = newHash
	if req.Title != "" {
		doc.Title = req.Title
	}
	if len(req.Metadata) > 0 {
		doc.Metadata = mergeMetadata(doc.Metadata, req.Metadata)
	}

	newChunks, err := e.buildChunks(doc)
	if err != nil {
		return nil, err
	}

	oldChunks, err := e.store.ListByDocument(ctx, e.config.Collection, doc.ID)
	if err != nil {
		return nil, errors.ErrRetrieval.WithMessage("failed to list existing chunks").WithCause(err)
	}

	diff := e.updater.Diff(oldChunks, newChunks)
	toEmbed := diff.NeedsEmbedding()
	if err := e.embedChunks(ctx, toEmbed); err != nil {
		return nil, err
	}

	// 删除被替换和被移除的块，仅插入变化的块，未变化的块原样保留
	stale := make([]string, 0, len(diff.Replaced)+len(diff.Removed))
	for _, c := range diff.Replaced {
		stale = append(stale, c.ID)
	}
	for _, c := range diff.Removed {
		stale = append(stale, c.ID)
	}
	if err := e.store.DeleteChunks(ctx, e.config.Collection, stale); err != nil {
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to delete stale chunks").WithCause(err)
	}
	if _, err := e.store.Insert(ctx, e.config.Collection, toEmbed); err != nil {
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to store updated chunks").WithCause(err)
	}

	doc.Version++
	doc.ChunkNum = len(newChunks)
	doc.Status = model.StatusIndexed
	if err := e.ledger.UpdateDocument(ctx, doc); err != nil {
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to update document record").WithCause(err)
	}

	e.invalidateDocument(ctx, doc.ID)
	e.metrics.RecordUpdate(len(toEmbed))
	logger.Infof("文档更新完成: id=%s version=%d chunks=%d reembedded=%d",
		doc.ID, doc.Version, len(newChunks), len(toEmbed))

	return &UpdateResult{
		DocumentID:    doc.ID,
		Version:       doc.Version,
		SnapshotLabel: snapshotLabel,
		ChunkCount:    len(newChunks),
		Reembedded:    len(toEmbed),
	}, nil
}

// DeleteDocument 删除文档及其所有块。
func (e *Engine) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	if tenantID == "" {
		return errors.ErrTenantRequired
	}
	if _, err := e.getTenantDocument(ctx, tenantID, documentID); err != nil {
		return err
	}

	if err := e.store.DeleteByDocument(ctx, e.config.Collection, documentID); err != nil {
		return errors.ErrDocumentProcessing.WithMessage("failed to delete document chunks").WithCause(err)
	}
	if err := e.ledger.DeleteDocument(ctx, documentID); err != nil {
		return errors.ErrDocumentProcessing.WithMessage("failed to delete document record").WithCause(err)
	}

	e.invalidateDocument(ctx, documentID)
	e.metrics.RecordDelete()
	logger.Infof("文档删除完成: id=%s tenant=%s", documentID, tenantID)
	return nil
}

// GetDocument 获取文档记录。
func (e *Engine) GetDocument(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	if tenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	return e.getTenantDocument(ctx, tenantID, documentID)
}

// GetDocumentVersion 获取文档的历史版本快照。
func (e *Engine) GetDocumentVersion(ctx context.Context, tenantID, documentID, label string) (*model.DocumentVersion, error) {
	if tenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	if _, err := e.getTenantDocument(ctx, tenantID, documentID); err != nil {
		return nil, err
	}

	version, err := e.ledger.GetVersion(ctx, documentID, label)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.ErrVersionNotFound.WithMessagef("version %s of document %s not found", label, documentID)
		}
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to load document version").WithCause(err)
	}
	return version, nil
}

// ListDocumentVersions 列出文档的所有版本快照。
func (e *Engine) ListDocumentVersions(ctx context.Context, tenantID, documentID string) ([]*model.DocumentVersion, error) {
	if tenantID == "" {
		return nil, errors.ErrTenantRequired
	}
	if _, err := e.getTenantDocument(ctx, tenantID, documentID); err != nil {
		return nil, err
	}
	versions, err := e.ledger.ListVersions(ctx, documentID)
	if err != nil {
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to list document versions").WithCause(err)
	}
	return versions, nil
}

// GetStats 获取引擎统计信息。
func (e *Engine) GetStats(ctx context.Context) (map[string]any, error) {
	chunkCount, err := e.store.GetStats(ctx, e.config.Collection)
	if err != nil {
		return nil, err
	}
	docCount, err := e.ledger.CountDocuments(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"collection":     e.config.Collection,
		"chunk_count":    chunkCount,
		"document_count": docCount,
		"embed_provider": e.embedProvider.Name(),
		"chat_provider":  e.chatProvider.Name(),
	}
	if e.optimizer != nil {
		stats["cache"] = e.optimizer.Stats(ctx)
	}
	stats["metrics"] = e.metrics.Stats()
	return stats, nil
}

// Close 释放引擎持有的资源。
func (e *Engine) Close() {
	if e.batchPool != nil {
		e.batchPool.Release()
	}
}

func (e *Engine) validateIngest(req *IngestRequest) error {
	if req.TenantID == "" {
		return errors.ErrTenantRequired
	}
	if req.Content == "" {
		return errors.ErrValidation.WithMessage("document content is empty")
	}
	return nil
}

// getTenantDocument 加载文档并校验租户归属。
// 跨租户访问与不存在返回同样的 NotFound，避免泄露文档存在性。
func (e *Engine) getTenantDocument(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	doc, err := e.ledger.GetDocument(ctx, documentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.ErrDocumentNotFound.WithMessagef("document %s not found", documentID)
		}
		return nil, errors.ErrDocumentProcessing.WithMessage("failed to load document record").WithCause(err)
	}
	if doc.TenantID != tenantID {
		return nil, errors.ErrDocumentNotFound.WithMessagef("document %s not found", documentID)
	}
	return doc, nil
}

// buildChunks 分块并为每个块构建稳定 ID 与合并元数据。
// 块 ID 由文档 ID、序号与内容哈希前缀派生：同一位置内容不变时 ID 稳定，
// 内容变化时 ID 随之变化，避免同位置新旧块共用 ID。
func (e *Engine) buildChunks(doc *model.Document) ([]*store.Chunk, error) {
	pieces, err := e.chunker.Chunk(doc.Content)
	if err != nil {
		return nil, err
	}

	chunks := make([]*store.Chunk, len(pieces))
	for i, piece := range pieces {
		meta := doc.Metadata
		if piece.Section != "" {
			meta = mergeMetadata(doc.Metadata, map[string]string{"section": piece.Section})
		}
		hash := textutil.HashString(piece.Text)
		chunks[i] = &store.Chunk{
			ID:            fmt.Sprintf("%s-%04d-%s", doc.ID, i, hash[:8]),
			DocumentID:    doc.ID,
			TenantID:      doc.TenantID,
			Title:         doc.Title,
			Position:      i,
			Text:          piece.Text,
			Hash:          hash,
			TokenEstimate: textutil.EstimateTokens(piece.Text),
			Metadata:      meta,
		}
	}
	return chunks, nil
}

// embedChunks 批量生成嵌入向量，失败时带指数退避重试。
func (e *Engine) embedChunks(ctx context.Context, chunks []*store.Chunk) error {
	for start := 0; start < len(chunks); start += e.config.EmbedBatchSize {
		end := start + e.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var embeddings [][]float32
		err := resilience.RetryWithBackoff(ctx, e.retry, func() error {
			var embedErr error
			embeddings, embedErr = e.embedProvider.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			return errors.ErrEmbedding.WithMessagef("failed to embed %d chunks", len(batch)).WithCause(err)
		}
		if len(embeddings) != len(batch) {
			return errors.ErrEmbedding.WithMessagef("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
		}
		for i, emb := range embeddings {
			batch[i].Embedding = emb
		}
	}
	return nil
}

// storeMemoryTurn 记录一轮问答到对话记忆，失败只告警不影响查询结果。
func (e *Engine) storeMemoryTurn(ctx context.Context, req *QueryRequest, answer string) {
	now := time.Now()
	entries := []*model.MemoryEntry{
		{UserID: req.UserID, ConversationID: req.ConversationID, Role: "user", Content: req.Question, CreatedAt: now},
		{UserID: req.UserID, ConversationID: req.ConversationID, Role: "assistant", Content: answer, CreatedAt: now},
	}
	for _, entry := range entries {
		if err := e.memory.Store(ctx, entry); err != nil {
			logger.Warnw("对话记忆写入失败", "user_id", req.UserID, "error", err.Error())
			return
		}
	}
}

// invalidateDocument 失效引用该文档的查询缓存。
func (e *Engine) invalidateDocument(ctx context.Context, documentID string) {
	if e.optimizer == nil {
		return
	}
	if err := e.optimizer.InvalidateDocument(ctx, documentID); err != nil {
		logger.Warnw("查询缓存失效失败", "document_id", documentID, "error", err.Error())
	}
}

func toRankedChunks(results []*store.SearchResult) []model.RankedChunk {
	ranked := make([]model.RankedChunk, len(results))
	for i, r := range results {
		ranked[i] = model.RankedChunk{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Title:      r.Title,
			Position:   r.Position,
			Text:       r.Text,
			Score:      r.Score,
			Metadata:   r.Metadata,
		}
	}
	return ranked
}

// 确保 Engine 实现了 Service 接口。
var _ Service = (*Engine)(nil)
