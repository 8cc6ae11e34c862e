package engine

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/ragcore/internal/engine/biz"
	"github.com/kart-io/ragcore/internal/engine/handler"
	"github.com/kart-io/ragcore/internal/engine/router"
	"github.com/kart-io/ragcore/internal/engine/store"
	"github.com/kart-io/ragcore/pkg/component/database"
	"github.com/kart-io/ragcore/pkg/component/milvus"
	"github.com/kart-io/ragcore/pkg/component/redis"
	"github.com/kart-io/ragcore/pkg/component/storage"
	"github.com/kart-io/ragcore/pkg/infra/app"
	"github.com/kart-io/ragcore/pkg/llm"
	"github.com/kart-io/ragcore/pkg/llm/resilience"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/ragcore/pkg/llm/ollama"
	_ "github.com/kart-io/ragcore/pkg/llm/openai"
)

const (
	// Name is the name of the application.
	Name = "ragcore-engine"

	appDescription = `RAG Core Engine

A multi-tenant retrieval-augmented generation engine.

This server provides:
  - Document ingestion with chunking, metadata extraction and vector embeddings
  - Vector, keyword and hybrid retrieval with reranking
  - Incremental document updates with version snapshots
  - RAG-based question answering with conversation memory`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(Name),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the engine service with the given options.
func Run(opts *Options) error {
	printBanner(opts)

	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", Name)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting engine service...")

	ctx := context.Background()

	// 2. 初始化向量存储
	vectorStore, err := newVectorStore(opts)
	if err != nil {
		return err
	}
	logger.Infow("Vector store initialized", "driver", opts.Engine.StoreDriver)

	if err := vectorStore.CreateCollection(ctx, &store.CollectionConfig{
		Name:        opts.Engine.Collection,
		Description: "RAG engine document chunks",
		Dimension:   opts.Engine.EmbeddingDim,
	}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 3. 初始化文档账本
	dbClient, err := database.New(opts.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	ledger, err := store.NewLedger(dbClient)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	logger.Infow("Document ledger initialized", "driver", opts.Database.Driver)

	// 后端存储统一注册，healthz 据此汇报组件健康状态
	storageMgr := storage.NewManager()
	storageMgr.MustRegister("database", dbClient)

	// 4. 初始化 Redis 客户端（用于查询缓存与会话记忆）
	redisClient := newRedisClient(opts, storageMgr)

	engineConfig := opts.EngineConfig()
	optimizer := biz.NewQueryOptimizer(redisClient, engineConfig.OptimizerConfig)
	memoryStore := store.NewMemoryStore(redisClient, nil)

	// 5. 初始化 LLM 供应商
	embedProvider, chatProvider, err := newProviders(opts, redisClient)
	if err != nil {
		return err
	}

	// 6. 初始化 Biz 层
	engineService, err := biz.NewEngine(vectorStore, ledger, memoryStore, optimizer, embedProvider, chatProvider, engineConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	logger.Infow("RAG engine initialized",
		"collection", opts.Engine.Collection,
		"chunk.strategy", opts.Engine.ChunkStrategy,
		"rerank.enabled", opts.Engine.RerankEnabled,
		"cache.enabled", opts.Cache.Enabled && redisClient != nil,
	)

	// 7. 初始化 Handler 层与路由
	engineHandler := handler.NewEngineHandler(engineService)

	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	router.Register(ginEngine, engineHandler, storageMgr)

	// 8. 启动服务器
	srv := NewHTTPServer(ginEngine, opts.HTTP)
	srv.AddCloser(func() { _ = vectorStore.Close(context.Background()) })
	srv.AddCloser(func() { _ = storageMgr.CloseAll() })
	srv.AddCloser(engineService.Close)

	logger.Info("Engine service is ready")
	return srv.Run()
}

// newVectorStore 按驱动创建向量存储。memory 驱动仅用于本地开发。
func newVectorStore(opts *Options) (store.VectorStore, error) {
	if opts.Engine.StoreDriver == StoreDriverMemory {
		return store.NewMemStore(), nil
	}

	milvusClient, err := milvus.New(opts.Milvus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	return store.NewMilvusStore(milvusClient), nil
}

// newRedisClient 创建 Redis 客户端，连接失败时降级为禁用缓存与记忆。
// 连接成功后注册到存储管理器，随 healthz 汇报并在关闭时统一释放。
func newRedisClient(opts *Options, storageMgr *storage.Manager) *goredis.Client {
	if !opts.Cache.Enabled || opts.Cache.Redis == nil {
		logger.Info("Cache is disabled")
		return nil
	}

	client, err := redis.New(opts.Cache.Redis)
	if err != nil {
		logger.Warnw("failed to connect to redis, cache and memory will be disabled", "error", err.Error())
		return nil
	}

	storageMgr.MustRegister("redis-cache", client)

	logger.Infow("Redis initialized",
		"host", opts.Cache.Redis.Host,
		"port", opts.Cache.Redis.Port,
		"cache.ttl", opts.Cache.TTL,
	)
	return client.Client()
}

// newProviders 创建带重试与熔断的 LLM 供应商。
// Redis 可用时 embedding 结果额外走缓存层。
func newProviders(opts *Options, redisClient *goredis.Client) (llm.EmbeddingProvider, llm.ChatProvider, error) {
	embedProvider, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	var wrapped llm.EmbeddingProvider = resilience.NewResilientEmbeddingProvider(embedProvider, nil, nil)
	if redisClient != nil {
		wrapped = llm.NewCachedEmbeddingProvider(wrapped, redisClient, nil)
	}
	logger.Infow("Embedding provider initialized",
		"provider", opts.Embedding.Provider,
		"model", opts.Embedding.Model,
		"cached", redisClient != nil,
	)

	chatProvider, err := llm.NewChatProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", opts.Chat.Provider,
		"model", opts.Chat.Model,
	)

	return wrapped, resilience.NewResilientChatProvider(chatProvider, nil, nil), nil
}

func printBanner(opts *Options) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Store: %s (collection %s)\n", opts.Engine.StoreDriver, opts.Engine.Collection)
	fmt.Printf("  Embedding: %s (%s)\n", opts.Embedding.Provider, opts.Embedding.Model)
	fmt.Printf("  Chat: %s (%s)\n", opts.Chat.Provider, opts.Chat.Model)
}
