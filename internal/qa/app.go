package qa

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	milvuscomp "github.com/medkb-io/medqa/pkg/component/milvus"
	rediscomp "github.com/medkb-io/medqa/pkg/component/redis"
	"github.com/medkb-io/medqa/pkg/infra/pool"
	"github.com/medkb-io/medqa/pkg/llm"
	_ "github.com/medkb-io/medqa/pkg/llm/ollama" // 注册 ollama 供应商

	"github.com/medkb-io/medqa/internal/qa/biz"
	"github.com/medkb-io/medqa/internal/qa/handler"
	"github.com/medkb-io/medqa/internal/qa/router"
	"github.com/medkb-io/medqa/internal/qa/session"
	"github.com/medkb-io/medqa/internal/qa/store"
)

const (
	appName        = "medqa"
	appDescription = `medqa - medical knowledge Q&A service

A retrieval-augmented question answering service over a curated medical
knowledge base.

This server provides:
  - Versioned document ingestion into paired vector and keyword indexes
  - Hybrid retrieval (Milvus vector search + SQLite FTS5) with graceful degradation
  - Safety-gated, grounded answer generation with mandatory disclaimers`
)

// NewApp 创建 medqa 命令行应用。
func NewApp() *cobra.Command {
	opts := NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "medical knowledge Q&A service",
		Long:          appDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config file: %w", err)
				}
				if err := viper.Unmarshal(opts); err != nil {
					return fmt.Errorf("failed to unmarshal config: %w", err)
				}
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return Run(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	opts.AddFlags(cmd.PersistentFlags())
	return cmd
}

// Run 启动 medqa 服务，ctx 取消时优雅停机。
func Run(ctx context.Context, opts *Options) error {
	// 1. 初始化日志
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting medqa service...")

	// 2. 初始化工作池
	if err := pool.InitGlobal(); err != nil {
		return fmt.Errorf("failed to initialize worker pools: %w", err)
	}
	defer pool.ReleaseAll()

	// 3. 初始化向量索引
	milvusClient, err := milvuscomp.New(opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to initialize milvus: %w", err)
	}
	vectorStore := store.NewMilvusStore(milvusClient)
	defer vectorStore.Close(context.Background())

	if err := vectorStore.CreateCollection(ctx, &store.CollectionConfig{
		Name:        opts.QA.Collection,
		Description: "medqa knowledge base chunks",
		Dimension:   opts.QA.EmbeddingDim,
	}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	logger.Infow("向量索引就绪", "collection", opts.QA.Collection, "dimension", opts.QA.EmbeddingDim)

	// 4. 初始化关键词索引
	keywordStore, err := store.NewSQLiteStore(opts.SQLite.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	defer keywordStore.Close()
	logger.Infow("关键词索引就绪", "path", opts.SQLite.Path)

	// 5. 初始化会话存储
	sessions, err := newSessionStore(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer sessions.Close()

	// 6. 初始化 LLM 供应商
	embedProvider, err := llm.NewProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	genProvider, err := llm.NewProvider(opts.Generation.Provider, opts.Generation.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize generation provider: %w", err)
	}
	logger.Infow("LLM 供应商就绪",
		"embedding", opts.Embedding.Provider+"/"+opts.Embedding.Model,
		"generation", opts.Generation.Provider+"/"+opts.Generation.Model,
	)

	// 7. 组装业务层
	service, err := buildService(opts, embedProvider, genProvider, vectorStore, keywordStore, sessions)
	if err != nil {
		return err
	}

	// 8. 启动 HTTP 服务器
	gin.SetMode(opts.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.Register(engine, handler.NewQAHandler(service, opts.Server.QueryTimeout))

	srv := &http.Server{
		Addr:    opts.Server.Addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP 服务器启动", "addr", opts.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down medqa service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logger.Info("medqa service stopped")
	return nil
}

// newSessionStore 按配置创建会话存储。memory 引擎启动后台清理任务。
func newSessionStore(opts *Options) (session.Store, error) {
	config := &session.Config{
		MaxTurns: opts.Session.MaxTurns,
		TTL:      opts.Session.TTL,
	}

	switch opts.Session.Engine {
	case "redis":
		client, err := rediscomp.New(opts.Session.Redis)
		if err != nil {
			return nil, err
		}
		logger.Infow("会话存储就绪", "engine", "redis", "addr", opts.Session.Redis.String())
		return session.NewRedisStore(client, config), nil
	case "memory":
		mem := session.NewMemoryStore(config)
		startSessionSweeper(mem, config)
		logger.Infow("会话存储就绪", "engine", "memory")
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown session engine: %s", opts.Session.Engine)
	}
}

// startSessionSweeper 在后台池中周期清理过期的内存会话。
func startSessionSweeper(mem *session.MemoryStore, config *session.Config) {
	interval := config.TTL
	if interval <= 0 {
		return
	}

	var schedule func()
	schedule = func() {
		_ = pool.SubmitToType(pool.BackgroundPool, func() {
			<-time.After(interval)
			if removed := mem.Sweep(); removed > 0 {
				logger.Debugw("清理过期会话", "removed", removed)
			}
			schedule()
		})
	}
	schedule()
}

// buildService 组装完整业务层。
func buildService(opts *Options, embedProvider, genProvider llm.Provider, vectorStore store.VectorStore, keywordStore store.KeywordStore, sessions session.Store) (biz.Service, error) {
	chunker, err := biz.NewChunker(&biz.ChunkerConfig{
		ChunkSize:   opts.QA.ChunkSize,
		Overlap:     opts.QA.ChunkOverlap,
		MinChunkLen: 20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	ingester := biz.NewIngester(&biz.IngesterConfig{
		Collection:     opts.QA.Collection,
		EmbedBatchSize: opts.QA.EmbedBatchSize,
		EmbeddingDim:   opts.QA.EmbeddingDim,
	}, chunker, embedProvider, vectorStore, keywordStore)

	retriever := biz.NewHybridRetriever(&biz.RetrieverConfig{
		Collection:     opts.QA.Collection,
		SemanticTopK:   opts.QA.SemanticTopK,
		LexicalTopK:    opts.QA.LexicalTopK,
		ScoreThreshold: opts.QA.ScoreThreshold,
	}, embedProvider, vectorStore, keywordStore)

	var gateLLM llm.GenerationProvider
	if opts.Safety.EnableLLM {
		gateLLM = genProvider
	}
	gate := biz.NewSafetyGate(&biz.SafetyConfig{EnableLLM: opts.Safety.EnableLLM}, gateLLM)

	assembler := biz.NewContextAssembler(&biz.AssemblerConfig{Budget: opts.QA.ContextBudget})

	orchConfig := biz.DefaultOrchestratorConfig()
	orchConfig.TopK = opts.QA.TopK
	orchestrator := biz.NewOrchestrator(orchConfig, gate, retriever, assembler, genProvider, sessions)

	logger.Info("业务层初始化完成")
	return biz.NewQAService(ingester, orchestrator, vectorStore, keywordStore, sessions, opts.QA.Collection), nil
}
