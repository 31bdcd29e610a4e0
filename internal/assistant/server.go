// Package assistant wires the Helix assistant service together.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/assistant/biz"
	"github.com/kart-io/helix-assistant/internal/assistant/handler"
	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/router"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/pkg/hardware"
	"github.com/kart-io/helix-assistant/internal/pkg/i18n"
	"github.com/kart-io/helix-assistant/pkg/component/database"
	"github.com/kart-io/helix-assistant/pkg/component/milvus"
	"github.com/kart-io/helix-assistant/pkg/component/redis"
	"github.com/kart-io/helix-assistant/pkg/infra/app"
	"github.com/kart-io/helix-assistant/pkg/infra/pool"
	assistantopts "github.com/kart-io/helix-assistant/pkg/options/assistant"
	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
	llmopts "github.com/kart-io/helix-assistant/pkg/options/llm"
	logopts "github.com/kart-io/helix-assistant/pkg/options/logger"
	milvusopts "github.com/kart-io/helix-assistant/pkg/options/milvus"
	redisopts "github.com/kart-io/helix-assistant/pkg/options/redis"
	httpopts "github.com/kart-io/helix-assistant/pkg/options/server/http"
)

// Name is the name of the application.
const Name = "helix-assistant"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	DatabaseOptions  *dbopts.Options
	MilvusOptions    *milvusopts.Options
	RedisOptions     *redisopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	AssistantOptions *assistantopts.Options
	ShutdownTimeout  time.Duration
}

// Server represents the assistant server.
type Server struct {
	httpServer      *http.Server
	service         *biz.Service
	watchers        []*biz.SourceWatcher
	shutdownTimeout time.Duration
	closers         []func()
}

// NewServer initializes and returns a new Server instance.
// On error every resource opened so far is released.
func (cfg *Config) NewServer(ctx context.Context) (srv *Server, err error) {
	printBanner(cfg)

	// 1. Logger
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.Version())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting assistant service...")

	s := &Server{shutdownTimeout: cfg.ShutdownTimeout}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	// 2. Database
	db, err := database.Open(ctx, cfg.DatabaseOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.onClose(func() { _ = database.Close(db) })

	st := store.New(db)
	if cfg.DatabaseOptions.AutoMigrate {
		if err := st.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// 3. Vector index
	index, err := s.newVectorIndex(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	logger.Infow("Vector index initialized", "backend", index.Name())

	// 4. Hardware and model providers
	info := hardware.NewProfiler(hardware.ExecRunner{}).DetectHardware(ctx)
	logger.Infow("Hardware detected",
		"accelerator", info.AcceleratorType,
		"devices", info.DeviceCount,
		"memory_gb", info.TotalMemoryGB(),
	)
	selectChatModel(cfg.ChatOptions, info, cfg.AssistantOptions.AvailableMemoryGB)

	embedder := newEmbeddingProvider(ctx, cfg.EmbeddingOptions)
	chat := newChatProvider(ctx, cfg.ChatOptions)

	// 5. Redis query-embedding cache
	queryEmbedder := embedder
	if cfg.RedisOptions != nil && cfg.RedisOptions.Enabled {
		rdb, err := redis.New(ctx, cfg.RedisOptions)
		if err != nil {
			logger.Warnw("failed to connect to redis, embedding cache disabled", "error", err.Error())
		} else {
			s.onClose(func() { _ = rdb.Close() })
			queryEmbedder = newCachedEmbedder(embedder, rdb, cfg.RedisOptions.EmbeddingCacheTTL)
			logger.Infow("Embedding cache initialized",
				"addr", cfg.RedisOptions.Addr(),
				"ttl", cfg.RedisOptions.EmbeddingCacheTTL,
			)
		}
	} else {
		logger.Info("Embedding cache is disabled")
	}

	// 6. Worker pools
	pools := pool.NewManager()
	s.onClose(func() {
		if err := pools.ReleaseAllTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Warnw("worker pools did not drain", "error", err.Error())
		}
	})
	ingestPool, err := pools.Register(pool.IngestPool, pool.IngestPoolConfig(cfg.AssistantOptions.IngestWorkers))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest pool: %w", err)
	}
	jobPool, err := pools.Register(pool.JobPool, pool.JobPoolConfig(cfg.AssistantOptions.JobWorkers))
	if err != nil {
		return nil, fmt.Errorf("failed to create job pool: %w", err)
	}

	// 7. Biz layer
	collector := metrics.NewCollector()
	languages := i18n.NewManager()

	ingestor, err := biz.NewIngestor(&biz.IngestConfig{
		ChunkSize:      cfg.AssistantOptions.ChunkSize,
		ChunkOverlap:   cfg.AssistantOptions.ChunkOverlap,
		EmbedBatchSize: cfg.AssistantOptions.EmbedBatchSize,
		MaxRetries:     cfg.EmbeddingOptions.MaxRetries,
		RetryDelay:     cfg.AssistantOptions.EmbedRetryDelay,
	}, st, index, embedder,
		biz.WithWorkerPool(ingestPool),
		biz.WithJobPool(jobPool),
		biz.WithIngestMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestor: %w", err)
	}

	retriever := biz.NewRetriever(&biz.RetrieverConfig{
		CandidateFactor: cfg.AssistantOptions.CandidateFactor,
	}, st, index, queryEmbedder, collector)

	conversations := biz.NewConversationManager(&biz.ConversationConfig{
		GenerationTimeout: cfg.AssistantOptions.GenerationTimeout,
		MaxTokens:         cfg.AssistantOptions.AnswerTokens,
		HistoryMessages:   biz.DefaultConversationConfig().HistoryMessages,
	}, biz.ConversationDeps{
		Store:     st,
		Retriever: retriever,
		Assembler: biz.NewAssembler(languages, cfg.AssistantOptions.AnswerTokens),
		Chat:      chat,
		Languages: languages,
		Metrics:   collector,
	})

	s.service = &biz.Service{
		Store:         st,
		Tenants:       st,
		Index:         index,
		Ingestor:      ingestor,
		Retriever:     retriever,
		Conversations: conversations,
		Languages:     languages,
		Embedder:      embedder,
		Chat:          chat,
		Metrics:       collector,
		Pools:         pools,
		Hardware:      &info,
		DocsDir:       cfg.AssistantOptions.DocsDir,
	}
	logger.Infow("Assistant service initialized",
		"embedding.provider", embedder.Name(),
		"chat.provider", chat.Name(),
		"chat.model", chat.Model(),
		"docs_dir", cfg.AssistantOptions.DocsDir,
	)

	// 8. Folder watchers
	if cfg.AssistantOptions.Watch {
		s.watchers = newWatchers(ingestor, cfg.AssistantOptions.DocsDir, cfg.AssistantOptions.WatchDebounce)
	}

	// 9. HTTP
	engine := router.New(cfg.HTTPOptions.Mode, handler.NewAssistantHandler(s.service))
	s.httpServer = &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	logger.Info("Assistant service is ready")
	return s, nil
}

// newVectorIndex builds the configured vector index backend.
func (s *Server) newVectorIndex(ctx context.Context, cfg *Config, db *gorm.DB) (store.VectorIndex, error) {
	switch cfg.AssistantOptions.VectorBackend {
	case assistantopts.VectorBackendPGVector:
		if cfg.DatabaseOptions.Driver != dbopts.DriverPostgres {
			return nil, fmt.Errorf("pgvector backend requires the postgres driver, got %q", cfg.DatabaseOptions.Driver)
		}
		index := store.NewPGVectorIndex(db, cfg.AssistantOptions.EmbeddingDim)
		if err := index.Migrate(ctx); err != nil {
			return nil, err
		}
		return index, nil
	case assistantopts.VectorBackendMilvus:
		client, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		s.onClose(func() { _ = client.Close(context.Background()) })
		logger.Infow("Milvus client initialized", "collection", client.Collection())
		return store.NewMilvusIndex(client), nil
	default:
		return store.NewSQLIndex(db), nil
	}
}

// newWatchers creates one watcher per tenant folder found under docsDir.
func newWatchers(ingestor *biz.Ingestor, docsDir string, debounce time.Duration) []*biz.SourceWatcher {
	tenants, err := tenantFolders(docsDir)
	if err != nil {
		logger.Warnw("docs dir not readable, watching disabled", "dir", docsDir, "error", err.Error())
		return nil
	}
	watchers := make([]*biz.SourceWatcher, 0, len(tenants))
	for _, tenant := range tenants {
		watchers = append(watchers, biz.NewSourceWatcher(ingestor, tenant, filepath.Join(docsDir, tenant), debounce))
	}
	logger.Infow("Watching tenant folders", "dir", docsDir, "tenants", len(watchers))
	return watchers
}

// Run starts the server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	watchCtx, stopWatchers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range s.watchers {
		wg.Add(1)
		go func(w *biz.SourceWatcher) {
			defer wg.Done()
			if err := w.Run(watchCtx); err != nil {
				logger.Errorw("source watcher stopped", "error", err.Error())
			}
		}(w)
	}
	defer func() {
		stopWatchers()
		wg.Wait()
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down assistant service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("Assistant service stopped")
	return nil
}

// Service returns the business service, mainly for tests.
func (s *Server) Service() *biz.Service {
	return s.service
}

func (s *Server) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// OnShutdown registers fn to run when the server stops, before any resource
// opened by NewServer is released.
func (s *Server) OnShutdown(fn func()) {
	s.onClose(fn)
}

// close releases resources in reverse order of acquisition.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Database: %s\n", cfg.DatabaseOptions.Driver)
	fmt.Printf("  Vector index: %s\n", cfg.AssistantOptions.VectorBackend)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
}
