// Package container はアプリケーション全体の依存関係を組み立てます
package container

import (
	"context"
	"fmt"
	"log/slog"

	corecache "github.com/jinford/convobot/internal/core/cache"
	corechat "github.com/jinford/convobot/internal/core/chat"
	coreindexer "github.com/jinford/convobot/internal/core/indexer"
	coreingestion "github.com/jinford/convobot/internal/core/ingestion"
	coreratelimit "github.com/jinford/convobot/internal/core/ratelimit"
	coreretrieval "github.com/jinford/convobot/internal/core/retrieval"
	coreusecase "github.com/jinford/convobot/internal/core/usecase"
	"github.com/jinford/convobot/internal/infra/elasticsearch"
	"github.com/jinford/convobot/internal/infra/localfile"
	"github.com/jinford/convobot/internal/infra/openai"
	"github.com/jinford/convobot/internal/infra/postgres"
	"github.com/jinford/convobot/internal/infra/redis"
	"github.com/jinford/convobot/internal/platform/config"
)

// ServiceContainer はアプリケーション全体の依存関係を保持する
type ServiceContainer struct {
	UseCaseRepo      coreusecase.Repository
	IngestionService *coreingestion.Service
	Retrieval        *coreretrieval.Orchestrator
	Chat             *corechat.Orchestrator
	Sessions         *corechat.SessionStore
	Cache            *corecache.Cache
	Limiter          *coreratelimit.Limiter
	Indexer          *coreindexer.Indexer
	Search           *elasticsearch.Client
	DocumentRepo     *postgres.DocumentRepository

	logger   *slog.Logger
	database *postgres.DB
	redis    *redis.Store
}

type containerOptions struct {
	logger   *slog.Logger
	embedder coreingestion.Embedder
	llm      corechat.LLMClient
	sink     coreindexer.Sink
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder coreingestion.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(llm corechat.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llm = llm
	}
}

// WithContainerIndexSink は検索インデックスの書き込み先を差し替える
func WithContainerIndexSink(sink coreindexer.Sink) ContainerOption {
	return func(opts *containerOptions) {
		opts.sink = sink
	}
}

// NewContainer は設定からコンテナを生成する。
// PostgreSQLへの接続とEmbedding次元の検証に失敗した場合はエラーを返す。
// RedisとElasticsearchの疎通失敗は警告にとどめる（どちらもフェイルオープン設計）
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	// PostgreSQL（真実の源泉。接続できなければ起動しない）
	db, err := postgres.New(ctx, postgres.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	// Embedding次元の検証。embedding列の次元とモデル設定が食い違ったまま
	// 起動すると検索結果が静かに壊れるため、不一致は起動エラーとする
	dim, err := db.EmbeddingColumnDimension(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Embedding次元の検証に失敗しました: %w", err)
	}
	if dim != cfg.OpenAI.EmbeddingDimension {
		db.Close()
		return nil, fmt.Errorf("embedding列の次元(%d)が設定(%d)と一致しません", dim, cfg.OpenAI.EmbeddingDimension)
	}

	// Redis（キャッシュ・レート制限。落ちていても起動する）
	redisStore := redis.New(redis.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err := redisStore.Ping(ctx); err != nil {
		logger.Warn("Redisに接続できません。キャッシュとレート制限はフェイルオープンで動作します", "error", err)
	}

	cacheLayer := corecache.New(redisStore,
		corecache.WithLogger(logger),
		corecache.WithTTLs(corecache.TTLs{
			Session:        cfg.Cache.SessionTTL,
			Conversation:   cfg.Cache.ConversationTTL,
			LLMResponse:    cfg.Cache.LLMResponseTTL,
			QueryEmbedding: cfg.Cache.QueryEmbeddingTTL,
		}),
	)

	limiter := coreratelimit.New(redisStore,
		coreratelimit.WithLimits(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Burst),
		coreratelimit.WithWindow(cfg.RateLimit.Window),
		coreratelimit.WithLogger(logger),
	)

	// Elasticsearch（全文検索ミラー。落ちていても起動する）
	esClient, err := elasticsearch.New(elasticsearch.Config{
		Addresses:   cfg.Elasticsearch.Addresses,
		IndexPrefix: cfg.Elasticsearch.IndexPrefix,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Elasticsearchクライアント初期化に失敗しました: %w", err)
	}
	if err := esClient.Ping(ctx); err != nil {
		logger.Warn("Elasticsearchに接続できません。検索インデックス投入はリトライ後に破棄されます", "error", err)
	} else if err := esClient.EnsureIndices(ctx); err != nil {
		logger.Warn("検索インデックスの作成に失敗しました", "error", err)
	}

	sink := options.sink
	if sink == nil {
		sink = esClient
	}
	idx, err := coreindexer.New(sink, coreindexer.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("インデックスワーカー初期化に失敗しました: %w", err)
	}

	// Repository (PostgreSQL)
	useCaseRepo := postgres.NewUseCaseRepository(db.Pool)
	documentRepo := postgres.NewDocumentRepository(db.Pool)
	conversationRepo := postgres.NewConversationRepository(db.Pool)
	lockManager := postgres.NewLockManager(db.Pool)

	// Embedder / LLM (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
	}
	llm := options.llm
	if llm == nil {
		llm = openai.NewChatClient(
			cfg.OpenAI.APIKey,
			openai.WithChatModel(cfg.OpenAI.ChatModel),
			openai.WithChatTimeout(cfg.OpenAI.ChatTimeout),
		)
	}

	// アップロードファイルストレージ
	storage, err := localfile.New(cfg.UploadDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ストレージ初期化に失敗しました: %w", err)
	}

	// IngestionService
	ingestionService := coreingestion.NewService(
		documentRepo,
		embedder,
		storage,
		coreingestion.WithChunker(coreingestion.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)),
		coreingestion.WithEmbedBatchSize(cfg.Ingestion.EmbedBatchSize),
		coreingestion.WithEmbedThrottle(cfg.Ingestion.EmbedRPS),
		coreingestion.WithLogger(logger),
	)

	// Retrieval
	retrievalOrch := coreretrieval.New(
		documentRepo,
		embedder,
		cacheLayer,
		coreretrieval.WithMinScore(cfg.Chat.RetrievalMinScore),
		coreretrieval.WithLogger(logger),
	)

	// エージェントプロファイル
	registry := corechat.NewRegistry(&corechat.DefaultProfile{})
	registry.Register(corechat.SquadNavigatorSlug, &corechat.SquadNavigatorProfile{})

	// TokenCounter（tiktokenの初期化失敗時は履歴トリムなしで続行）
	chatOpts := []corechat.OrchestratorOption{
		corechat.WithHistoryLimit(cfg.Chat.HistoryLimit),
		corechat.WithHistoryTokenBudget(cfg.Chat.HistoryTokenBudget),
		corechat.WithRetrievalTopK(cfg.Chat.RetrievalTopK),
		corechat.WithOrchestratorLogger(logger),
	}
	if counter, err := corechat.NewTiktokenCounter(); err != nil {
		logger.Warn("トークンカウンタの初期化に失敗しました。履歴トリムを無効化します", "error", err)
	} else {
		chatOpts = append(chatOpts, corechat.WithTokenCounter(counter))
	}

	chatOrch := corechat.NewOrchestrator(
		limiter,
		cacheLayer,
		conversationRepo,
		useCaseRepo,
		retrievalOrch,
		llm,
		lockManager,
		registry,
		idx,
		chatOpts...,
	)

	return &ServiceContainer{
		UseCaseRepo:      useCaseRepo,
		IngestionService: ingestionService,
		Retrieval:        retrievalOrch,
		Chat:             chatOrch,
		Sessions:         corechat.NewSessionStore(cacheLayer),
		Cache:            cacheLayer,
		Limiter:          limiter,
		Indexer:          idx,
		Search:           esClient,
		DocumentRepo:     documentRepo,
		logger:           logger,
		database:         db,
		redis:            redisStore,
	}, nil
}

// Close は内部リソースを解放する。残存するインデックスジョブは処理し切ってから停止する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Indexer != nil {
		c.Indexer.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
