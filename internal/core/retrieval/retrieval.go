package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jinford/convobot/internal/core/cache"
)

// DefaultTopK はデフォルトの取得チャンク数
const DefaultTopK = 3

// ScoredChunk は類似度スコア付きのグラウンディングチャンクを表す
type ScoredChunk struct {
	ChunkID    uuid.UUID `json:"chunkId"`
	DocumentID uuid.UUID `json:"documentId"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"`
}

// SearchRepository はベクトル検索の永続化インターフェース。
// 結果はスコア降順（同点はチャンクID昇順）で、minScore未満は除外される。
// 検索は必ずuseCaseID配下に限定される
type SearchRepository interface {
	SearchChunksByUseCase(ctx context.Context, useCaseID uuid.UUID, queryVector []float32, limit int, minScore float64) ([]*ScoredChunk, error)
}

// Embedder はクエリのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Orchestrator は質問文からグラウンディングコンテキストを組み立てる。
// クエリEmbeddingはキャッシュ層で再利用し、冗長なAPI呼び出しを避ける
type Orchestrator struct {
	repo     SearchRepository
	embedder Embedder
	cache    *cache.Cache
	minScore float64
	logger   *slog.Logger
}

// Option は Orchestrator のオプション設定
type Option func(*Orchestrator)

// WithMinScore は類似度の下限を設定する（これ未満のチャンクは除外）
func WithMinScore(minScore float64) Option {
	return func(o *Orchestrator) {
		o.minScore = minScore
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New は新しいOrchestratorを作成する
func New(repo SearchRepository, embedder Embedder, c *cache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		embedder: embedder,
		cache:    c,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Retrieve はクエリに類似するチャンクをスコア降順で最大k件返す。
// 該当なしは空スライスを返す（グラウンディングなしは正常な結果であり、
// 呼び出し側はそのまま回答生成に進む）
func (o *Orchestrator) Retrieve(ctx context.Context, useCaseID uuid.UUID, query string, k int) ([]*ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if useCaseID == uuid.Nil {
		return nil, fmt.Errorf("useCaseID is required")
	}
	if k <= 0 {
		k = DefaultTopK
	}

	queryVector, err := cache.GetOrCompute(ctx, o.cache, cache.NamespaceQueryEmbedding, cache.HashKey(query),
		func(ctx context.Context) ([]float32, error) {
			return o.embedder.Embed(ctx, query)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := o.repo.SearchChunksByUseCase(ctx, useCaseID, queryVector, k, o.minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	o.logger.Debug("retrieval completed",
		"useCaseID", useCaseID, "k", k, "results", len(chunks))

	return chunks, nil
}
