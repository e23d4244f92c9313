package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrMiss はキーが存在しない場合にStoreが返すエラー
var ErrMiss = errors.New("cache miss")

// Store はキー・バリューストアへの最小インターフェース
// 実装はRedis等のネットワークストアを想定し、すべての操作はタイムアウト付きで行う
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Namespace はキャッシュエントリの種別を表します
type Namespace string

const (
	// NamespaceSession はセッションキャッシュ（TTL 30分）
	NamespaceSession Namespace = "session"
	// NamespaceConversation は会話コンテキストキャッシュ（TTL 10分）
	NamespaceConversation Namespace = "convctx"
	// NamespaceLLMResponse はLLM応答キャッシュ（TTL 1時間）
	NamespaceLLMResponse Namespace = "llmresp"
	// NamespaceQueryEmbedding はクエリEmbeddingキャッシュ（TTL 10分）
	NamespaceQueryEmbedding Namespace = "queryemb"
)

// TTLs は名前空間ごとのTTLを保持します
type TTLs struct {
	Session        time.Duration
	Conversation   time.Duration
	LLMResponse    time.Duration
	QueryEmbedding time.Duration
}

// DefaultTTLs はデフォルトのTTL設定を返します
func DefaultTTLs() TTLs {
	return TTLs{
		Session:        1800 * time.Second,
		Conversation:   600 * time.Second,
		LLMResponse:    3600 * time.Second,
		QueryEmbedding: 600 * time.Second,
	}
}

// Cache はキー・バリューストア上の多層キャッシュです。
// ストア障害時はフェイルオープンし、すべての呼び出しをミスとして扱う
// （正しさは保たれ、レイテンシとコストのみが劣化する）。
type Cache struct {
	store   Store
	ttls    TTLs
	logger  *slog.Logger
	metrics *Metrics
}

// Option は Cache のオプション設定
type Option func(*Cache)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithTTLs はTTLテーブルを差し替える
func WithTTLs(ttls TTLs) Option {
	return func(c *Cache) {
		c.ttls = ttls
	}
}

// New は新しいCacheを作成する
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		ttls:    DefaultTTLs(),
		logger:  slog.Default(),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL は名前空間のTTLを返す
func (c *Cache) TTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceSession:
		return c.ttls.Session
	case NamespaceConversation:
		return c.ttls.Conversation
	case NamespaceLLMResponse:
		return c.ttls.LLMResponse
	case NamespaceQueryEmbedding:
		return c.ttls.QueryEmbedding
	default:
		return c.ttls.Conversation
	}
}

// Key は名前空間付きのキャッシュキーを構築する
func Key(ns Namespace, parts ...string) string {
	return string(ns) + ":" + strings.Join(parts, ":")
}

// HashKey は内容由来のキー識別子を生成する（prompt+context等の安定ハッシュ）
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get は生の値を取得する。ミスとストア障害はどちらも (_, false) となる
func (c *Cache) Get(ctx context.Context, ns Namespace, key string) (string, bool) {
	value, err := c.store.Get(ctx, Key(ns, key))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			c.metrics.miss(ns)
			return "", false
		}
		// フェイルオープン: ストア障害はミス扱い
		c.metrics.degraded(ns)
		c.logger.Warn("cache store unavailable, treating as miss",
			"namespace", string(ns), "error", err)
		return "", false
	}
	c.metrics.hit(ns)
	return value, true
}

// Set は値を名前空間のTTL付きで保存する。失敗はログのみ
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value string) {
	if err := c.store.Set(ctx, Key(ns, key), value, c.TTL(ns)); err != nil {
		c.metrics.degraded(ns)
		c.logger.Warn("cache store write failed",
			"namespace", string(ns), "error", err)
	}
}

// Invalidate はエントリを即時削除する。失敗はログのみ
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, key string) {
	if err := c.store.Delete(ctx, Key(ns, key)); err != nil {
		c.metrics.degraded(ns)
		c.logger.Warn("cache invalidation failed",
			"namespace", string(ns), "error", err)
	}
}

// Stats はキャッシュの統計情報を返す
func (c *Cache) Stats() Stats {
	return c.metrics.snapshot()
}

// GetOrCompute はキャッシュヒット時はcomputeを呼ばずに値を返し、
// ミス時はcomputeの結果をTTL付きで保存して返す。
// 同一キーへの同時computeは排他しない（再計算はドメイン的に許容、last write wins）。
func GetOrCompute[T any](ctx context.Context, c *Cache, ns Namespace, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok := c.Get(ctx, ns, key); ok {
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err == nil {
			return value, nil
		}
		// 壊れたエントリは捨てて再計算する
		c.Invalidate(ctx, ns, key)
	}

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		// 保存できなくても計算結果は返す
		c.logger.Warn("cache value not serializable", "namespace", string(ns), "error", err)
		return value, nil
	}
	c.Set(ctx, ns, key, string(raw))

	return value, nil
}

// GetJSON はJSONエントリを型付きで取得する
func GetJSON[T any](ctx context.Context, c *Cache, ns Namespace, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(ctx, ns, key)
	if !ok {
		return zero, false
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, false
	}
	return value, true
}

// SetJSON はJSONエントリを保存する
func SetJSON[T any](ctx context.Context, c *Cache, ns Namespace, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	c.Set(ctx, ns, key, string(raw))
	return nil
}
