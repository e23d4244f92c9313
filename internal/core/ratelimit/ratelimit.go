package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultThreshold はウィンドウあたりのデフォルト閾値
	DefaultThreshold = 60
	// DefaultBurst はデフォルトのバースト許容量（ウィンドウごとに補充）
	DefaultBurst = 10
	// DefaultWindow はデフォルトのウィンドウ長
	DefaultWindow = 60 * time.Second
)

// WindowStore は固定ウィンドウカウンタのバックエンドインターフェース。
// IncrWindow はカウンタのインクリメントと初回インクリメント時のTTL設定を
// 単一ラウンドトリップでアトミックに行う（期限切れしないキーを作らないため）。
type WindowStore interface {
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision はレート制限の判定結果を表します
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Stats はレート制限の統計情報
type Stats struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Degraded int64 `json:"degraded"`
}

// Limiter はクライアント識別子ごとの固定ウィンドウ型レートリミッタです。
// バックエンド障害時はフェイルオープンする（可用性を厳密なクォータより優先する
// 運用判断。劣化イベントはWARNログとカウンタで観測可能）。
type Limiter struct {
	store     WindowStore
	threshold int
	burst     int
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	allowed  atomic.Int64
	denied   atomic.Int64
	degraded atomic.Int64
}

// Option は Limiter のオプション設定
type Option func(*Limiter)

// WithLimits は閾値とバースト許容量を設定する
func WithLimits(threshold, burst int) Option {
	return func(l *Limiter) {
		l.threshold = threshold
		l.burst = burst
	}
}

// WithWindow はウィンドウ長を設定する
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		l.window = window
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New は新しいLimiterを作成する
func New(store WindowStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:     store,
		threshold: DefaultThreshold,
		burst:     DefaultBurst,
		window:    DefaultWindow,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check はclientIDのリクエストを許可するか判定する。
// remaining は threshold+burst からの残量（0未満にはならない）
func (l *Limiter) Check(ctx context.Context, clientID string) Decision {
	now := l.now()
	windowSecs := int64(l.window / time.Second)
	windowIndex := now.Unix() / windowSecs
	resetAt := time.Unix((windowIndex+1)*windowSecs, 0)
	key := fmt.Sprintf("rate:%s:%d", clientID, windowIndex)

	limit := int64(l.threshold + l.burst)

	count, err := l.store.IncrWindow(ctx, key, l.window)
	if err != nil {
		// フェイルオープン: バックエンド障害時はリクエストを許可する
		l.degraded.Add(1)
		l.logger.Warn("rate limiter store unavailable, failing open",
			"clientID", clientID, "error", err)
		return Decision{
			Allowed:   true,
			Remaining: l.threshold,
			ResetAt:   resetAt,
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}

	if decision.Allowed {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
		l.logger.Warn("rate limit exceeded",
			"clientID", clientID, "count", count, "limit", limit, "resetAt", resetAt)
	}

	return decision
}

// Stats はレート制限の統計情報を返す
func (l *Limiter) Stats() Stats {
	return Stats{
		Allowed:  l.allowed.Load(),
		Denied:   l.denied.Load(),
		Degraded: l.degraded.Load(),
	}
}
