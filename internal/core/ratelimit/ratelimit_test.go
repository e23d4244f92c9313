package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryWindowStore はテスト用のインメモリWindowStore
type memoryWindowStore struct {
	counts map[string]int64
	ttls   map[string]time.Duration
}

func newMemoryWindowStore() *memoryWindowStore {
	return &memoryWindowStore{
		counts: map[string]int64{},
		ttls:   map[string]time.Duration{},
	}
}

func (s *memoryWindowStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.counts[key]++
	if s.counts[key] == 1 {
		s.ttls[key] = ttl
	}
	return s.counts[key], nil
}

// brokenWindowStore は常に失敗するWindowStore
type brokenWindowStore struct{}

func (s *brokenWindowStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckAllowsUpToThresholdPlusBurst(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	limiter := New(newMemoryWindowStore(),
		WithLimits(60, 10),
		WithWindow(time.Minute),
		WithClock(fixedClock(base)),
	)

	// threshold+burst = 70件までは許可される
	for i := 0; i < 70; i++ {
		decision := limiter.Check(ctx, "client-1")
		require.True(t, decision.Allowed, "request %d", i+1)
	}

	// 71件目は拒否
	decision := limiter.Check(ctx, "client-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)

	stats := limiter.Stats()
	assert.Equal(t, int64(70), stats.Allowed)
	assert.Equal(t, int64(1), stats.Denied)
}

func TestCheckRemainingDecreasesMonotonically(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	limiter := New(newMemoryWindowStore(),
		WithLimits(5, 2),
		WithWindow(time.Minute),
		WithClock(fixedClock(base)),
	)

	prev := 8
	for i := 0; i < 7; i++ {
		decision := limiter.Check(ctx, "client-1")
		assert.Less(t, decision.Remaining, prev)
		prev = decision.Remaining
	}
	assert.Equal(t, 0, prev)
}

func TestCheckWindowRollover(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWindowStore()
	now := time.Unix(1_700_000_000, 0)
	limiter := New(store,
		WithLimits(1, 0),
		WithWindow(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	require.True(t, limiter.Check(ctx, "client-1").Allowed)
	assert.False(t, limiter.Check(ctx, "client-1").Allowed)

	// 次のウィンドウでは全量が回復する
	now = now.Add(time.Minute)
	decision := limiter.Check(ctx, "client-1")
	assert.True(t, decision.Allowed)
}

func TestCheckResetAtIsWindowBoundary(t *testing.T) {
	ctx := context.Background()
	// ウィンドウ境界から30秒経過した時点
	base := time.Unix(1_700_000_010, 0).Truncate(time.Minute).Add(30 * time.Second)
	limiter := New(newMemoryWindowStore(),
		WithWindow(time.Minute),
		WithClock(fixedClock(base)),
	)

	decision := limiter.Check(ctx, "client-1")

	assert.Equal(t, base.Add(30*time.Second).Unix(), decision.ResetAt.Unix())
}

func TestCheckClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	limiter := New(newMemoryWindowStore(),
		WithLimits(1, 0),
		WithWindow(time.Minute),
		WithClock(fixedClock(base)),
	)

	require.True(t, limiter.Check(ctx, "client-1").Allowed)
	assert.False(t, limiter.Check(ctx, "client-1").Allowed)

	// 別クライアントには影響しない
	assert.True(t, limiter.Check(ctx, "client-2").Allowed)
}

func TestCheckFailsOpenOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	limiter := New(&brokenWindowStore{},
		WithLimits(60, 10),
		WithClock(fixedClock(time.Unix(1_700_000_000, 0))),
	)

	decision := limiter.Check(ctx, "client-1")

	assert.True(t, decision.Allowed)
	assert.Equal(t, 60, decision.Remaining)
	assert.Equal(t, int64(1), limiter.Stats().Degraded)
}

func TestIncrWindowSetsTTLOnlyOnFirstIncrement(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWindowStore()
	base := time.Unix(1_700_000_000, 0)
	limiter := New(store,
		WithWindow(time.Minute),
		WithClock(fixedClock(base)),
	)

	limiter.Check(ctx, "client-1")
	limiter.Check(ctx, "client-1")

	// カウンタキーにはウィンドウ長のTTLが設定される
	require.Len(t, store.ttls, 1)
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}
