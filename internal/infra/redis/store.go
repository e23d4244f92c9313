// Package redis はキャッシュとレート制限カウンタのRedisバックエンドを提供します
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/convobot/internal/core/cache"
	"github.com/jinford/convobot/internal/core/ratelimit"
)

// Config はRedis接続設定
type Config struct {
	Addr     string
	Password string
	DB       int
	// キャッシュ経路はチャットのレイテンシに直結するため短いタイムアウトで切る
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Store は cache.Store と ratelimit.WindowStore を実装するRedisストアです
type Store struct {
	client *redis.Client
}

// コンパイル時の型チェック
var (
	_ cache.Store           = (*Store)(nil)
	_ ratelimit.WindowStore = (*Store)(nil)
)

// New は新しいStoreを作成します。
// 接続は遅延確立されるため、Redisが落ちていても生成自体は成功する
// （キャッシュ層とレート制限はどちらもフェイルオープンで動作する）
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.ReadTimeout,
	})

	return &Store{client: client}
}

// Ping は接続確認を行います
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close は接続を閉じます
func (s *Store) Close() error {
	return s.client.Close()
}

// Get はキーの値を取得する。存在しない場合は cache.ErrMiss を返す
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", cache.ErrMiss
		}
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

// Set はキーにTTL付きで値を保存する
func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete はキーを削除する
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// incrWindowScript はINCRと初回インクリメント時のEXPIREを1ラウンドトリップで行う。
// EXPIREを初回に限定することで、期限切れしないカウンタキーの発生を防ぐ
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// IncrWindow は固定ウィンドウカウンタをアトミックにインクリメントする
func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrWindowScript.Run(ctx, s.client, []string{key}, int(ttl/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr window failed: %w", err)
	}
	return count, nil
}
