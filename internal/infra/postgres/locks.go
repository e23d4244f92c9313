package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/convobot/internal/core/chat"
)

// LockManager は会話単位のアドバイザリロックを提供します。
// 同一会話への同時メッセージ送信を到着順に直列化する
type LockManager struct {
	pool *pgxpool.Pool
}

// NewLockManager は新しい LockManager を作成します
func NewLockManager(pool *pgxpool.Pool) *LockManager {
	return &LockManager{pool: pool}
}

// コンパイル時の型チェック
var _ chat.LockManager = (*LockManager)(nil)

// WithConversationLock は会話ロックを保持した状態でfnを実行します。
// セッションスコープのロックを使うため、ロック保持中は同一コネクションを占有する
func (m *LockManager) WithConversationLock(ctx context.Context, conversationID uuid.UUID, fn func(ctx context.Context) error) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	lockID := GenerateLockID("conversation", conversationID.String())

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	defer func() {
		// コンテキストが死んでいてもロックは解放する
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	return fn(ctx)
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}
