package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/convobot/internal/core/cache"
)

// Session はクライアントが直近に操作していた会話を表す。
// セッションキャッシュに保存され、TTL内の再接続で会話を再開できる
type Session struct {
	ClientID       string    `json:"client_id"`
	UseCaseSlug    string    `json:"use_case_slug"`
	ConversationID uuid.UUID `json:"conversation_id"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// SessionStore はセッションキャッシュへのアクセスを提供する
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore は新しいSessionStoreを作成する
func NewSessionStore(c *cache.Cache) *SessionStore {
	return &SessionStore{cache: c}
}

// Load はクライアントのセッションを取得する。存在しない場合はfalseを返す
func (s *SessionStore) Load(ctx context.Context, clientID, useCaseSlug string) (*Session, bool) {
	sess, ok := cache.GetJSON[*Session](ctx, s.cache, cache.NamespaceSession, sessionKey(clientID, useCaseSlug))
	if !ok {
		return nil, false
	}
	return sess, true
}

// Save はクライアントのセッションを保存する。
// 失敗してもチャット自体には影響しない（次回は新規会話になるだけ）
func (s *SessionStore) Save(ctx context.Context, sess *Session) {
	// セッション保存の失敗は致命的ではない
	_ = cache.SetJSON(ctx, s.cache, cache.NamespaceSession, sessionKey(sess.ClientID, sess.UseCaseSlug), sess)
}

// Clear はクライアントのセッションを破棄する
func (s *SessionStore) Clear(ctx context.Context, clientID, useCaseSlug string) {
	s.cache.Invalidate(ctx, cache.NamespaceSession, sessionKey(clientID, useCaseSlug))
}

func sessionKey(clientID, useCaseSlug string) string {
	return clientID + ":" + useCaseSlug
}
