package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role はメッセージの発話者種別
type Role string

const (
	// RoleUser はユーザーの発話
	RoleUser Role = "user"
	// RoleAssistant はアシスタントの発話
	RoleAssistant Role = "assistant"
	// RoleSystem はシステムプロンプト（永続化はされない）
	RoleSystem Role = "system"
)

// Conversation は1つの会話スレッドを表します。
// UpdatedAt はメッセージ追記のたびに単調非減少で更新される
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UseCaseID uuid.UUID `json:"useCaseId"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message は会話内の1メッセージを表します。追記専用で個別更新・削除はしない
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversationId"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// PromptMessage はLLMに渡すメッセージを表します
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Repository は会話とメッセージの永続化インターフェース
type Repository interface {
	// GetConversation はIDで会話を取得する
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// CreateConversation は新しい会話を作成する
	CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error)

	// ListConversationsByUseCase はユースケース配下の会話一覧をupdated_at降順で取得する
	ListConversationsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*Conversation, error)

	// ListRecentMessages は直近limit件のメッセージを古い順で返す
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)

	// AppendExchange はユーザー/アシスタントのメッセージ組を単一トランザクションで追記する。
	// titleは会話のタイトルが未設定の場合のみ設定され、updated_atは必ず更新される。
	// ここが永続化のコミットポイントであり、これ以前の処理は破棄可能
	AppendExchange(ctx context.Context, conversationID uuid.UUID, userMsg, assistantMsg *Message, title string) error
}

// LockManager は会話単位のアドバイザリロックを提供する。
// 同一会話への同時メッセージ送信を直列化し、追記順序を到着順に保つ
type LockManager interface {
	WithConversationLock(ctx context.Context, conversationID uuid.UUID, fn func(ctx context.Context) error) error
}

// LLMClient はチャット補完のインターフェース。
// 失敗は ErrLLMTimeout / ErrLLMUnavailable のいずれかにラップされる
type LLMClient interface {
	GenerateChat(ctx context.Context, messages []PromptMessage) (string, error)
}

// IndexPublisher は全文検索インデックスへの非同期ミラーリングを受け付ける。
// エンキューは呼び出し側をブロックせず、失敗しても応答には影響しない
type IndexPublisher interface {
	EnqueueMessage(msg *Message, useCaseID uuid.UUID)
	EnqueueConversation(conv *Conversation)
}
