package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited はレート制限により拒否された場合のエラー（resetAt以降にリトライ可能）
	ErrRateLimited = errors.New("rate limited")

	// ErrLLMUnavailable はLLMが利用できない場合のエラー（リクエスト失敗、状態は壊れない）
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrLLMTimeout はLLM呼び出しがタイムアウトした場合のエラー
	ErrLLMTimeout = errors.New("llm timeout")

	// ErrConversationNotFound は会話が見つからない場合のエラー
	ErrConversationNotFound = errors.New("conversation not found")
)

// RateLimitedError はレート制限エラーの詳細を保持します。
// errors.Is(err, ErrRateLimited) で判定できる
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.ResetAt.Format(time.RFC3339))
}

// Is は ErrRateLimited とのマッチを可能にする
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
