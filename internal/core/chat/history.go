package chat

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter はtiktokenのcl100k_baseエンコーダによるTokenCounter実装。
// OpenAIのチャットモデルおよびtext-embedding-3系と互換
type TiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTiktokenCounter は新しいTiktokenCounterを作成する
func NewTiktokenCounter() (*TiktokenCounter, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &TiktokenCounter{encoder: encoder}, nil
}

// CountTokens はテキストのトークン数を返す
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// インターフェース実装の確認
var _ TokenCounter = (*TiktokenCounter)(nil)

// TrimHistory は履歴をトークン予算内に収める。
// 入力は古い順で、新しいメッセージを優先して残す（先頭から削る）。
// counterがnilの場合はトリムせずそのまま返す
func TrimHistory(history []*Message, tokenBudget int, counter TokenCounter) []*Message {
	if counter == nil || tokenBudget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	// 新しい側から積み上げて予算を超えた時点で打ち切る
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += counter.CountTokens(history[i].Content)
		if total > tokenBudget {
			cut = i + 1
			break
		}
	}

	return history[cut:]
}
