package chat

import (
	"fmt"
	"strings"
)

// BuildPrompt はシステムプロンプト・グラウンディングコンテキスト・
// トリム済み履歴・ユーザーメッセージからLLMへ渡すメッセージ列を構築する
func BuildPrompt(systemPrompt string, in *PromptInput) []PromptMessage {
	messages := make([]PromptMessage, 0, len(in.History)+2)
	messages = append(messages, PromptMessage{Role: RoleSystem, Content: systemPrompt})

	for _, msg := range in.History {
		messages = append(messages, PromptMessage{Role: msg.Role, Content: msg.Content})
	}

	userContent := in.UserText
	if len(in.Chunks) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\nRelevant information from documents:\n")
		for i, chunk := range in.Chunks {
			sb.WriteString(fmt.Sprintf("\n[Context %d]:\n%s\n", i+1, chunk.Text))
		}
		userContent += sb.String()
	}
	messages = append(messages, PromptMessage{Role: RoleUser, Content: userContent})

	return messages
}

// CacheFingerprint はLLM応答キャッシュ用の素材を連結する。
// 同一のシステムプロンプト・コンテキスト・履歴・質問の組だけが同じキーになる
func CacheFingerprint(systemPrompt string, messages []PromptMessage) []string {
	parts := make([]string, 0, len(messages)*2+1)
	parts = append(parts, systemPrompt)
	for _, msg := range messages {
		parts = append(parts, string(msg.Role), msg.Content)
	}
	return parts
}
