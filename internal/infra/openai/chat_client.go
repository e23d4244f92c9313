package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/convobot/internal/core/chat"
)

const (
	// DefaultChatModel はデフォルトで使用するOpenAIモデル
	DefaultChatModel = "gpt-4o-mini"

	// DefaultChatTimeout はチャット補完のデフォルトタイムアウト。
	// 応答経路のブロック上限であり、超過時は退避応答に切り替わる
	DefaultChatTimeout = 30 * time.Second
)

// ChatClient は chat.LLMClient を実装する OpenAI クライアントです
type ChatClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// インターフェース実装の確認
var _ chat.LLMClient = (*ChatClient)(nil)

type chatClientOptions struct {
	model   string
	timeout time.Duration
}

// ChatClientOption は ChatClient のオプション設定
type ChatClientOption func(*chatClientOptions)

// WithChatModel はモデル名を上書きする
func WithChatModel(model string) ChatClientOption {
	return func(o *chatClientOptions) {
		o.model = model
	}
}

// WithChatTimeout はタイムアウトを上書きする
func WithChatTimeout(timeout time.Duration) ChatClientOption {
	return func(o *chatClientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewChatClient は新しい ChatClient を作成する
func NewChatClient(apiKey string, opts ...ChatClientOption) *ChatClient {
	options := chatClientOptions{
		model:   DefaultChatModel,
		timeout: DefaultChatTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &ChatClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   options.model,
		timeout: options.timeout,
	}
}

// ModelName はモデル名を返す
func (c *ChatClient) ModelName() string {
	return c.model
}

// GenerateChat はチャット補完を生成する。
// タイムアウト時は chat.ErrLLMTimeout、その他のAPI障害時は chat.ErrLLMUnavailable を返す
func (c *ChatClient) GenerateChat(ctx context.Context, messages []chat.PromptMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", chat.ErrLLMTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", chat.ErrLLMUnavailable, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", chat.ErrLLMUnavailable)
	}

	return completion.Choices[0].Message.Content, nil
}
