package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/convobot/internal/core/cache"
	"github.com/jinford/convobot/internal/core/ratelimit"
	"github.com/jinford/convobot/internal/core/retrieval"
	"github.com/jinford/convobot/internal/core/usecase"
)

const (
	// DefaultHistoryLimit は履歴として読み込む直近メッセージ数のデフォルト
	DefaultHistoryLimit = 20
	// DefaultHistoryTokenBudget は履歴のトークン予算のデフォルト
	DefaultHistoryTokenBudget = 4000
	// DefaultRetrievalTopK は取得するグラウンディングチャンク数のデフォルト
	DefaultRetrievalTopK = 3
	// titleMaxLen は初回の発話から生成するタイトルの最大文字数
	titleMaxLen = 50

	// degradedResponseText はLLM障害時にユーザーへ返す退避メッセージ
	degradedResponseText = "I'm sorry, I'm temporarily unable to generate a response. Please try again in a moment."
)

// Retriever はグラウンディングコンテキストの取得インターフェース
type Retriever interface {
	Retrieve(ctx context.Context, useCaseID uuid.UUID, query string, k int) ([]*retrieval.ScoredChunk, error)
}

// HandleParams は1チャットリクエストの入力を表す
type HandleParams struct {
	UseCaseSlug    string
	ConversationID mo.Option[uuid.UUID] // 未指定なら新規会話を作成
	UserText       string
	ClientID       string
}

// HandleResult は1チャットリクエストの結果を表す
type HandleResult struct {
	ConversationID uuid.UUID
	Message        *Message // アシスタントの応答
	Title          *string  // 設定済みの会話タイトル
	Degraded       bool     // LLM障害によりこの応答が永続化されていない場合はtrue
}

// Orchestrator は1つのユーザーメッセージから1つのアシスタントメッセージを生成する。
// 制御フロー: レート制限 → 会話ロード → 履歴トリム → 検索 → プロンプト構築 →
// LLM呼び出し → 永続化 → キャッシュ無効化 → 非同期インデックス投入
type Orchestrator struct {
	limiter     *ratelimit.Limiter
	cache       *cache.Cache
	repo        Repository
	useCases    usecase.Repository
	retriever   Retriever
	llm         LLMClient
	locks       LockManager
	registry    *Registry
	indexer     IndexPublisher
	counter     TokenCounter
	logger      *slog.Logger
	now         func() time.Time
	historyLim  int
	tokenBudget int
	topK        int
}

// OrchestratorOption は Orchestrator のオプション設定
type OrchestratorOption func(*Orchestrator)

// WithHistoryLimit は履歴として読み込むメッセージ数を設定する
func WithHistoryLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.historyLim = limit
		}
	}
}

// WithHistoryTokenBudget は履歴のトークン予算を設定する
func WithHistoryTokenBudget(budget int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tokenBudget = budget
	}
}

// WithRetrievalTopK は取得チャンク数を設定する
func WithRetrievalTopK(k int) OrchestratorOption {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithTokenCounter はTokenCounterを差し替える
func WithTokenCounter(counter TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.counter = counter
	}
}

// WithOrchestratorLogger はロガーを差し替える
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithOrchestratorClock は現在時刻の取得関数を差し替える（テスト用）
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator は新しいOrchestratorを作成する
func NewOrchestrator(
	limiter *ratelimit.Limiter,
	c *cache.Cache,
	repo Repository,
	useCases usecase.Repository,
	retriever Retriever,
	llm LLMClient,
	locks LockManager,
	registry *Registry,
	indexer IndexPublisher,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		limiter:     limiter,
		cache:       c,
		repo:        repo,
		useCases:    useCases,
		retriever:   retriever,
		llm:         llm,
		locks:       locks,
		registry:    registry,
		indexer:     indexer,
		logger:      slog.Default(),
		now:         time.Now,
		historyLim:  DefaultHistoryLimit,
		tokenBudget: DefaultHistoryTokenBudget,
		topK:        DefaultRetrievalTopK,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle は1つのユーザーメッセージを処理してアシスタントの応答を返す。
// レート制限時は ErrRateLimited を返す。
// LLM障害時は Degraded=true の結果と ErrLLMTimeout / ErrLLMUnavailable を
// 併せて返す（退避メッセージは永続化されず、クライアントはリトライできる）
func (o *Orchestrator) Handle(ctx context.Context, params HandleParams) (*HandleResult, error) {
	if params.UserText == "" {
		return nil, fmt.Errorf("user text is required")
	}

	// 1. 入場判定
	decision := o.limiter.Check(ctx, params.ClientID)
	if !decision.Allowed {
		return nil, &RateLimitedError{ResetAt: decision.ResetAt}
	}

	uc, err := o.useCases.GetBySlug(ctx, params.UseCaseSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve use case: %w", err)
	}
	profile := o.registry.Resolve(uc.URISlug)

	// 2. 会話のロードまたは作成
	conv, err := o.loadOrCreateConversation(ctx, uc.ID, params.ConversationID)
	if err != nil {
		return nil, err
	}

	// 同一会話への同時送信を到着順に直列化する
	var result *HandleResult
	var handleErr error
	lockErr := o.locks.WithConversationLock(ctx, conv.ID, func(ctx context.Context) error {
		result, handleErr = o.exchange(ctx, uc, profile, conv, params)
		// LLM障害は結果と併せて外へ伝搬させる（ロック自体は正常解放）
		return nil
	})
	if lockErr != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", lockErr)
	}

	return result, handleErr
}

// exchange は会話ロック下で1往復分の処理を行う
func (o *Orchestrator) exchange(ctx context.Context, uc *usecase.UseCase, profile Profile, conv *Conversation, params HandleParams) (*HandleResult, error) {
	// 3. トリム済み履歴の取得（会話コンテキストキャッシュ経由）
	history, err := o.loadHistory(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	state := loadState(history)
	trimmed := TrimHistory(history, o.tokenBudget, o.counter)

	// 4. グラウンディングコンテキストの取得。
	// 失敗してもチャット自体は継続する（グラウンディングなしで回答）
	chunks, err := o.retriever.Retrieve(ctx, uc.ID, params.UserText, o.topK)
	if err != nil {
		o.logger.Warn("retrieval failed, continuing ungrounded",
			"conversationID", conv.ID, "error", err)
		chunks = nil
	}

	// 5. プロンプト構築（プロファイルの前処理フック込み）
	in := &PromptInput{
		UseCase:  uc,
		State:    state,
		Chunks:   chunks,
		History:  trimmed,
		UserText: params.UserText,
	}
	if err := profile.Preprocess(ctx, in); err != nil {
		return nil, fmt.Errorf("profile preprocess failed: %w", err)
	}
	systemPrompt := profile.SystemPrompt(in)
	messages := BuildPrompt(systemPrompt, in)

	// 6. LLM呼び出し（同一プロンプトの応答はキャッシュを再利用）
	responseText, cached, err := o.generate(ctx, systemPrompt, messages)
	if err != nil {
		if errors.Is(err, ErrLLMTimeout) || errors.Is(err, ErrLLMUnavailable) {
			// 退避応答。成功した往復として永続化はしない
			return &HandleResult{
				ConversationID: conv.ID,
				Message: &Message{
					ConversationID: conv.ID,
					Role:           RoleAssistant,
					Content:        degradedResponseText,
					Metadata:       map[string]any{"degraded": true},
					CreatedAt:      o.now(),
				},
				Title:    conv.Title,
				Degraded: true,
			}, err
		}
		return nil, err
	}

	reply := &Reply{Text: responseText}
	if err := profile.Postprocess(ctx, in, reply); err != nil {
		return nil, fmt.Errorf("profile postprocess failed: %w", err)
	}

	// 7. 永続化（コミットポイント）
	now := o.now()
	userMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           RoleUser,
		Content:        params.UserText,
		CreatedAt:      now,
	}
	metadata := reply.Metadata
	if reply.State != nil {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[stateKey] = map[string]any(reply.State)
	}
	if cached {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["cached"] = true
	}
	assistantMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        reply.Text,
		Metadata:       metadata,
		CreatedAt:      now,
	}

	title := deriveTitle(params.UserText)
	if err := o.repo.AppendExchange(ctx, conv.ID, userMsg, assistantMsg, title); err != nil {
		return nil, fmt.Errorf("failed to persist exchange: %w", err)
	}
	if conv.Title == nil {
		conv.Title = &title
	}
	conv.UpdatedAt = now

	// 8. キャッシュ無効化と非同期インデックス投入
	o.cache.Invalidate(ctx, cache.NamespaceConversation, conv.ID.String())
	o.indexer.EnqueueMessage(userMsg, uc.ID)
	o.indexer.EnqueueMessage(assistantMsg, uc.ID)
	o.indexer.EnqueueConversation(conv)

	o.logger.Info("exchange completed",
		"conversationID", conv.ID, "useCase", uc.URISlug,
		"grounded", len(chunks) > 0, "cachedResponse", cached)

	return &HandleResult{
		ConversationID: conv.ID,
		Message:        assistantMsg,
		Title:          conv.Title,
	}, nil
}

// generate はLLM応答キャッシュを参照しつつ応答を生成する。
// 退避応答がキャッシュされることはない（失敗時は保存しない）
func (o *Orchestrator) generate(ctx context.Context, systemPrompt string, messages []PromptMessage) (string, bool, error) {
	key := cache.HashKey(CacheFingerprint(systemPrompt, messages)...)

	if text, ok := o.cache.Get(ctx, cache.NamespaceLLMResponse, key); ok {
		return text, true, nil
	}

	text, err := o.llm.GenerateChat(ctx, messages)
	if err != nil {
		return "", false, err
	}

	o.cache.Set(ctx, cache.NamespaceLLMResponse, key, text)

	return text, false, nil
}

// loadOrCreateConversation は既存会話をロードするか新規作成する
func (o *Orchestrator) loadOrCreateConversation(ctx context.Context, useCaseID uuid.UUID, id mo.Option[uuid.UUID]) (*Conversation, error) {
	if convID, ok := id.Get(); ok {
		conv, err := o.repo.GetConversation(ctx, convID)
		if err != nil {
			return nil, err
		}
		if conv.UseCaseID != useCaseID {
			// 他ユースケースの会話は見えない扱いにする
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}

	now := o.now()
	conv, err := o.repo.CreateConversation(ctx, &Conversation{
		ID:        uuid.New(),
		UseCaseID: useCaseID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// loadHistory は直近メッセージを会話コンテキストキャッシュ経由で取得する
func (o *Orchestrator) loadHistory(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	history, err := cache.GetOrCompute(ctx, o.cache, cache.NamespaceConversation, conversationID.String(),
		func(ctx context.Context) ([]*Message, error) {
			return o.repo.ListRecentMessages(ctx, conversationID, o.historyLim)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

// loadState は直近のアシスタントメッセージから会話状態を復元する
func loadState(history []*Message) State {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != RoleAssistant || msg.Metadata == nil {
			continue
		}
		if raw, ok := msg.Metadata[stateKey]; ok {
			if m, ok := raw.(map[string]any); ok {
				return State(m)
			}
		}
	}
	return nil
}

// deriveTitle は初回の発話から会話タイトルを生成する
func deriveTitle(userText string) string {
	runes := []rune(userText)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen]) + "..."
	}
	return userText
}

// ListConversations はユースケース配下の会話一覧を返す
func (o *Orchestrator) ListConversations(ctx context.Context, useCaseID uuid.UUID) ([]*Conversation, error) {
	return o.repo.ListConversationsByUseCase(ctx, useCaseID)
}
