package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/convobot/internal/core/cache"
	"github.com/jinford/convobot/internal/core/ratelimit"
	"github.com/jinford/convobot/internal/core/retrieval"
	"github.com/jinford/convobot/internal/core/usecase"
)

// memStore はテスト用のインメモリcache.Store
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return value, nil
}

func (s *memStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// memWindowStore はテスト用のインメモリWindowStore
type memWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemWindowStore() *memWindowStore {
	return &memWindowStore{counts: map[string]int64{}}
}

func (s *memWindowStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

// stubUseCaseRepo は固定のユースケースを返すusecase.Repository
type stubUseCaseRepo struct {
	uc *usecase.UseCase
}

func (r *stubUseCaseRepo) GetBySlug(ctx context.Context, slug string) (*usecase.UseCase, error) {
	if r.uc == nil || r.uc.URISlug != slug {
		return nil, usecase.ErrNotFound
	}
	return r.uc, nil
}

func (r *stubUseCaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*usecase.UseCase, error) {
	if r.uc == nil || r.uc.ID != id {
		return nil, usecase.ErrNotFound
	}
	return r.uc, nil
}

func (r *stubUseCaseRepo) List(ctx context.Context) ([]*usecase.UseCase, error) {
	return []*usecase.UseCase{r.uc}, nil
}

func (r *stubUseCaseRepo) CreateIfNotExists(ctx context.Context, uc *usecase.UseCase) (*usecase.UseCase, error) {
	return uc, nil
}

// appendCall はAppendExchangeへの1回の呼び出し内容
type appendCall struct {
	conversationID uuid.UUID
	userMsg        *Message
	assistantMsg   *Message
	title          string
}

// stubChatRepo はテスト用のインメモリRepository
type stubChatRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]*Message
	appends       []appendCall
}

func newStubChatRepo() *stubChatRepo {
	return &stubChatRepo{
		conversations: map[uuid.UUID]*Conversation{},
		messages:      map[uuid.UUID][]*Message{},
	}
}

func (r *stubChatRepo) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (r *stubChatRepo) CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = conv
	return conv, nil
}

func (r *stubChatRepo) ListConversationsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*Conversation, 0)
	for _, conv := range r.conversations {
		if conv.UseCaseID == useCaseID {
			result = append(result, conv)
		}
	}
	return result, nil
}

func (r *stubChatRepo) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (r *stubChatRepo) AppendExchange(ctx context.Context, conversationID uuid.UUID, userMsg, assistantMsg *Message, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}
	r.messages[conversationID] = append(r.messages[conversationID], userMsg, assistantMsg)
	r.appends = append(r.appends, appendCall{
		conversationID: conversationID,
		userMsg:        userMsg,
		assistantMsg:   assistantMsg,
		title:          title,
	})
	return nil
}

// stubLocks はロックを取らずにfnを実行するLockManager
type stubLocks struct {
	lockedIDs []uuid.UUID
}

func (l *stubLocks) WithConversationLock(ctx context.Context, conversationID uuid.UUID, fn func(ctx context.Context) error) error {
	l.lockedIDs = append(l.lockedIDs, conversationID)
	return fn(ctx)
}

// stubLLM は固定応答を返すLLMClient
type stubLLM struct {
	reply string
	err   error
	calls int
}

func (c *stubLLM) GenerateChat(ctx context.Context, messages []PromptMessage) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// stubRetriever は固定チャンクを返すRetriever
type stubRetriever struct {
	chunks []*retrieval.ScoredChunk
	err    error
}

func (r *stubRetriever) Retrieve(ctx context.Context, useCaseID uuid.UUID, query string, k int) ([]*retrieval.ScoredChunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.chunks, nil
}

// stubIndexer は投入されたドキュメントを記録するIndexPublisher
type stubIndexer struct {
	mu            sync.Mutex
	messages      []*Message
	conversations []*Conversation
}

func (i *stubIndexer) EnqueueMessage(msg *Message, useCaseID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, msg)
}

func (i *stubIndexer) EnqueueConversation(conv *Conversation) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.conversations = append(i.conversations, conv)
}

// fixture は1テスト分の依存一式
type fixture struct {
	store     *memStore
	repo      *stubChatRepo
	llm       *stubLLM
	indexer   *stubIndexer
	retriever *stubRetriever
	locks     *stubLocks
	uc        *usecase.UseCase
}

func newFixture() *fixture {
	return &fixture{
		store:     newMemStore(),
		repo:      newStubChatRepo(),
		llm:       &stubLLM{reply: "hello from assistant"},
		indexer:   &stubIndexer{},
		retriever: &stubRetriever{},
		locks:     &stubLocks{},
		uc: &usecase.UseCase{
			ID:      uuid.New(),
			Name:    "General Assistant",
			URISlug: "general-assistant",
		},
	}
}

func (f *fixture) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	limiter := ratelimit.New(newMemWindowStore())
	registry := NewRegistry(&DefaultProfile{})
	return NewOrchestrator(
		limiter,
		cache.New(f.store),
		f.repo,
		&stubUseCaseRepo{uc: f.uc},
		f.retriever,
		f.llm,
		f.locks,
		registry,
		f.indexer,
		opts...,
	)
}

func TestHandleRejectsEmptyText(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	_, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug: f.uc.URISlug,
		ClientID:    "client-1",
	})

	assert.Error(t, err)
}

func TestHandleRateLimited(t *testing.T) {
	f := newFixture()
	limiter := ratelimit.New(newMemWindowStore(), ratelimit.WithLimits(1, 0))
	registry := NewRegistry(&DefaultProfile{})
	o := NewOrchestrator(limiter, cache.New(f.store), f.repo, &stubUseCaseRepo{uc: f.uc},
		f.retriever, f.llm, f.locks, registry, f.indexer)

	params := HandleParams{
		UseCaseSlug: f.uc.URISlug,
		UserText:    "hello",
		ClientID:    "client-1",
	}

	_, err := o.Handle(context.Background(), params)
	require.NoError(t, err)

	// 閾値超過後は ErrRateLimited（resetAt付き）
	_, err = o.Handle(context.Background(), params)
	require.ErrorIs(t, err, ErrRateLimited)

	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.False(t, rateErr.ResetAt.IsZero())

	// 拒否されたリクエストは何も永続化しない
	assert.Len(t, f.repo.appends, 1)
}

func TestHandleNewConversationSuccess(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	result, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug: f.uc.URISlug,
		UserText:    "what is the onboarding process?",
		ClientID:    "client-1",
	})

	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, RoleAssistant, result.Message.Role)
	assert.Equal(t, "hello from assistant", result.Message.Content)
	require.NotNil(t, result.Title)
	assert.Equal(t, "what is the onboarding process?", *result.Title)

	// user/assistantの組が1回で追記され、タイトルは初回の発話から生成される
	require.Len(t, f.repo.appends, 1)
	call := f.repo.appends[0]
	assert.Equal(t, result.ConversationID, call.conversationID)
	assert.Equal(t, RoleUser, call.userMsg.Role)
	assert.Equal(t, "what is the onboarding process?", call.userMsg.Content)
	assert.Equal(t, "what is the onboarding process?", call.title)

	// 会話ロック下で処理される
	assert.Equal(t, []uuid.UUID{result.ConversationID}, f.locks.lockedIDs)

	// 会話コンテキストキャッシュは追記後に無効化される
	assert.False(t, f.store.has(cache.Key(cache.NamespaceConversation, result.ConversationID.String())))

	// 全文検索へはメッセージ2件と会話1件が投入される
	assert.Len(t, f.indexer.messages, 2)
	assert.Len(t, f.indexer.conversations, 1)
}

func TestHandleTitleTruncation(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	longText := strings.Repeat("あ", 60)
	_, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug: f.uc.URISlug,
		UserText:    longText,
		ClientID:    "client-1",
	})

	require.NoError(t, err)
	require.Len(t, f.repo.appends, 1)
	assert.Equal(t, strings.Repeat("あ", 50)+"...", f.repo.appends[0].title)
}

func TestHandleDegradedOnLLMFailure(t *testing.T) {
	tests := []struct {
		name    string
		llmErr  error
		wantErr error
	}{
		{
			name:    "タイムアウト",
			llmErr:  fmt.Errorf("%w: request took too long", ErrLLMTimeout),
			wantErr: ErrLLMTimeout,
		},
		{
			name:    "LLM利用不可",
			llmErr:  fmt.Errorf("%w: connection refused", ErrLLMUnavailable),
			wantErr: ErrLLMUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.llm.err = tt.llmErr
			o := f.orchestrator()

			result, err := o.Handle(context.Background(), HandleParams{
				UseCaseSlug: f.uc.URISlug,
				UserText:    "hello",
				ClientID:    "client-1",
			})

			// 退避応答と元のエラーが併せて返る
			require.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, result)
			assert.True(t, result.Degraded)
			assert.Equal(t, degradedResponseText, result.Message.Content)

			// 退避応答は永続化もインデックス投入もされない
			assert.Empty(t, f.repo.appends)
			assert.Empty(t, f.indexer.messages)
		})
	}
}

func TestHandleCrossUseCaseConversationIsHidden(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	// 他ユースケースの既存会話
	otherConv := &Conversation{ID: uuid.New(), UseCaseID: uuid.New()}
	f.repo.conversations[otherConv.ID] = otherConv

	_, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug:    f.uc.URISlug,
		ConversationID: mo.Some(otherConv.ID),
		UserText:       "hello",
		ClientID:       "client-1",
	})

	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestHandleResponseCacheHit(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	params := HandleParams{
		UseCaseSlug: f.uc.URISlug,
		UserText:    "what is the onboarding process?",
		ClientID:    "client-1",
	}

	// 会話を指定しない2回のリクエストは同一プロンプトになる
	_, err := o.Handle(context.Background(), params)
	require.NoError(t, err)

	result, err := o.Handle(context.Background(), params)
	require.NoError(t, err)

	// 2回目はLLM応答キャッシュから返る
	assert.Equal(t, 1, f.llm.calls)
	assert.Equal(t, true, result.Message.Metadata["cached"])
}

func TestHandleRetrievalFailureContinuesUngrounded(t *testing.T) {
	f := newFixture()
	f.retriever.err = errors.New("vector search down")
	o := f.orchestrator()

	result, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug: f.uc.URISlug,
		UserText:    "hello",
		ClientID:    "client-1",
	})

	// 検索障害はチャットを止めない
	require.NoError(t, err)
	assert.Equal(t, "hello from assistant", result.Message.Content)
}

func TestHandleStatePersistsAcrossExchanges(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	conv := &Conversation{ID: uuid.New(), UseCaseID: f.uc.ID}
	f.repo.conversations[conv.ID] = conv
	f.repo.messages[conv.ID] = []*Message{
		{
			ConversationID: conv.ID,
			Role:           RoleAssistant,
			Content:        "previous reply",
			Metadata: map[string]any{
				stateKey: map[string]any{"stage": "skill_collection"},
			},
		},
	}

	_, err := o.Handle(context.Background(), HandleParams{
		UseCaseSlug:    f.uc.URISlug,
		ConversationID: mo.Some(conv.ID),
		UserText:       "next message",
		ClientID:       "client-1",
	})

	require.NoError(t, err)
	require.Len(t, f.repo.appends, 1)

	// 直近アシスタントメッセージの状態が次の往復に引き継がれる
	meta := f.repo.appends[0].assistantMsg.Metadata
	require.NotNil(t, meta)
	state, ok := meta[stateKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "skill_collection", state["stage"])
}

func TestListConversations(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	conv := &Conversation{ID: uuid.New(), UseCaseID: f.uc.ID}
	f.repo.conversations[conv.ID] = conv

	convs, err := o.ListConversations(context.Background(), f.uc.ID)

	require.NoError(t, err)
	assert.Len(t, convs, 1)
}
