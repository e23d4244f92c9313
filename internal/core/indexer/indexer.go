// Package indexer は検索インデックスへの非同期投入を行う。
// チャットの応答経路をブロックしないことを最優先とし、
// キューが溢れた場合はジョブを破棄してチャットを継続させる
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/jinford/convobot/internal/core/chat"
)

const (
	// DefaultQueueSize はジョブキューの容量のデフォルト
	DefaultQueueSize = 256
	// DefaultWorkers はインデックス書き込みワーカー数のデフォルト
	DefaultWorkers = 4
	// DefaultMaxRetries はジョブあたりの最大リトライ回数
	DefaultMaxRetries = 3
	// DefaultRetryBackoff はリトライ間隔の基準値
	DefaultRetryBackoff = 500 * time.Millisecond
)

// MessageDoc は検索インデックスに投入するメッセージ文書を表す
type MessageDoc struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UseCaseID      uuid.UUID `json:"use_case_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDoc は検索インデックスに投入する会話文書を表す
type ConversationDoc struct {
	ID        uuid.UUID `json:"id"`
	UseCaseID uuid.UUID `json:"use_case_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink は検索インデックスへの書き込みインターフェース
type Sink interface {
	IndexMessage(ctx context.Context, doc *MessageDoc) error
	IndexConversation(ctx context.Context, doc *ConversationDoc) error
}

type jobKind int

const (
	jobMessage jobKind = iota
	jobConversation
)

type job struct {
	kind         jobKind
	message      *MessageDoc
	conversation *ConversationDoc
}

func (j job) String() string {
	switch j.kind {
	case jobMessage:
		return fmt.Sprintf("message %s", j.message.ID)
	case jobConversation:
		return fmt.Sprintf("conversation %s", j.conversation.ID)
	}
	return "unknown"
}

// Indexer はジョブを有界キューに受け付け、ワーカープールで非同期に書き込む
type Indexer struct {
	sink       Sink
	jobs       chan job
	pool       *ants.Pool
	wg         sync.WaitGroup
	dispatchWg sync.WaitGroup
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
	metrics    metrics

	mu     sync.Mutex
	closed bool
}

// インターフェース実装の確認
var _ chat.IndexPublisher = (*Indexer)(nil)

// Option はIndexerのオプション設定
type Option func(*options)

type options struct {
	queueSize  int
	workers    int
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WithQueueSize はジョブキューの容量を設定する
func WithQueueSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithWorkers はワーカー数を設定する
func WithWorkers(workers int) Option {
	return func(o *options) {
		if workers > 0 {
			o.workers = workers
		}
	}
}

// WithMaxRetries はジョブあたりの最大リトライ回数を設定する
func WithMaxRetries(retries int) Option {
	return func(o *options) {
		if retries >= 0 {
			o.maxRetries = retries
		}
	}
}

// WithRetryBackoff はリトライ間隔の基準値を設定する
func WithRetryBackoff(backoff time.Duration) Option {
	return func(o *options) {
		if backoff > 0 {
			o.backoff = backoff
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New は新しいIndexerを作成し、ディスパッチャを起動する
func New(sink Sink, opts ...Option) (*Indexer, error) {
	o := &options{
		queueSize:  DefaultQueueSize,
		workers:    DefaultWorkers,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	idx := &Indexer{
		sink:       sink,
		jobs:       make(chan job, o.queueSize),
		pool:       pool,
		logger:     o.logger,
		maxRetries: o.maxRetries,
		backoff:    o.backoff,
	}

	idx.dispatchWg.Add(1)
	go idx.dispatch()

	return idx, nil
}

// EnqueueMessage はメッセージのインデックスジョブを投入する。
// キューが満杯の場合はジョブを破棄する（チャット経路はブロックしない）
func (idx *Indexer) EnqueueMessage(msg *chat.Message, useCaseID uuid.UUID) {
	idx.enqueue(job{
		kind: jobMessage,
		message: &MessageDoc{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			UseCaseID:      useCaseID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		},
	})
}

// EnqueueConversation は会話のインデックスジョブを投入する
func (idx *Indexer) EnqueueConversation(conv *chat.Conversation) {
	title := ""
	if conv.Title != nil {
		title = *conv.Title
	}
	idx.enqueue(job{
		kind: jobConversation,
		conversation: &ConversationDoc{
			ID:        conv.ID,
			UseCaseID: conv.UseCaseID,
			Title:     title,
			UpdatedAt: conv.UpdatedAt,
		},
	})
}

func (idx *Indexer) enqueue(j job) {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		idx.metrics.dropped.Add(1)
		idx.logger.Warn("indexer closed, dropping job", "job", j.String())
		return
	}

	select {
	case idx.jobs <- j:
		idx.mu.Unlock()
		idx.metrics.enqueued.Add(1)
	default:
		idx.mu.Unlock()
		idx.metrics.dropped.Add(1)
		idx.logger.Warn("index queue full, dropping job", "job", j.String())
	}
}

// dispatch はキューからジョブを取り出してワーカープールに渡す
func (idx *Indexer) dispatch() {
	defer idx.dispatchWg.Done()

	for j := range idx.jobs {
		j := j
		idx.wg.Add(1)
		if err := idx.pool.Submit(func() {
			defer idx.wg.Done()
			idx.process(j)
		}); err != nil {
			idx.wg.Done()
			idx.metrics.dropped.Add(1)
			idx.logger.Warn("failed to submit index job", "job", j.String(), "error", err)
		}
	}
}

// process は1ジョブをリトライ付きで書き込む
func (idx *Indexer) process(j job) {
	ctx := context.Background()

	var err error
	for attempt := 0; attempt <= idx.maxRetries; attempt++ {
		if attempt > 0 {
			idx.metrics.retried.Add(1)
			time.Sleep(idx.backoff * time.Duration(attempt))
		}

		err = idx.write(ctx, j)
		if err == nil {
			idx.metrics.indexed.Add(1)
			return
		}
	}

	idx.metrics.failed.Add(1)
	idx.logger.Warn("index job failed after retries",
		"job", j.String(), "retries", idx.maxRetries, "error", err)
}

func (idx *Indexer) write(ctx context.Context, j job) error {
	switch j.kind {
	case jobMessage:
		return idx.sink.IndexMessage(ctx, j.message)
	case jobConversation:
		return idx.sink.IndexConversation(ctx, j.conversation)
	}
	return fmt.Errorf("unknown job kind: %d", j.kind)
}

// Close は新規投入を止め、キュー内の残ジョブを処理し切ってから停止する
func (idx *Indexer) Close() {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return
	}
	idx.closed = true
	idx.mu.Unlock()

	close(idx.jobs)
	idx.dispatchWg.Wait()
	idx.wg.Wait()
	idx.pool.Release()
}

// Stats は稼働統計のスナップショットを返す
func (idx *Indexer) Stats() Stats {
	return idx.metrics.snapshot()
}
