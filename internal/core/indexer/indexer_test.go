package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/convobot/internal/core/chat"
)

// recordingSink は書き込まれた文書を記録するSink
type recordingSink struct {
	mu            sync.Mutex
	messages      []*MessageDoc
	conversations []*ConversationDoc
	failures      int // この回数だけ書き込みを失敗させる
}

func (s *recordingSink) IndexMessage(ctx context.Context, doc *MessageDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("elasticsearch unavailable")
	}
	s.messages = append(s.messages, doc)
	return nil
}

func (s *recordingSink) IndexConversation(ctx context.Context, doc *ConversationDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("elasticsearch unavailable")
	}
	s.conversations = append(s.conversations, doc)
	return nil
}

func (s *recordingSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// blockingSink は解放されるまで書き込みをブロックするSink
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) IndexMessage(ctx context.Context, doc *MessageDoc) error {
	<-s.release
	return nil
}

func (s *blockingSink) IndexConversation(ctx context.Context, doc *ConversationDoc) error {
	<-s.release
	return nil
}

func testMessage() *chat.Message {
	return &chat.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Role:           chat.RoleUser,
		Content:        "hello",
		CreatedAt:      time.Now(),
	}
}

func TestIndexerWritesEnqueuedDocuments(t *testing.T) {
	sink := &recordingSink{}
	idx, err := New(sink, WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)

	useCaseID := uuid.New()
	msg := testMessage()
	title := "onboarding"
	conv := &chat.Conversation{
		ID:        uuid.New(),
		UseCaseID: useCaseID,
		Title:     &title,
		UpdatedAt: time.Now(),
	}

	idx.EnqueueMessage(msg, useCaseID)
	idx.EnqueueConversation(conv)
	idx.Close()

	require.Len(t, sink.messages, 1)
	assert.Equal(t, msg.ID, sink.messages[0].ID)
	assert.Equal(t, useCaseID, sink.messages[0].UseCaseID)
	assert.Equal(t, "user", sink.messages[0].Role)

	require.Len(t, sink.conversations, 1)
	assert.Equal(t, "onboarding", sink.conversations[0].Title)

	stats := idx.Stats()
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, int64(2), stats.Indexed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestIndexerRetriesTransientFailure(t *testing.T) {
	sink := &recordingSink{failures: 2}
	idx, err := New(sink, WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)

	idx.EnqueueMessage(testMessage(), uuid.New())
	idx.Close()

	// 2回失敗した後のリトライで成功する
	assert.Equal(t, 1, sink.messageCount())

	stats := idx.Stats()
	assert.Equal(t, int64(1), stats.Indexed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestIndexerGivesUpAfterMaxRetries(t *testing.T) {
	sink := &recordingSink{failures: 100}
	idx, err := New(sink, WithMaxRetries(2), WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)

	idx.EnqueueMessage(testMessage(), uuid.New())
	idx.Close()

	assert.Equal(t, 0, sink.messageCount())

	stats := idx.Stats()
	assert.Equal(t, int64(0), stats.Indexed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestIndexerDropsWhenQueueFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	idx, err := New(sink, WithQueueSize(1), WithWorkers(1))
	require.NoError(t, err)

	// ワーカー1つが塞がり、キュー容量1を超えた投入は破棄される
	for i := 0; i < 10; i++ {
		idx.EnqueueMessage(testMessage(), uuid.New())
	}

	stats := idx.Stats()
	assert.Positive(t, stats.Dropped)
	assert.Equal(t, int64(10), stats.Dropped+stats.Enqueued)

	close(sink.release)
	idx.Close()
}

func TestIndexerDropsAfterClose(t *testing.T) {
	sink := &recordingSink{}
	idx, err := New(sink)
	require.NoError(t, err)
	idx.Close()

	idx.EnqueueMessage(testMessage(), uuid.New())

	stats := idx.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(0), stats.Enqueued)
}

func TestIndexerCloseIsIdempotent(t *testing.T) {
	idx, err := New(&recordingSink{})
	require.NoError(t, err)

	idx.Close()
	idx.Close()
}
