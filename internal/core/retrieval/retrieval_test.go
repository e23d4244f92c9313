package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/convobot/internal/core/cache"
)

// memoryStore はテスト用のインメモリcache.Store
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return value, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// stubSearchRepository は受け取った引数を記録するSearchRepository
type stubSearchRepository struct {
	lastUseCaseID uuid.UUID
	lastLimit     int
	lastMinScore  float64
	results       []*ScoredChunk
	err           error
}

func (r *stubSearchRepository) SearchChunksByUseCase(ctx context.Context, useCaseID uuid.UUID, queryVector []float32, limit int, minScore float64) ([]*ScoredChunk, error) {
	r.lastUseCaseID = useCaseID
	r.lastLimit = limit
	r.lastMinScore = minScore
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}

// stubQueryEmbedder は呼び出し回数を数えるEmbedder
type stubQueryEmbedder struct {
	calls int
	err   error
}

func (e *stubQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestRetrieveValidatesInput(t *testing.T) {
	ctx := context.Background()
	o := New(&stubSearchRepository{}, &stubQueryEmbedder{}, cache.New(newMemoryStore()))

	_, err := o.Retrieve(ctx, uuid.New(), "", 3)
	assert.Error(t, err)

	_, err = o.Retrieve(ctx, uuid.Nil, "question", 3)
	assert.Error(t, err)
}

func TestRetrieveDefaultsTopK(t *testing.T) {
	ctx := context.Background()
	repo := &stubSearchRepository{}
	o := New(repo, &stubQueryEmbedder{}, cache.New(newMemoryStore()))

	_, err := o.Retrieve(ctx, uuid.New(), "question", 0)

	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, repo.lastLimit)
}

func TestRetrievePassesUseCaseAndMinScore(t *testing.T) {
	ctx := context.Background()
	useCaseID := uuid.New()
	repo := &stubSearchRepository{}
	o := New(repo, &stubQueryEmbedder{}, cache.New(newMemoryStore()), WithMinScore(0.7))

	_, err := o.Retrieve(ctx, useCaseID, "question", 5)

	require.NoError(t, err)
	assert.Equal(t, useCaseID, repo.lastUseCaseID)
	assert.Equal(t, 5, repo.lastLimit)
	assert.Equal(t, 0.7, repo.lastMinScore)
}

func TestRetrieveCachesQueryEmbedding(t *testing.T) {
	ctx := context.Background()
	embedder := &stubQueryEmbedder{}
	o := New(&stubSearchRepository{}, embedder, cache.New(newMemoryStore()))
	useCaseID := uuid.New()

	_, err := o.Retrieve(ctx, useCaseID, "same question", 3)
	require.NoError(t, err)
	_, err = o.Retrieve(ctx, useCaseID, "same question", 3)
	require.NoError(t, err)

	// 同一クエリの2回目はキャッシュからEmbeddingを再利用する
	assert.Equal(t, 1, embedder.calls)

	_, err = o.Retrieve(ctx, useCaseID, "different question", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, embedder.calls)
}

func TestRetrieveEmptyResultIsValid(t *testing.T) {
	ctx := context.Background()
	repo := &stubSearchRepository{results: []*ScoredChunk{}}
	o := New(repo, &stubQueryEmbedder{}, cache.New(newMemoryStore()))

	chunks, err := o.Retrieve(ctx, uuid.New(), "question", 3)

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	embedder := &stubQueryEmbedder{err: errors.New("embedding api down")}
	o := New(&stubSearchRepository{}, embedder, cache.New(newMemoryStore()))

	_, err := o.Retrieve(ctx, uuid.New(), "question", 3)

	assert.ErrorContains(t, err, "failed to embed query")
}

func TestRetrieveSearchFailure(t *testing.T) {
	ctx := context.Background()
	repo := &stubSearchRepository{err: errors.New("db down")}
	o := New(repo, &stubQueryEmbedder{}, cache.New(newMemoryStore()))

	_, err := o.Retrieve(ctx, uuid.New(), "question", 3)

	assert.ErrorContains(t, err, "vector search failed")
}
