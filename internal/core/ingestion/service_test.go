package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepository はテスト用のインメモリRepository
type stubRepository struct {
	docs   map[uuid.UUID]*Document
	chunks map[uuid.UUID][]*Chunk

	completeErr error
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		docs:   map[uuid.UUID]*Document{},
		chunks: map[uuid.UUID][]*Chunk{},
	}
}

func (r *stubRepository) CreateDocument(ctx context.Context, doc *Document) (*Document, error) {
	r.docs[doc.ID] = doc
	return doc, nil
}

func (r *stubRepository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (r *stubRepository) ListDocumentsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*Document, error) {
	result := make([]*Document, 0)
	for _, doc := range r.docs {
		if doc.UseCaseID == useCaseID {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (r *stubRepository) CompleteDocument(ctx context.Context, documentID uuid.UUID, chunks []*Chunk) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	r.chunks[documentID] = chunks
	doc.Status = StatusReady
	return nil
}

func (r *stubRepository) MarkDocumentFailed(ctx context.Context, documentID uuid.UUID) error {
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = StatusFailed
	return nil
}

func (r *stubRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.docs[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(r.docs, id)
	delete(r.chunks, id)
	return nil
}

// stubEmbedder はテスト用のEmbedder
type stubEmbedder struct {
	dimension  int
	batchCalls int
	failAfter  int // このバッチ数以降は失敗する（0なら失敗しない）
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *stubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	if e.failAfter > 0 && e.batchCalls >= e.failAfter {
		return nil, errors.New("embedding api unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, e.dimension)
	}
	return vectors, nil
}

func (e *stubEmbedder) Dimension() int    { return e.dimension }
func (e *stubEmbedder) MaxBatchSize() int { return 100 }

// stubStorage はテスト用のインメモリStorage
type stubStorage struct {
	files map[string][]byte
}

func newStubStorage() *stubStorage {
	return &stubStorage{files: map[string][]byte{}}
}

func (s *stubStorage) Save(ctx context.Context, useCaseID uuid.UUID, filename string, data []byte) (string, error) {
	path := "mem://" + useCaseID.String() + "/" + filename
	s.files[path] = data
	return path, nil
}

func (s *stubStorage) Read(ctx context.Context, path string) ([]byte, error) {
	data, ok := s.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (s *stubStorage) Remove(ctx context.Context, path string) error {
	delete(s.files, path)
	return nil
}

func newTestService(repo *stubRepository, embedder *stubEmbedder, storage *stubStorage) *Service {
	return NewService(repo, embedder, storage,
		WithChunker(NewChunker(1000, 200)),
		WithEmbedThrottle(10000), // テストでは実質ノースロットル
	)
}

func TestIngestRejectsUnsupportedFileType(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newStubRepository(), &stubEmbedder{dimension: 4}, newStubStorage())

	_, err := svc.Ingest(ctx, uuid.New(), "malware.exe", []byte("data"))

	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestIngestCreatesProcessingDocument(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	storage := newStubStorage()
	svc := newTestService(repo, &stubEmbedder{dimension: 4}, storage)

	doc, err := svc.Ingest(ctx, uuid.New(), "notes.txt", []byte("hello world"))

	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Equal(t, int64(11), doc.SizeBytes)
	assert.Contains(t, storage.files, doc.StoragePath)
}

func TestProcessTransitionsToReady(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	embedder := &stubEmbedder{dimension: 4}
	storage := newStubStorage()
	svc := newTestService(repo, embedder, storage)

	text := strings.Repeat("a", 2400)
	doc, err := svc.Ingest(ctx, uuid.New(), "doc.txt", []byte(text))
	require.NoError(t, err)

	require.NoError(t, svc.Process(ctx, doc.ID))

	processed, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, processed.Status)

	// ストライド800・サイズ1000で 0, 800, 1600 の3チャンク
	chunks := repo.chunks[doc.ID]
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, doc.ID, chunk.DocumentID)
		assert.Len(t, chunk.Embedding, 4)
	}
}

func TestProcessEmbeddingFailureIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	// 2バッチ目で失敗させる
	embedder := &stubEmbedder{dimension: 4, failAfter: 2}
	storage := newStubStorage()
	svc := NewService(repo, embedder, storage,
		WithChunker(NewChunker(1000, 200)),
		WithEmbedBatchSize(2),
		WithEmbedThrottle(10000),
	)

	doc, err := svc.Ingest(ctx, uuid.New(), "doc.txt", []byte(strings.Repeat("a", 2600)))
	require.NoError(t, err)

	err = svc.Process(ctx, doc.ID)
	require.ErrorIs(t, err, ErrEmbeddingFailed)

	failed, getErr := svc.Get(ctx, doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, failed.Status)

	// 部分保存されたチャンクは存在しない
	assert.Empty(t, repo.chunks[doc.ID])
}

func TestProcessEmptyDocumentFails(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	svc := newTestService(repo, &stubEmbedder{dimension: 4}, newStubStorage())

	doc, err := svc.Ingest(ctx, uuid.New(), "empty.txt", []byte("   \n\t  "))
	require.NoError(t, err)

	err = svc.Process(ctx, doc.ID)
	require.ErrorIs(t, err, ErrEmptyDocument)

	failed, getErr := svc.Get(ctx, doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestProcessPersistFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	repo.completeErr = errors.New("db down")
	svc := newTestService(repo, &stubEmbedder{dimension: 4}, newStubStorage())

	doc, err := svc.Ingest(ctx, uuid.New(), "doc.txt", []byte("some content"))
	require.NoError(t, err)

	require.Error(t, svc.Process(ctx, doc.ID))

	failed, getErr := svc.Get(ctx, doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestDeleteRemovesDocumentAndFile(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	storage := newStubStorage()
	svc := newTestService(repo, &stubEmbedder{dimension: 4}, storage)

	doc, err := svc.Ingest(ctx, uuid.New(), "doc.txt", []byte("content"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, doc.ID))

	_, err = svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Empty(t, storage.files)
}

func TestSupportedExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"document.pdf", true},
		{"notes.txt", true},
		{"readme.md", true},
		{"REPORT.PDF", true},
		{"image.png", false},
		{"archive.zip", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, SupportedExtension(tt.filename))
		})
	}
}
