package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbedBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbedBatchSize = 100
	// DefaultEmbedRPS はEmbedding API呼び出しのデフォルトスロットル（req/sec）
	DefaultEmbedRPS = 5.0
)

// Service はドキュメント取り込みパイプラインを提供する。
// 状態遷移は processing → ready（成功）または processing → failed（任意の段階の失敗）。
// failedのドキュメントにチャンクは一切残らない（all-or-nothing）
type Service struct {
	repo      Repository
	embedder  Embedder
	storage   Storage
	chunker   *Chunker
	throttle  *rate.Limiter
	batchSize int
	logger    *slog.Logger
}

// Option は Service のオプション設定
type Option func(*Service)

// WithChunker はChunkerを差し替える
func WithChunker(chunker *Chunker) Option {
	return func(s *Service) {
		s.chunker = chunker
	}
}

// WithEmbedBatchSize はEmbeddingバッチサイズを設定する
func WithEmbedBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithEmbedThrottle はEmbedding API呼び出しのスロットルを設定する
func WithEmbedThrottle(rps float64) Option {
	return func(s *Service) {
		if rps > 0 {
			s.throttle = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい取り込みServiceを作成する
func NewService(repo Repository, embedder Embedder, storage Storage, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		embedder:  embedder,
		storage:   storage,
		chunker:   NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		throttle:  rate.NewLimiter(rate.Limit(DefaultEmbedRPS), 1),
		batchSize: DefaultEmbedBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// バッチサイズをEmbedderの最大値でクリップ
	if maxBatch := embedder.MaxBatchSize(); maxBatch > 0 && s.batchSize > maxBatch {
		s.batchSize = maxBatch
	}

	return s
}

// Ingest はファイルを保存してprocessing状態のドキュメントを作成する。
// チャンク化とEmbedding生成は Process で行う（非同期完了）
func (s *Service) Ingest(ctx context.Context, useCaseID uuid.UUID, filename string, data []byte) (*Document, error) {
	if !SupportedExtension(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filename)
	}

	path, err := s.storage.Save(ctx, useCaseID, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}

	doc, err := s.repo.CreateDocument(ctx, &Document{
		ID:          uuid.New(),
		UseCaseID:   useCaseID,
		Filename:    filename,
		StoragePath: path,
		SizeBytes:   int64(len(data)),
		Status:      StatusProcessing,
		UploadedAt:  time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("document accepted for ingestion",
		"documentID", doc.ID, "useCaseID", useCaseID, "filename", filename, "sizeBytes", doc.SizeBytes)

	return doc, nil
}

// Process はドキュメントの取り込み状態機械を実行する。
// 抽出 → チャンク化 → Embedding生成 → 全チャンク保存+ready遷移。
// いずれかの段階で失敗した場合はfailedに遷移し、チャンクは保存されない
func (s *Service) Process(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := s.process(ctx, doc); err != nil {
		if markErr := s.repo.MarkDocumentFailed(ctx, documentID); markErr != nil {
			s.logger.Error("failed to mark document as failed",
				"documentID", documentID, "error", markErr)
		}
		s.logger.Warn("document ingestion failed",
			"documentID", documentID, "filename", doc.Filename, "error", err)
		return err
	}

	return nil
}

func (s *Service) process(ctx context.Context, doc *Document) error {
	data, err := s.storage.Read(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to read stored file: %w", err)
	}

	text, err := ExtractText(doc.Filename, data)
	if err != nil {
		return err
	}

	if strings.TrimSpace(text) == "" {
		// 空のドキュメントはfailed扱い（再アップロードを促す）
		return ErrEmptyDocument
	}

	texts := s.chunker.Split(text)

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	now := time.Now()
	chunks := make([]*Chunk, len(texts))
	for i, t := range texts {
		if len(vectors[i]) != s.embedder.Dimension() {
			return fmt.Errorf("%w: vector dimension %d, expected %d",
				ErrEmbeddingFailed, len(vectors[i]), s.embedder.Dimension())
		}
		chunks[i] = &Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Index:      i,
			Text:       t,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := s.repo.CompleteDocument(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}

	s.logger.Info("document ingested",
		"documentID", doc.ID, "filename", doc.Filename, "chunks", len(chunks))

	return nil
}

// embedAll は全チャンクのEmbeddingをバッチで生成する。
// 1バッチでも失敗したら全体を失敗として返す
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := s.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := s.embedder.BatchEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// Get はドキュメントを取得する
func (s *Service) Get(ctx context.Context, documentID uuid.UUID) (*Document, error) {
	return s.repo.GetDocument(ctx, documentID)
}

// List はユースケース配下のドキュメント一覧を取得する
func (s *Service) List(ctx context.Context, useCaseID uuid.UUID) ([]*Document, error) {
	return s.repo.ListDocumentsByUseCase(ctx, useCaseID)
}

// Delete はドキュメントと保存ファイルを削除する（チャンクはカスケード削除）
func (s *Service) Delete(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := s.storage.Remove(ctx, doc.StoragePath); err != nil {
		// ファイル削除の失敗はレコード削除を妨げない
		s.logger.Warn("failed to remove stored file",
			"documentID", documentID, "path", doc.StoragePath, "error", err)
	}

	if err := s.repo.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Info("document deleted", "documentID", documentID, "filename", doc.Filename)

	return nil
}
