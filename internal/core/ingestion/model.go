package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status はドキュメントの取り込み状態を表します
type Status string

const (
	// StatusProcessing は取り込み処理中
	StatusProcessing Status = "processing"
	// StatusReady は取り込み完了（検索可能）
	StatusReady Status = "ready"
	// StatusFailed は取り込み失敗（チャンクは存在しない）
	StatusFailed Status = "failed"
)

// Document はアップロードされたドキュメントを表します
type Document struct {
	ID          uuid.UUID `json:"id"`
	UseCaseID   uuid.UUID `json:"useCaseId"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storagePath"`
	SizeBytes   int64     `json:"sizeBytes"`
	Status      Status    `json:"status"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Chunk はドキュメントを分割したチャンクを表します。
// Index はドキュメント内で0始まりの連番（欠番なし）
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"documentId"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Repository はドキュメントとチャンクの永続化インターフェース
type Repository interface {
	// CreateDocument はドキュメントレコードを作成する
	CreateDocument(ctx context.Context, doc *Document) (*Document, error)

	// GetDocument はIDでドキュメントを取得する
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)

	// ListDocumentsByUseCase はユースケース配下のドキュメント一覧を取得する
	ListDocumentsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*Document, error)

	// CompleteDocument は全チャンクの保存とステータスのready遷移を
	// 単一トランザクションで行う（部分保存は発生しない）
	CompleteDocument(ctx context.Context, documentID uuid.UUID, chunks []*Chunk) error

	// MarkDocumentFailed はステータスをfailedに遷移させる
	MarkDocumentFailed(ctx context.Context, documentID uuid.UUID) error

	// DeleteDocument はドキュメントを削除する（チャンクはFKでカスケード削除）
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はバッチでEmbeddingを生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はEmbeddingベクトルの次元数を返す
	Dimension() int

	// MaxBatchSize はバッチ処理の最大サイズを返す
	MaxBatchSize() int
}

// Storage はアップロードファイルの保存先インターフェース
type Storage interface {
	// Save はファイルを保存し、保存先パスを返す
	Save(ctx context.Context, useCaseID uuid.UUID, filename string, data []byte) (string, error)

	// Read は保存済みファイルを読み込む
	Read(ctx context.Context, path string) ([]byte, error)

	// Remove は保存済みファイルを削除する
	Remove(ctx context.Context, path string) error
}
