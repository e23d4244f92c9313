package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound はユースケースが見つからない場合のエラー
var ErrNotFound = errors.New("use case not found")

// UseCase はドキュメントと会話を分離するテナント的なパーティションを表します
type UseCase struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	URISlug     string    `json:"uriSlug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Details     string    `json:"details"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository はユースケースの永続化インターフェース
type Repository interface {
	// GetBySlug はURIスラッグでユースケースを取得する
	// 見つからない場合は ErrNotFound を返す
	GetBySlug(ctx context.Context, slug string) (*UseCase, error)

	// GetByID はIDでユースケースを取得する
	GetByID(ctx context.Context, id uuid.UUID) (*UseCase, error)

	// List は全ユースケースを取得する
	List(ctx context.Context) ([]*UseCase, error)

	// CreateIfNotExists は同名スラッグが存在しない場合のみ作成する
	CreateIfNotExists(ctx context.Context, uc *UseCase) (*UseCase, error)
}
