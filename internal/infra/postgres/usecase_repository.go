package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/convobot/internal/core/usecase"
)

// UseCaseRepository は usecase.Repository インターフェースを実装する PostgreSQL リポジトリです
type UseCaseRepository struct {
	pool *pgxpool.Pool
}

// NewUseCaseRepository は新しい UseCaseRepository を作成します
func NewUseCaseRepository(pool *pgxpool.Pool) *UseCaseRepository {
	return &UseCaseRepository{pool: pool}
}

// コンパイル時の型チェック
var _ usecase.Repository = (*UseCaseRepository)(nil)

const useCaseColumns = `id, name, uri_slug, title, description, details, created_at`

func (r *UseCaseRepository) GetBySlug(ctx context.Context, slug string) (*usecase.UseCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM use_cases WHERE uri_slug = $1`, useCaseColumns)

	uc, err := scanUseCase(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usecase.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get use case by slug: %w", err)
	}
	return uc, nil
}

func (r *UseCaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*usecase.UseCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM use_cases WHERE id = $1`, useCaseColumns)

	uc, err := scanUseCase(r.pool.QueryRow(ctx, query, UUIDToPgtype(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usecase.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get use case: %w", err)
	}
	return uc, nil
}

func (r *UseCaseRepository) List(ctx context.Context) ([]*usecase.UseCase, error) {
	query := fmt.Sprintf(`SELECT %s FROM use_cases ORDER BY created_at`, useCaseColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list use cases: %w", err)
	}
	defer rows.Close()

	result := make([]*usecase.UseCase, 0)
	for rows.Next() {
		uc, err := scanUseCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan use case: %w", err)
		}
		result = append(result, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate use cases: %w", err)
	}

	return result, nil
}

func (r *UseCaseRepository) CreateIfNotExists(ctx context.Context, uc *usecase.UseCase) (*usecase.UseCase, error) {
	query := fmt.Sprintf(`
		INSERT INTO use_cases (id, name, uri_slug, title, description, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uri_slug) DO NOTHING
		RETURNING %s`, useCaseColumns)

	created, err := scanUseCase(r.pool.QueryRow(ctx, query,
		UUIDToPgtype(uc.ID), uc.Name, uc.URISlug, uc.Title, uc.Description, uc.Details, TimeToPgtype(uc.CreatedAt)))
	if err != nil {
		// 既存スラッグと衝突した場合は既存レコードを返す
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetBySlug(ctx, uc.URISlug)
		}
		return nil, fmt.Errorf("failed to create use case: %w", err)
	}
	return created, nil
}

func scanUseCase(row pgx.Row) (*usecase.UseCase, error) {
	var (
		uc        usecase.UseCase
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &uc.Name, &uc.URISlug, &uc.Title, &uc.Description, &uc.Details, &createdAt); err != nil {
		return nil, err
	}
	uc.ID = PgtypeToUUID(id)
	uc.CreatedAt = PgtypeToTime(createdAt)
	return &uc, nil
}
