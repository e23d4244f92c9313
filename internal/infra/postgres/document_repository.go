package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/convobot/internal/core/ingestion"
	"github.com/jinford/convobot/internal/core/retrieval"
)

// DocumentRepository は ingestion.Repository と retrieval.SearchRepository を
// 実装する PostgreSQL リポジトリです
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository は新しい DocumentRepository を作成します
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// コンパイル時の型チェック
var (
	_ ingestion.Repository       = (*DocumentRepository)(nil)
	_ retrieval.SearchRepository = (*DocumentRepository)(nil)
)

const documentColumns = `id, use_case_id, filename, storage_path, size_bytes, status, uploaded_at`

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *ingestion.Document) (*ingestion.Document, error) {
	query := fmt.Sprintf(`
		INSERT INTO documents (id, use_case_id, filename, storage_path, size_bytes, status, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s`, documentColumns)

	created, err := scanDocument(r.pool.QueryRow(ctx, query,
		UUIDToPgtype(doc.ID),
		UUIDToPgtype(doc.UseCaseID),
		doc.Filename,
		doc.StoragePath,
		doc.SizeBytes,
		string(doc.Status),
		TimeToPgtype(doc.UploadedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return created, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id uuid.UUID) (*ingestion.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, UUIDToPgtype(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ingestion.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListDocumentsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*ingestion.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE use_case_id = $1 ORDER BY uploaded_at DESC`, documentColumns)

	rows, err := r.pool.Query(ctx, query, UUIDToPgtype(useCaseID))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	result := make([]*ingestion.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return result, nil
}

// CompleteDocument は全チャンクの挿入とreadyへのステータス遷移を単一トランザクションで行います。
// 途中で失敗した場合はロールバックされ、チャンクは1件も残りません
func (r *DocumentRepository) CompleteDocument(ctx context.Context, documentID uuid.UUID, chunks []*ingestion.Chunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertChunk = `
		INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, insertChunk,
			UUIDToPgtype(chunk.ID),
			UUIDToPgtype(chunk.DocumentID),
			chunk.Index,
			chunk.Text,
			pgvector.NewVector(chunk.Embedding),
			TimeToPgtype(chunk.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2`,
		string(ingestion.StatusReady), UUIDToPgtype(documentID))
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrDocumentNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkDocumentFailed(ctx context.Context, documentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2`,
		string(ingestion.StatusFailed), UUIDToPgtype(documentID))
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	// document_chunks は FK の ON DELETE CASCADE で一緒に消える
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, UUIDToPgtype(id))
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrDocumentNotFound
	}
	return nil
}

// SearchChunksByUseCase はユースケース配下のreadyなドキュメントからコサイン類似度で
// 上位limit件のチャンクを取得します。順序はスコア降順、同点はチャンクID昇順
func (r *DocumentRepository) SearchChunksByUseCase(ctx context.Context, useCaseID uuid.UUID, queryVector []float32, limit int, minScore float64) ([]*retrieval.ScoredChunk, error) {
	const query = `
		SELECT c.id, c.document_id, c.chunk_index, c.content,
		       1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.use_case_id = $2
		  AND d.status = $3
		  AND 1 - (c.embedding <=> $1) >= $4
		ORDER BY score DESC, c.id ASC
		LIMIT $5`

	rows, err := r.pool.Query(ctx, query,
		pgvector.NewVector(queryVector),
		UUIDToPgtype(useCaseID),
		string(ingestion.StatusReady),
		minScore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]*retrieval.ScoredChunk, 0, limit)
	for rows.Next() {
		var (
			chunk      retrieval.ScoredChunk
			chunkID    pgtype.UUID
			documentID pgtype.UUID
		)
		if err := rows.Scan(&chunkID, &documentID, &chunk.Index, &chunk.Text, &chunk.Score); err != nil {
			return nil, fmt.Errorf("failed to scan scored chunk: %w", err)
		}
		chunk.ChunkID = PgtypeToUUID(chunkID)
		chunk.DocumentID = PgtypeToUUID(documentID)
		results = append(results, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scored chunks: %w", err)
	}

	return results, nil
}

// CountChunksByUseCase はユースケース配下のチャンク総数を返します（統計表示用）
func (r *DocumentRepository) CountChunksByUseCase(ctx context.Context, useCaseID uuid.UUID) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.use_case_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, UUIDToPgtype(useCaseID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func scanDocument(row pgx.Row) (*ingestion.Document, error) {
	var (
		doc        ingestion.Document
		id         pgtype.UUID
		useCaseID  pgtype.UUID
		status     string
		uploadedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &useCaseID, &doc.Filename, &doc.StoragePath, &doc.SizeBytes, &status, &uploadedAt); err != nil {
		return nil, err
	}
	doc.ID = PgtypeToUUID(id)
	doc.UseCaseID = PgtypeToUUID(useCaseID)
	doc.Status = ingestion.Status(status)
	doc.UploadedAt = PgtypeToTime(uploadedAt)
	return &doc, nil
}
