package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/convobot/internal/core/chat"
)

// ConversationRepository は chat.Repository インターフェースを実装する PostgreSQL リポジトリです
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository は新しい ConversationRepository を作成します
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// コンパイル時の型チェック
var _ chat.Repository = (*ConversationRepository)(nil)

const conversationColumns = `id, use_case_id, title, created_at, updated_at`

func (r *ConversationRepository) GetConversation(ctx context.Context, id uuid.UUID) (*chat.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns)

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, UUIDToPgtype(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, conv *chat.Conversation) (*chat.Conversation, error) {
	query := fmt.Sprintf(`
		INSERT INTO conversations (id, use_case_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, conversationColumns)

	created, err := scanConversation(r.pool.QueryRow(ctx, query,
		UUIDToPgtype(conv.ID),
		UUIDToPgtype(conv.UseCaseID),
		StringPtrToPgtext(conv.Title),
		TimeToPgtype(conv.CreatedAt),
		TimeToPgtype(conv.UpdatedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return created, nil
}

func (r *ConversationRepository) ListConversationsByUseCase(ctx context.Context, useCaseID uuid.UUID) ([]*chat.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE use_case_id = $1
		ORDER BY updated_at DESC`, conversationColumns)

	rows, err := r.pool.Query(ctx, query, UUIDToPgtype(useCaseID))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	result := make([]*chat.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return result, nil
}

// ListRecentMessages は直近limit件のメッセージを古い順で返します。
// 新しい側からlimit件を切り出してから時系列に並べ直す
func (r *ConversationRepository) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*chat.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM (
			SELECT id, conversation_id, role, content, metadata, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, UUIDToPgtype(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	result := make([]*chat.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return result, nil
}

// AppendExchange はユーザー/アシスタントのメッセージ組を単一トランザクションで追記します。
// タイトルは未設定の場合のみ設定し、updated_atは必ず更新する
func (r *ConversationRepository) AppendExchange(ctx context.Context, conversationID uuid.UUID, userMsg, assistantMsg *chat.Message, title string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertMessage = `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, msg := range []*chat.Message{userMsg, assistantMsg} {
		if _, err := tx.Exec(ctx, insertMessage,
			UUIDToPgtype(msg.ID),
			UUIDToPgtype(conversationID),
			string(msg.Role),
			msg.Content,
			JSONBFromMap(msg.Metadata),
			TimeToPgtype(msg.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert %s message: %w", msg.Role, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET title = COALESCE(title, $1),
		    updated_at = GREATEST(updated_at, $2)
		WHERE id = $3`,
		StringToNullableText(title),
		TimeToPgtype(assistantMsg.CreatedAt),
		UUIDToPgtype(conversationID),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrConversationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*chat.Conversation, error) {
	var (
		conv      chat.Conversation
		id        pgtype.UUID
		useCaseID pgtype.UUID
		title     pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &useCaseID, &title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.ID = PgtypeToUUID(id)
	conv.UseCaseID = PgtypeToUUID(useCaseID)
	conv.Title = PgtextToStringPtr(title)
	conv.CreatedAt = PgtypeToTime(createdAt)
	conv.UpdatedAt = PgtypeToTime(updatedAt)
	return &conv, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var (
		msg            chat.Message
		id             pgtype.UUID
		conversationID pgtype.UUID
		role           string
		metadata       []byte
		createdAt      pgtype.Timestamptz
	)
	if err := row.Scan(&id, &conversationID, &role, &msg.Content, &metadata, &createdAt); err != nil {
		return nil, err
	}
	msg.ID = PgtypeToUUID(id)
	msg.ConversationID = PgtypeToUUID(conversationID)
	msg.Role = chat.Role(role)
	msg.Metadata = MapFromJSONB(metadata)
	msg.CreatedAt = PgtypeToTime(createdAt)
	return &msg, nil
}
