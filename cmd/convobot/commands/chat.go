package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/convobot/internal/core/chat"
)

// ChatAction は1メッセージを送信して応答を表示するコマンドのアクション。
// --conversation 未指定の場合はセッションキャッシュから直近の会話を再開し、
// セッションも存在しなければ新規会話を開始する
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	slug := cmd.String("usecase")
	message := cmd.String("message")
	clientID := cmd.String("client")
	conversationStr := cmd.String("conversation")
	newConversation := cmd.Bool("new")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sessions := appCtx.Container.Sessions

	conversationID := mo.None[uuid.UUID]()
	switch {
	case conversationStr != "":
		id, err := uuid.Parse(conversationStr)
		if err != nil {
			return fmt.Errorf("--conversation はUUIDで指定してください: %w", err)
		}
		conversationID = mo.Some(id)
	case newConversation:
		sessions.Clear(ctx, clientID, slug)
	default:
		if sess, ok := sessions.Load(ctx, clientID, slug); ok {
			conversationID = mo.Some(sess.ConversationID)
		}
	}

	result, err := appCtx.Container.Chat.Handle(ctx, chat.HandleParams{
		UseCaseSlug:    slug,
		ConversationID: conversationID,
		UserText:       message,
		ClientID:       clientID,
	})
	if err != nil {
		var rateLimited *chat.RateLimitedError
		if errors.As(err, &rateLimited) {
			return fmt.Errorf("レート制限中です。%s 以降に再試行してください", rateLimited.ResetAt.Format(time.RFC3339))
		}
		if result != nil && result.Degraded {
			// 退避応答。この往復は永続化されていないため再送できる
			fmt.Println(result.Message.Content)
			return err
		}
		return err
	}

	fmt.Println(result.Message.Content)

	sessions.Save(ctx, &chat.Session{
		ClientID:       clientID,
		UseCaseSlug:    slug,
		ConversationID: result.ConversationID,
		LastActiveAt:   time.Now(),
	})

	return nil
}

// ConversationListAction はユースケース配下の会話一覧を表示するコマンドのアクション
func ConversationListAction(ctx context.Context, cmd *cli.Command) error {
	slug := cmd.String("usecase")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	uc, err := appCtx.Container.UseCaseRepo.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("ユースケースの取得に失敗: %w", err)
	}

	conversations, err := appCtx.Container.Chat.ListConversations(ctx, uc.ID)
	if err != nil {
		return fmt.Errorf("会話の取得に失敗: %w", err)
	}

	if len(conversations) == 0 {
		fmt.Println("会話はありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Title", "Created At", "Updated At")
	for _, conv := range conversations {
		title := "(untitled)"
		if conv.Title != nil {
			title = truncateString(*conv.Title, 50)
		}
		table.Append(
			conv.ID.String(),
			title,
			conv.CreatedAt.Format("2006-01-02 15:04"),
			conv.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	return nil
}
