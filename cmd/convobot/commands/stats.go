package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// StatsAction はユースケースごとの蓄積状況を表示するコマンドのアクション
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	useCases, err := appCtx.Container.UseCaseRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("ユースケースの取得に失敗: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Use Case", "Documents", "Chunks", "Conversations")
	for _, uc := range useCases {
		docs, err := appCtx.Container.IngestionService.List(ctx, uc.ID)
		if err != nil {
			return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
		}
		chunks, err := appCtx.Container.DocumentRepo.CountChunksByUseCase(ctx, uc.ID)
		if err != nil {
			return fmt.Errorf("チャンク数の取得に失敗: %w", err)
		}
		conversations, err := appCtx.Container.Chat.ListConversations(ctx, uc.ID)
		if err != nil {
			return fmt.Errorf("会話の取得に失敗: %w", err)
		}

		table.Append(
			uc.URISlug,
			fmt.Sprintf("%d", len(docs)),
			fmt.Sprintf("%d", chunks),
			fmt.Sprintf("%d", len(conversations)),
		)
	}
	table.Render()

	return nil
}
