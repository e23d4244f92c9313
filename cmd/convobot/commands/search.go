package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// SearchAction は会話履歴を全文検索するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	slug := cmd.String("usecase")
	query := cmd.String("query")
	limit := int(cmd.Int("limit"))

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	uc, err := appCtx.Container.UseCaseRepo.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("ユースケースの取得に失敗: %w", err)
	}

	hits, err := appCtx.Container.Search.SearchMessages(ctx, uc.ID, query, limit)
	if err != nil {
		return fmt.Errorf("検索に失敗: %w", err)
	}

	if len(hits) == 0 {
		fmt.Println("該当するメッセージはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Score", "Role", "Content", "Conversation", "Created At")
	for _, hit := range hits {
		table.Append(
			fmt.Sprintf("%.2f", hit.Score),
			hit.Role,
			truncateString(hit.Content, 60),
			hit.ConversationID.String(),
			hit.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	return nil
}
