package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/convobot/internal/core/chat"
	"github.com/jinford/convobot/internal/core/usecase"
)

// defaultUseCases は初期投入するユースケース定義
var defaultUseCases = []*usecase.UseCase{
	{
		Name:        "Squad Navigator",
		URISlug:     chat.SquadNavigatorSlug,
		Title:       "Squad Navigator",
		Description: "Welcome to Squad Navigator use case.",
		Details:     "Navigate through your squads and manage team collaboration effectively.",
	},
	{
		Name:        "Chapter Explorer",
		URISlug:     "chapter-explorer",
		Title:       "Chapter Explorer",
		Description: "Welcome to Chapter Explorer use case.",
		Details:     "Explore chapters and discover insights across different organizational units.",
	},
	{
		Name:        "Guild Convener",
		URISlug:     "guild-convener",
		Title:       "Guild Convener",
		Description: "Welcome to Guild Convener use case.",
		Details:     "Convene guilds and facilitate cross-functional collaboration.",
	},
}

// SeedAction は初期ユースケースを投入するコマンドのアクション
func SeedAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	for _, uc := range defaultUseCases {
		uc.ID = uuid.New()
		uc.CreatedAt = time.Now()

		created, err := appCtx.Container.UseCaseRepo.CreateIfNotExists(ctx, uc)
		if err != nil {
			return fmt.Errorf("ユースケースの作成に失敗: %w", err)
		}
		fmt.Printf("ユースケース %s (%s) を確認しました\n", created.Name, created.URISlug)
	}

	return nil
}

// UseCaseListAction はユースケース一覧を表示するコマンドのアクション
func UseCaseListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	useCases, err := appCtx.Container.UseCaseRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("ユースケースの取得に失敗: %w", err)
	}

	if len(useCases) == 0 {
		fmt.Println("ユースケースはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Slug", "Name", "Title", "Created At")
	for _, uc := range useCases {
		table.Append(
			uc.URISlug,
			uc.Name,
			truncateString(uc.Title, 40),
			uc.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	return nil
}
