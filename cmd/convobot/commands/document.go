package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// DocumentIngestAction はドキュメントを取り込むコマンドのアクション。
// アップロード登録と取り込み処理を続けて実行し、最終ステータスを表示する
func DocumentIngestAction(ctx context.Context, cmd *cli.Command) error {
	slug := cmd.String("usecase")
	filePath := cmd.String("file")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	uc, err := appCtx.Container.UseCaseRepo.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("ユースケースの取得に失敗: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	doc, err := appCtx.Container.IngestionService.Ingest(ctx, uc.ID, filepath.Base(filePath), data)
	if err != nil {
		return fmt.Errorf("ドキュメントの登録に失敗: %w", err)
	}
	fmt.Printf("ドキュメント %s を登録しました (status=%s)\n", doc.ID, doc.Status)

	if err := appCtx.Container.IngestionService.Process(ctx, doc.ID); err != nil {
		return fmt.Errorf("取り込み処理に失敗: %w", err)
	}

	processed, err := appCtx.Container.IngestionService.Get(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	fmt.Printf("取り込み完了: %s (status=%s)\n", processed.Filename, processed.Status)

	return nil
}

// DocumentListAction はユースケース配下のドキュメント一覧を表示するコマンドのアクション
func DocumentListAction(ctx context.Context, cmd *cli.Command) error {
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

	docs, err := appCtx.Container.IngestionService.List(ctx, uc.ID)
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("ドキュメントはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Filename", "Size", "Status", "Uploaded At")
	for _, doc := range docs {
		table.Append(
			doc.ID.String(),
			truncateString(doc.Filename, 40),
			fmt.Sprintf("%d", doc.SizeBytes),
			string(doc.Status),
			doc.UploadedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	return nil
}

// DocumentDeleteAction はドキュメントを削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	idStr := cmd.String("id")

	documentID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("--id はUUIDで指定してください: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.IngestionService.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}

	fmt.Printf("ドキュメント %s を削除しました\n", documentID)
	return nil
}
