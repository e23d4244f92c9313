package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/convobot/cmd/convobot/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
	useCaseFlag := &cli.StringFlag{
		Name:     "usecase",
		Usage:    "ユースケースのスラッグ",
		Required: true,
	}

	app := &cli.Command{
		Name:  "convobot",
		Usage: "ドキュメントグラウンディング付きチャットボット基盤",
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "初期ユースケースを投入",
				Flags:  []cli.Flag{envFlag},
				Action: commands.SeedAction,
			},
			{
				Name:  "usecase",
				Usage: "ユースケース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "ユースケース一覧を表示",
						Flags:  []cli.Flag{envFlag},
						Action: commands.UseCaseListAction,
					},
				},
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "ingest",
						Usage: "ドキュメントを取り込む",
						Flags: []cli.Flag{
							envFlag,
							useCaseFlag,
							&cli.StringFlag{
								Name:     "file",
								Usage:    "取り込むファイルのパス (.pdf / .txt / .md)",
								Required: true,
							},
						},
						Action: commands.DocumentIngestAction,
					},
					{
						Name:   "list",
						Usage:  "ドキュメント一覧を表示",
						Flags:  []cli.Flag{envFlag, useCaseFlag},
						Action: commands.DocumentListAction,
					},
					{
						Name:  "delete",
						Usage: "ドキュメントを削除",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: commands.DocumentDeleteAction,
					},
				},
			},
			{
				Name:  "chat",
				Usage: "メッセージを送信して応答を表示",
				Flags: []cli.Flag{
					envFlag,
					useCaseFlag,
					&cli.StringFlag{
						Name:     "message",
						Usage:    "送信するメッセージ",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "client",
						Usage: "クライアント識別子（レート制限とセッションの単位）",
						Value: "cli",
					},
					&cli.StringFlag{
						Name:  "conversation",
						Usage: "会話ID（省略時はセッションから再開）",
					},
					&cli.BoolFlag{
						Name:  "new",
						Usage: "セッションを破棄して新規会話を開始",
					},
				},
				Action: commands.ChatAction,
			},
			{
				Name:  "conversation",
				Usage: "会話管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "会話一覧を表示",
						Flags:  []cli.Flag{envFlag, useCaseFlag},
						Action: commands.ConversationListAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "会話履歴を全文検索",
				Flags: []cli.Flag{
					envFlag,
					useCaseFlag,
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "最大表示件数",
						Value: 10,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:   "stats",
				Usage:  "ユースケースごとの蓄積状況を表示",
				Flags:  []cli.Flag{envFlag},
				Action: commands.StatsAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
