package ingestion

import "errors"

var (
	// ErrUnsupportedFileType は対応外のファイル形式の場合のエラー（pdf/txt/md以外）
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrEmbeddingFailed はEmbedding生成に失敗した場合のエラー。
	// 該当ドキュメントはfailedとなり、チャンクは一切保存されない
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrEmptyDocument は抽出テキストが空の場合のエラー
	ErrEmptyDocument = errors.New("document text is empty")

	// ErrDocumentNotFound はドキュメントが見つからない場合のエラー
	ErrDocumentNotFound = errors.New("document not found")
)
