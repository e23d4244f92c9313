// Package localfile はアップロードファイルのローカルファイルシステム保存を提供します
package localfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jinford/convobot/internal/core/ingestion"
)

// Storage は ingestion.Storage を実装するローカルファイルストレージです。
// ファイルは <root>/use_case_<id>/ 配下に保存される
type Storage struct {
	root string
}

// コンパイル時の型チェック
var _ ingestion.Storage = (*Storage)(nil)

// New は新しいStorageを作成する。rootディレクトリは存在しなければ作成する
func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Storage{root: root}, nil
}

// Save はファイルを保存し、保存先パスを返す。
// 同名ファイルの衝突を避けるためファイル名にUUIDプレフィックスを付与する
func (s *Storage) Save(ctx context.Context, useCaseID uuid.UUID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("use_case_%s", useCaseID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create use case directory: %w", err)
	}

	// パス区切りを含むファイル名はベース名に落とす
	name := fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(filename))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return path, nil
}

// Read は保存済みファイルを読み込む
func (s *Storage) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Remove は保存済みファイルを削除する
func (s *Storage) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}
