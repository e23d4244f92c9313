package chat

import (
	"context"
	"fmt"

	"github.com/jinford/convobot/internal/core/retrieval"
	"github.com/jinford/convobot/internal/core/usecase"
)

// State は会話状態を表します。
// 直近のアシスタントメッセージのmetadata["conversation_state"]として永続化される
type State map[string]any

// stateKey はメッセージメタデータ内の会話状態のキー
const stateKey = "conversation_state"

// Stage は会話状態からステージ名を取り出す
func (s State) Stage(defaultStage string) string {
	if s == nil {
		return defaultStage
	}
	if stage, ok := s["stage"].(string); ok && stage != "" {
		return stage
	}
	return defaultStage
}

// PromptInput はプロンプト構築前の素材一式。
// ProfileのPreprocessはこれを書き換えてプロンプトを拡張できる
type PromptInput struct {
	UseCase  *usecase.UseCase
	State    State
	Chunks   []*retrieval.ScoredChunk
	History  []*Message
	UserText string
}

// Reply はLLM出力の後処理対象。
// ProfileのPostprocessは本文の書き換えとメタデータの付与ができる
type Reply struct {
	Text     string
	State    State
	Metadata map[string]any
}

// SetMeta はメタデータを設定する（nilマップを初期化）
func (r *Reply) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}

// Profile はユースケース固有のエージェント挙動を表します。
// システムプロンプト、前処理フック、後処理フックの3点のみを差し替え可能とし、
// オーケストレーションの制御フロー自体は変更しない
type Profile interface {
	// SystemPrompt は会話状態に応じたシステムプロンプトを返す
	SystemPrompt(in *PromptInput) string

	// Preprocess はプロンプト構築前に素材を加工する
	Preprocess(ctx context.Context, in *PromptInput) error

	// Postprocess はLLM出力を加工し、応答メタデータを付与する
	Postprocess(ctx context.Context, in *PromptInput, reply *Reply) error
}

// Registry はユースケーススラッグからProfileを引くルックアップテーブルです
type Registry struct {
	profiles map[string]Profile
	fallback Profile
}

// NewRegistry は新しいRegistryを作成する。fallbackは未登録スラッグ用
func NewRegistry(fallback Profile) *Registry {
	return &Registry{
		profiles: map[string]Profile{},
		fallback: fallback,
	}
}

// Register はスラッグにProfileを割り当てる
func (r *Registry) Register(slug string, p Profile) {
	r.profiles[slug] = p
}

// Resolve はスラッグに対応するProfileを返す
func (r *Registry) Resolve(slug string) Profile {
	if p, ok := r.profiles[slug]; ok {
		return p
	}
	return r.fallback
}

// DefaultProfile は汎用のエージェント挙動。
// 取得チャンクをコンテキストとして注入する以外の加工は行わない
type DefaultProfile struct{}

// SystemPrompt は汎用のシステムプロンプトを返す
func (p *DefaultProfile) SystemPrompt(in *PromptInput) string {
	name := "this use case"
	if in.UseCase != nil {
		name = in.UseCase.Name
	}
	return fmt.Sprintf(`You are an AI assistant for the %s use case.
You are helpful, knowledgeable, and provide clear and concise responses.
Always maintain context from the conversation history.`, name)
}

// Preprocess は何も加工しない（コンテキスト注入はプロンプトビルダーが行う）
func (p *DefaultProfile) Preprocess(ctx context.Context, in *PromptInput) error {
	return nil
}

// Postprocess は会話状態をメタデータに引き継ぐのみ
func (p *DefaultProfile) Postprocess(ctx context.Context, in *PromptInput, reply *Reply) error {
	if reply.State == nil {
		reply.State = in.State
	}
	return nil
}

// インターフェース実装の確認
var _ Profile = (*DefaultProfile)(nil)
