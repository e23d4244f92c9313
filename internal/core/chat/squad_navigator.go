package chat

import (
	"context"
	"fmt"
	"strings"
)

// SquadNavigatorSlug はこのプロファイルが紐づくユースケースのスラッグ
const SquadNavigatorSlug = "squad-navigator"

// Squad Navigatorのステージ
const (
	StageInitialGreeting = "initial_greeting"
	StageSquadExplorer   = "squad_explorer"
	StageSquadMatcher    = "squad_matcher"
	StageSquadSelector   = "squad_selector"
)

// skillKeywords はユーザー発話から検出するスキルのキーワード
var skillKeywords = []string{
	"python", "javascript", "java", "go", "react", "node",
	"aws", "azure", "gcp", "docker", "kubernetes", "terraform",
	"postgres", "mongodb", "redis", "sql", "api", "rest", "graphql",
	"machine learning", "ml", "ai", "data", "backend", "frontend", "fullstack",
}

// SquadNavigatorProfile はスカッド探索を段階的に案内するエージェントです。
// ステージ状態機械: initial_greeting → squad_explorer → squad_matcher → squad_selector。
// 状態はアシスタントメッセージのメタデータとして会話に永続化される
type SquadNavigatorProfile struct{}

// SystemPrompt は現在のステージに対応するシステムプロンプトを返す
func (p *SquadNavigatorProfile) SystemPrompt(in *PromptInput) string {
	switch in.State.Stage(StageInitialGreeting) {
	case StageSquadExplorer:
		return squadExplorerPrompt
	case StageSquadMatcher:
		return squadMatcherPrompt
	case StageSquadSelector:
		return squadSelectorPrompt
	default:
		return squadInitialGreetingPrompt
	}
}

// Preprocess は取得したスカッド文書を指示付きコンテキストとして整形し直す
func (p *SquadNavigatorProfile) Preprocess(ctx context.Context, in *PromptInput) error {
	if in.State == nil {
		in.State = State{"stage": StageInitialGreeting}
	}
	if len(in.Chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("### Available Squad Information\n")
	for i, chunk := range in.Chunks {
		sb.WriteString(fmt.Sprintf("\n[Squad Document %d]:\n%s\n", i+1, chunk.Text))
	}
	sb.WriteString(`
### Instructions
Use the above information about squads to help the colleague. Focus on:
- Matching their skills with squad requirements
- Highlighting squad culture and tech stack compatibility
- Suggesting the best-fit squads
- Recommending squad creation if no good match exists`)

	in.UserText = in.UserText + "\n\n" + sb.String()
	// チャンクはコンテキストへ織り込み済みなので既定の注入は抑止する
	in.Chunks = nil

	return nil
}

// Postprocess はユーザーシグナルに基づくステージ遷移とスキル抽出を行い、
// 次アクションの提案をメタデータとして付与する
func (p *SquadNavigatorProfile) Postprocess(ctx context.Context, in *PromptInput, reply *Reply) error {
	state := State{}
	for k, v := range in.State {
		state[k] = v
	}

	userLower := strings.ToLower(in.UserText)
	stage := state.Stage(StageInitialGreeting)

	switch stage {
	case StageInitialGreeting:
		if containsAny(userLower, "yes", "ready", "let's go", "start", "explore", "show me") {
			stage = StageSquadExplorer
		}
	case StageSquadExplorer:
		if containsAny(userLower, "recommend", "match", "my skills", "best fit", "suggest", "which squad") {
			stage = StageSquadMatcher
		} else if containsAny(userLower, "join", "choose", "select", "interested in") {
			stage = StageSquadSelector
		}
	case StageSquadMatcher:
		if skills := detectSkills(userLower); len(skills) > 0 {
			state["skills"] = mergeSkills(state, skills)
		}
		if containsAny(userLower, "join", "choose", "select", "go with", "pick") {
			stage = StageSquadSelector
		}
	case StageSquadSelector:
		if containsAny(userLower, "new squad", "create squad", "start my own") {
			state["decision"] = "create_new_squad"
		}
	}

	state["stage"] = stage
	reply.State = state
	reply.SetMeta("current_stage", stage)

	replyLower := strings.ToLower(reply.Text)
	if strings.Contains(replyLower, "create") || strings.Contains(replyLower, "new squad") {
		reply.SetMeta("suggestion_type", "create_squad")
		reply.SetMeta("next_steps", []string{
			"Fill out the squad creation form",
			"Define your squad's mission and goals",
			"Recruit initial team members",
		})
	} else if containsAny(replyLower, "join", "match", "recommend") {
		reply.SetMeta("suggestion_type", "join_existing")
		reply.SetMeta("next_steps", []string{
			"Review the recommended squads",
			"Reach out to squad leads",
			"Submit a join request",
		})
	}

	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func detectSkills(s string) []string {
	var skills []string
	for _, kw := range skillKeywords {
		if strings.Contains(s, kw) {
			skills = append(skills, kw)
		}
	}
	return skills
}

func mergeSkills(state State, detected []string) []string {
	seen := map[string]bool{}
	var merged []string

	if existing, ok := state["skills"].([]string); ok {
		for _, s := range existing {
			if !seen[s] {
				seen[s] = true
				merged = append(merged, s)
			}
		}
	} else if existing, ok := state["skills"].([]any); ok {
		// JSONラウンドトリップ後は[]anyになる
		for _, v := range existing {
			if s, ok := v.(string); ok && !seen[s] {
				seen[s] = true
				merged = append(merged, s)
			}
		}
	}

	for _, s := range detected {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}

	return merged
}

// インターフェース実装の確認
var _ Profile = (*SquadNavigatorProfile)(nil)
