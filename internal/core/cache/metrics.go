package cache

import "sync/atomic"

// NamespaceStats は名前空間ごとのヒット・ミス統計
type NamespaceStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Degraded int64 `json:"degraded"`
}

// Stats はキャッシュ全体の統計情報。
// 外部の監視ツールがヒット率と劣化イベントを読み取るための契約面
type Stats struct {
	Session        NamespaceStats `json:"session"`
	Conversation   NamespaceStats `json:"convctx"`
	LLMResponse    NamespaceStats `json:"llmresp"`
	QueryEmbedding NamespaceStats `json:"queryemb"`
}

type counter struct {
	hits     atomic.Int64
	misses   atomic.Int64
	degraded atomic.Int64
}

func (c *counter) snapshot() NamespaceStats {
	return NamespaceStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Degraded: c.degraded.Load(),
	}
}

// Metrics は名前空間別のアトミックカウンタを保持します
type Metrics struct {
	session        counter
	conversation   counter
	llmResponse    counter
	queryEmbedding counter
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) forNamespace(ns Namespace) *counter {
	switch ns {
	case NamespaceSession:
		return &m.session
	case NamespaceConversation:
		return &m.conversation
	case NamespaceLLMResponse:
		return &m.llmResponse
	default:
		return &m.queryEmbedding
	}
}

func (m *Metrics) hit(ns Namespace)      { m.forNamespace(ns).hits.Add(1) }
func (m *Metrics) miss(ns Namespace)     { m.forNamespace(ns).misses.Add(1) }
func (m *Metrics) degraded(ns Namespace) { m.forNamespace(ns).degraded.Add(1) }

func (m *Metrics) snapshot() Stats {
	return Stats{
		Session:        m.session.snapshot(),
		Conversation:   m.conversation.snapshot(),
		LLMResponse:    m.llmResponse.snapshot(),
		QueryEmbedding: m.queryEmbedding.snapshot(),
	}
}
