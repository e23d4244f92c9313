// Package elasticsearch は会話とメッセージの全文検索インデックスを提供します。
// チャット経路の真実の源泉はPostgreSQLであり、ここは検索用のミラーに過ぎない
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/jinford/convobot/internal/core/indexer"
)

// Config はElasticsearch接続設定
type Config struct {
	Addresses   []string
	IndexPrefix string
}

// Client は indexer.Sink を実装するElasticsearchクライアントです
type Client struct {
	es          *elasticsearch.Client
	indexPrefix string
}

// コンパイル時の型チェック
var _ indexer.Sink = (*Client)(nil)

// New は新しいClientを作成し、接続を確認します
func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "convobot"
	}

	return &Client{es: es, indexPrefix: prefix}, nil
}

// Ping は接続確認を行います
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

func (c *Client) messagesIndex() string {
	return c.indexPrefix + "-messages"
}

func (c *Client) conversationsIndex() string {
	return c.indexPrefix + "-conversations"
}

// EnsureIndices はインデックスが存在しない場合に作成します
func (c *Client) EnsureIndices(ctx context.Context) error {
	indices := map[string]string{
		c.messagesIndex(): `{
			"mappings": {
				"properties": {
					"conversation_id": {"type": "keyword"},
					"use_case_id":     {"type": "keyword"},
					"role":            {"type": "keyword"},
					"content":         {"type": "text"},
					"created_at":      {"type": "date"}
				}
			}
		}`,
		c.conversationsIndex(): `{
			"mappings": {
				"properties": {
					"use_case_id": {"type": "keyword"},
					"title":       {"type": "text"},
					"updated_at":  {"type": "date"}
				}
			}
		}`,
	}

	for name, mapping := range indices {
		exists, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", name, err)
		}
		exists.Body.Close()
		if exists.StatusCode == 200 {
			continue
		}

		res, err := c.es.Indices.Create(name,
			c.es.Indices.Create.WithContext(ctx),
			c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
		if err := closeAndCheck(res); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return nil
}

// IndexMessage はメッセージ文書をインデックスに書き込みます
func (c *Client) IndexMessage(ctx context.Context, doc *indexer.MessageDoc) error {
	return c.index(ctx, c.messagesIndex(), doc.ID.String(), doc)
}

// IndexConversation は会話文書をインデックスに書き込みます。
// 同一IDへの再書き込みは上書きとなる（タイトルとupdated_atの更新）
func (c *Client) IndexConversation(ctx context.Context, doc *indexer.ConversationDoc) error {
	return c.index(ctx, c.conversationsIndex(), doc.ID.String(), doc)
}

func (c *Client) index(ctx context.Context, indexName, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	if err := closeAndCheck(res); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

// MessageHit は全文検索のヒットを表します
type MessageHit struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	CreatedAt      time.Time
	Score          float64
}

// SearchMessages はユースケース配下のメッセージを全文検索します
func (c *Client) SearchMessages(ctx context.Context, useCaseID uuid.UUID, query string, limit int) ([]*MessageHit, error) {
	if limit <= 0 {
		limit = 10
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"match": map[string]any{"content": query},
				},
				"filter": map[string]any{
					"term": map[string]any{"use_case_id": useCaseID.String()},
				},
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.messagesIndex()),
		c.es.Search.WithBody(&body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search returned %s: %s", res.Status(), readBody(res.Body))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					ConversationID string    `json:"conversation_id"`
					Role           string    `json:"role"`
					Content        string    `json:"content"`
					CreatedAt      time.Time `json:"created_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]*MessageHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		messageID, err := uuid.Parse(h.ID)
		if err != nil {
			continue
		}
		conversationID, err := uuid.Parse(h.Source.ConversationID)
		if err != nil {
			continue
		}
		hits = append(hits, &MessageHit{
			MessageID:      messageID,
			ConversationID: conversationID,
			Role:           h.Source.Role,
			Content:        h.Source.Content,
			CreatedAt:      h.Source.CreatedAt,
			Score:          h.Score,
		})
	}

	return hits, nil
}

func closeAndCheck(res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch returned %s: %s", res.Status(), readBody(res.Body))
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return string(b)
}
