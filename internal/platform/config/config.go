package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Redis設定（キャッシュ・レート制限）
	Redis RedisConfig

	// Elasticsearch設定（全文検索ミラー）
	Elasticsearch ElasticsearchConfig

	// OpenAI設定（Embeddings + チャット補完）
	OpenAI OpenAIConfig

	// キャッシュTTL設定
	Cache CacheConfig

	// レート制限設定
	RateLimit RateLimitConfig

	// ドキュメント取り込み設定
	Ingestion IngestionConfig

	// チャットオーケストレーション設定
	Chat ChatConfig

	// アップロードファイルの保存先
	UploadDir string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout / ReadTimeout はネットワークI/Oの上限（キャッシュ層は低レイテンシ前提）
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// ElasticsearchConfig はElasticsearch接続設定
type ElasticsearchConfig struct {
	Addresses   []string
	IndexPrefix string
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
	ChatTimeout        time.Duration
}

// CacheConfig はキャッシュの名前空間別TTL設定
type CacheConfig struct {
	SessionTTL        time.Duration
	ConversationTTL   time.Duration
	LLMResponseTTL    time.Duration
	QueryEmbeddingTTL time.Duration
}

// RateLimitConfig はレート制限設定
type RateLimitConfig struct {
	RequestsPerWindow int // ウィンドウあたりの閾値
	Burst             int // バースト許容量（ウィンドウごとに補充）
	Window            time.Duration
}

// IngestionConfig はドキュメント取り込みの設定
type IngestionConfig struct {
	ChunkSize      int // チャンクの文字数
	ChunkOverlap   int // 連続チャンク間のオーバーラップ文字数
	EmbedBatchSize int // Embedding APIのバッチサイズ
	EmbedRPS       float64
}

// ChatConfig はチャットオーケストレーションの設定
type ChatConfig struct {
	HistoryLimit       int     // 履歴として読み込む直近メッセージ数
	HistoryTokenBudget int     // 履歴のトークン上限
	RetrievalTopK      int     // 取得するグラウンディングチャンク数
	RetrievalMinScore  float64 // 類似度の下限（これ未満は除外）
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "convobot"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "convobot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 50*time.Millisecond),
			ReadTimeout: getEnvAsDuration("REDIS_READ_TIMEOUT", 50*time.Millisecond),
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:   []string{getEnv("ELASTICSEARCH_URL", "http://localhost:9200")},
			IndexPrefix: getEnv("ELASTICSEARCH_INDEX_PREFIX", "convobot"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			ChatTimeout:        getEnvAsDuration("OPENAI_CHAT_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			SessionTTL:        getEnvAsDuration("CACHE_TTL_SESSIONS", 1800*time.Second),
			ConversationTTL:   getEnvAsDuration("CACHE_TTL_CONVERSATIONS", 600*time.Second),
			LLMResponseTTL:    getEnvAsDuration("CACHE_TTL_LLM_RESPONSES", 3600*time.Second),
			QueryEmbeddingTTL: getEnvAsDuration("CACHE_TTL_QUERY_EMBEDDINGS", 600*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
			Window:            getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		Ingestion: IngestionConfig{
			ChunkSize:      getEnvAsInt("INGEST_CHUNK_SIZE", 1000),
			ChunkOverlap:   getEnvAsInt("INGEST_CHUNK_OVERLAP", 200),
			EmbedBatchSize: getEnvAsInt("INGEST_EMBED_BATCH_SIZE", 100),
			EmbedRPS:       getEnvAsFloat("INGEST_EMBED_RPS", 5.0),
		},
		Chat: ChatConfig{
			HistoryLimit:       getEnvAsInt("CHAT_HISTORY_LIMIT", 20),
			HistoryTokenBudget: getEnvAsInt("CHAT_HISTORY_TOKEN_BUDGET", 4000),
			RetrievalTopK:      getEnvAsInt("CHAT_RETRIEVAL_TOP_K", 3),
			RetrievalMinScore:  getEnvAsFloat("CHAT_RETRIEVAL_MIN_SCORE", 0.0),
		},
		UploadDir: getEnv("UPLOAD_DIR", "/var/lib/convobot/uploads"),
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数をDurationとして取得します
// 単位なしの整数は秒として解釈します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
