// Package config loads engine settings from an optional YAML file with
// environment-variable overrides, and validates them once at startup.
// Invalid configuration is fatal; it can never surface per request.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/beetledev/beetle-engine/engine/domain"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	Ollama struct {
		BaseURL    string `yaml:"base_url"`
		EmbedModel string `yaml:"embed_model"`
		ChatModel  string `yaml:"chat_model"`
		EmbedDims  int    `yaml:"embed_dims"`
	} `yaml:"ollama"`

	Qdrant struct {
		Addr             string `yaml:"addr"`
		CollectionPrefix string `yaml:"collection_prefix"`
	} `yaml:"qdrant"`

	SQLitePath string `yaml:"sqlite_path"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	GitHubToken string `yaml:"github_token"`

	Ingest struct {
		ChunkSize        int `yaml:"chunk_size"`
		ChunkOverlap     int `yaml:"chunk_overlap"`
		MinContentLength int `yaml:"min_content_length"`
		MaxContentLength int `yaml:"max_content_length"`
		SummaryMaxLength int `yaml:"summary_max_length"`
		MaxDocuments     int `yaml:"max_documents"`
		EmbedBatchSize   int `yaml:"embed_batch_size"`
		Parallelism      int `yaml:"parallelism"`
	} `yaml:"ingest"`

	Retrieval struct {
		TopK                int           `yaml:"top_k"`
		VectorWeight        float64       `yaml:"vector_weight"`
		KeywordWeight       float64       `yaml:"keyword_weight"`
		SimilarityThreshold float64       `yaml:"similarity_threshold"`
		Timeout             time.Duration `yaml:"timeout"`
	} `yaml:"retrieval"`

	Answer struct {
		MaxContextLength int           `yaml:"max_context_length"`
		MaxSources       int           `yaml:"max_sources"`
		MaxTokens        int           `yaml:"max_tokens"`
		Temperature      float64       `yaml:"temperature"`
		TopP             float64       `yaml:"top_p"`
		TopK             int           `yaml:"top_k"`
		IncludeCitations bool          `yaml:"include_citations"`
		Timeout          time.Duration `yaml:"timeout"`
	} `yaml:"answer"`
}

// Default returns the baseline configuration before file or environment
// overrides.
func Default() Config {
	var c Config
	c.HTTPAddr = ":8080"
	c.LogLevel = "info"
	c.Ollama.BaseURL = "http://localhost:11434"
	c.Ollama.EmbedModel = "nomic-embed-text"
	c.Ollama.ChatModel = "llama3.1"
	c.Ollama.EmbedDims = 768
	c.Qdrant.Addr = "localhost:6334"
	c.Qdrant.CollectionPrefix = "beetle"
	c.SQLitePath = "beetle.db"
	c.NATS.URL = "nats://localhost:4222"
	c.Ingest.ChunkSize = 1000
	c.Ingest.ChunkOverlap = 200
	c.Ingest.MinContentLength = 50
	c.Ingest.MaxContentLength = 100000
	c.Ingest.SummaryMaxLength = 200
	c.Ingest.MaxDocuments = 1000
	c.Ingest.EmbedBatchSize = 32
	c.Ingest.Parallelism = 4
	c.Retrieval.TopK = 5
	c.Retrieval.VectorWeight = 0.7
	c.Retrieval.KeywordWeight = 0.3
	c.Retrieval.SimilarityThreshold = 0.3
	c.Retrieval.Timeout = 10 * time.Second
	c.Answer.MaxContextLength = 4000
	c.Answer.MaxSources = 5
	c.Answer.MaxTokens = 1024
	c.Answer.Temperature = 0.2
	c.Answer.TopP = 0.9
	c.Answer.TopK = 40
	c.Answer.IncludeCitations = true
	c.Answer.Timeout = 60 * time.Second
	return c
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment variables.
// A .env file in the working directory is honored if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("BEETLE_HTTP_ADDR", &c.HTTPAddr)
	envStr("BEETLE_LOG_LEVEL", &c.LogLevel)
	envStr("OLLAMA_BASE_URL", &c.Ollama.BaseURL)
	envStr("OLLAMA_EMBED_MODEL", &c.Ollama.EmbedModel)
	envStr("OLLAMA_CHAT_MODEL", &c.Ollama.ChatModel)
	envInt("OLLAMA_EMBED_DIMS", &c.Ollama.EmbedDims)
	envStr("QDRANT_ADDR", &c.Qdrant.Addr)
	envStr("QDRANT_COLLECTION_PREFIX", &c.Qdrant.CollectionPrefix)
	envStr("BEETLE_SQLITE_PATH", &c.SQLitePath)
	envStr("NATS_URL", &c.NATS.URL)
	envStr("GITHUB_TOKEN", &c.GitHubToken)
	envInt("BEETLE_CHUNK_SIZE", &c.Ingest.ChunkSize)
	envInt("BEETLE_CHUNK_OVERLAP", &c.Ingest.ChunkOverlap)
	envInt("BEETLE_MIN_CONTENT_LENGTH", &c.Ingest.MinContentLength)
	envInt("BEETLE_MAX_CONTENT_LENGTH", &c.Ingest.MaxContentLength)
	envInt("BEETLE_MAX_DOCUMENTS", &c.Ingest.MaxDocuments)
	envInt("BEETLE_TOP_K", &c.Retrieval.TopK)
	envFloat("BEETLE_VECTOR_WEIGHT", &c.Retrieval.VectorWeight)
	envFloat("BEETLE_KEYWORD_WEIGHT", &c.Retrieval.KeywordWeight)
	envFloat("BEETLE_SIMILARITY_THRESHOLD", &c.Retrieval.SimilarityThreshold)
	envInt("BEETLE_MAX_CONTEXT_LENGTH", &c.Answer.MaxContextLength)
	envInt("BEETLE_MAX_SOURCES", &c.Answer.MaxSources)
	envInt("BEETLE_MAX_TOKENS", &c.Answer.MaxTokens)
	envBool("BEETLE_INCLUDE_CITATIONS", &c.Answer.IncludeCitations)
}

// Validate reports the first invalid setting as a fatal ConfigError.
func (c *Config) Validate() error {
	if math.Abs(c.Retrieval.VectorWeight+c.Retrieval.KeywordWeight-1.0) > 1e-9 {
		return &domain.ConfigError{
			Field: "retrieval.vector_weight",
			Reason: fmt.Sprintf("vector_weight (%v) + keyword_weight (%v) must sum to 1.0",
				c.Retrieval.VectorWeight, c.Retrieval.KeywordWeight),
		}
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		return &domain.ConfigError{Field: "retrieval.vector_weight", Reason: "weights must be non-negative"}
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return &domain.ConfigError{Field: "retrieval.similarity_threshold", Reason: "must be in [0,1]"}
	}
	if c.Retrieval.TopK <= 0 {
		return &domain.ConfigError{Field: "retrieval.top_k", Reason: "must be positive"}
	}
	if c.Ingest.ChunkSize <= 0 {
		return &domain.ConfigError{Field: "ingest.chunk_size", Reason: "must be positive"}
	}
	if c.Ingest.ChunkOverlap < 0 {
		return &domain.ConfigError{Field: "ingest.chunk_overlap", Reason: "must be non-negative"}
	}
	if c.Ingest.MinContentLength < 0 {
		return &domain.ConfigError{Field: "ingest.min_content_length", Reason: "must be non-negative"}
	}
	if c.Ingest.MaxContentLength <= c.Ingest.MinContentLength {
		return &domain.ConfigError{Field: "ingest.max_content_length", Reason: "must exceed min_content_length"}
	}
	if c.Ingest.MaxDocuments < 0 {
		return &domain.ConfigError{Field: "ingest.max_documents", Reason: "must be non-negative"}
	}
	if c.Ollama.EmbedDims <= 0 {
		return &domain.ConfigError{Field: "ollama.embed_dims", Reason: "must be positive"}
	}
	if c.Answer.MaxContextLength <= 0 {
		return &domain.ConfigError{Field: "answer.max_context_length", Reason: "must be positive"}
	}
	if c.Answer.MaxSources <= 0 {
		return &domain.ConfigError{Field: "answer.max_sources", Reason: "must be positive"}
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
