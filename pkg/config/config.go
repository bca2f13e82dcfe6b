// Package config loads pipeline configuration from an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("missing required configuration")

// Config holds every recognized option. There are no default credentials
// or endpoints.
type Config struct {
	Debug bool `yaml:"debug" envconfig:"QEST_DEBUG"`

	QdrantURL    string `yaml:"qdrant_url" envconfig:"QDRANT_CLUSTER_URL"`
	QdrantAPIKey string `yaml:"qdrant_api_key" envconfig:"QDRANT_API_KEY"`

	AzureEndpoint  string `yaml:"azure_endpoint" envconfig:"AZURE_OPENAI_ENDPOINT"`
	AzureAPIKey    string `yaml:"azure_api_key" envconfig:"AZURE_OPENAI_API_KEY"`
	OpenAIAPIKey   string `yaml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	APIVersion     string `yaml:"api_version" envconfig:"API_VERSION"`
	ChatModel      string `yaml:"chat_model" envconfig:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	EmbeddingModel string `yaml:"embedding_model" envconfig:"EMBEDDING_MODEL"`
	EmbeddingDims  int    `yaml:"embedding_dimensions" envconfig:"EMBEDDING_DIMENSIONS"`

	Collection     string  `yaml:"collection" envconfig:"QEST_COLLECTION"`
	BatchSize      int     `yaml:"batch_size" envconfig:"QEST_BATCH_SIZE"`
	RetrievalLimit int     `yaml:"retrieval_limit" envconfig:"QEST_RETRIEVAL_LIMIT"`
	ContextDocs    int     `yaml:"context_docs" envconfig:"QEST_CONTEXT_DOCS"`
	MaxTokens      int     `yaml:"max_tokens" envconfig:"QEST_MAX_TOKENS"`
	Temperature    float32 `yaml:"temperature" envconfig:"QEST_TEMPERATURE"`

	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"QEST_REQUEST_TIMEOUT"`
	SettleTimeout  time.Duration `yaml:"settle_timeout" envconfig:"QEST_SETTLE_TIMEOUT"`
	ListenAddr     string        `yaml:"listen_addr" envconfig:"QEST_LISTEN_ADDR"`
}

// Defaults returns a Config holding only the non-secret defaults.
func Defaults() Config {
	return Config{
		APIVersion:     "2024-02-01",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Collection:     "qest",
		BatchSize:      100,
		RetrievalLimit: 3,
		ContextDocs:    1,
		MaxTokens:      200,
		Temperature:    0.7,
		RequestTimeout: 30 * time.Second,
		SettleTimeout:  10 * time.Second,
		ListenAddr:     ":8080",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// QEST_CONFIG (if set), then .env and process environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("QEST_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Collection == "":
		return errors.New("collection name must not be empty")
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.RetrievalLimit <= 0:
		return fmt.Errorf("retrieval limit must be positive, got %d", c.RetrievalLimit)
	case c.ContextDocs <= 0:
		return fmt.Errorf("context docs must be positive, got %d", c.ContextDocs)
	case c.Temperature <= 0 || c.Temperature > 2:
		return fmt.Errorf("temperature must be in (0, 2], got %g (use a small value such as 0.01 for near-deterministic output)", c.Temperature)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// RequireVectorStore fails when the vector store endpoint is not configured.
func (c *Config) RequireVectorStore() error {
	if c.QdrantURL == "" {
		return fmt.Errorf("%w: QDRANT_CLUSTER_URL", ErrMissing)
	}
	return nil
}

// RequireLLM fails when no language-model credential is configured.
func (c *Config) RequireLLM() error {
	if c.AzureEndpoint != "" {
		if c.AzureAPIKey == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_API_KEY", ErrMissing)
		}
		return nil
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY, or OPENAI_API_KEY", ErrMissing)
	}
	return nil
}

// RequireEmbedding fails when the embedding model cannot be reached.
func (c *Config) RequireEmbedding() error {
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissing)
	}
	return c.RequireLLM()
}

// OpenAIConfig returns the client configuration for the embedding and chat
// models. For Azure, the model names double as deployment names.
func (c *Config) OpenAIConfig() openai.ClientConfig {
	var cfg openai.ClientConfig
	if c.AzureEndpoint != "" {
		cfg = openai.DefaultAzureConfig(c.AzureAPIKey, c.AzureEndpoint)
		cfg.APIVersion = c.APIVersion
		cfg.AzureModelMapperFunc = func(model string) string {
			return model
		}
	} else {
		cfg = openai.DefaultConfig(c.OpenAIAPIKey)
	}
	cfg.HTTPClient = &http.Client{Timeout: c.RequestTimeout}
	return cfg
}
