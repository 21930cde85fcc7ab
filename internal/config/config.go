// Package config loads researcher configuration from a YAML file, a
// .env file, and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"deepresearcher/internal/research"
)

// Config holds all researcher configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Research  ResearchConfig  `yaml:"research"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"omitempty,oneof=ollama lmstudio openai"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSec  int     `yaml:"timeout_sec" validate:"gte=0"`
}

// SearchConfig configures web retrieval.
type SearchConfig struct {
	Provider      string `yaml:"provider" validate:"omitempty,oneof=duckduckgo searxng tavily"`
	SearXNGURL    string `yaml:"searxng_url" validate:"omitempty,url"`
	TavilyAPIKey  string `yaml:"tavily_api_key"`
	FetchFullPage bool   `yaml:"fetch_full_page"`
	CacheTTLMin   int    `yaml:"cache_ttl_min" validate:"gte=0"`
	TimeoutSec    int    `yaml:"timeout_sec" validate:"gte=0"`
}

// EmbeddingConfig configures the optional embedding backend.
type EmbeddingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Provider   string `yaml:"provider" validate:"omitempty,oneof=ollama genai"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions" validate:"gte=0"`
	// Semantic switches relevance scoring from lexical overlap to
	// embedding similarity. Needs Enabled.
	Semantic bool `yaml:"semantic"`
}

// ResearchConfig configures the loop itself.
type ResearchConfig struct {
	MaxLoops           int     `yaml:"max_loops" validate:"omitempty,min=1,max=10"`
	MaxResultsPerQuery int     `yaml:"max_results_per_query" validate:"gte=0,lte=30"`
	RelevanceThreshold float64 `yaml:"relevance_threshold" validate:"gte=0,lte=1"`
}

// HistoryConfig configures session persistence.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when no file or environment
// overrides are present: fully local, no API keys.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".deepresearcher")
	return Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			Temperature: 0,
			TimeoutSec:  120,
		},
		Search: SearchConfig{
			Provider:      "duckduckgo",
			FetchFullPage: false,
			CacheTTLMin:   30,
			TimeoutSec:    30,
		},
		Embedding: EmbeddingConfig{
			Enabled:    false,
			Provider:   "ollama",
			Endpoint:   "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Research: ResearchConfig{
			MaxLoops:           research.DefaultLoops,
			MaxResultsPerQuery: 5,
			RelevanceThreshold: 0,
		},
		History: HistoryConfig{
			Path: filepath.Join(dataDir, "history.db"),
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    filepath.Join(dataDir, "deepresearcher.log"),
			Console: true,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (if any), then .env, then process environment. Validation
// failures are configuration errors.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", research.ErrConfiguration, path, err)
		}
	}

	// .env in the working directory, if present. Real environment wins.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", research.ErrConfiguration, err)
	}
	if c.Search.Provider == "searxng" && c.Search.SearXNGURL == "" {
		return fmt.Errorf("%w: search provider searxng requires searxng_url", research.ErrConfiguration)
	}
	if c.Search.Provider == "tavily" && c.Search.TavilyAPIKey == "" {
		return fmt.Errorf("%w: search provider tavily requires tavily_api_key", research.ErrConfiguration)
	}
	if c.Embedding.Semantic && !c.Embedding.Enabled {
		return fmt.Errorf("%w: semantic scoring requires embedding.enabled", research.ErrConfiguration)
	}
	if c.Embedding.Enabled && c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("%w: genai embeddings require an API key", research.ErrConfiguration)
	}
	return nil
}
