package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names mirror the YAML structure. Booleans accept
// anything strconv.ParseBool does.
const (
	envLLMProvider       = "DEEPRESEARCHER_LLM_PROVIDER"
	envLLMBaseURL        = "DEEPRESEARCHER_LLM_BASE_URL"
	envLLMModel          = "DEEPRESEARCHER_LLM_MODEL"
	envSearchProvider    = "DEEPRESEARCHER_SEARCH_PROVIDER"
	envSearXNGURL        = "DEEPRESEARCHER_SEARXNG_URL"
	envTavilyAPIKey      = "TAVILY_API_KEY"
	envFetchFullPage     = "DEEPRESEARCHER_FETCH_FULL_PAGE"
	envSearchTimeout     = "DEEPRESEARCHER_SEARCH_TIMEOUT_SEC"
	envMaxLoops          = "DEEPRESEARCHER_MAX_LOOPS"
	envEmbeddingEnabled  = "DEEPRESEARCHER_EMBEDDING_ENABLED"
	envEmbeddingProvider = "DEEPRESEARCHER_EMBEDDING_PROVIDER"
	envEmbeddingEndpoint = "DEEPRESEARCHER_EMBEDDING_ENDPOINT"
	envEmbeddingModel    = "DEEPRESEARCHER_EMBEDDING_MODEL"
	envEmbeddingDims     = "DEEPRESEARCHER_EMBEDDING_DIMENSIONS"
	envGenAIAPIKey       = "GEMINI_API_KEY"
	envHistoryPath       = "DEEPRESEARCHER_HISTORY_PATH"
	envLogLevel          = "DEEPRESEARCHER_LOG_LEVEL"
)

func applyEnv(cfg *Config) {
	setString(&cfg.LLM.Provider, envLLMProvider)
	setString(&cfg.LLM.BaseURL, envLLMBaseURL)
	setString(&cfg.LLM.Model, envLLMModel)
	setString(&cfg.Search.Provider, envSearchProvider)
	setString(&cfg.Search.SearXNGURL, envSearXNGURL)
	setString(&cfg.Search.TavilyAPIKey, envTavilyAPIKey)
	setBool(&cfg.Search.FetchFullPage, envFetchFullPage)
	setInt(&cfg.Search.TimeoutSec, envSearchTimeout)
	setInt(&cfg.Research.MaxLoops, envMaxLoops)
	setBool(&cfg.Embedding.Enabled, envEmbeddingEnabled)
	setString(&cfg.Embedding.Provider, envEmbeddingProvider)
	setString(&cfg.Embedding.Endpoint, envEmbeddingEndpoint)
	setString(&cfg.Embedding.Model, envEmbeddingModel)
	setInt(&cfg.Embedding.Dimensions, envEmbeddingDims)
	setString(&cfg.Embedding.APIKey, envGenAIAPIKey)
	setString(&cfg.History.Path, envHistoryPath)
	setString(&cfg.Logging.Level, envLogLevel)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
