// Package embedding generates vector embeddings for session similarity
// search and optional semantic relevance scoring. Two backends: Ollama
// (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"

	"deepresearcher/internal/research"
)

// Engine generates vector embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the fixed output dimensionality of the engine.
	Dimensions() int
	Name() string
}

// Config selects and configures an embedding backend.
type Config struct {
	Provider   string `json:"provider"` // "ollama" or "genai"
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	Dimensions int    `json:"dimensions"`
}

func DefaultConfig() Config {
	return Config{
		Provider:   "ollama",
		Endpoint:   "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 768,
	}
}

// NewEngine builds the engine named by cfg.Provider.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEngine(cfg.Endpoint, cfg.Model, cfg.Dimensions), nil
	case "genai":
		return NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", research.ErrConfiguration, cfg.Provider)
	}
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors; a zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector dimensions differ: %d != %d", research.ErrInvalidArgument, len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// SemanticScorer scores source relevance by embedding similarity.
// Slower and nondeterministic relative to lexical scoring, but it
// catches paraphrase matches the token-overlap scorer misses.
type SemanticScorer struct {
	engine Engine
}

func NewSemanticScorer(engine Engine) *SemanticScorer {
	return &SemanticScorer{engine: engine}
}

func (s *SemanticScorer) Score(ctx context.Context, query string, src research.Source) (float64, error) {
	qVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return 0, err
	}
	doc := src.Title + "\n" + src.Snippet
	if src.RawContent != "" {
		content := src.RawContent
		if len(content) > 2000 {
			content = content[:2000]
		}
		doc += "\n" + content
	}
	dVec, err := s.engine.Embed(ctx, doc)
	if err != nil {
		return 0, err
	}
	sim, err := CosineSimilarity(qVec, dVec)
	if err != nil {
		return 0, err
	}
	// Clamp to [0,1]: negative similarity means irrelevant, not an error.
	if sim < 0 {
		sim = 0
	}
	return sim, nil
}
