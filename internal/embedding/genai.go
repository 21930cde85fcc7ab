package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"deepresearcher/internal/research"
)

// GenAIEngine generates embeddings through Google's Gemini API.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	dimensions int
}

func NewGenAIEngine(apiKey, model string, dimensions int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: genai embedding provider requires an API key", research.ErrConfiguration)
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimensions <= 0 {
		dimensions = 768
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEngine{client: client, model: model, dimensions: dimensions}, nil
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: genai embed: %v", research.ErrProviderUnavailable, err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: genai returned no embeddings", research.ErrProviderUnavailable)
	}
	values := result.Embeddings[0].Values
	if len(values) != e.dimensions {
		return nil, fmt.Errorf("%w: model %s produced %d dimensions, expected %d",
			research.ErrConfiguration, e.model, len(values), e.dimensions)
	}
	return values, nil
}

func (e *GenAIEngine) Dimensions() int { return e.dimensions }

func (e *GenAIEngine) Name() string { return "genai:" + e.model }
