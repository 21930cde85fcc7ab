package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultLMStudioURL   = "http://localhost:1234/v1"
	defaultLMStudioModel = "local-model"
)

// LMStudioClient talks to any OpenAI-compatible server. LM Studio is
// the usual target, but a real OpenAI endpoint works with an API key.
type LMStudioClient struct {
	client      *openai.Client
	model       string
	temperature float64
}

func NewLMStudioClient(cfg Config) *LMStudioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultLMStudioURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultLMStudioModel
	}

	apiConfig := openai.DefaultConfig("lm-studio")
	apiConfig.BaseURL = baseURL
	if cfg.TimeoutSec > 0 {
		apiConfig.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	} else {
		apiConfig.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	return &LMStudioClient{
		client:      openai.NewClientWithConfig(apiConfig),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (c *LMStudioClient) Complete(ctx context.Context, system, user string) (string, error) {
	return c.chat(ctx, system, user, nil)
}

func (c *LMStudioClient) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return c.chat(ctx, system, user, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (c *LMStudioClient) chat(ctx context.Context, system, user string, format *openai.ChatCompletionResponseFormat) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    float32(c.temperature),
		ResponseFormat: format,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", classify(nil, apiErr.HTTPStatusCode)
		}
		return "", classify(err, 0)
	}
	if len(resp.Choices) == 0 {
		return "", classify(nil, 500)
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models, which every OpenAI-compatible server implements.
func (c *LMStudioClient) Ping(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return classify(nil, apiErr.HTTPStatusCode)
		}
		return classify(err, 0)
	}
	return nil
}
