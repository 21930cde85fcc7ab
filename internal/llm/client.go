// Package llm provides chat-completion clients for the local model
// backends the researcher supports: Ollama's native API and any
// OpenAI-compatible server such as LM Studio.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"deepresearcher/internal/research"
)

// Client is the provider-neutral completion surface. Both backends
// satisfy research.LLMClient.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteJSON(ctx context.Context, system, user string) (string, error)
	// Ping verifies the backend is reachable and the model is loaded.
	Ping(ctx context.Context) error
}

// Config holds connection settings shared by all backends.
type Config struct {
	Provider    string // "ollama" or "lmstudio"
	BaseURL     string
	Model       string
	Temperature float64
	TimeoutSec  int
}

// New builds the client named by cfg.Provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllamaClient(cfg), nil
	case "lmstudio", "openai":
		return NewLMStudioClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", research.ErrConfiguration, cfg.Provider)
	}
}

// classify maps transport and status failures onto the loop's error
// taxonomy so retry and degradation logic can act on them.
func classify(err error, status int) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", research.ErrProviderTimeout, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", research.ErrProviderTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", research.ErrProviderUnavailable, err)
	}
	switch {
	case status >= 500:
		return fmt.Errorf("%w: server returned %d", research.ErrProviderUnavailable, status)
	case status == 404:
		return fmt.Errorf("%w: model not found (status 404)", research.ErrConfiguration)
	case status >= 400:
		return fmt.Errorf("%w: server returned %d", research.ErrInvalidArgument, status)
	}
	return nil
}
