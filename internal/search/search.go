// Package search implements the web retrieval providers the research
// loop draws sources from. DuckDuckGo needs no key and is the default;
// SearXNG targets a self-hosted instance; Tavily is the hosted option.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"deepresearcher/internal/research"
)

const (
	maxResultsCap   = 30
	defaultTimeout  = 30 * time.Second
	responseLimit   = 1 << 20 // 1MB per response body
	browserUAString = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string // "duckduckgo", "searxng", "tavily"
	SearXNGURL    string
	TavilyAPIKey  string
	FetchFullPage bool
	CacheTTL      time.Duration
	Timeout       time.Duration // per-request; zero means the 30s default
}

// New builds the provider named by cfg.Provider, wrapping it with
// full-page fetching and a result cache as configured.
func New(cfg Config) (research.SearchProvider, error) {
	client := newHTTPClient(cfg.Timeout)

	var provider research.SearchProvider
	switch strings.ToLower(cfg.Provider) {
	case "", "duckduckgo":
		provider = NewDuckDuckGo(client)
	case "searxng":
		if cfg.SearXNGURL == "" {
			return nil, fmt.Errorf("%w: searxng provider requires a base URL", research.ErrConfiguration)
		}
		provider = NewSearXNG(cfg.SearXNGURL, client)
	case "tavily":
		if cfg.TavilyAPIKey == "" {
			return nil, fmt.Errorf("%w: tavily provider requires an API key", research.ErrConfiguration)
		}
		provider = NewTavily(cfg.TavilyAPIKey, client)
	default:
		return nil, fmt.Errorf("%w: unknown search provider %q", research.ErrConfiguration, cfg.Provider)
	}

	if cfg.FetchFullPage {
		provider = NewPageFetcher(provider, client)
	}
	if cfg.CacheTTL > 0 {
		provider = NewCachedProvider(provider, cfg.CacheTTL)
	}
	return provider, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// classify maps transport and status failures onto the loop's error
// taxonomy.
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
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: server returned %d", research.ErrProviderUnavailable, status)
	case status >= 400:
		return fmt.Errorf("%w: server returned %d", research.ErrInvalidArgument, status)
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return nil, classify(err, 0)
	}
	if cerr := classify(nil, resp.StatusCode); cerr != nil {
		return nil, cerr
	}
	return body, nil
}

func clampResults(n int) int {
	if n <= 0 {
		return 10
	}
	if n > maxResultsCap {
		return maxResultsCap
	}
	return n
}
