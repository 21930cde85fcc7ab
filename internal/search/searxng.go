package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearcher/internal/research"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

func NewSearXNG(baseURL string, httpClient *http.Client) *SearXNG {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	return &SearXNG{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	maxResults = clampResults(maxResults)

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, 0)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}

	now := time.Now().UTC()
	sources := make([]research.Source, 0, maxResults)
	for _, r := range parsed.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		sources = append(sources, research.Source{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Content,
			FetchedAt: now,
		})
		if len(sources) >= maxResults {
			break
		}
	}
	return sources, nil
}
