package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"deepresearcher/internal/research"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily queries the hosted Tavily search API. Its responses can carry
// full page content, so the page fetcher is usually unnecessary with it.
type Tavily struct {
	apiKey     string
	httpClient *http.Client
}

func NewTavily(apiKey string, httpClient *http.Client) *Tavily {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	return &Tavily{apiKey: apiKey, httpClient: httpClient}
}

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeRaw    bool   `json:"include_raw_content"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		URL        string `json:"url"`
		Title      string `json:"title"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	maxResults = clampResults(maxResults)

	payload, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  maxResults,
		IncludeRaw:  true,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, 0)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	now := time.Now().UTC()
	sources := make([]research.Source, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		sources = append(sources, research.Source{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Content,
			RawContent: r.RawContent,
			FetchedAt:  now,
		})
	}
	return sources, nil
}
