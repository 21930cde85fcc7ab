package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"deepresearcher/internal/research"
)

const (
	fetchConcurrency = 4
	maxPageChars     = 20000
)

// PageFetcher wraps a provider and fills in RawContent by fetching each
// result page and extracting its visible text. Fetch failures are
// tolerated per page: a result keeps its snippet and the loop moves on.
type PageFetcher struct {
	inner      research.SearchProvider
	httpClient *http.Client
}

func NewPageFetcher(inner research.SearchProvider, httpClient *http.Client) *PageFetcher {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	return &PageFetcher{inner: inner, httpClient: httpClient}
}

func (f *PageFetcher) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	sources, err := f.inner.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range sources {
		if sources[i].RawContent != "" {
			continue
		}
		i := i
		g.Go(func() error {
			text, fetchErr := f.fetchText(gctx, sources[i].URL)
			if fetchErr != nil {
				// Snippet-only is still usable.
				return nil
			}
			sources[i].RawContent = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

func (f *PageFetcher) fetchText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", browserUAString)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", classify(err, 0)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		resp.Body.Close()
		return "", fmt.Errorf("unsupported content type %q", ct)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return ExtractText(string(body)), nil
}

// ExtractText strips markup from an HTML page and returns its visible
// text, truncated to a bound that keeps summarize prompts manageable.
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sb.Len() >= maxPageChars {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "header", "footer", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := sb.String()
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
	}
	return text
}
