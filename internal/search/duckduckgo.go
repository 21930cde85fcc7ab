package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"deepresearcher/internal/research"
)

const duckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes DuckDuckGo's HTML interface. No API key required,
// which makes it the default for fully local setups.
type DuckDuckGo struct {
	httpClient *http.Client
}

func NewDuckDuckGo(httpClient *http.Client) *DuckDuckGo {
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	return &DuckDuckGo{httpClient: httpClient}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	maxResults = clampResults(maxResults)

	searchURL := duckDuckGoURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	// DuckDuckGo serves an empty shell to obvious bots.
	req.Header.Set("User-Agent", browserUAString)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, 0)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoHTML(string(body), maxResults)
}

// parseDuckDuckGoHTML extracts results from the HTML interface, which
// marks each hit with class "result results_links".
func parseDuckDuckGoHTML(htmlContent string, maxResults int) ([]research.Source, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	now := time.Now().UTC()
	var sources []research.Source

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(sources) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if src, ok := extractDuckDuckGoResult(n, now); ok {
					sources = append(sources, src)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sources, nil
}

func extractDuckDuckGoResult(n *html.Node, now time.Time) (research.Source, bool) {
	var src research.Source
	src.FetchedAt = now

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				src.URL = resolveRedirect(attrValue(n, "href"))
				src.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				src.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return src, src.URL != "" && src.Title != ""
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect URLs.
func resolveRedirect(href string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(href, prefix) {
		return href
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(href, prefix))
	if err != nil {
		return href
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
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
	walk(n)
	return sb.String()
}
