package research

import (
	"context"
	"regexp"
	"strings"
)

// LLMClient is the model surface the loop needs. Complete returns free
// text; CompleteJSON asks the provider for a JSON object response where
// the backend supports it.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// SearchProvider retrieves candidate sources for a query. Implementations
// return raw, unscored sources; dedup and scoring happen in the loop.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}

var thinkingTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkingTokens removes <think>...</think> blocks that reasoning
// models emit before their answer. An unclosed tag truncates the rest
// of the response: half a thought is worse than none.
func stripThinkingTokens(s string) string {
	s = thinkingTagRe.ReplaceAllString(s, "")
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	} else if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractJSON pulls the first JSON object out of a model response that
// may wrap it in prose or a fenced code block.
func extractJSON(s string) string {
	s = stripThinkingTokens(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
