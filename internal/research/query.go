package research

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// ============================================================================
// QUERY GENERATION
// ============================================================================

type queryWriterOutput struct {
	Query     string `json:"query"`
	Rationale string `json:"rationale"`
}

// generateQuery asks the model for the initial search query. A response
// that fails to parse as JSON falls back to the raw text, and an empty
// result falls back to the topic itself, so this step never blocks the
// loop.
func (c *Controller) generateQuery(ctx context.Context, topic string) Query {
	raw, err := withRetry(ctx, c.retry, c.logger, "generate_query", func(ctx context.Context) (string, error) {
		return c.llm.CompleteJSON(ctx, "", queryWriterPrompt(topic))
	})
	if err != nil {
		c.logger.Warn("query generation failed, using topic verbatim", zap.Error(err))
		return Query{Text: topic, LoopIndex: 0}
	}

	var out queryWriterOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		text := stripThinkingTokens(raw)
		if text == "" {
			text = topic
		}
		return Query{Text: firstLine(text), LoopIndex: 0}
	}
	if strings.TrimSpace(out.Query) == "" {
		return Query{Text: topic, LoopIndex: 0}
	}
	return Query{Text: out.Query, Rationale: out.Rationale, LoopIndex: 0}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
