package research

import (
	"context"
	"strings"
)

// ============================================================================
// SUMMARIZATION
// ============================================================================

// maxSourceChars bounds how much of each source's content goes into the
// summarize prompt, keeping the context window in check for local models.
const maxSourceChars = 4000

// summarize folds this iteration's new sources into the running summary.
// With no existing summary it creates one; an empty source batch returns
// the summary unchanged without a model call.
func (c *Controller) summarize(ctx context.Context, session *Session, newSources []Source) (string, error) {
	if len(newSources) == 0 {
		return session.RunningSummary, nil
	}

	trimmed := make([]Source, len(newSources))
	copy(trimmed, newSources)
	for i := range trimmed {
		if len(trimmed[i].RawContent) > maxSourceChars {
			trimmed[i].RawContent = trimmed[i].RawContent[:maxSourceChars]
		}
	}

	user := summarizerHumanMessage(session.Topic, session.RunningSummary, trimmed)
	raw, err := withRetry(ctx, c.retry, c.logger, "summarize", func(ctx context.Context) (string, error) {
		return c.llm.Complete(ctx, summarizerInstructions, user)
	})
	if err != nil {
		return "", err
	}

	summary := stripThinkingTokens(raw)
	if strings.TrimSpace(summary) == "" {
		// A blank response would erase prior work; keep what we have.
		return session.RunningSummary, nil
	}
	return summary, nil
}
