package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ============================================================================
// REFLECTION
// ============================================================================

// reflect asks the model whether the running summary answers the topic
// and, if not, what to search next. Malformed output gets exactly one
// repair re-prompt before the step fails with ErrReflectionParse.
func (c *Controller) reflect(ctx context.Context, session *Session) (ReflectionResult, error) {
	user := fmt.Sprintf("Reflect on our existing knowledge:\n===\n%s\n===\nAnd now identify a knowledge gap and generate a follow-up web search query.", session.RunningSummary)

	raw, err := withRetry(ctx, c.retry, c.logger, "reflect", func(ctx context.Context) (string, error) {
		return c.llm.CompleteJSON(ctx, reflectionPrompt(session.Topic), user)
	})
	if err != nil {
		return ReflectionResult{}, err
	}

	result, parseErr := parseReflection(raw)
	if parseErr == nil {
		return result, nil
	}

	c.logger.Warn("reflection output malformed, re-prompting once",
		zap.String("session", session.ID),
		zap.Error(parseErr))
	repair := fmt.Sprintf("%s\n\n%s\nParse error: %s", user, reflectionRepairInstructions, parseErr)
	repaired, err := withRetry(ctx, c.retry, c.logger, "reflect_repair", func(ctx context.Context) (string, error) {
		return c.llm.CompleteJSON(ctx, reflectionPrompt(session.Topic), repair)
	})
	if err != nil {
		return ReflectionResult{}, err
	}
	result, parseErr = parseReflection(repaired)
	if parseErr != nil {
		return ReflectionResult{}, fmt.Errorf("%w: %v", ErrReflectionParse, parseErr)
	}
	return result, nil
}

func parseReflection(raw string) (ReflectionResult, error) {
	var result ReflectionResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return ReflectionResult{}, err
	}
	if !result.IsSufficient && strings.TrimSpace(result.FollowUpQuery) == "" {
		return ReflectionResult{}, fmt.Errorf("insufficient verdict without a follow_up_query")
	}
	return result, nil
}
