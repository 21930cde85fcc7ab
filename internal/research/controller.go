package research

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// LOOP CONTROLLER
// ============================================================================

const (
	MinLoops     = 1
	MaxLoopBound = 10
	DefaultLoops = 3
)

// ProgressFunc receives state transitions as the loop runs. Called
// synchronously from the controller goroutine; keep it fast.
type ProgressFunc func(state State, loop int, detail string)

// Recorder persists completed sessions. The controller treats recording
// as best-effort: a store failure is logged, not fatal to the session.
type Recorder interface {
	Record(ctx context.Context, session *Session) error
}

// Options configures a Controller.
type Options struct {
	MaxLoops           int
	MaxResultsPerQuery int
	RelevanceThreshold float64
	Retry              RetryConfig
}

func DefaultOptions() Options {
	return Options{
		MaxLoops:           DefaultLoops,
		MaxResultsPerQuery: 5,
		Retry:              DefaultRetryConfig(),
	}
}

// Controller drives one research session at a time through the loop:
// query, search, dedup, summarize, reflect, until sufficiency or the
// loop budget ends it. Safe for concurrent Run calls; each call owns
// its session exclusively.
type Controller struct {
	mu       sync.RWMutex
	llm      LLMClient
	search   SearchProvider
	dedup    *Deduplicator
	recorder Recorder
	progress ProgressFunc
	opts     Options
	retry    RetryConfig
	logger   *zap.Logger
}

// NewController validates options and wires the loop. Out-of-range
// MaxLoops is a configuration error, not a clamp.
func NewController(llm LLMClient, search SearchProvider, opts Options, logger *zap.Logger) (*Controller, error) {
	if llm == nil || search == nil {
		return nil, fmt.Errorf("%w: llm and search providers are required", ErrConfiguration)
	}
	if opts.MaxLoops == 0 {
		opts.MaxLoops = DefaultLoops
	}
	if opts.MaxLoops < MinLoops || opts.MaxLoops > MaxLoopBound {
		return nil, fmt.Errorf("%w: max loops %d outside [%d,%d]", ErrConfiguration, opts.MaxLoops, MinLoops, MaxLoopBound)
	}
	if opts.MaxResultsPerQuery <= 0 {
		opts.MaxResultsPerQuery = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		llm:    llm,
		search: search,
		dedup:  NewDeduplicator(LexicalScorer{}, opts.RelevanceThreshold),
		opts:   opts,
		retry:  opts.Retry,
		logger: logger,
	}, nil
}

// SetScorer swaps the relevance scorer, e.g. for embedding similarity.
func (c *Controller) SetScorer(s Scorer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedup = NewDeduplicator(s, c.opts.RelevanceThreshold)
}

// SetRecorder attaches a history store for completed sessions.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// SetProgress attaches a progress callback.
func (c *Controller) SetProgress(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = fn
}

func (c *Controller) report(state State, loop int, detail string) {
	c.mu.RLock()
	fn := c.progress
	c.mu.RUnlock()
	if fn != nil {
		fn(state, loop, detail)
	}
}

// Run executes a full research session for the topic. It returns the
// finished session: completed cleanly, or completed degraded with
// whatever was gathered when a step failed or the context was
// cancelled. The only error return is invalid input.
func (c *Controller) Run(ctx context.Context, topic string) (*Session, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: empty research topic", ErrInvalidArgument)
	}

	session := newSession(topic, c.opts.MaxLoops)
	c.report(StateInitializing, 0, topic)
	c.logger.Info("research session started",
		zap.String("session", session.ID),
		zap.String("topic", topic),
		zap.Int("max_loops", session.MaxLoops))

	c.report(StateQuerying, 0, "")
	query := c.generateQuery(ctx, topic)
	if err := ctx.Err(); err != nil {
		return c.finish(ctx, session, &StepError{Step: StateQuerying, Loop: 0, Err: err})
	}

	for {
		// The budget counts started iterations, so a failure mid-loop
		// still attributes to the iteration it happened in.
		session.LoopCount++
		loop := session.LoopCount
		query.LoopIndex = loop
		c.logger.Info("research loop iteration",
			zap.String("session", session.ID),
			zap.Int("loop", loop),
			zap.String("query", query.Text))

		c.report(StateSearching, loop, query.Text)
		results, err := withRetry(ctx, c.retry, c.logger, "search", func(ctx context.Context) ([]Source, error) {
			return c.search.Search(ctx, query.Text, c.opts.MaxResultsPerQuery)
		})
		if err != nil {
			return c.finish(ctx, session, &StepError{Step: StateSearching, Loop: loop, Err: err})
		}

		c.report(StateDeduplicating, loop, "")
		c.mu.RLock()
		dedup := c.dedup
		c.mu.RUnlock()
		fresh, err := dedup.Filter(ctx, query.Text, results, session.Fingerprints())
		if err != nil {
			return c.finish(ctx, session, &StepError{Step: StateDeduplicating, Loop: loop, Err: err})
		}
		session.mergeSources(fresh)
		c.logger.Debug("sources merged",
			zap.String("session", session.ID),
			zap.Int("new", len(fresh)),
			zap.Int("total", len(session.Sources)))

		c.report(StateSummarizing, loop, "")
		summary, err := c.summarize(ctx, session, fresh)
		if err != nil {
			return c.finish(ctx, session, &StepError{Step: StateSummarizing, Loop: loop, Err: err})
		}
		session.RunningSummary = summary

		c.report(StateReflecting, loop, "")
		reflection, err := c.reflect(ctx, session)
		if err != nil {
			return c.finish(ctx, session, &StepError{Step: StateReflecting, Loop: loop, Err: err})
		}
		if reflection.IsSufficient {
			c.logger.Info("reflection judged summary sufficient",
				zap.String("session", session.ID),
				zap.Int("loop", loop))
			return c.finish(ctx, session, nil)
		}
		if loop >= session.MaxLoops {
			c.logger.Info("loop budget reached",
				zap.String("session", session.ID),
				zap.Int("loop", loop))
			return c.finish(ctx, session, nil)
		}
		query = Query{Text: reflection.FollowUpQuery}
	}
}

// finish finalizes the session. A nil cause is a normal completion; a
// provider failure or cancellation completes degraded with whatever was
// gathered, so a partial run still yields a report.
func (c *Controller) finish(ctx context.Context, session *Session, cause error) (*Session, error) {
	if cause != nil {
		session.Degraded = true
		session.DegradedReason = cause.Error()
		c.logger.Warn("finalizing degraded session",
			zap.String("session", session.ID),
			zap.Int("loop", session.LoopCount),
			zap.Error(cause))
	}

	c.report(StateFinalizing, session.LoopCount, "")
	session.FinalReport = buildReport(session)
	session.Status = StatusCompleted

	c.mu.RLock()
	recorder := c.recorder
	c.mu.RUnlock()
	if recorder != nil {
		// Recording outlives the run's cancellation: a finalized session
		// is worth keeping even when the context that produced it is done.
		rctx := context.WithoutCancel(ctx)
		if err := recorder.Record(rctx, session); err != nil {
			c.logger.Warn("failed to record session",
				zap.String("session", session.ID),
				zap.Error(err))
		}
	}

	c.logger.Info("research session completed",
		zap.String("session", session.ID),
		zap.Int("loops", session.LoopCount),
		zap.Int("sources", len(session.Sources)),
		zap.Bool("degraded", session.Degraded))
	return session, nil
}
