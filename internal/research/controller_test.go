package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLLM scripts the model side of the loop. Queries and summaries are
// canned; reflection responses are consumed in order.
type fakeLLM struct {
	mu              sync.Mutex
	reflections     []string
	calls           []string
	reflectPrompts  []string
	failOn          string // op substring that should fail
	failErr         error
	failCount       int // how many times to fail before succeeding
	cancelOnReflect context.CancelFunc
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.respond(ctx, system, user)
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return f.respond(ctx, system, user)
}

func (f *fakeLLM) respond(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(user, "generate a targeted web search query"):
		f.calls = append(f.calls, "query")
		if f.failOn == "query" && f.failCount > 0 {
			f.failCount--
			return "", f.failErr
		}
		return `{"query": "initial search query", "rationale": "covers the topic"}`, nil
	case strings.Contains(system, "high-quality summary"):
		f.calls = append(f.calls, "summarize")
		if f.failOn == "summarize" && f.failCount > 0 {
			f.failCount--
			return "", f.failErr
		}
		return "summary of findings so far", nil
	case strings.Contains(system, "expert research assistant"):
		f.calls = append(f.calls, "reflect")
		f.reflectPrompts = append(f.reflectPrompts, user)
		if f.cancelOnReflect != nil {
			f.cancelOnReflect()
			f.cancelOnReflect = nil
			return "", ctx.Err()
		}
		if f.failOn == "reflect" && f.failCount > 0 {
			f.failCount--
			return "", f.failErr
		}
		if len(f.reflections) == 0 {
			return `{"is_sufficient": true, "knowledge_gap": "", "follow_up_query": ""}`, nil
		}
		next := f.reflections[0]
		f.reflections = f.reflections[1:]
		return next, nil
	}
	return "", fmt.Errorf("unexpected prompt: %s", user)
}

func (f *fakeLLM) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// fakeSearch returns two canned results per query, with per-call errors
// scriptable by call index (1-based).
type fakeSearch struct {
	mu      sync.Mutex
	calls   int
	errOn   map[int]error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, query)
	if err, ok := f.errOn[f.calls]; ok {
		return nil, err
	}
	return []Source{
		{URL: fmt.Sprintf("https://example.com/%d/a", f.calls), Title: "quantum computing result " + query, Snippet: "initial search query quantum computing"},
		{URL: fmt.Sprintf("https://example.com/%d/b", f.calls), Title: "another quantum computing result " + query, Snippet: "initial search query details"},
	}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestController(t *testing.T, llm LLMClient, search SearchProvider, maxLoops int) *Controller {
	t.Helper()
	c, err := NewController(llm, search, Options{
		MaxLoops:           maxLoops,
		MaxResultsPerQuery: 5,
		Retry:              fastRetry(),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestRun_SingleLoopSufficient(t *testing.T) {
	llm := &fakeLLM{}
	search := &fakeSearch{}
	c := newTestController(t, llm, search, 1)

	session, err := c.Run(context.Background(), "current state of quantum computing error correction")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if session.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", session.Status)
	}
	if session.LoopCount != 1 {
		t.Errorf("expected loop_count 1, got %d", session.LoopCount)
	}
	if len(session.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(session.Sources))
	}
	if session.RunningSummary == "" {
		t.Error("expected non-empty running summary")
	}
	if !strings.Contains(session.FinalReport, "## Summary") || !strings.Contains(session.FinalReport, "### Sources:") {
		t.Errorf("report missing sections:\n%s", session.FinalReport)
	}
	for _, src := range session.Sources {
		if !strings.Contains(session.FinalReport, src.URL) {
			t.Errorf("report missing source %s", src.URL)
		}
	}
	if session.Degraded {
		t.Error("clean run must not be degraded")
	}
}

func TestRun_ReflectionDrivesFollowUp(t *testing.T) {
	llm := &fakeLLM{reflections: []string{
		`{"is_sufficient": false, "knowledge_gap": "missing hardware details", "follow_up_query": "quantum computing hardware 2026"}`,
		`{"is_sufficient": true, "knowledge_gap": "", "follow_up_query": ""}`,
	}}
	search := &fakeSearch{}
	c := newTestController(t, llm, search, 5)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.LoopCount != 2 {
		t.Errorf("expected termination after 2 loops on sufficiency, got %d", session.LoopCount)
	}
	if search.queries[1] != "quantum computing hardware 2026" {
		t.Errorf("second search should use the follow-up query, got %q", search.queries[1])
	}
}

func TestRun_LoopBudgetCapsIterations(t *testing.T) {
	// Reflection never satisfied; the budget must end the loop.
	llm := &fakeLLM{reflections: []string{
		`{"is_sufficient": false, "knowledge_gap": "gap", "follow_up_query": "follow up 1"}`,
		`{"is_sufficient": false, "knowledge_gap": "gap", "follow_up_query": "follow up 2"}`,
		`{"is_sufficient": false, "knowledge_gap": "gap", "follow_up_query": "follow up 3"}`,
		`{"is_sufficient": false, "knowledge_gap": "gap", "follow_up_query": "follow up 4"}`,
	}}
	search := &fakeSearch{}
	c := newTestController(t, llm, search, 3)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.LoopCount != 3 {
		t.Errorf("expected exactly 3 loops, got %d", session.LoopCount)
	}
	if search.calls != 3 {
		t.Errorf("expected 3 searches, got %d", search.calls)
	}
	if session.Status != StatusCompleted {
		t.Errorf("budget exhaustion is a normal completion, got %s", session.Status)
	}
}

func TestRun_SearchFailureDegradesSession(t *testing.T) {
	// Second iteration's search fails on both the call and its retry.
	llm := &fakeLLM{reflections: []string{
		`{"is_sufficient": false, "knowledge_gap": "gap", "follow_up_query": "follow up"}`,
	}}
	search := &fakeSearch{errOn: map[int]error{
		2: ErrProviderUnavailable,
		3: ErrProviderUnavailable,
	}}
	c := newTestController(t, llm, search, 3)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("degraded run must not return an error, got %v", err)
	}
	if session.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", session.Status)
	}
	if !session.Degraded {
		t.Fatal("expected degraded session")
	}
	if session.LoopCount != 2 {
		t.Errorf("failure in iteration 2 should finalize at loop_count 2, got %d", session.LoopCount)
	}
	if len(session.Sources) != 2 {
		t.Errorf("expected the first iteration's sources preserved, got %d", len(session.Sources))
	}
	if session.FinalReport == "" {
		t.Error("degraded session must still carry a report")
	}
	if !strings.Contains(session.FinalReport, "ended early") {
		t.Error("degraded report should state the early end")
	}
}

func TestRun_TransientSearchFailureRecovers(t *testing.T) {
	llm := &fakeLLM{}
	search := &fakeSearch{errOn: map[int]error{1: ErrProviderTimeout}}
	c := newTestController(t, llm, search, 1)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.Degraded {
		t.Error("a failure recovered by retry must not degrade the session")
	}
	if search.calls != 2 {
		t.Errorf("expected 2 search calls (fail + retry), got %d", search.calls)
	}
}

func TestRun_EmptyTopic(t *testing.T) {
	c := newTestController(t, &fakeLLM{}, &fakeSearch{}, 1)
	_, err := c.Run(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRun_CancellationBeforeFirstLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(t, &fakeLLM{}, &fakeSearch{}, 3)
	session, err := c.Run(ctx, "quantum computing")
	if err != nil {
		t.Fatalf("cancellation must finalize, not error: %v", err)
	}
	if session.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", session.Status)
	}
	if !session.Degraded {
		t.Error("cancelled session should be degraded")
	}
	if session.FinalReport == "" {
		t.Error("cancelled session must still carry a report")
	}
}

func TestRun_CancellationMidLoopKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel while reflecting in loop 1, after sources were gathered.
	llm := &fakeLLM{cancelOnReflect: cancel}
	c := newTestController(t, llm, &fakeSearch{}, 3)

	session, err := c.Run(ctx, "quantum computing")
	if err != nil {
		t.Fatalf("cancellation must finalize, not error: %v", err)
	}
	if session.Status != StatusCompleted || !session.Degraded {
		t.Fatalf("expected degraded completion, got status=%s degraded=%v", session.Status, session.Degraded)
	}
	if session.LoopCount != 1 {
		t.Errorf("expected finalize at loop_count 1, got %d", session.LoopCount)
	}
	if len(session.Sources) != 2 {
		t.Fatalf("expected the gathered sources preserved, got %d", len(session.Sources))
	}
	for _, src := range session.Sources {
		if !strings.Contains(session.FinalReport, src.URL) {
			t.Errorf("best-effort report missing source %s", src.URL)
		}
	}
}

func TestRun_ReflectionRepairedAfterMalformedOutput(t *testing.T) {
	llm := &fakeLLM{reflections: []string{
		"this is not json at all",
		`{"is_sufficient": true, "knowledge_gap": "", "follow_up_query": ""}`,
	}}
	c := newTestController(t, llm, &fakeSearch{}, 3)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.Degraded {
		t.Error("repaired reflection must not degrade the session")
	}
	if llm.callCount("reflect") != 2 {
		t.Errorf("expected exactly one repair re-prompt, got %d reflect calls", llm.callCount("reflect"))
	}
	if !strings.Contains(llm.reflectPrompts[1], "Parse error:") {
		t.Errorf("repair re-prompt should carry the parse error text, got:\n%s", llm.reflectPrompts[1])
	}
}

func TestRun_ReflectionUnparseableDegrades(t *testing.T) {
	llm := &fakeLLM{reflections: []string{
		"garbage",
		"more garbage",
	}}
	c := newTestController(t, llm, &fakeSearch{}, 3)

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !session.Degraded {
		t.Fatal("unparseable reflection should degrade the session")
	}
	if !strings.Contains(session.DegradedReason, "unparseable") {
		t.Errorf("degraded reason should name the parse failure, got %q", session.DegradedReason)
	}
}

func TestRun_RecorderReceivesCompletedSession(t *testing.T) {
	recorded := make(chan *Session, 1)
	c := newTestController(t, &fakeLLM{}, &fakeSearch{}, 1)
	c.SetRecorder(recorderFunc(func(ctx context.Context, s *Session) error {
		recorded <- s
		return nil
	}))

	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	select {
	case got := <-recorded:
		if got.ID != session.ID {
			t.Errorf("recorded wrong session: %s != %s", got.ID, session.ID)
		}
	default:
		t.Fatal("session was not recorded")
	}
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	c := newTestController(t, &fakeLLM{}, &fakeSearch{}, 1)
	c.SetRecorder(recorderFunc(func(ctx context.Context, s *Session) error {
		return errors.New("disk full")
	}))
	session, err := c.Run(context.Background(), "quantum computing")
	if err != nil {
		t.Fatalf("recorder failure must not fail the run: %v", err)
	}
	if session.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", session.Status)
	}
}

func TestRun_ProgressCallbackSeesStates(t *testing.T) {
	var mu sync.Mutex
	var states []State
	c := newTestController(t, &fakeLLM{}, &fakeSearch{}, 1)
	c.SetProgress(func(state State, loop int, detail string) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	if _, err := c.Run(context.Background(), "quantum computing"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []State{StateInitializing, StateQuerying, StateSearching, StateDeduplicating, StateSummarizing, StateReflecting, StateFinalizing}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
}

type recorderFunc func(ctx context.Context, s *Session) error

func (f recorderFunc) Record(ctx context.Context, s *Session) error { return f(ctx, s) }
