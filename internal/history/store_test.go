package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"deepresearcher/internal/research"
)

// stubEngine maps whole strings to fixed vectors so similarity ordering
// in tests is fully deterministic.
type stubEngine struct {
	dims    int
	vectors map[string][]float32
	fail    bool
}

func (e *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, research.ErrProviderUnavailable
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	// Unknown text gets a default direction.
	v := make([]float32, e.dims)
	v[0] = 1
	return v, nil
}

func (e *stubEngine) Dimensions() int { return e.dims }
func (e *stubEngine) Name() string    { return "stub" }

func testEngine() *stubEngine {
	return &stubEngine{dims: 4, vectors: map[string][]float32{}}
}

func openTestStore(t *testing.T, engine *stubEngine) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	var s *Store
	var err error
	if engine == nil {
		s, err = Open(path, nil, zap.NewNop())
	} else {
		s, err = Open(path, engine, zap.NewNop())
	}
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func session(id, topic, summary string) *research.Session {
	return &research.Session{
		ID:             id,
		Topic:          topic,
		CreatedAt:      time.Now().UTC(),
		Status:         research.StatusCompleted,
		LoopCount:      2,
		MaxLoops:       3,
		RunningSummary: summary,
		FinalReport:    "## Summary\n\n" + summary,
		Sources: []research.Source{
			{URL: "https://example.com/" + id, Title: "source for " + id, Fingerprint: "fp-" + id},
		},
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openTestStore(t, testEngine())
	ctx := context.Background()

	sess := session("s1", "quantum computing", "what we learned")
	if err := s.Record(ctx, sess); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entry, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Topic != "quantum computing" || entry.Summary != "what we learned" {
		t.Errorf("round trip mismatch: %+v", entry)
	}
	if len(entry.Sources) != 1 || entry.Sources[0].URL != "https://example.com/s1" {
		t.Errorf("sources not preserved: %+v", entry.Sources)
	}
	if entry.StoredAt.IsZero() {
		t.Error("stored_at not set")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t, nil)
	entry, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for missing session, got %+v", entry)
	}
}

func TestStore_SearchSimilar(t *testing.T) {
	engine := testEngine()
	engine.vectors = map[string][]float32{
		"ml\nmachine learning notes":    {1, 0, 0, 0},
		"cooking\npasta recipes":        {0, 1, 0, 0},
		"ai\nneural network training":   {0.9, 0.1, 0, 0},
		"machine learning fundamentals": {1, 0, 0, 0}, // the query itself
	}

	s := openTestStore(t, engine)
	ctx := context.Background()
	for _, sess := range []*research.Session{
		session("ml", "ml", "machine learning notes"),
		session("cook", "cooking", "pasta recipes"),
		session("ai", "ai", "neural network training"),
	} {
		if err := s.Record(ctx, sess); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := s.SearchSimilar(ctx, "machine learning fundamentals", 2)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "ml" || got[1].ID != "ai" {
		t.Errorf("wrong ranking: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Error("results not in descending similarity order")
	}
}

func TestStore_SearchSimilar_TopKExceedsSize(t *testing.T) {
	s := openTestStore(t, testEngine())
	ctx := context.Background()
	if err := s.Record(ctx, session("only", "topic", "summary")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := s.SearchSimilar(ctx, "anything", 50)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("topK beyond store size should return everything, got %d", len(got))
	}
}

func TestStore_SearchSimilar_InvalidTopK(t *testing.T) {
	s := openTestStore(t, testEngine())
	for _, k := range []int{0, -1} {
		_, err := s.SearchSimilar(context.Background(), "q", k)
		if !errors.Is(err, research.ErrInvalidArgument) {
			t.Errorf("topK=%d: expected ErrInvalidArgument, got %v", k, err)
		}
	}
}

func TestStore_SearchSimilar_NoEngine(t *testing.T) {
	s := openTestStore(t, nil)
	_, err := s.SearchSimilar(context.Background(), "q", 3)
	if !errors.Is(err, research.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration without engine, got %v", err)
	}
}

func TestStore_SearchSimilar_TiesBreakTowardRecent(t *testing.T) {
	engine := testEngine()
	// Both sessions embed identically.
	engine.vectors["a\nsame"] = []float32{1, 0, 0, 0}
	engine.vectors["b\nsame"] = []float32{1, 0, 0, 0}
	engine.vectors["query text"] = []float32{1, 0, 0, 0}

	s := openTestStore(t, engine)
	ctx := context.Background()
	if err := s.Record(ctx, session("older", "a", "same")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // distinct stored_at
	if err := s.Record(ctx, session("newer", "b", "same")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := s.SearchSimilar(ctx, "query text", 2)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if got[0].ID != "newer" {
		t.Errorf("tie should rank the newer session first, got %s", got[0].ID)
	}
}

func TestStore_DimensionMismatchFatalAtOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := Open(path, &stubEngine{dims: 4}, zap.NewNop())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	first.Close()

	_, err = Open(path, &stubEngine{dims: 8}, zap.NewNop())
	if !errors.Is(err, research.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration on dimension change, got %v", err)
	}

	// Reopening with the original dimension still works.
	again, err := Open(path, &stubEngine{dims: 4}, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen with matching dims failed: %v", err)
	}
	again.Close()
}

func TestStore_EmbeddingFailureStillStores(t *testing.T) {
	engine := testEngine()
	engine.fail = true
	s := openTestStore(t, engine)
	ctx := context.Background()

	if err := s.Record(ctx, session("s1", "topic", "summary")); err != nil {
		t.Fatalf("Record should tolerate embedding failure: %v", err)
	}
	entry, err := s.Get(ctx, "s1")
	if err != nil || entry == nil {
		t.Fatalf("session not stored: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sessions != 1 || stats.WithVectors != 0 {
		t.Errorf("expected 1 session with 0 vectors, got %+v", stats)
	}
}

func TestStore_RecentDeleteCleanup(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, session(fmt.Sprintf("s%d", i), "t", "sum")); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "s2" || recent[1].ID != "s1" {
		t.Errorf("expected newest-first [s2 s1], got %+v", recent)
	}

	deleted, err := s.Delete(ctx, "s1")
	if err != nil || !deleted {
		t.Fatalf("Delete failed: deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "s1")
	if err != nil {
		t.Fatalf("second Delete errored: %v", err)
	}
	if deleted {
		t.Error("second delete of the same id should report false")
	}

	// Two sessions remain; keeping that many cleans nothing.
	n, err := s.Cleanup(ctx, 2)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 cleaned, got %d", n)
	}

	// Keeping one must drop the older of the two.
	n, err = s.Cleanup(ctx, 1)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleaned, got %d", n)
	}
	remaining, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "s2" {
		t.Errorf("expected only the newest session s2 kept, got %+v", remaining)
	}

	if _, err := s.Cleanup(ctx, -1); !errors.Is(err, research.ErrInvalidArgument) {
		t.Errorf("negative keepRecent should be rejected, got %v", err)
	}
}

func TestStore_ConcurrentReadsAndWrites(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		id := fmt.Sprintf("s%d", i)
		go func() {
			defer wg.Done()
			errs <- s.Record(ctx, session(id, "topic "+id, "summary"))
		}()
		go func() {
			defer wg.Done()
			_, err := s.Recent(ctx, 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent access failed: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sessions != 20 {
		t.Errorf("expected 20 sessions, got %d", stats.Sessions)
	}
}

func TestVectorEncoding_RoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.25, 0}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d != %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("component %d: %f != %f", i, in[i], out[i])
		}
	}
}
