// Package research implements the iterative deep-research loop: query
// generation, web retrieval, source deduplication and scoring, rolling
// summarization, and gap reflection. The loop controller lives in
// controller.go; this file holds the session state it drives.
package research

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a research session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// State identifies the controller's position in the research loop.
type State string

const (
	StateInitializing  State = "initializing"
	StateQuerying      State = "querying"
	StateSearching     State = "searching"
	StateDeduplicating State = "deduplicating"
	StateSummarizing   State = "summarizing"
	StateReflecting    State = "reflecting"
	StateFinalizing    State = "finalizing"
)

// Source is a retrieved document after dedup and scoring.
// Fields other than RelevanceScore are never mutated after scoring.
type Source struct {
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet,omitempty"`
	RawContent     string    `json:"raw_content,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
	RelevanceScore float64   `json:"relevance_score"`
	Fingerprint    string    `json:"fingerprint"`
}

// Query is one search query produced during the loop. Ephemeral: it is
// logged but not persisted on its own.
type Query struct {
	Text      string `json:"query"`
	LoopIndex int    `json:"loop_index"`
	Rationale string `json:"rationale,omitempty"`
}

// ReflectionResult is the structured output of the reflection step.
type ReflectionResult struct {
	IsSufficient  bool   `json:"is_sufficient"`
	KnowledgeGap  string `json:"knowledge_gap"`
	FollowUpQuery string `json:"follow_up_query"`
}

// Session holds the full state of one research run. It is owned
// exclusively by the controller while running and handed to the history
// store by value on completion.
type Session struct {
	ID             string    `json:"id"`
	Topic          string    `json:"topic"`
	CreatedAt      time.Time `json:"created_at"`
	Status         Status    `json:"status"`
	LoopCount      int       `json:"loop_count"`
	MaxLoops       int       `json:"max_loops"`
	RunningSummary string    `json:"running_summary"`
	Sources        []Source  `json:"sources"`
	FinalReport    string    `json:"final_report,omitempty"`

	// Degraded marks a session finalized after a partial failure; the
	// report then covers only what was gathered before the failure.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	seen map[string]int // fingerprint -> index into Sources
}

func newSession(topic string, maxLoops int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
		Status:    StatusRunning,
		MaxLoops:  maxLoops,
		seen:      make(map[string]int),
	}
}

// Fingerprints returns the set of fingerprints already in the session.
func (s *Session) Fingerprints() map[string]struct{} {
	out := make(map[string]struct{}, len(s.seen))
	for fp := range s.seen {
		out[fp] = struct{}{}
	}
	return out
}

// mergeSources appends filtered sources in discovery order. A duplicate
// fingerprint (possible when the same document resurfaces with a better
// score) keeps the higher relevance score and fills in any metadata the
// earlier copy was missing.
func (s *Session) mergeSources(filtered []Source) {
	for _, src := range filtered {
		if i, ok := s.seen[src.Fingerprint]; ok {
			if src.RelevanceScore > s.Sources[i].RelevanceScore {
				s.Sources[i].RelevanceScore = src.RelevanceScore
			}
			if s.Sources[i].RawContent == "" {
				s.Sources[i].RawContent = src.RawContent
			}
			if s.Sources[i].Snippet == "" {
				s.Sources[i].Snippet = src.Snippet
			}
			continue
		}
		s.seen[src.Fingerprint] = len(s.Sources)
		s.Sources = append(s.Sources, src)
	}
}
