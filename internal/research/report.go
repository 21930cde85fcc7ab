package research

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// FINAL REPORT
// ============================================================================

// buildReport assembles the final markdown report: the running summary
// followed by a numbered source list ordered by descending relevance,
// with discovery order breaking ties. Pure formatting, no model call,
// so the finalize step cannot itself fail.
func buildReport(session *Session) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	if session.Degraded {
		fmt.Fprintf(&b, "> Note: research ended early (%s); this report covers only the material gathered before the failure.\n\n", session.DegradedReason)
	}
	summary := strings.TrimSpace(session.RunningSummary)
	if summary == "" {
		summary = fmt.Sprintf("No research findings were gathered for %q.", session.Topic)
	}
	b.WriteString(summary)
	b.WriteString("\n\n### Sources:\n")
	ordered := make([]Source, len(session.Sources))
	copy(ordered, session.Sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RelevanceScore > ordered[j].RelevanceScore
	})
	for i, src := range ordered {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, title, src.URL)
	}
	return b.String()
}
