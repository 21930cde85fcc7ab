package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// ============================================================================
// SOURCE DEDUPLICATION & RELEVANCE SCORING
// ============================================================================

// fingerprintPrefixLen bounds how much content feeds the fingerprint, so
// near-identical mirrors of the same article collapse to one source.
const fingerprintPrefixLen = 512

// Scorer assigns a relevance score in [0,1] for a source against a query.
type Scorer interface {
	Score(ctx context.Context, query string, src Source) (float64, error)
}

// Deduplicator filters incoming sources against the fingerprints already
// in a session and scores the survivors. The zero threshold keeps every
// non-duplicate source.
type Deduplicator struct {
	scorer    Scorer
	threshold float64
}

func NewDeduplicator(scorer Scorer, threshold float64) *Deduplicator {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Deduplicator{scorer: scorer, threshold: threshold}
}

// Filter returns the incoming sources that are new to the session and
// score at or above the threshold, ordered by descending relevance.
// Ties keep the incoming order, so the output is deterministic for a
// deterministic scorer. Fingerprints and scores are stamped onto the
// returned sources.
func (d *Deduplicator) Filter(ctx context.Context, query string, incoming []Source, existing map[string]struct{}) ([]Source, error) {
	seen := make(map[string]struct{}, len(existing))
	for fp := range existing {
		seen[fp] = struct{}{}
	}

	kept := make([]Source, 0, len(incoming))
	for _, src := range incoming {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp := Fingerprint(src.URL, bestContent(src))
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}

		score, err := d.scorer.Score(ctx, query, src)
		if err != nil {
			return nil, err
		}
		if score < d.threshold {
			continue
		}
		src.Fingerprint = fp
		src.RelevanceScore = score
		kept = append(kept, src)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].RelevanceScore > kept[j].RelevanceScore
	})
	return kept, nil
}

func bestContent(src Source) string {
	if src.RawContent != "" {
		return src.RawContent
	}
	return src.Snippet
}

// Fingerprint hashes the normalized URL together with a lowercased,
// whitespace-collapsed prefix of the content. Same document via
// tracking-parameter variants of a URL or case-variant mirrors still
// collapses; different documents on one URL (edited pages) do not.
func Fingerprint(rawURL, content string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeURL(rawURL)))
	h.Write([]byte{0})
	collapsed := collapseWhitespace(strings.ToLower(content))
	if len(collapsed) > fingerprintPrefixLen {
		collapsed = collapsed[:fingerprintPrefixLen]
	}
	h.Write([]byte(collapsed))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL lowercases the scheme and host, strips fragments, default
// ports, trailing slashes, and common tracking parameters.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(strings.ToLower(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid" || key == "ref" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ============================================================================
// LEXICAL SCORER
// ============================================================================

// LexicalScorer scores by token overlap between the query and the source
// title/snippet/content. Deterministic and dependency-free; the default
// scorer when no embedding engine is configured.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, query string, src Source) (float64, error) {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0, nil
	}
	doc := make(map[string]struct{})
	for _, t := range tokenize(src.Title + " " + src.Snippet + " " + src.RawContent) {
		doc[t] = struct{}{}
	}
	matched := 0
	counted := make(map[string]struct{}, len(qTokens))
	total := 0
	for _, t := range qTokens {
		if _, dup := counted[t]; dup {
			continue
		}
		counted[t] = struct{}{}
		total++
		if _, ok := doc[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(total), nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"was": true, "be": true, "with": true, "as": true, "at": true, "by": true,
	"it": true, "its": true, "this": true, "that": true, "what": true,
	"how": true, "why": true, "does": true, "do": true,
}
