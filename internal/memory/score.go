package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Relevance scoring weights. The blend is purely additive so two
// entries with identical fields always score identically regardless of
// evaluation order.
const (
	substringWeight   = 10.0 // whole query appears in content
	tagWordWeight     = 3.0  // per query word matching a tag
	contentWordWeight = 1.0  // per query word appearing in content
	recencyWeight     = 2.0  // scaled by exponential decay
	categoryBonus     = 2.0  // query hints at the entry's category
	importanceWeight  = 2.0  // scaled by stored importance

	recencyHalfLife = 24 * time.Hour
)

// categoryHints maps query words to the category they suggest.
var categoryHints = map[string]Category{
	"prefer":     CategoryUserPreference,
	"preference": CategoryUserPreference,
	"like":       CategoryUserPreference,
	"task":       CategoryTaskLearning,
	"tool":       CategoryToolUsagePattern,
	"error":      CategoryErrorAndFix,
	"mistake":    CategoryErrorAndFix,
	"fix":        CategoryErrorAndFix,
}

// scoreEntry computes the relevance of an entry against a query at a
// given point in time. A zero score means no relation at all.
func scoreEntry(e Entry, query string, now time.Time) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	content := strings.ToLower(e.Content)

	var score float64
	if strings.Contains(content, q) {
		score += substringWeight
	}

	lowerTags := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		lowerTags[i] = strings.ToLower(t)
	}
	contentWords := wordSet(content)

	matched := false
	for _, word := range strings.Fields(q) {
		for _, tag := range lowerTags {
			if tag == word {
				score += tagWordWeight
				matched = true
				break
			}
		}
		if contentWords[word] {
			score += contentWordWeight
			matched = true
		}
		if cat, ok := categoryHints[word]; ok && cat == e.Category {
			score += categoryBonus
		}
	}

	// Recency and importance sweeten relevant entries but never
	// surface an entry with no textual relation to the query.
	if score == 0 && !matched {
		return 0
	}

	age := now.Sub(e.AccessedAt)
	if age < 0 {
		age = 0
	}
	score += recencyWeight * math.Exp2(-float64(age)/float64(recencyHalfLife))
	score += importanceWeight * e.Importance

	return score
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		set[w] = true
	}
	return set
}

// rankEntries scores, filters, and sorts entries for a query. Ties
// break on newer AccessedAt, then on ID for full determinism.
func rankEntries(entries []Entry, query string, limit int, now time.Time) []Entry {
	type scored struct {
		entry Entry
		score float64
	}
	var hits []scored
	for _, e := range entries {
		if s := scoreEntry(e, query, now); s > 0 {
			hits = append(hits, scored{e, s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].entry.AccessedAt.Equal(hits[j].entry.AccessedAt) {
			return hits[i].entry.AccessedAt.After(hits[j].entry.AccessedAt)
		}
		return hits[i].entry.ID.String() < hits[j].entry.ID.String()
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}
