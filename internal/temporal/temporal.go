// Package temporal resolves relative date expressions in a query to
// absolute ranges and performs the rest of the query-analysis pass: term
// and phrase extraction, coarse intent classification and a light entity
// heuristic (spec.md §4.4). It is a pure function of the query string and a
// caller-supplied "now" — there is no wall-clock dependency and no network
// access, so the same query always analyses the same way given the same
// now, matching the teacher's compiled-regex-table style in
// internal/search/patterns.go generalized from code-search intents to
// calendar ones.
package temporal

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// Intent coarsely classifies what the caller wants done with the query.
type Intent string

const (
	IntentQuestion Intent = "question"
	IntentSearch   Intent = "search"
	IntentCommand  Intent = "command"
)

// EntityRef is a rule-based extracted reference (currently: each capitalized
// word after the first, one word per reference, a proxy for speaker names —
// spec.md §4.4 "no ML model").
type EntityRef struct {
	Text string
	Kind string // "person" is the only kind this rule-based pass emits
}

// Hint is the resolved temporal component of a query, or the zero value if
// none was found — spec.md §4.4 mandates an empty hint over a guess.
type Hint struct {
	Start    time.Time
	End      time.Time
	Relative string // "today", "yesterday", "thisWeek", ... or "" if absolute/none
}

// IsZero reports whether no temporal hint was resolved.
func (h Hint) IsZero() bool {
	return h.Start.IsZero() && h.End.IsZero()
}

// Analysis is the full structured record a query decomposes into.
type Analysis struct {
	Terms    []string
	Phrases  []string
	Temporal Hint
	Intent   Intent
	Entities []EntityRef
}

var (
	questionWords = map[string]struct{}{
		"who": {}, "what": {}, "when": {}, "where": {}, "why": {}, "how": {}, "which": {}, "did": {}, "does": {}, "is": {}, "are": {}, "was": {}, "were": {},
	}
	commandWords = map[string]struct{}{
		"find": {}, "show": {}, "list": {}, "search": {}, "get": {},
	}
	stopWords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "and": {}, "or": {}, "for": {}, "with": {}, "this": {}, "that": {},
	}
	quotedPhrase  = regexp.MustCompile(`"([^"]+)"`)
	weekdayByName = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	}
)

// Analyze decomposes a raw query string into terms, phrases, a temporal
// hint and an intent. now anchors relative-date resolution; it must be the
// caller's notion of "the present" (typically time.Now(), but injectable
// for deterministic tests, per spec.md §4.4).
func Analyze(query string, now time.Time) Analysis {
	a := Analysis{
		Intent: classifyIntent(query),
	}

	for _, m := range quotedPhrase.FindAllStringSubmatch(query, -1) {
		a.Phrases = append(a.Phrases, strings.ToLower(strings.TrimSpace(m[1])))
	}

	a.Terms = extractTerms(query)
	a.Entities = extractEntities(query)
	a.Temporal = resolveTemporal(query, now)

	return a
}

func classifyIntent(query string) Intent {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return IntentSearch
	}
	first := strings.ToLower(strings.Fields(trimmed)[0])
	if strings.HasSuffix(trimmed, "?") {
		return IntentQuestion
	}
	if _, ok := questionWords[first]; ok {
		return IntentQuestion
	}
	if _, ok := commandWords[first]; ok {
		return IntentCommand
	}
	return IntentSearch
}

func extractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// extractEntities flags capitalized tokens (outside the sentence's first
// word) as candidate person references — a coarse, intentionally simple
// heuristic per spec.md §4.4's "no ML model" mandate.
func extractEntities(query string) []EntityRef {
	words := strings.Fields(query)
	var out []EntityRef
	for i, w := range words {
		clean := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if clean == "" || i == 0 {
			continue
		}
		if unicode.IsUpper(rune(clean[0])) {
			out = append(out, EntityRef{Text: clean, Kind: "person"})
		}
	}
	return out
}

// resolveTemporal layers a rule-based relative-date table over
// araddon/dateparse for absolute literals. Ambiguous input yields a zero
// Hint rather than a guess (spec.md §4.4).
func resolveTemporal(query string, now time.Time) Hint {
	lower := strings.ToLower(query)
	dayStart := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	dayEnd := func(t time.Time) time.Time {
		return dayStart(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	switch {
	case strings.Contains(lower, "today") || strings.Contains(lower, "this afternoon") || strings.Contains(lower, "this morning") || strings.Contains(lower, "tonight"):
		return Hint{Start: dayStart(now), End: dayEnd(now), Relative: "today"}
	case strings.Contains(lower, "yesterday"):
		y := now.AddDate(0, 0, -1)
		return Hint{Start: dayStart(y), End: dayEnd(y), Relative: "yesterday"}
	case strings.Contains(lower, "tomorrow"):
		t := now.AddDate(0, 0, 1)
		return Hint{Start: dayStart(t), End: dayEnd(t), Relative: "tomorrow"}
	case strings.Contains(lower, "this week"):
		start := dayStart(now).AddDate(0, 0, -int(now.Weekday()))
		return Hint{Start: start, End: dayEnd(start.AddDate(0, 0, 6)), Relative: "thisWeek"}
	case strings.Contains(lower, "last week"):
		start := dayStart(now).AddDate(0, 0, -int(now.Weekday())-7)
		return Hint{Start: start, End: dayEnd(start.AddDate(0, 0, 6)), Relative: "lastWeek"}
	case strings.Contains(lower, "this month"):
		y, m, _ := now.Date()
		start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
		return Hint{Start: start, End: end, Relative: "thisMonth"}
	case strings.Contains(lower, "last month"):
		y, m, _ := now.Date()
		thisMonthStart := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		start := thisMonthStart.AddDate(0, -1, 0)
		end := thisMonthStart.Add(-time.Nanosecond)
		return Hint{Start: start, End: end, Relative: "lastMonth"}
	}

	for name, wd := range weekdayByName {
		if !strings.Contains(lower, name) {
			continue
		}
		delta := (int(now.Weekday()) - int(wd) + 7) % 7
		if strings.Contains(lower, "next "+name) {
			delta = -((int(wd) - int(now.Weekday()) + 7) % 7)
			if delta == 0 {
				delta = -7
			}
		} else if delta == 0 {
			// Same weekday as today with no "next" qualifier: treat as last occurrence.
			delta = 7
		}
		t := now.AddDate(0, 0, -delta)
		return Hint{Start: dayStart(t), End: dayEnd(t), Relative: "weekday:" + name}
	}

	// Fall back to an absolute literal embedded in the query, e.g. "on
	// March 10th" or "2024-03-11". dateparse.ParseAny is deliberately
	// handed only tokens that look date-ish to avoid false positives on
	// ordinary prose.
	for _, tok := range candidateDateTokens(query) {
		if t, err := dateparse.ParseAny(tok); err == nil {
			return Hint{Start: dayStart(t), End: dayEnd(t)}
		}
	}

	return Hint{}
}

var datishToken = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?)\b`)

func candidateDateTokens(query string) []string {
	return datishToken.FindAllString(query, -1)
}
