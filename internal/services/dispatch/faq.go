package dispatch

import (
	"context"
	"strings"
)

// FAQRule pairs trigger patterns with a canned answer. A pattern matches
// when it appears as a substring of the normalized question.
type FAQRule struct {
	Patterns []string
	Answer   string
}

// StaticFAQ is a FAQMatcher over an in-memory rule list. Rules are checked
// in order; the first hit wins.
type StaticFAQ struct {
	rules []FAQRule
}

func NewStaticFAQ(rules []FAQRule) *StaticFAQ {
	kept := make([]FAQRule, 0, len(rules))
	for _, r := range rules {
		pats := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			if n := normalizeFAQ(p); n != "" {
				pats = append(pats, n)
			}
		}
		if len(pats) == 0 || strings.TrimSpace(r.Answer) == "" {
			continue
		}
		kept = append(kept, FAQRule{Patterns: pats, Answer: r.Answer})
	}
	return &StaticFAQ{rules: kept}
}

func (f *StaticFAQ) Match(_ context.Context, question string) (string, bool, error) {
	q := normalizeFAQ(question)
	if q == "" {
		return "", false, nil
	}
	for _, r := range f.rules {
		for _, p := range r.Patterns {
			if strings.Contains(q, p) {
				return r.Answer, true, nil
			}
		}
	}
	return "", false, nil
}

func normalizeFAQ(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
