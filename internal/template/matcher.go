// Package template implements the first-match-wins template matcher
// (spec.md §4.4): a pure function over a recording's display name/source-id
// and the user's active, non-draft templates.
package template

import (
	"regexp"
	"strings"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
)

// MatchReason identifies which rule of the template matched.
type MatchReason string

const (
	ReasonExact    MatchReason = "exact"
	ReasonKeyword  MatchReason = "keyword"
	ReasonPattern  MatchReason = "pattern"
)

// Match is the winning template plus why it won.
type Match struct {
	Template models.RecordingTemplate
	Reason   MatchReason
}

// Find returns the first template (in the given order) that matches
// displayName/sourceID, or nil if none do. templates must already be
// filtered to the user's active, non-draft set and ordered by created_at
// ascending -- this function performs no filtering or ordering of its own.
func Find(displayName, sourceID string, templates []models.RecordingTemplate) *Match {
	for _, t := range templates {
		if m := matchOne(displayName, sourceID, t); m != nil {
			return m
		}
	}
	return nil
}

func matchOne(displayName, sourceID string, t models.RecordingTemplate) *Match {
	rules := t.MatchingRules

	if len(rules.SourceIDs) > 0 && !contains(rules.SourceIDs, sourceID) {
		return nil
	}

	name := displayName
	cmpName := name
	if !rules.CaseSensitive {
		cmpName = strings.ToLower(name)
	}

	for _, kw := range rules.ExcludeKeywords {
		if containsSubstring(cmpName, kw, rules.CaseSensitive) {
			return nil
		}
	}
	for _, pat := range rules.ExcludePatterns {
		re, err := compilePattern(pat, rules.CaseSensitive)
		if err != nil {
			logging.LogNoScope("malformed exclude pattern in template, ignoring", "template_id", t.ID, "pattern", pat, "err", err)
			continue
		}
		if re.MatchString(name) {
			return nil
		}
	}

	for _, exact := range rules.ExactMatches {
		candidate := exact
		if !rules.CaseSensitive {
			candidate = strings.ToLower(candidate)
		}
		if candidate == cmpName {
			return &Match{Template: t, Reason: ReasonExact}
		}
	}

	for _, kw := range rules.IncludeKeywords {
		if containsSubstring(cmpName, kw, rules.CaseSensitive) {
			return &Match{Template: t, Reason: ReasonKeyword}
		}
	}

	for _, pat := range rules.IncludePatterns {
		re, err := compilePattern(pat, rules.CaseSensitive)
		if err != nil {
			logging.LogNoScope("malformed include pattern in template, ignoring", "template_id", t.ID, "pattern", pat, "err", err)
			continue
		}
		if re.MatchString(name) {
			return &Match{Template: t, Reason: ReasonPattern}
		}
	}

	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func containsSubstring(cmpName, needle string, caseSensitive bool) bool {
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}
	return strings.Contains(cmpName, needle)
}

func compilePattern(pat string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pat = "(?i)" + pat
	}
	return regexp.Compile(pat)
}
