// Package heuristic implements the cheap, stateless pre-filter that gates the
// expensive classifier path. It runs a fixed, ordered table of weighted
// pattern checks against canonical text and returns a 0-100 risk estimate in
// well under a millisecond.
package heuristic

import (
	"regexp"
	"strings"
)

// MaxScore caps the accumulated heuristic score.
const MaxScore = 100

// Check is one weighted pattern in the detection table.
// All patterns are written against canonical (lowercased) text.
type Check struct {
	Label  string
	Regex  *regexp.Regexp
	Weight int
}

// defaultChecks is the fixed detection table, evaluated in order in a single
// pass. Each match contributes its weight and its label once.
var defaultChecks = []Check{
	{
		// ' or 1=1 / " or 'a'='a / or true
		Label:  "Tautology",
		Regex:  regexp.MustCompile(`['"]\s*(or|and)\s+(['"]?\w+['"]?\s*=\s*['"]?\w+['"]?|true)`),
		Weight: 55,
	},
	{
		Label:  "UnionSelect",
		Regex:  regexp.MustCompile(`union\s+(all\s+|distinct\s+)?select`),
		Weight: 50,
	},
	{
		Label:  "SystemIntrospection",
		Regex:  regexp.MustCompile(`(@@version|version\(\s*\)|database\(\s*\)|current_user|session_user|information_schema|sysobjects|pg_catalog)`),
		Weight: 35,
	},
	{
		Label:  "BooleanBlind",
		Regex:  regexp.MustCompile(`\b(or|and)\s+\d+\s*=\s*\d+`),
		Weight: 30,
	},
	{
		Label:  "TimingDelay",
		Regex:  regexp.MustCompile(`(sleep\s*\(|pg_sleep\s*\(|benchmark\s*\(|waitfor\s+delay|dbms_lock\.sleep)`),
		Weight: 45,
	},
	{
		Label:  "StackedQuery",
		Regex:  regexp.MustCompile(`;\s*(drop|delete|truncate|alter|update|insert|create|exec|shutdown|xp_cmdshell)\b`),
		Weight: 50,
	},
	{
		// Markers that survived comment stripping (e.g. unterminated blocks).
		Label:  "CommentMarker",
		Regex:  regexp.MustCompile(`(--|/\*|\*/|#)`),
		Weight: 15,
	},
}

// domainKeywords feed the co-occurrence bonus. Keyword presence alone must
// not dominate the score: two keywords in plain prose ("select an option
// from the menu") stay far below the escalation threshold.
var domainKeywords = []string{
	"select", "union", "insert", "update", "delete", "drop",
	"from", "where", "exec", "table", "having", "group by",
}

// KeywordClusterLabel is the flag emitted by the co-occurrence bonus.
const KeywordClusterLabel = "KeywordCluster"

// keywordClusterBonus is the flat score added when two or more distinct
// domain keywords co-occur.
const keywordClusterBonus = 15

// Scorer evaluates the pattern table. It is stateless and safe for
// concurrent use; construct once and share.
type Scorer struct {
	checks []Check
	bonus  int
}

// NewScorer builds a Scorer from the built-in table, optionally reweighted
// from a YAML overrides file (see LoadWeights). An empty path keeps defaults.
func NewScorer(weightsPath string) (*Scorer, error) {
	checks := make([]Check, len(defaultChecks))
	copy(checks, defaultChecks)

	s := &Scorer{checks: checks, bonus: keywordClusterBonus}

	if weightsPath != "" {
		if err := s.applyWeightOverrides(weightsPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Score evaluates canonical text and returns a risk estimate in [0,100] plus
// the labels of every matched check.
func (s *Scorer) Score(canonical string) (int, []string) {
	score := 0
	var flags []string

	for _, c := range s.checks {
		if c.Regex.MatchString(canonical) {
			score += c.Weight
			flags = append(flags, c.Label)
		}
	}

	if countDistinctKeywords(canonical) >= 2 {
		score += s.bonus
		flags = append(flags, KeywordClusterLabel)
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score, flags
}

func countDistinctKeywords(canonical string) int {
	n := 0
	for _, kw := range domainKeywords {
		if containsWord(canonical, kw) {
			n++
		}
	}
	return n
}

// containsWord matches kw on word boundaries so "fromage" does not count as
// "from". Multi-word keywords use plain substring matching.
func containsWord(text, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(text, kw)
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}
