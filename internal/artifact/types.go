// Package artifact parses and structurally validates the frozen inputs of an
// evaluation run: golden labels, scores, hits and the optional ruleset runtime,
// run stats, normalized clauses and snippet references.
//
// Every artifact kind is described by an embedded JSON Schema interpreted by a
// single generic validator. Parse reports every violation it finds across all
// supplied artifacts; a Set is only returned when there are none.
package artifact

import (
	"cmp"
	"encoding/json"
	"slices"
	"sort"
	"strings"
)

// Flag is a risk flag as written by the scorer or the golden set.
type Flag string

const (
	FlagOK    Flag = "OK"
	FlagWarn  Flag = "WARN"
	FlagHigh  Flag = "HIGH"
	FlagAmbig Flag = "AMBIG"
	FlagNull  Flag = "NULL"
)

// OrderedFlags is the conservative scale OK < WARN < HIGH.
var OrderedFlags = []Flag{FlagOK, FlagWarn, FlagHigh}

// AmbiguousFlags are the flags outside the ordered scale.
var AmbiguousFlags = []Flag{FlagAmbig, FlagNull}

// AllFlags is the fixed emission order for per-flag tallies.
var AllFlags = []Flag{FlagOK, FlagWarn, FlagHigh, FlagAmbig, FlagNull}

// Ambiguous reports whether f is AMBIG or NULL.
func (f Flag) Ambiguous() bool {
	return f == FlagAmbig || f == FlagNull
}

// Rank returns the position of f on OK < WARN < HIGH; ok is false for
// AMBIG, NULL and unknown flags.
func (f Flag) Rank() (rank int, ok bool) {
	switch f {
	case FlagOK:
		return 0, true
	case FlagWarn:
		return 1, true
	case FlagHigh:
		return 2, true
	}
	return 0, false
}

// GoldenClause is the hand-verified label for one clause.
type GoldenClause struct {
	ClauseID      string   `json:"clause_id"`
	ExpectedFlag  Flag     `json:"expected_flag"`
	ExpectedRules []string `json:"expected_rules,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// ScoreRecord is the scorer output for one clause.
type ScoreRecord struct {
	ClauseID     string   `json:"clause_id"`
	RiskFlag     Flag     `json:"risk_flag"`
	Confidence   float64  `json:"confidence"`
	Category     string   `json:"category,omitempty"`
	Subcategory  string   `json:"subcategory,omitempty"`
	AdoptedRules []string `json:"adopted_rules,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Span is a half-open character range [start, end) inside a clause.
type Span [2]int

// Hit is one firing of a rule against a clause.
type Hit struct {
	RuleID          string  `json:"rule_id"`
	ClauseID        string  `json:"clause_id"`
	MatchType       string  `json:"match_type,omitempty"`
	Spans           []Span  `json:"spans,omitempty"`
	Strength        float64 `json:"strength,omitempty"`
	EvidenceSnippet string  `json:"evidence_snippet,omitempty"`
}

// RuleMeta is the static definition of a rule from the ruleset runtime.
type RuleMeta struct {
	RuleID      string `json:"rule_id"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Variant     string `json:"variant,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Version     string `json:"version,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	Critical    bool   `json:"critical"`
}

// Ruleset is the optional ruleset runtime, keyed by rule id.
type Ruleset struct {
	ID      string              `json:"ruleset_id,omitempty"`
	Version string              `json:"version,omitempty"`
	Rules   map[string]RuleMeta `json:"rules"`
}

// RuleIDs returns the rule ids in ascending order.
func (r *Ruleset) RuleIDs() []string {
	ids := make([]string, 0, len(r.Rules))
	for id := range r.Rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NormClause carries the normalized category of a clause.
type NormClause struct {
	ClauseID    string `json:"clause_id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
}

// Snippet maps a clause to an externally stored evidence snippet.
type Snippet struct {
	ClauseID   string `json:"clause_id"`
	SnippetRef string `json:"snippet_ref"`
}

// Set is the fully typed, validated input of one run. Optional artifacts
// that were not supplied are nil.
type Set struct {
	Golden   []GoldenClause
	Scores   []ScoreRecord
	Hits     []Hit
	Ruleset  *Ruleset
	RunStats json.RawMessage
	Clauses  []NormClause
	Snippets []Snippet
}

// Canonical returns a copy of s with every collection sorted by its full
// natural key, so that two sets differing only in element order compare
// (and serialize) equal.
func (s *Set) Canonical() *Set {
	out := &Set{
		Golden:   append([]GoldenClause(nil), s.Golden...),
		Scores:   append([]ScoreRecord(nil), s.Scores...),
		Hits:     append([]Hit(nil), s.Hits...),
		Ruleset:  s.Ruleset,
		RunStats: s.RunStats,
		Clauses:  append([]NormClause(nil), s.Clauses...),
		Snippets: append([]Snippet(nil), s.Snippets...),
	}
	slices.SortFunc(out.Golden, func(a, b GoldenClause) int { return strings.Compare(a.ClauseID, b.ClauseID) })
	slices.SortFunc(out.Scores, func(a, b ScoreRecord) int { return strings.Compare(a.ClauseID, b.ClauseID) })
	slices.SortFunc(out.Clauses, func(a, b NormClause) int { return strings.Compare(a.ClauseID, b.ClauseID) })
	slices.SortFunc(out.Snippets, func(a, b Snippet) int { return strings.Compare(a.ClauseID, b.ClauseID) })
	slices.SortFunc(out.Hits, compareHits)
	return out
}

// compareHits is a total order over hits; zero means the hits are identical.
func compareHits(a, b Hit) int {
	if c := strings.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	if c := strings.Compare(a.ClauseID, b.ClauseID); c != 0 {
		return c
	}
	if c := strings.Compare(a.MatchType, b.MatchType); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Strength, b.Strength); c != 0 {
		return c
	}
	if c := slices.CompareFunc(a.Spans, b.Spans, compareSpans); c != 0 {
		return c
	}
	return strings.Compare(a.EvidenceSnippet, b.EvidenceSnippet)
}

func compareSpans(a, b Span) int {
	if c := cmp.Compare(a[0], b[0]); c != 0 {
		return c
	}
	return cmp.Compare(a[1], b[1])
}
