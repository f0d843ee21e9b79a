// Package display provides human-readable words for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in report.md and CLI output. Keep raw codes for JSON
// fields, map keys and equality comparisons.
package display

import "fmt"

// --- Risk flags ---

var flags = map[string]string{
	"OK":    "No Risk",
	"WARN":  "Warning",
	"HIGH":  "High Risk",
	"AMBIG": "Ambiguous",
	"NULL":  "No Prediction",
}

// Flag returns the human-readable name for a risk flag. Unknown flags are
// returned as-is.
func Flag(code string) string {
	if name, ok := flags[code]; ok {
		return name
	}
	return code
}

// FlagWithCode returns "High Risk (HIGH)" format.
func FlagWithCode(code string) string {
	if name, ok := flags[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Gate ---

var blockKinds = map[string]string{
	"golden_pass_rate": "Golden pass rate",
	"critical_rule":    "Critical rule floor",
	"ruleset_version":  "Ruleset version",
	"custom_gate":      "Custom gate",
}

// BlockKind returns the human-readable name of a gate block kind.
func BlockKind(code string) string {
	if name, ok := blockKinds[code]; ok {
		return name
	}
	return code
}

// Verdict renders the gate outcome.
func Verdict(allowed bool) string {
	if allowed {
		return "ALLOWED"
	}
	return "BLOCKED"
}

// --- Hints ---

// RuleShape is the subset of a rule metric that hints are derived from.
type RuleShape struct {
	Precision, Recall       float64
	MinPrecision, MinRecall float64
	TP, FP, FN              int
}

// Hint returns a mechanical improvement suggestion for a rule, derived only
// from which floors it misses.
func Hint(s RuleShape) string {
	if s.TP+s.FP+s.FN == 0 {
		return "no golden evidence; label clauses that exercise this rule"
	}
	lowP := s.Precision < s.MinPrecision
	lowR := s.Recall < s.MinRecall
	switch {
	case lowP && lowR:
		return fmt.Sprintf("low precision and recall (%d FP, %d FN); revisit the match pattern and the golden labels", s.FP, s.FN)
	case lowP:
		return fmt.Sprintf("low precision (%d FP); narrow the match pattern or add exclusions", s.FP)
	case lowR:
		return fmt.Sprintf("low recall (%d FN); broaden the match pattern or add variants", s.FN)
	case s.FP > 0 || s.FN > 0:
		return fmt.Sprintf("meets floors; %d FP and %d FN remain", s.FP, s.FN)
	default:
		return "meets floors"
	}
}
