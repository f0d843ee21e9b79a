package metrics

import (
	"evalgate/internal/artifact"
	"evalgate/internal/join"
	"evalgate/internal/policy"
)

// Passes reports whether actual satisfies expected under cfg. AMBIG and NULL
// never pass. With allow_conservative a strictly higher flag on
// OK < WARN < HIGH also passes; otherwise only an exact match does.
func Passes(expected, actual artifact.Flag, cfg policy.Config) bool {
	if actual.Ambiguous() {
		return false
	}
	if actual == expected {
		return true
	}
	if !cfg.AllowConservative {
		return false
	}
	er, eok := expected.Rank()
	ar, aok := actual.Rank()
	return eok && aok && ar > er
}

// Failure is one joined clause that did not pass.
type Failure struct {
	ClauseID   string        `json:"clause_id"`
	Expected   artifact.Flag `json:"expected_flag"`
	Actual     artifact.Flag `json:"actual_flag"`
	Confidence Ratio         `json:"confidence"`
}

// Alignment is the clause-level agreement between golden labels and scores.
type Alignment struct {
	EvaluatedClauses  int       `json:"evaluated_clauses"`
	Denominator       int       `json:"denominator"`
	PassingClauses    int       `json:"passing_clauses"`
	FailingClauses    int       `json:"failing_clauses"`
	GoldenPassRate    Ratio     `json:"golden_pass_rate"`
	AmbiguousClauses  int       `json:"ambiguous_clauses"`
	AmbiguousRate     Ratio     `json:"ambiguous_rate"`
	StrictMatch       bool      `json:"strict_match"`
	AllowConservative bool      `json:"allow_conservative"`
	ExcludeAmbiguous  bool      `json:"exclude_ambiguous_from_denominator"`
	FailureExamples   []Failure `json:"failure_examples"`
}

// ConfusionMatrix tallies (expected, actual) over OK/WARN/HIGH. Rows are the
// expected flag and columns the actual flag, both in Labels order. AMBIG and
// NULL predictions are kept apart in Ambiguous, keyed by risk flag and then
// expected flag.
type ConfusionMatrix struct {
	Labels    []artifact.Flag                         `json:"labels"`
	Counts    [3][3]int                               `json:"counts"`
	Ambiguous map[artifact.Flag]map[artifact.Flag]int `json:"ambiguous"`
}

// Cell returns the count for one (expected, actual) pair.
func (m ConfusionMatrix) Cell(expected, actual artifact.Flag) int {
	if actual.Ambiguous() {
		return m.Ambiguous[actual][expected]
	}
	er, eok := expected.Rank()
	ar, aok := actual.Rank()
	if !eok || !aok {
		return 0
	}
	return m.Counts[er][ar]
}

func newConfusion() ConfusionMatrix {
	m := ConfusionMatrix{
		Labels:    append([]artifact.Flag(nil), artifact.OrderedFlags...),
		Ambiguous: make(map[artifact.Flag]map[artifact.Flag]int, len(artifact.AmbiguousFlags)),
	}
	for _, a := range artifact.AmbiguousFlags {
		row := make(map[artifact.Flag]int, len(artifact.OrderedFlags))
		for _, e := range artifact.OrderedFlags {
			row[e] = 0
		}
		m.Ambiguous[a] = row
	}
	return m
}

// clauseOutcome is the per-pair result shared with the clause category rollup.
type clauseOutcome struct {
	counted bool
	passed  bool
}

func computeAlignment(ix *join.Index, cfg policy.Config) (Alignment, ConfusionMatrix, map[string]clauseOutcome) {
	a := Alignment{
		EvaluatedClauses:  len(ix.Pairs),
		StrictMatch:       cfg.StrictMatch,
		AllowConservative: cfg.AllowConservative,
		ExcludeAmbiguous:  cfg.ExcludeAmbiguousFromDenominator,
		FailureExamples:   []Failure{},
	}
	cm := newConfusion()
	outcomes := make(map[string]clauseOutcome, len(ix.Pairs))

	for _, p := range ix.Pairs {
		expected, actual := p.Golden.ExpectedFlag, p.Score.RiskFlag
		ambiguous := actual.Ambiguous()
		if ambiguous {
			a.AmbiguousClauses++
			cm.Ambiguous[actual][expected]++
		} else if er, ok := expected.Rank(); ok {
			if ar, ok := actual.Rank(); ok {
				cm.Counts[er][ar]++
			}
		}

		counted := !(ambiguous && cfg.ExcludeAmbiguousFromDenominator)
		passed := Passes(expected, actual, cfg)
		outcomes[p.Golden.ClauseID] = clauseOutcome{counted: counted, passed: passed}
		if counted {
			a.Denominator++
		}
		if passed {
			a.PassingClauses++
			continue
		}
		a.FailingClauses++
		if len(a.FailureExamples) < cfg.ShowExamplesPerRule {
			a.FailureExamples = append(a.FailureExamples, Failure{
				ClauseID:   p.Golden.ClauseID,
				Expected:   expected,
				Actual:     actual,
				Confidence: Ratio(p.Score.Confidence),
			})
		}
	}

	a.GoldenPassRate = SafeRatio(a.PassingClauses, a.Denominator)
	a.AmbiguousRate = SafeRatio(a.AmbiguousClauses, a.EvaluatedClauses)
	return a, cm, outcomes
}
