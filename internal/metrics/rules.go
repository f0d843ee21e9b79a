package metrics

import (
	"sort"

	"evalgate/internal/join"
	"evalgate/internal/policy"
)

// Example is a clause cited as evidence for a rule error.
type Example struct {
	ClauseID   string `json:"clause_id"`
	SnippetRef string `json:"snippet_ref,omitempty"`
}

// RuleMetric is the contingency of one rule against the golden set.
type RuleMetric struct {
	RuleID string `json:"rule_id"`
	Counts
	Support     int       `json:"support"`
	HitCount    int       `json:"hit_count"`
	Critical    *bool     `json:"critical,omitempty"`
	Known       bool      `json:"known"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Variant     string    `json:"variant,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	FPExamples  []Example `json:"fp_examples"`
	FNExamples  []Example `json:"fn_examples"`
}

// IsCritical reports whether the ruleset flags the rule as critical. It is
// false when no rule metadata was supplied.
func (m RuleMetric) IsCritical() bool {
	return m.Critical != nil && *m.Critical
}

// Floor is min(precision, recall), the problem-rule ranking key.
func (m RuleMetric) Floor() Ratio {
	if m.Precision < m.Recall {
		return m.Precision
	}
	return m.Recall
}

// Summary micro-averages the contingency of a set of rules.
type Summary struct {
	Rules int `json:"rules"`
	Counts
}

// ProblemRule is an entry of the top problem rules list.
type ProblemRule struct {
	RuleID    string `json:"rule_id"`
	Floor     Ratio  `json:"min_precision_recall"`
	Precision Ratio  `json:"precision"`
	Recall    Ratio  `json:"recall"`
	F1        Ratio  `json:"f1"`
	TP        int    `json:"tp"`
	FP        int    `json:"fp"`
	FN        int    `json:"fn"`
	Critical  *bool  `json:"critical,omitempty"`
}

// clauseRuleCounts accumulates contingency per clause, for rollups keyed by
// clause attributes.
type clauseRuleCounts map[string]Counts

// computeRules counts TP/FP/FN for every rule in the index by walking golden
// clauses in id order. A clause with no expected rules only contributes
// false positives when cfg.TreatEmptyAsNegatives is set.
func computeRules(ix *join.Index, cfg policy.Config) ([]RuleMetric, clauseRuleCounts) {
	byRule := make(map[string]*RuleMetric, len(ix.RuleIDs))
	out := make([]RuleMetric, len(ix.RuleIDs))
	for i, id := range ix.RuleIDs {
		m := RuleMetric{
			RuleID:     id,
			HitCount:   ix.Rules[id].HitCount,
			FPExamples: []Example{},
			FNExamples: []Example{},
		}
		if ix.HasRuleMeta() {
			critical := false
			m.Critical = &critical
		}
		if meta, ok := ix.Meta(id); ok {
			m.Known = true
			*m.Critical = meta.Critical
			m.Category = meta.Category
			m.Subcategory = meta.Subcategory
			m.Variant = meta.Variant
			m.Priority = meta.Priority
		}
		out[i] = m
		byRule[id] = &out[i]
	}

	example := func(clauseID string) Example {
		return Example{ClauseID: clauseID, SnippetRef: ix.Snippets[clauseID]}
	}
	perClause := make(clauseRuleCounts, len(ix.Golden))

	for _, g := range ix.Golden {
		if len(g.ExpectedRules) == 0 && !cfg.TreatEmptyAsNegatives {
			continue
		}
		fired := ix.Fired[g.ClauseID]
		expected := make(map[string]bool, len(g.ExpectedRules))
		var c Counts

		for _, r := range g.ExpectedRules {
			expected[r] = true
			m := byRule[r]
			if fired[r] {
				m.TP++
				c.TP++
				continue
			}
			m.FN++
			c.FN++
			if len(m.FNExamples) < cfg.ShowExamplesPerRule {
				m.FNExamples = append(m.FNExamples, example(g.ClauseID))
			}
		}
		for r := range fired {
			if expected[r] {
				continue
			}
			m := byRule[r]
			m.FP++
			c.FP++
			if len(m.FPExamples) < cfg.ShowExamplesPerRule {
				m.FPExamples = append(m.FPExamples, example(g.ClauseID))
			}
		}
		perClause[g.ClauseID] = c
	}

	for i := range out {
		out[i].Support = out[i].TP + out[i].FN
		out[i].derive()
	}
	return out, perClause
}

func summarize(rules []RuleMetric) Summary {
	s := Summary{Rules: len(rules)}
	for _, m := range rules {
		s.add(m.Counts)
	}
	s.derive()
	return s
}

// topProblemRules ranks rules with any golden evidence by ascending
// (min(precision, recall), rule_id) and keeps the first n.
func topProblemRules(rules []RuleMetric, n int) []ProblemRule {
	var cands []RuleMetric
	for _, m := range rules {
		if m.Evidence() {
			cands = append(cands, m)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		fi, fj := cands[i].Floor(), cands[j].Floor()
		if fi != fj {
			return fi < fj
		}
		return cands[i].RuleID < cands[j].RuleID
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]ProblemRule, len(cands))
	for i, m := range cands {
		out[i] = ProblemRule{
			RuleID:    m.RuleID,
			Floor:     m.Floor(),
			Precision: m.Precision,
			Recall:    m.Recall,
			F1:        m.F1,
			TP:        m.TP,
			FP:        m.FP,
			FN:        m.FN,
			Critical:  m.Critical,
		}
	}
	return out
}
