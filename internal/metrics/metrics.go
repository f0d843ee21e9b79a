// Package metrics derives every number in an evaluation report from a joined
// artifact set and a policy: the clause confusion matrix and golden pass rate,
// per-rule contingency, category rollups, distribution telemetry and the
// optional per-variant split.
//
// Every ratio whose denominator is zero is defined as 0. Compute is a pure
// function; all lists in a Result are in a fixed, documented order.
package metrics

import (
	"fmt"
	"sort"

	"evalgate/internal/join"
	"evalgate/internal/policy"
)

// VariantMetrics restricts rule-level metrics to the rules of one variant.
type VariantMetrics struct {
	Variant        string           `json:"variant"`
	Rules          []RuleMetric     `json:"per_rule"`
	Summary        Summary          `json:"summary"`
	RuleCategories []CategoryRollup `json:"rule_categories,omitempty"`
	RuleHitCounts  []RuleHits       `json:"rule_hit_counts"`
}

// Result is the full metric state of one run.
type Result struct {
	Alignment        Alignment              `json:"golden_alignment"`
	Confusion        ConfusionMatrix        `json:"confusion_matrix"`
	Rules            []RuleMetric           `json:"per_rule"`
	RuleSummary      Summary                `json:"rule_summary"`
	RuleCategories   []CategoryRollup       `json:"rule_categories,omitempty"`
	ClauseCategories []ClauseCategoryRollup `json:"clause_categories,omitempty"`
	Telemetry        Telemetry              `json:"telemetry"`
	TopProblemRules  []ProblemRule          `json:"top_problem_rules"`
	Variants         []VariantMetrics       `json:"variants,omitempty"`
	Unmatched        join.Unmatched         `json:"unmatched_clauses"`
	UnknownRules     []string               `json:"unknown_rules,omitempty"`

	RuleMetaSupplied bool   `json:"rule_metadata_supplied"`
	RulesetID        string `json:"ruleset_id,omitempty"`
	RulesetVersion   string `json:"ruleset_version,omitempty"`
	// UncoveredCritical lists critical rules declared in the ruleset that no
	// hit or expected rule references.
	UncoveredCritical []string `json:"uncovered_critical_rules,omitempty"`
	Notes             []string `json:"notes"`
}

// Rule returns the metric of one rule.
func (r *Result) Rule(id string) (RuleMetric, bool) {
	i := sort.Search(len(r.Rules), func(i int) bool { return r.Rules[i].RuleID >= id })
	if i < len(r.Rules) && r.Rules[i].RuleID == id {
		return r.Rules[i], true
	}
	return RuleMetric{}, false
}

// Compute derives the metrics of ix under cfg.
func Compute(ix *join.Index, cfg policy.Config) *Result {
	res := &Result{Notes: []string{}, Unmatched: ix.Unmatched, UnknownRules: ix.UnknownRules}

	var outcomes map[string]clauseOutcome
	res.Alignment, res.Confusion, outcomes = computeAlignment(ix, cfg)
	if res.Alignment.EvaluatedClauses > 0 && res.Alignment.Denominator == 0 {
		res.Notes = append(res.Notes, "every evaluated clause was AMBIG/NULL and excluded from the denominator; golden_pass_rate is 0 by the zero-denominator convention")
	}

	rules, perClause := computeRules(ix, cfg)
	res.Rules = rules
	res.RuleSummary = summarize(rules)
	res.TopProblemRules = topProblemRules(rules, cfg.TopNProblemRules)
	res.Telemetry = computeTelemetry(ix, cfg.HistogramBuckets)

	if ix.HasRuleMeta() {
		res.RuleMetaSupplied = true
		res.RulesetID = ix.Ruleset.ID
		res.RulesetVersion = ix.Ruleset.Version
		res.RuleCategories = ruleCategories(rules)
		for _, id := range ix.Ruleset.RuleIDs() {
			if _, used := ix.Rules[id]; !used && ix.Ruleset.Rules[id].Critical {
				res.UncoveredCritical = append(res.UncoveredCritical, id)
			}
		}
		if n := len(ix.UnknownRules); n > 0 {
			res.Notes = append(res.Notes, fmt.Sprintf("%d rule id(s) referenced by hits or expected_rules are absent from the ruleset", n))
		}
	}
	if ix.ClauseCategory != nil {
		res.ClauseCategories = clauseCategories(ix, outcomes, perClause)
	}
	if n := ix.Unmatched.Count(); n > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d clause(s) present on only one side of the golden/scores join were excluded from clause metrics", n))
	}
	if ix.HitsOutsideGolden > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d hit(s) on clauses outside the golden set were excluded from rule contingency", ix.HitsOutsideGolden))
	}

	for _, v := range ix.Variants {
		res.Variants = append(res.Variants, variantMetrics(ix, rules, v))
	}
	return res
}

func variantMetrics(ix *join.Index, all []RuleMetric, variant string) VariantMetrics {
	vm := VariantMetrics{Variant: variant, Rules: []RuleMetric{}}
	for _, m := range all {
		if m.Variant == variant {
			vm.Rules = append(vm.Rules, m)
		}
	}
	vm.Summary = summarize(vm.Rules)
	vm.RuleCategories = ruleCategories(vm.Rules)
	vm.RuleHitCounts = ruleHitCounts(ix, ix.RulesOfVariant(variant))
	return vm
}
