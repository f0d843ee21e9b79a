// Package join builds the key-indexed views the metrics stage reads: the
// clause index pairing golden labels with scores, the rule index of hits and
// expectations, and the optional category, snippet and variant lookups.
package join

import (
	"sort"

	"evalgate/internal/artifact"
)

// Pair is one clause present in both the golden set and the scores.
type Pair struct {
	Golden artifact.GoldenClause
	Score  artifact.ScoreRecord
}

// Unmatched lists clause ids present on only one side of the clause join.
type Unmatched struct {
	GoldenOnly []string `json:"golden_only"`
	ScoresOnly []string `json:"scores_only"`
}

// Count is the total number of unmatched clause ids.
func (u Unmatched) Count() int { return len(u.GoldenOnly) + len(u.ScoresOnly) }

// Rule is the rule index entry for one rule id.
type Rule struct {
	ID string
	// HitCount is the number of hit records, including repeats on the same
	// clause and hits on clauses outside the golden set.
	HitCount int
	// FiredOn is the set of golden clauses the rule fired on.
	FiredOn map[string]bool
	// ExpectedOn is the set of golden clauses listing the rule.
	ExpectedOn map[string]bool
}

// Category is a category/subcategory pair.
type Category struct {
	Category    string
	Subcategory string
}

// Index is the joined view of one artifact set. All id slices are sorted.
type Index struct {
	// Pairs holds the inner join of golden and scores, by clause id.
	Pairs     []Pair
	Unmatched Unmatched

	// Golden holds every golden clause in clause id order; rule contingency
	// is counted over this set, independent of the score join.
	Golden []artifact.GoldenClause
	// Fired maps a golden clause id to the distinct rules that fired on it.
	Fired map[string]map[string]bool

	Rules   map[string]*Rule
	RuleIDs []string

	HitsOutsideGolden int
	// UnknownRules are rule ids referenced by hits or expected_rules but
	// absent from the ruleset. Empty when no ruleset was supplied.
	UnknownRules []string

	Ruleset        *artifact.Ruleset
	ClauseCategory map[string]Category
	Snippets       map[string]string
	// Variants lists the distinct non-empty rule variants.
	Variants []string

	Scores []artifact.ScoreRecord
}

// HasRuleMeta reports whether rule metadata was supplied.
func (ix *Index) HasRuleMeta() bool { return ix.Ruleset != nil }

// Meta returns the metadata of a rule and whether it is known.
func (ix *Index) Meta(ruleID string) (artifact.RuleMeta, bool) {
	if ix.Ruleset == nil {
		return artifact.RuleMeta{}, false
	}
	m, ok := ix.Ruleset.Rules[ruleID]
	return m, ok
}

// Build indexes a validated set in linear time. The set is not modified.
func Build(set *artifact.Set) *Index {
	ix := &Index{
		Fired:   make(map[string]map[string]bool, len(set.Golden)),
		Rules:   make(map[string]*Rule),
		Ruleset: set.Ruleset,
	}

	golden := make(map[string]artifact.GoldenClause, len(set.Golden))
	for _, g := range set.Golden {
		golden[g.ClauseID] = g
	}
	scores := make(map[string]artifact.ScoreRecord, len(set.Scores))
	for _, s := range set.Scores {
		scores[s.ClauseID] = s
	}

	for _, id := range sortedKeys(golden) {
		g := golden[id]
		ix.Golden = append(ix.Golden, g)
		if s, ok := scores[id]; ok {
			ix.Pairs = append(ix.Pairs, Pair{Golden: g, Score: s})
		} else {
			ix.Unmatched.GoldenOnly = append(ix.Unmatched.GoldenOnly, id)
		}
		for _, r := range g.ExpectedRules {
			ix.rule(r).ExpectedOn[id] = true
		}
	}
	for _, id := range sortedKeys(scores) {
		ix.Scores = append(ix.Scores, scores[id])
		if _, ok := golden[id]; !ok {
			ix.Unmatched.ScoresOnly = append(ix.Unmatched.ScoresOnly, id)
		}
	}
	if ix.Unmatched.GoldenOnly == nil {
		ix.Unmatched.GoldenOnly = []string{}
	}
	if ix.Unmatched.ScoresOnly == nil {
		ix.Unmatched.ScoresOnly = []string{}
	}

	for _, h := range set.Hits {
		r := ix.rule(h.RuleID)
		r.HitCount++
		if _, ok := golden[h.ClauseID]; !ok {
			ix.HitsOutsideGolden++
			continue
		}
		r.FiredOn[h.ClauseID] = true
		fired := ix.Fired[h.ClauseID]
		if fired == nil {
			fired = make(map[string]bool)
			ix.Fired[h.ClauseID] = fired
		}
		fired[h.RuleID] = true
	}

	ix.RuleIDs = make([]string, 0, len(ix.Rules))
	for id := range ix.Rules {
		ix.RuleIDs = append(ix.RuleIDs, id)
	}
	sort.Strings(ix.RuleIDs)

	if set.Ruleset != nil {
		ix.UnknownRules = []string{}
		for _, id := range ix.RuleIDs {
			if _, ok := set.Ruleset.Rules[id]; !ok {
				ix.UnknownRules = append(ix.UnknownRules, id)
			}
		}
		seen := make(map[string]bool)
		for _, m := range set.Ruleset.Rules {
			if m.Variant != "" && !seen[m.Variant] {
				seen[m.Variant] = true
				ix.Variants = append(ix.Variants, m.Variant)
			}
		}
		sort.Strings(ix.Variants)
	}

	if set.Clauses != nil {
		ix.ClauseCategory = make(map[string]Category, len(set.Clauses))
		for _, c := range set.Clauses {
			ix.ClauseCategory[c.ClauseID] = Category{Category: c.Category, Subcategory: c.Subcategory}
		}
	}
	if set.Snippets != nil {
		ix.Snippets = make(map[string]string, len(set.Snippets))
		for _, s := range set.Snippets {
			ix.Snippets[s.ClauseID] = s.SnippetRef
		}
	}
	return ix
}

func (ix *Index) rule(id string) *Rule {
	r, ok := ix.Rules[id]
	if !ok {
		r = &Rule{ID: id, FiredOn: make(map[string]bool), ExpectedOn: make(map[string]bool)}
		ix.Rules[id] = r
	}
	return r
}

// RulesOfVariant returns the sorted rule ids whose metadata names variant.
func (ix *Index) RulesOfVariant(variant string) []string {
	var out []string
	for _, id := range ix.RuleIDs {
		if m, ok := ix.Meta(id); ok && m.Variant == variant {
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
