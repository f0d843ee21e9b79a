package metrics

import (
	"sort"

	"evalgate/internal/join"
)

// Uncategorized labels rules or clauses with no category.
const Uncategorized = "UNCATEGORIZED"

// CategoryRollup sums rule contingency per rule category.
type CategoryRollup struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	RuleIDs     []string `json:"rules"`
	Counts
}

// ClauseCategoryRollup sums clause outcomes and rule contingency per
// normalized clause category.
type ClauseCategoryRollup struct {
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory,omitempty"`
	GoldenClauses    int    `json:"golden_clauses"`
	EvaluatedClauses int    `json:"evaluated_clauses"`
	PassingClauses   int    `json:"passing_clauses"`
	PassRate         Ratio  `json:"pass_rate"`
	Counts
}

type catKey struct{ cat, sub string }

func sortCatKeys(keys []catKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cat != keys[j].cat {
			return keys[i].cat < keys[j].cat
		}
		return keys[i].sub < keys[j].sub
	})
}

// ruleCategories groups rules by (category, subcategory) from rule metadata.
// Rules without metadata or without a category fall under Uncategorized.
func ruleCategories(rules []RuleMetric) []CategoryRollup {
	buckets := make(map[catKey]*CategoryRollup)
	var keys []catKey
	for _, m := range rules {
		k := catKey{cat: m.Category, sub: m.Subcategory}
		if k.cat == "" {
			k.cat = Uncategorized
		}
		b, ok := buckets[k]
		if !ok {
			b = &CategoryRollup{Category: k.cat, Subcategory: k.sub}
			buckets[k] = b
			keys = append(keys, k)
		}
		b.RuleIDs = append(b.RuleIDs, m.RuleID)
		b.add(m.Counts)
	}
	sortCatKeys(keys)
	out := make([]CategoryRollup, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		sort.Strings(b.RuleIDs)
		b.derive()
		out = append(out, *b)
	}
	return out
}

// clauseCategories groups golden clauses by their normalized category.
func clauseCategories(ix *join.Index, outcomes map[string]clauseOutcome, perClause clauseRuleCounts) []ClauseCategoryRollup {
	buckets := make(map[catKey]*ClauseCategoryRollup)
	denominators := make(map[catKey]int)
	var keys []catKey
	for _, g := range ix.Golden {
		c, ok := ix.ClauseCategory[g.ClauseID]
		k := catKey{cat: c.Category, sub: c.Subcategory}
		if !ok || k.cat == "" {
			k = catKey{cat: Uncategorized}
		}
		b, seen := buckets[k]
		if !seen {
			b = &ClauseCategoryRollup{Category: k.cat, Subcategory: k.sub}
			buckets[k] = b
			keys = append(keys, k)
		}
		b.GoldenClauses++
		if o, joined := outcomes[g.ClauseID]; joined {
			b.EvaluatedClauses++
			if o.counted {
				denominators[k]++
			}
			if o.passed {
				b.PassingClauses++
			}
		}
		b.add(perClause[g.ClauseID])
	}
	sortCatKeys(keys)
	out := make([]ClauseCategoryRollup, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		b.PassRate = SafeRatio(b.PassingClauses, denominators[k])
		b.derive()
		out = append(out, *b)
	}
	return out
}
