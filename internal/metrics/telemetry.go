package metrics

import (
	"math"
	"sort"

	"evalgate/internal/artifact"
	"evalgate/internal/join"
)

// Bucket is one equal-width confidence histogram bin. Every bin is
// half-open [lower, upper) except the last, which includes 1.
type Bucket struct {
	Lower Ratio `json:"lower"`
	Upper Ratio `json:"upper"`
	Count int   `json:"count"`
}

// ConfidenceStats summarizes scorer confidence.
type ConfidenceStats struct {
	Mean   Ratio `json:"mean"`
	Median Ratio `json:"median"`
	P90    Ratio `json:"p90"`
	Min    Ratio `json:"min"`
	Max    Ratio `json:"max"`
}

// FlagShare is the count and proportion of one risk flag.
type FlagShare struct {
	Flag       artifact.Flag `json:"flag"`
	Count      int           `json:"count"`
	Proportion Ratio         `json:"proportion"`
}

// RuleHits is the raw firing volume of one rule.
type RuleHits struct {
	RuleID  string `json:"rule_id"`
	Hits    int    `json:"hits"`
	Clauses int    `json:"golden_clauses"`
}

// Telemetry describes the score and hit distributions. It is computed over
// every score record, joined or not, and every hit.
type Telemetry struct {
	ScoredClauses       int             `json:"scored_clauses"`
	ConfidenceHistogram []Bucket        `json:"confidence_histogram"`
	Confidence          ConfidenceStats `json:"confidence"`
	RiskFlags           []FlagShare     `json:"risk_flags"`
	AmbiguousProportion Ratio           `json:"ambiguous_proportion"`
	RuleHitCounts       []RuleHits      `json:"rule_hit_counts"`
	HitsOutsideGolden   int             `json:"hits_outside_golden"`
	UnmatchedClauses    int             `json:"unmatched_clauses"`
	UnknownRules        int             `json:"unknown_rules"`
}

// bucketIndex maps a confidence in [0,1] to one of k bins. The epsilon keeps
// exact edges such as 0.3 with k=10 in the bin they open.
func bucketIndex(c float64, k int) int {
	i := int(math.Floor(c*float64(k) + 1e-9))
	if i >= k {
		i = k - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func histogram(values []float64, k int) []Bucket {
	out := make([]Bucket, k)
	for i := range out {
		out[i] = Bucket{Lower: Ratio(float64(i) / float64(k)), Upper: Ratio(float64(i+1) / float64(k))}
	}
	for _, v := range values {
		out[bucketIndex(v, k)].Count++
	}
	return out
}

// confidenceStats expects sorted values. p90 is the element at
// max(floor(0.9n)-1, 0).
func confidenceStats(sorted []float64) ConfidenceStats {
	n := len(sorted)
	if n == 0 {
		return ConfidenceStats{}
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	p90 := int(float64(n)*0.9) - 1
	if p90 < 0 {
		p90 = 0
	}
	return ConfidenceStats{
		Mean:   Ratio(sum / float64(n)),
		Median: Ratio(median),
		P90:    Ratio(sorted[p90]),
		Min:    Ratio(sorted[0]),
		Max:    Ratio(sorted[n-1]),
	}
}

// ruleHitCounts ranks rules that fired at least once by descending hit
// count, then ascending rule id.
func ruleHitCounts(ix *join.Index, ruleIDs []string) []RuleHits {
	out := []RuleHits{}
	for _, id := range ruleIDs {
		r := ix.Rules[id]
		if r.HitCount == 0 {
			continue
		}
		out = append(out, RuleHits{RuleID: id, Hits: r.HitCount, Clauses: len(r.FiredOn)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

func computeTelemetry(ix *join.Index, buckets int) Telemetry {
	n := len(ix.Scores)
	values := make([]float64, 0, n)
	counts := make(map[artifact.Flag]int, len(artifact.AllFlags))
	for _, s := range ix.Scores {
		values = append(values, s.Confidence)
		counts[s.RiskFlag]++
	}
	sort.Float64s(values)

	t := Telemetry{
		ScoredClauses:       n,
		ConfidenceHistogram: histogram(values, buckets),
		Confidence:          confidenceStats(values),
		RuleHitCounts:       ruleHitCounts(ix, ix.RuleIDs),
		HitsOutsideGolden:   ix.HitsOutsideGolden,
		UnmatchedClauses:    ix.Unmatched.Count(),
		UnknownRules:        len(ix.UnknownRules),
	}
	ambiguous := 0
	for _, f := range artifact.AllFlags {
		t.RiskFlags = append(t.RiskFlags, FlagShare{Flag: f, Count: counts[f], Proportion: SafeRatio(counts[f], n)})
		if f.Ambiguous() {
			ambiguous += counts[f]
		}
	}
	t.AmbiguousProportion = SafeRatio(ambiguous, n)
	return t
}
