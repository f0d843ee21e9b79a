package evaluate

import (
	"fmt"
	"testing"
	"time"

	"evalgate/internal/artifact"
	"evalgate/internal/policy"
)

// largeSet builds a deterministic input at the documented scale: clauses and
// rules in the thousands, two hits per clause.
func largeSet(clauses, rules int) *artifact.Set {
	flags := []artifact.Flag{artifact.FlagOK, artifact.FlagWarn, artifact.FlagHigh, artifact.FlagAmbig, artifact.FlagNull}
	rule := func(i int) string { return fmt.Sprintf("rule-%05d", i%rules) }

	set := &artifact.Set{
		Ruleset:  &artifact.Ruleset{ID: "bench", Version: "1.0.0", Rules: make(map[string]artifact.RuleMeta, rules)},
		RunStats: []byte(`{"elapsed_ms": 1520, "memory_mb": 96}`),
	}
	for i := 0; i < rules; i++ {
		id := rule(i)
		set.Ruleset.Rules[id] = artifact.RuleMeta{
			RuleID:   id,
			Category: fmt.Sprintf("cat-%02d", i%20),
			Critical: i%50 == 0,
		}
	}
	for i := 0; i < clauses; i++ {
		id := fmt.Sprintf("clause-%06d", i)
		set.Golden = append(set.Golden, artifact.GoldenClause{
			ClauseID:      id,
			ExpectedFlag:  flags[i%3],
			ExpectedRules: []string{rule(i)},
		})
		set.Scores = append(set.Scores, artifact.ScoreRecord{
			ClauseID:   id,
			RiskFlag:   flags[(i*7)%5],
			Confidence: float64(i%100) / 100,
		})
		set.Hits = append(set.Hits,
			artifact.Hit{RuleID: rule(i), ClauseID: id, MatchType: "regex", Strength: 0.8, Spans: []artifact.Span{{0, 12}}},
			artifact.Hit{RuleID: rule(i * 13), ClauseID: id, MatchType: "keyword", Strength: 0.4},
		)
		set.Clauses = append(set.Clauses, artifact.NormClause{ClauseID: id, Category: fmt.Sprintf("cat-%02d", i%20)})
	}
	return set
}

func BenchmarkRun(b *testing.B) {
	set := largeSet(3000, 3000)
	cfg := policy.Default()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Run(set, cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func TestRun_WithinLatencyBudget(t *testing.T) {
	if testing.Short() || raceEnabled {
		t.Skip("timing is meaningless in -short or -race runs")
	}
	const budget = 200 * time.Millisecond

	res := testing.Benchmark(BenchmarkRun)
	if res.N == 0 {
		t.Fatal("benchmark did not run")
	}
	if got := time.Duration(res.NsPerOp()); got > budget {
		t.Errorf("Run over 3000 clauses, 3000 rules, 6000 hits took %v per op, budget %v", got, budget)
	}
}
