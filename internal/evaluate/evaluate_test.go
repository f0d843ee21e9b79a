package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgate/internal/artifact"
	"evalgate/internal/gate"
	"evalgate/internal/policy"
)

const fixtureDir = "testdata/contracts"

func fixturePaths(optional ...artifact.Kind) artifact.Paths {
	p := artifact.Paths{
		artifact.KindGolden: filepath.Join(fixtureDir, "golden_labels.json"),
		artifact.KindScores: filepath.Join(fixtureDir, "scores.json"),
		artifact.KindHits:   filepath.Join(fixtureDir, "hits.json"),
	}
	for _, k := range optional {
		p[k] = filepath.Join(fixtureDir, string(k)+".json")
	}
	return p
}

func allOptional() []artifact.Kind {
	return []artifact.Kind{artifact.KindRuleset, artifact.KindRunStats, artifact.KindClauses, artifact.KindSnippets}
}

func decodeGate(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestRunFiles_FullFixture(t *testing.T) {
	b, err := RunFiles(context.Background(), Inputs{
		Artifacts: fixturePaths(allOptional()...),
		Policy:    filepath.Join(fixtureDir, "policy.yaml"),
	})
	require.NoError(t, err)

	d := b.Decision
	assert.False(t, d.Allowed, "critical rule r2 never fires")
	assert.Equal(t, 1.0, float64(d.GoldenPassRate))
	require.Len(t, d.FailingRules, 1)
	assert.Equal(t, "r2", d.FailingRules[0].RuleID)
	assert.Contains(t, d.FailingRules[0].Reason, "recall")

	gateDoc := decodeGate(t, b.GateJSON)
	for _, key := range []string{"allowed", "golden_pass_rate", "thresholds", "failing_rules", "notes"} {
		assert.Contains(t, gateDoc, key)
	}

	var report map[string]any
	require.NoError(t, json.Unmarshal(b.ReportJSON, &report))
	assert.Equal(t, b.RunID, report["run_id"])
	assert.Equal(t, []any{"r4"}, report["unknown_rules"])
	assert.Contains(t, report, "rule_categories")
	assert.Contains(t, report, "clause_categories")
	assert.Contains(t, report, "variants")
	assert.Contains(t, report, "conventions")
	stats := report["run_stats"].(map[string]any)
	assert.Equal(t, 88.0, stats["memory_mb"])

	md := string(b.ReportMarkdown)
	assert.Contains(t, md, "**BLOCKED**")
	assert.Contains(t, md, "## Top Problem Rules")
	assert.Contains(t, md, "| r2")
}

func TestRunFiles_DefaultPolicyBlocksOnPassRate(t *testing.T) {
	b, err := RunFiles(context.Background(), Inputs{Artifacts: fixturePaths()})
	require.NoError(t, err)

	d := b.Decision
	assert.False(t, d.Allowed)
	assert.Equal(t, 0.75, float64(d.GoldenPassRate))
	assert.Empty(t, d.FailingRules, "no metadata means no critical rules")
	require.NotEmpty(t, d.BlockedBy)
	assert.Equal(t, gate.BlockPassRate, d.BlockedBy[0].Kind)

	joined := strings.Join(d.Notes, "\n")
	assert.Contains(t, joined, "min_golden_pass_rate")
	assert.Contains(t, joined, "rule metadata not supplied")

	var report map[string]any
	require.NoError(t, json.Unmarshal(b.ReportJSON, &report))
	assert.NotContains(t, report, "rule_categories")
	assert.NotContains(t, report, "unknown_rules")
}

func TestRun_Deterministic(t *testing.T) {
	in := Inputs{Artifacts: fixturePaths(allOptional()...), Policy: filepath.Join(fixtureDir, "policy.yaml")}
	first, err := RunFiles(context.Background(), in)
	require.NoError(t, err)
	second, err := RunFiles(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, string(first.ReportJSON), string(second.ReportJSON))
	assert.Equal(t, string(first.ReportMarkdown), string(second.ReportMarkdown))
	assert.Equal(t, string(first.GateJSON), string(second.GateJSON))
	assert.Equal(t, first.RunID, second.RunID)
}

func TestRun_AllowedRelease(t *testing.T) {
	set := &artifact.Set{
		Golden: []artifact.GoldenClause{
			{ClauseID: "A", ExpectedFlag: artifact.FlagOK, ExpectedRules: []string{"r1"}},
			{ClauseID: "B", ExpectedFlag: artifact.FlagHigh, ExpectedRules: []string{"r1"}},
		},
		Scores: []artifact.ScoreRecord{
			{ClauseID: "A", RiskFlag: artifact.FlagOK, Confidence: 0.8},
			{ClauseID: "B", RiskFlag: artifact.FlagHigh, Confidence: 0.9},
		},
		Hits: []artifact.Hit{
			{RuleID: "r1", ClauseID: "A"},
			{RuleID: "r1", ClauseID: "B"},
		},
		Ruleset: &artifact.Ruleset{Rules: map[string]artifact.RuleMeta{"r1": {RuleID: "r1", Critical: true}}},
	}
	b, err := Run(set, policy.Default())
	require.NoError(t, err)
	assert.True(t, b.Decision.Allowed, "blocked by %+v", b.Decision.BlockedBy)
	assert.Contains(t, string(b.ReportMarkdown), "**ALLOWED**")
}

func TestRun_NoJoinedClauses(t *testing.T) {
	set := &artifact.Set{
		Golden: []artifact.GoldenClause{{ClauseID: "A", ExpectedFlag: artifact.FlagOK}},
		Scores: []artifact.ScoreRecord{{ClauseID: "Z", RiskFlag: artifact.FlagOK}},
	}
	_, err := Run(set, policy.Default())
	assert.True(t, errors.Is(err, ErrNoJoinedClauses), "got %v", err)
}

func TestRunFiles_ValidationFailureIsExhaustive(t *testing.T) {
	dir := t.TempDir()
	golden := filepath.Join(dir, "golden.json")
	scores := filepath.Join(dir, "scores.json")
	require.NoError(t, os.WriteFile(golden, []byte(`[{"clause_id": "A", "expected_flag": "MAYBE"}, {"clause_id": "A", "expected_flag": "OK"}]`), 0o644))
	require.NoError(t, os.WriteFile(scores, []byte(`[{"clause_id": "A", "risk_flag": "OK"}]`), 0o644))

	paths := fixturePaths()
	paths[artifact.KindGolden] = golden
	paths[artifact.KindScores] = scores
	_, err := RunFiles(context.Background(), Inputs{Artifacts: paths})

	var ve *artifact.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.GreaterOrEqual(t, len(ve.Violations), 3, "enum, duplicate and missing confidence: %v", ve.Violations)
}

func TestRunFiles_PolicyErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"min_rule_precision": 1.2}`), 0o644))

	_, err := RunFiles(context.Background(), Inputs{Artifacts: fixturePaths(), Policy: p})
	var ce *policy.ConfigError
	assert.True(t, errors.As(err, &ce), "got %v", err)
}

func TestRunFiles_MissingRequiredInput(t *testing.T) {
	paths := fixturePaths()
	delete(paths, artifact.KindHits)
	_, err := RunFiles(context.Background(), Inputs{Artifacts: paths})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hits")
}

func TestRun_RunStatsPassedThroughVerbatim(t *testing.T) {
	set, err := Load(context.Background(), fixturePaths())
	require.NoError(t, err)
	set.RunStats = []byte(`{"trace_id":12345678901234567891,"elapsed_ms":1.50}`)

	b, err := Run(set, policy.Default())
	require.NoError(t, err)
	out := string(b.ReportJSON)
	assert.Contains(t, out, `"trace_id": 12345678901234567891`)
	assert.Contains(t, out, `"elapsed_ms": 1.50`)
	assert.Less(t, strings.Index(out, `"trace_id"`), strings.Index(out, `"elapsed_ms"`), "member order is kept")
}

func TestRun_NoRuleMetadataOmitsCritical(t *testing.T) {
	b, err := RunFiles(context.Background(), Inputs{Artifacts: fixturePaths()})
	require.NoError(t, err)

	var report struct {
		PerRule         []map[string]any `json:"per_rule"`
		TopProblemRules []map[string]any `json:"top_problem_rules"`
	}
	require.NoError(t, json.Unmarshal(b.ReportJSON, &report))
	require.NotEmpty(t, report.PerRule)
	require.NotEmpty(t, report.TopProblemRules)
	for _, m := range append(report.PerRule, report.TopProblemRules...) {
		assert.NotContains(t, m, "critical", "rule %v", m["rule_id"])
	}
	assert.NotContains(t, string(b.ReportMarkdown), "Critical")

	full, err := RunFiles(context.Background(), Inputs{Artifacts: fixturePaths(allOptional()...)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(full.ReportJSON, &report))
	for _, m := range report.PerRule {
		assert.Contains(t, m, "critical", "rule %v", m["rule_id"])
	}
}
