package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgate/internal/gate"
	"evalgate/internal/report"
	"evalgate/internal/store"
)

var fixtures = filepath.Join("..", "..", "internal", "evaluate", "testdata", "contracts")

func fixture(name string) string { return filepath.Join(fixtures, name) }

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func requiredArgs() []string {
	return []string{
		"--golden", fixture("golden_labels.json"),
		"--scores", fixture("scores.json"),
		"--hits", fixture("hits.json"),
	}
}

func TestRun_WritesOutputsAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	args := append([]string{"run"}, requiredArgs()...)
	args = append(args,
		"--rules", fixture("ruleset_runtime.json"),
		"--run-stats", fixture("run_stats.json"),
		"--clauses", fixture("clauses.json"),
		"--snippets", fixture("snippets.json"),
		"--policy", fixture("policy.yaml"),
		"--out-json", filepath.Join(dir, "out", "report.json"),
		"--out-md", filepath.Join(dir, "out", "report.md"),
		"--gate", filepath.Join(dir, "out", "gate_decision.json"),
		"--history-db", db,
	)

	stdout, _, err := execute(t, args...)
	require.NoError(t, err, "a blocked release is still a successful run")
	assert.Contains(t, stdout, "BLOCKED")

	for _, name := range []string{"report.json", "report.md", "gate_decision.json"} {
		_, err := os.Stat(filepath.Join(dir, "out", name))
		assert.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "out", "gate_decision.json"))
	require.NoError(t, err)
	var decision map[string]any
	require.NoError(t, json.Unmarshal(raw, &decision))
	assert.Equal(t, false, decision["allowed"])

	stdout, _, err = execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "BLOCKED")
	assert.Contains(t, stdout, "sha256:")
}

func TestRun_MissingRequiredFlag(t *testing.T) {
	_, _, err := execute(t, "run", "--golden", fixture("golden_labels.json"), "--scores", fixture("scores.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hits")
}

func TestRun_InvalidPolicyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(`{"min_golden_pass_rate": 2}`), 0o644))
	reportPath := filepath.Join(dir, "report.json")

	args := append([]string{"run"}, requiredArgs()...)
	args = append(args, "--policy", policyPath,
		"--out-json", reportPath,
		"--out-md", filepath.Join(dir, "report.md"),
		"--gate", filepath.Join(dir, "gate_decision.json"))
	_, _, err := execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_golden_pass_rate")

	_, statErr := os.Stat(reportPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidate_ListsEveryViolation(t *testing.T) {
	dir := t.TempDir()
	golden := filepath.Join(dir, "golden.json")
	require.NoError(t, os.WriteFile(golden, []byte(`[{"clause_id": "A", "expected_flag": "MAYBE"}, {"clause_id": "A", "expected_flag": "OK"}]`), 0o644))

	_, stderr, err := execute(t, "validate",
		"--golden", golden,
		"--scores", fixture("scores.json"),
		"--hits", fixture("hits.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
	assert.Contains(t, stderr, "golden_labels")
	assert.Contains(t, stderr, "expected_flag")
}

func TestValidate_OK(t *testing.T) {
	args := append([]string{"validate"}, requiredArgs()...)
	args = append(args, "--rules", fixture("ruleset_runtime.json"))
	stdout, _, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK: 4 golden clauses, 5 scores")
	assert.Contains(t, stdout, "ruleset entries")
}

func TestPolicy_PrintsEffectiveConfig(t *testing.T) {
	stdout, _, err := execute(t, "policy", "--policy", fixture("policy.yaml"))
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
	assert.Equal(t, true, cfg["allow_conservative"])
	assert.Equal(t, 0.6, cfg["min_rule_recall"], "unspecified keys keep their defaults")
}

func TestHistory_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	stdout, _, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs recorded")
}

func TestRoot_RejectsUnknownLogLevel(t *testing.T) {
	_, _, err := execute(t, "--log-level", "loud", "policy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestRecordRun_ListedByHistory(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()

	var ledger store.Store = st
	for _, allowed := range []bool{true, false} {
		b := &report.Bundle{
			RunID:       "run",
			InputDigest: "sha256:abcdef",
			Decision: gate.Decision{
				Allowed:        allowed,
				GoldenPassRate: 0.9,
				FailingRules:   []gate.RuleFinding{{RuleID: "r1"}},
			},
		}
		require.NoError(t, recordRun(ctx, ledger, b))
	}

	var out bytes.Buffer
	require.NoError(t, printHistory(ctx, &out, ledger, "history.db"))
	text := strings.ToUpper(out.String())
	assert.Contains(t, text, "2 RUNS")
	assert.Contains(t, text, "1 ALLOWED")
	assert.Contains(t, text, "0.9000")
}
