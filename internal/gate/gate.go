// Package gate turns computed metrics and a policy into the release decision.
package gate

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"evalgate/internal/metrics"
	"evalgate/internal/policy"
)

// Gate evaluates release conditions under one policy.
type Gate struct {
	cfg    policy.Config
	custom []policy.GateProgram
}

// New compiles the policy's custom gates. The policy is expected to have
// passed policy.Config.Validate.
func New(cfg policy.Config) (*Gate, error) {
	progs, err := policy.CompileGates(cfg.CustomGates)
	if err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg, custom: progs}, nil
}

// Evaluate checks, in order: the golden pass rate floor, critical rule
// floors, the ruleset version constraint and custom gates. Every failed
// condition is recorded; the release is allowed only when none failed.
func (g *Gate) Evaluate(res *metrics.Result) Decision {
	d := Decision{
		GoldenPassRate:  res.Alignment.GoldenPassRate,
		Thresholds:      thresholdsOf(g.cfg),
		FailingRules:    []RuleFinding{},
		BlockedBy:       []Block{},
		Notes:           []string{},
		RulesBelowFloor: []RuleFinding{},
	}

	g.passRate(res, &d)
	g.ruleFloors(res, &d)
	g.rulesetVersion(res, &d)
	g.customGates(res, &d)

	d.Notes = append(d.Notes, res.Notes...)
	d.Allowed = len(d.BlockedBy) == 0
	return d
}

func (g *Gate) block(d *Decision, kind BlockKind, ref, reason string) {
	d.BlockedBy = append(d.BlockedBy, Block{Kind: kind, Ref: ref, Reason: reason})
}

func (g *Gate) passRate(res *metrics.Result, d *Decision) {
	a := res.Alignment
	rate := float64(a.GoldenPassRate)
	if rate < g.cfg.MinGoldenPassRate {
		reason := fmt.Sprintf("golden_pass_rate %.4f (%d/%d) is below the min_golden_pass_rate floor %.4f",
			metrics.Ratio(rate).Rounded(), a.PassingClauses, a.Denominator, g.cfg.MinGoldenPassRate)
		g.block(d, BlockPassRate, "", reason)
		d.Notes = append(d.Notes, reason)
		return
	}
	d.Notes = append(d.Notes, fmt.Sprintf("golden_pass_rate %.4f (%d/%d) meets the min_golden_pass_rate floor %.4f",
		metrics.Ratio(rate).Rounded(), a.PassingClauses, a.Denominator, g.cfg.MinGoldenPassRate))
}

// floorReason names each violated floor, or returns "" when both hold.
func (g *Gate) floorReason(m metrics.RuleMetric) string {
	var parts []string
	if float64(m.Precision) < g.cfg.MinRulePrecision {
		parts = append(parts, fmt.Sprintf("precision %.4f < min_rule_precision %.4f", m.Precision.Rounded(), g.cfg.MinRulePrecision))
	}
	if float64(m.Recall) < g.cfg.MinRuleRecall {
		parts = append(parts, fmt.Sprintf("recall %.4f < min_rule_recall %.4f", m.Recall.Rounded(), g.cfg.MinRuleRecall))
	}
	if len(parts) == 0 {
		return ""
	}
	reason := strings.Join(parts, "; ")
	if !m.Evidence() {
		reason += " (no golden evidence)"
	}
	return reason
}

func (g *Gate) ruleFloors(res *metrics.Result, d *Decision) {
	enforce := res.RuleMetaSupplied && g.cfg.EnforceRuleFloorForCritical
	switch {
	case !res.RuleMetaSupplied:
		d.Notes = append(d.Notes, "rule metadata not supplied: critical-rule enforcement skipped and no rule was evaluated as critical")
	case !g.cfg.EnforceRuleFloorForCritical:
		d.Notes = append(d.Notes, "enforce_rule_floor_for_critical is false: critical-rule floors reported but not enforced")
	}

	for _, m := range res.Rules {
		reason := g.floorReason(m)
		if reason == "" {
			continue
		}
		f := RuleFinding{RuleID: m.RuleID, Precision: m.Precision, Recall: m.Recall, Critical: m.IsCritical(), Reason: reason}
		if enforce && m.IsCritical() {
			d.FailingRules = append(d.FailingRules, f)
			g.block(d, BlockCriticalRule, m.RuleID, fmt.Sprintf("critical rule %s: %s", m.RuleID, reason))
			d.Notes = append(d.Notes, fmt.Sprintf("critical rule %s failed its floor: %s", m.RuleID, reason))
			continue
		}
		// Only evidenced rules are worth listing as non-blocking findings.
		if m.Evidence() {
			d.RulesBelowFloor = append(d.RulesBelowFloor, f)
		}
	}

	if enforce {
		for _, id := range res.UncoveredCritical {
			d.Notes = append(d.Notes, fmt.Sprintf("critical rule %s is declared in the ruleset but never fired or expected; not evaluated", id))
		}
	}
}

func (g *Gate) rulesetVersion(res *metrics.Result, d *Decision) {
	if g.cfg.RulesetVersionConstraint == "" {
		return
	}
	cons := g.cfg.VersionConstraint()
	want := g.cfg.RulesetVersionConstraint
	switch {
	case cons == nil:
		g.block(d, BlockRulesetVersion, want, fmt.Sprintf("ruleset_version_constraint %q cannot be parsed", want))
	case res.RulesetVersion == "":
		g.block(d, BlockRulesetVersion, want, fmt.Sprintf("ruleset version unknown; cannot satisfy %q", want))
	default:
		v, err := semver.NewVersion(res.RulesetVersion)
		if err != nil {
			g.block(d, BlockRulesetVersion, want, fmt.Sprintf("ruleset version %q is not a semantic version", res.RulesetVersion))
			return
		}
		if !cons.Check(v) {
			g.block(d, BlockRulesetVersion, want, fmt.Sprintf("ruleset version %s does not satisfy %q", v, want))
			return
		}
		d.Notes = append(d.Notes, fmt.Sprintf("ruleset version %s satisfies %q", v, want))
	}
}

func (g *Gate) customGates(res *metrics.Result, d *Decision) {
	if len(g.custom) == 0 {
		return
	}
	vars := Vars(res)
	for _, p := range g.custom {
		ok, err := p.Eval(vars)
		switch {
		case err != nil:
			g.block(d, BlockCustomGate, p.Gate.ID, err.Error())
		case !ok:
			reason := p.Gate.Reason
			if reason == "" {
				reason = fmt.Sprintf("custom gate %s evaluated to false: %s", p.Gate.ID, p.Gate.Expr)
			}
			g.block(d, BlockCustomGate, p.Gate.ID, reason)
		}
	}
}

// Vars exposes the metric summary to custom gate expressions. Ratios are
// the exact values, not the rounded emission.
func Vars(res *metrics.Result) map[string]any {
	rules := make([]any, 0, len(res.Rules))
	for _, m := range res.Rules {
		rules = append(rules, map[string]any{
			"rule_id":     m.RuleID,
			"precision":   float64(m.Precision),
			"recall":      float64(m.Recall),
			"f1":          float64(m.F1),
			"tp":          int64(m.TP),
			"fp":          int64(m.FP),
			"fn":          int64(m.FN),
			"support":     int64(m.Support),
			"hit_count":   int64(m.HitCount),
			"critical":    m.IsCritical(),
			"known":       m.Known,
			"category":    m.Category,
			"subcategory": m.Subcategory,
			"variant":     m.Variant,
		})
	}
	cats := make([]any, 0, len(res.RuleCategories))
	for _, c := range res.RuleCategories {
		cats = append(cats, map[string]any{
			"category":    c.Category,
			"subcategory": c.Subcategory,
			"precision":   float64(c.Precision),
			"recall":      float64(c.Recall),
			"f1":          float64(c.F1),
			"tp":          int64(c.TP),
			"fp":          int64(c.FP),
			"fn":          int64(c.FN),
		})
	}
	return map[string]any{
		policy.VarGoldenPassRate:    float64(res.Alignment.GoldenPassRate),
		policy.VarAmbiguousRate:     float64(res.Alignment.AmbiguousRate),
		policy.VarEvaluatedClauses:  int64(res.Alignment.EvaluatedClauses),
		policy.VarPassingClauses:    int64(res.Alignment.PassingClauses),
		policy.VarUnmatchedClauses:  int64(res.Unmatched.Count()),
		policy.VarUnknownRules:      int64(len(res.UnknownRules)),
		policy.VarHitsOutsideGolden: int64(res.Telemetry.HitsOutsideGolden),
		policy.VarRulesetVersion:    res.RulesetVersion,
		policy.VarRules:             rules,
		policy.VarCategories:        cats,
	}
}
