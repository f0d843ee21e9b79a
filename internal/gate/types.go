package gate

import (
	"evalgate/internal/metrics"
	"evalgate/internal/policy"
)

// BlockKind enumerates the conditions that can deny a release.
type BlockKind string

const (
	BlockPassRate       BlockKind = "golden_pass_rate"
	BlockCriticalRule   BlockKind = "critical_rule"
	BlockRulesetVersion BlockKind = "ruleset_version"
	BlockCustomGate     BlockKind = "custom_gate"
)

// Block is one reason the release was denied.
type Block struct {
	Kind   BlockKind `json:"kind"`
	Ref    string    `json:"ref,omitempty"`
	Reason string    `json:"reason"`
}

// Thresholds is the snapshot of every policy value the decision depended on.
type Thresholds struct {
	MinGoldenPassRate           float64  `json:"min_golden_pass_rate"`
	MinRulePrecision            float64  `json:"min_rule_precision"`
	MinRuleRecall               float64  `json:"min_rule_recall"`
	EnforceRuleFloorForCritical bool     `json:"enforce_rule_floor_for_critical"`
	StrictMatch                 bool     `json:"strict_match"`
	AllowConservative           bool     `json:"allow_conservative"`
	TreatEmptyAsNegatives       bool     `json:"treat_empty_as_negatives"`
	ExcludeAmbiguous            bool     `json:"exclude_ambiguous_from_denominator"`
	RulesetVersionConstraint    string   `json:"ruleset_version_constraint,omitempty"`
	CustomGates                 []string `json:"custom_gates,omitempty"`
}

func thresholdsOf(cfg policy.Config) Thresholds {
	t := Thresholds{
		MinGoldenPassRate:           cfg.MinGoldenPassRate,
		MinRulePrecision:            cfg.MinRulePrecision,
		MinRuleRecall:               cfg.MinRuleRecall,
		EnforceRuleFloorForCritical: cfg.EnforceRuleFloorForCritical,
		StrictMatch:                 cfg.StrictMatch,
		AllowConservative:           cfg.AllowConservative,
		TreatEmptyAsNegatives:       cfg.TreatEmptyAsNegatives,
		ExcludeAmbiguous:            cfg.ExcludeAmbiguousFromDenominator,
		RulesetVersionConstraint:    cfg.RulesetVersionConstraint,
	}
	for _, g := range cfg.CustomGates {
		t.CustomGates = append(t.CustomGates, g.ID+": "+g.Expr)
	}
	return t
}

// RuleFinding is a rule under the precision or recall floor.
type RuleFinding struct {
	RuleID    string        `json:"rule_id"`
	Precision metrics.Ratio `json:"precision"`
	Recall    metrics.Ratio `json:"recall"`
	Critical  bool          `json:"critical,omitempty"`
	Reason    string        `json:"reason"`
}

// Decision is the release gate verdict. FailingRules only lists critical
// rules that block; RulesBelowFloor lists the others for the report.
type Decision struct {
	Allowed         bool          `json:"allowed"`
	GoldenPassRate  metrics.Ratio `json:"golden_pass_rate"`
	Thresholds      Thresholds    `json:"thresholds"`
	FailingRules    []RuleFinding `json:"failing_rules"`
	BlockedBy       []Block       `json:"blocked_by"`
	Notes           []string      `json:"notes"`
	RulesBelowFloor []RuleFinding `json:"-"`
}
