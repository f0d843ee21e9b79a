// Package evaluate runs the linear pipeline: validate, join, compute
// metrics, gate and render. Each stage runs once and never re-enters an
// earlier one.
package evaluate

import (
	"context"
	"errors"
	"fmt"

	"evalgate/internal/artifact"
	"evalgate/internal/gate"
	"evalgate/internal/join"
	"evalgate/internal/logging"
	"evalgate/internal/metrics"
	"evalgate/internal/policy"
	"evalgate/internal/report"
)

// ErrNoJoinedClauses means golden labels and scores share no clause id, so
// no clause-level metric can be computed.
var ErrNoJoinedClauses = errors.New("golden labels and scores share no clause_id")

// Run evaluates a validated set under cfg. It is a pure function of its
// arguments: identical inputs produce byte-identical bundles.
func Run(set *artifact.Set, cfg policy.Config) (*report.Bundle, error) {
	log := logging.New("evaluate")

	g, err := gate.New(cfg)
	if err != nil {
		return nil, err
	}

	ix := join.Build(set)
	log.Debug("joined artifacts",
		"pairs", len(ix.Pairs),
		"golden_only", len(ix.Unmatched.GoldenOnly),
		"scores_only", len(ix.Unmatched.ScoresOnly),
		"rules", len(ix.RuleIDs))
	if len(ix.Pairs) == 0 {
		return nil, fmt.Errorf("%w (%d golden, %d scored)", ErrNoJoinedClauses, len(set.Golden), len(set.Scores))
	}

	res := metrics.Compute(ix, cfg)
	d := g.Evaluate(res)

	b, err := report.Build(set, cfg, res, d)
	if err != nil {
		return nil, err
	}
	log.Info("evaluation complete",
		"run_id", b.RunID,
		"allowed", d.Allowed,
		"golden_pass_rate", res.Alignment.GoldenPassRate.Rounded(),
		"failing_rules", len(d.FailingRules))
	return b, nil
}

// Inputs names every file of a run.
type Inputs struct {
	Artifacts artifact.Paths
	Policy    string
}

// RunFiles reads, validates and evaluates the named files. Validation and
// policy errors are returned before any metric is computed.
func RunFiles(ctx context.Context, in Inputs) (*report.Bundle, error) {
	cfg, err := policy.Load(in.Policy)
	if err != nil {
		return nil, err
	}
	set, err := Load(ctx, in.Artifacts)
	if err != nil {
		return nil, err
	}
	return Run(set, cfg)
}

// Load reads and validates the artifacts without evaluating them.
func Load(ctx context.Context, paths artifact.Paths) (*artifact.Set, error) {
	src, err := artifact.ReadFiles(ctx, paths)
	if err != nil {
		return nil, err
	}
	set, err := artifact.Parse(src)
	if err != nil {
		return nil, err
	}
	logging.New("evaluate").Debug("artifacts validated",
		"golden", len(set.Golden),
		"scores", len(set.Scores),
		"hits", len(set.Hits),
		"ruleset", set.Ruleset != nil)
	return set, nil
}
