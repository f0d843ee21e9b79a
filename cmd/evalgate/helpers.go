package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"evalgate/internal/artifact"
)

// artifactFlags carries one path per input artifact.
type artifactFlags struct {
	golden, scores, hits string
	rules, runStats      string
	clauses, snippets    string
}

func (a *artifactFlags) bind(f *pflag.FlagSet) {
	f.StringVar(&a.golden, "golden", "", "Path to golden_labels.json (required)")
	f.StringVar(&a.scores, "scores", "", "Path to scores.json (required)")
	f.StringVar(&a.hits, "hits", "", "Path to hits.json (required)")
	f.StringVar(&a.rules, "rules", "", "Path to ruleset_runtime.json")
	f.StringVar(&a.runStats, "run-stats", "", "Path to run_stats.json")
	f.StringVar(&a.clauses, "clauses", "", "Path to clauses.json")
	f.StringVar(&a.snippets, "snippets", "", "Path to snippets.json")
}

// paths drops every artifact whose flag was left empty.
func (a *artifactFlags) paths() artifact.Paths {
	p := artifact.Paths{}
	for k, v := range map[artifact.Kind]string{
		artifact.KindGolden:   a.golden,
		artifact.KindScores:   a.scores,
		artifact.KindHits:     a.hits,
		artifact.KindRuleset:  a.rules,
		artifact.KindRunStats: a.runStats,
		artifact.KindClauses:  a.clauses,
		artifact.KindSnippets: a.snippets,
	} {
		if v != "" {
			p[k] = v
		}
	}
	return p
}

// printViolations lists every violation of a validation failure on w and
// returns a short error for main. Other errors pass through unchanged.
func printViolations(w io.Writer, err error) error {
	var ve *artifact.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for _, v := range ve.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
	return fmt.Errorf("invalid input: %d violation(s)", len(ve.Violations))
}
