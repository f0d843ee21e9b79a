package report

import (
	"fmt"
	"sort"
	"strings"

	"evalgate/internal/artifact"
	"evalgate/internal/display"
	"evalgate/internal/format"
	"evalgate/internal/gate"
	"evalgate/internal/metrics"
	"evalgate/internal/policy"
)

// Markdown renders the human summary. Every section is derived from res and
// d only; no timestamps or host details are included.
func Markdown(runID string, cfg policy.Config, res *metrics.Result, d gate.Decision) string {
	var b strings.Builder
	a := res.Alignment

	b.WriteString("# Evaluation Summary\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", runID)
	fmt.Fprintf(&b, "- Gate decision: **%s**\n", display.Verdict(d.Allowed))
	fmt.Fprintf(&b, "- Golden match rate: %s\n", format.FmtFraction(a.PassingClauses, a.Denominator))
	fmt.Fprintf(&b, "- Policy: strict_match=%t, allow_conservative=%t, treat_empty_as_negatives=%t\n",
		cfg.StrictMatch, cfg.AllowConservative, cfg.TreatEmptyAsNegatives)
	fmt.Fprintf(&b, "- Rules: %d evaluated, micro precision %s, micro recall %s\n",
		res.RuleSummary.Rules, format.FmtRatio(float64(res.RuleSummary.Precision)), format.FmtRatio(float64(res.RuleSummary.Recall)))
	b.WriteString("\n")

	writeGate(&b, d)
	writeConfusion(&b, res)
	writeProblemRules(&b, cfg, res)
	writeCategories(&b, cfg, res)
	writeVariants(&b, res)
	writeDistribution(&b, res)
	writeGaps(&b, res)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "## %s\n\n", title)
}

func writeTable(b *strings.Builder, tb format.TableBuilder) {
	b.WriteString(tb.String())
	b.WriteString("\n\n")
}

func writeGate(b *strings.Builder, d gate.Decision) {
	section(b, "Gate Rationale")
	if len(d.BlockedBy) > 0 {
		tb := format.NewTable(format.Markdown)
		tb.Header("Condition", "Ref", "Reason")
		for _, blk := range d.BlockedBy {
			ref := blk.Ref
			if ref == "" {
				ref = "-"
			}
			tb.Row(display.BlockKind(string(blk.Kind)), ref, blk.Reason)
		}
		writeTable(b, tb)
	}
	if len(d.Notes) == 0 {
		b.WriteString("- All thresholds satisfied.\n\n")
		return
	}
	for _, n := range d.Notes {
		fmt.Fprintf(b, "- %s\n", n)
	}
	b.WriteString("\n")
}

func writeConfusion(b *strings.Builder, res *metrics.Result) {
	section(b, "Confusion Matrix")
	tb := format.NewTable(format.Markdown)
	tb.Header("Expected \\ Actual", "OK", "WARN", "HIGH", "AMBIG", "NULL")
	for _, e := range artifact.OrderedFlags {
		row := []any{display.FlagWithCode(string(e))}
		for _, f := range artifact.AllFlags {
			row = append(row, res.Confusion.Cell(e, f))
		}
		tb.Row(row...)
	}
	tb.Columns(format.NumericColumns(2, 6)...)
	writeTable(b, tb)
	if len(res.Alignment.FailureExamples) > 0 {
		ids := make([]string, len(res.Alignment.FailureExamples))
		for i, f := range res.Alignment.FailureExamples {
			ids[i] = fmt.Sprintf("%s (%s→%s)", f.ClauseID, f.Expected, f.Actual)
		}
		fmt.Fprintf(b, "Failing clauses (%d total): %s\n\n", res.Alignment.FailingClauses, strings.Join(ids, ", "))
	}
}

func writeProblemRules(b *strings.Builder, cfg policy.Config, res *metrics.Result) {
	section(b, "Top Problem Rules")
	if len(res.TopProblemRules) == 0 {
		b.WriteString("- No rule has golden evidence.\n\n")
		return
	}
	tb := format.NewTable(format.Markdown)
	cols := []string{"Rule", "Min(P,R)", "Precision", "Recall", "F1", "TP", "FP", "FN"}
	if res.RuleMetaSupplied {
		cols = append(cols, "Critical")
	}
	tb.Header(append(cols, "Hint")...)
	for _, p := range res.TopProblemRules {
		hint := display.Hint(display.RuleShape{
			Precision:    float64(p.Precision),
			Recall:       float64(p.Recall),
			MinPrecision: cfg.MinRulePrecision,
			MinRecall:    cfg.MinRuleRecall,
			TP:           p.TP,
			FP:           p.FP,
			FN:           p.FN,
		})
		row := []any{p.RuleID,
			format.FmtRatio(float64(p.Floor)),
			format.FmtRatio(float64(p.Precision)),
			format.FmtRatio(float64(p.Recall)),
			format.FmtRatio(float64(p.F1)),
			p.TP, p.FP, p.FN,
		}
		if p.Critical != nil {
			row = append(row, format.BoolMark(*p.Critical))
		}
		tb.Row(append(row, hint)...)
	}
	tb.Columns(format.NumericColumns(2, 8)...)
	writeTable(b, tb)
}

func writeCategories(b *strings.Builder, cfg policy.Config, res *metrics.Result) {
	section(b, "Category View")
	if res.RuleCategories == nil && res.ClauseCategories == nil {
		b.WriteString("- No category metadata supplied.\n\n")
		return
	}
	if res.RuleCategories != nil {
		cats := append([]metrics.CategoryRollup(nil), res.RuleCategories...)
		sort.SliceStable(cats, func(i, j int) bool {
			fi, fj := minRatio(cats[i].Precision, cats[i].Recall), minRatio(cats[j].Precision, cats[j].Recall)
			return fi < fj
		})
		if len(cats) > cfg.TopNProblemRules {
			cats = cats[:cfg.TopNProblemRules]
		}
		tb := format.NewTable(format.Markdown)
		tb.Header("Rule category", "Subcategory", "Precision", "Recall", "F1", "Rules")
		for _, c := range cats {
			tb.Row(c.Category, dash(c.Subcategory),
				format.FmtRatio(float64(c.Precision)),
				format.FmtRatio(float64(c.Recall)),
				format.FmtRatio(float64(c.F1)),
				format.Truncate(format.JoinOrDash(c.RuleIDs), 60))
		}
		writeTable(b, tb)
	}
	if res.ClauseCategories != nil {
		tb := format.NewTable(format.Markdown)
		tb.Header("Clause category", "Subcategory", "Pass rate", "Precision", "Recall", "Clauses")
		for _, c := range res.ClauseCategories {
			tb.Row(c.Category, dash(c.Subcategory),
				format.FmtFraction(c.PassingClauses, c.EvaluatedClauses),
				format.FmtRatio(float64(c.Precision)),
				format.FmtRatio(float64(c.Recall)),
				c.GoldenClauses)
		}
		writeTable(b, tb)
	}
}

func writeVariants(b *strings.Builder, res *metrics.Result) {
	if len(res.Variants) == 0 {
		return
	}
	section(b, "Variants")
	tb := format.NewTable(format.Markdown)
	tb.Header("Variant", "Rules", "TP", "FP", "FN", "Precision", "Recall", "F1")
	for _, v := range res.Variants {
		s := v.Summary
		tb.Row(v.Variant, s.Rules, s.TP, s.FP, s.FN,
			format.FmtRatio(float64(s.Precision)),
			format.FmtRatio(float64(s.Recall)),
			format.FmtRatio(float64(s.F1)))
	}
	tb.Columns(format.NumericColumns(2, 8)...)
	writeTable(b, tb)
}

func writeDistribution(b *strings.Builder, res *metrics.Result) {
	section(b, "Risk Distribution")
	tel := res.Telemetry
	tb := format.NewTable(format.Markdown)
	tb.Header("Flag", "Name", "Count", "Share")
	for _, f := range tel.RiskFlags {
		tb.Row(string(f.Flag), display.Flag(string(f.Flag)), f.Count, format.FmtPercent(float64(f.Proportion)))
	}
	tb.Columns(format.NumericColumns(3, 4)...)
	writeTable(b, tb)
	c := tel.Confidence
	fmt.Fprintf(b, "- Confidence: mean %s, median %s, p90 %s, min %s, max %s\n",
		format.FmtRatio(float64(c.Mean)), format.FmtRatio(float64(c.Median)), format.FmtRatio(float64(c.P90)),
		format.FmtRatio(float64(c.Min)), format.FmtRatio(float64(c.Max)))
	fmt.Fprintf(b, "- AMBIG/NULL share: %s\n\n", format.FmtPercent(float64(tel.AmbiguousProportion)))
}

func writeGaps(b *strings.Builder, res *metrics.Result) {
	section(b, "Referential Gaps")
	fmt.Fprintf(b, "- Golden clauses without scores: %s\n", format.Truncate(format.JoinOrDash(res.Unmatched.GoldenOnly), 200))
	fmt.Fprintf(b, "- Scored clauses outside the golden set: %s\n", format.Truncate(format.JoinOrDash(res.Unmatched.ScoresOnly), 200))
	if res.RuleMetaSupplied {
		fmt.Fprintf(b, "- Rules missing from the ruleset: %s\n", format.Truncate(format.JoinOrDash(res.UnknownRules), 200))
	}
	fmt.Fprintf(b, "- Hits on clauses outside the golden set: %d\n", res.Telemetry.HitsOutsideGolden)
}

func minRatio(a, b metrics.Ratio) metrics.Ratio {
	if a < b {
		return a
	}
	return b
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
