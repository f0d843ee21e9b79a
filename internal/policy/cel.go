package policy

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
)

// Variables available to custom gate expressions.
const (
	VarGoldenPassRate    = "golden_pass_rate"
	VarAmbiguousRate     = "ambiguous_rate"
	VarEvaluatedClauses  = "evaluated_clauses"
	VarPassingClauses    = "passing_clauses"
	VarUnmatchedClauses  = "unmatched_clauses"
	VarUnknownRules      = "unknown_rules"
	VarHitsOutsideGolden = "hits_outside_golden"
	VarRulesetVersion    = "ruleset_version"
	VarRules             = "rules"
	VarCategories        = "categories"
)

const (
	gateCostLimit      = 1_000_000
	gateInterruptCheck = 100
)

func gateEnv() (*cel.Env, error) {
	row := cel.MapType(cel.StringType, cel.DynType)
	return cel.NewEnv(
		cel.Variable(VarGoldenPassRate, cel.DoubleType),
		cel.Variable(VarAmbiguousRate, cel.DoubleType),
		cel.Variable(VarEvaluatedClauses, cel.IntType),
		cel.Variable(VarPassingClauses, cel.IntType),
		cel.Variable(VarUnmatchedClauses, cel.IntType),
		cel.Variable(VarUnknownRules, cel.IntType),
		cel.Variable(VarHitsOutsideGolden, cel.IntType),
		cel.Variable(VarRulesetVersion, cel.StringType),
		cel.Variable(VarRules, cel.ListType(row)),
		cel.Variable(VarCategories, cel.ListType(row)),
	)
}

// GateProgram is a compiled custom gate.
type GateProgram struct {
	Gate CustomGate
	prg  cel.Program
}

// CompileGates compiles every gate expression. Expressions must type-check
// to bool. Gate ids must be unique. All failures are returned together as a
// *ConfigError.
func CompileGates(gates []CustomGate) ([]GateProgram, error) {
	if len(gates) == 0 {
		return nil, nil
	}
	env, err := gateEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	var problems []string
	seen := make(map[string]bool, len(gates))
	out := make([]GateProgram, 0, len(gates))
	for _, g := range gates {
		if g.ID == "" {
			problems = append(problems, "custom gate with empty id")
			continue
		}
		if seen[g.ID] {
			problems = append(problems, fmt.Sprintf("custom gate %q declared twice", g.ID))
			continue
		}
		seen[g.ID] = true

		ast, issues := env.Compile(g.Expr)
		if issues != nil && issues.Err() != nil {
			problems = append(problems, fmt.Sprintf("custom gate %q: %v", g.ID, issues.Err()))
			continue
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			problems = append(problems, fmt.Sprintf("custom gate %q: expression must return bool, got %s", g.ID, ast.OutputType()))
			continue
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(gateInterruptCheck),
			cel.CostLimit(gateCostLimit),
		)
		if err != nil {
			problems = append(problems, fmt.Sprintf("custom gate %q: %v", g.ID, err))
			continue
		}
		out = append(out, GateProgram{Gate: g, prg: prg})
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Gate.ID < out[j].Gate.ID })
	return out, nil
}

// Eval runs the gate against vars. A false result means the gate blocks.
func (g GateProgram) Eval(vars map[string]any) (bool, error) {
	val, _, err := g.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("custom gate %q: %w", g.Gate.ID, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("custom gate %q: non-bool result %v", g.Gate.ID, val.Value())
	}
	return b, nil
}
