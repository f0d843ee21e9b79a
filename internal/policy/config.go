// Package policy loads and validates the evaluation policy: matching rules,
// release gate thresholds and report shaping knobs.
package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed policy.schema.json
var schemaJSON []byte

// Config is the fully resolved policy. JSON tags are the flat key names used
// in policy files and in the report's policy snapshot.
type Config struct {
	StrictMatch                     bool `json:"strict_match"`
	AllowConservative               bool `json:"allow_conservative"`
	TreatEmptyAsNegatives           bool `json:"treat_empty_as_negatives"`
	ExcludeAmbiguousFromDenominator bool `json:"exclude_ambiguous_from_denominator"`

	MinGoldenPassRate           float64      `json:"min_golden_pass_rate"`
	MinRulePrecision            float64      `json:"min_rule_precision"`
	MinRuleRecall               float64      `json:"min_rule_recall"`
	EnforceRuleFloorForCritical bool         `json:"enforce_rule_floor_for_critical"`
	RulesetVersionConstraint    string       `json:"ruleset_version_constraint,omitempty"`
	CustomGates                 []CustomGate `json:"custom_gates,omitempty"`

	TopNProblemRules    int `json:"top_n_problem_rules"`
	ShowExamplesPerRule int `json:"show_examples_per_rule"`
	HistogramBuckets    int `json:"histogram_buckets"`
}

// CustomGate is an extra release condition written as a CEL expression. The
// release is blocked when Expr evaluates to false.
type CustomGate struct {
	ID     string `json:"id"`
	Expr   string `json:"expr"`
	Reason string `json:"reason,omitempty"`
}

// Default returns the policy used when no file is supplied.
func Default() Config {
	return Config{
		StrictMatch:                 true,
		AllowConservative:           false,
		MinGoldenPassRate:           0.80,
		MinRulePrecision:            0.60,
		MinRuleRecall:               0.60,
		EnforceRuleFloorForCritical: true,
		TopNProblemRules:            10,
		ShowExamplesPerRule:         5,
		HistogramBuckets:            10,
	}
}

// ConfigError lists every problem found while loading a policy. It is fatal:
// no evaluation runs against an invalid policy.
type ConfigError struct {
	Source   string
	Problems []string
}

func (e *ConfigError) Error() string {
	src := e.Source
	if src == "" {
		src = "policy"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", src, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %s", src, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Format selects the policy file syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates a policy file. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy: %w", err)
	}
	cfg, err := Parse(data, FormatFor(path))
	var ce *ConfigError
	if errors.As(err, &ce) {
		ce.Source = path
	}
	return cfg, err
}

// aliases maps accepted alternate spellings to their canonical key.
var aliases = map[string]string{
	"treat_empty_expected_rules_as_negative": "treat_empty_as_negatives",
}

var sections = []string{"matching", "gates", "report"}

// Parse decodes a policy document. Keys may be given flat or grouped under
// matching, gates and report sections; unspecified keys keep their defaults.
func Parse(data []byte, format Format) (Config, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if format == FormatYAML {
		var y any
		if err := yaml.Unmarshal(data, &y); err != nil {
			return Config{}, &ConfigError{Problems: []string{"malformed YAML: " + err.Error()}}
		}
		if y == nil {
			return Default(), nil
		}
		js, err := json.Marshal(y)
		if err != nil {
			return Config{}, &ConfigError{Problems: []string{"unsupported YAML structure: " + err.Error()}}
		}
		data = js
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Default(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Config{}, &ConfigError{Problems: []string{"malformed JSON: " + err.Error()}}
	}
	if dec.More() {
		return Config{}, &ConfigError{Problems: []string{"malformed JSON: trailing data after top-level value"}}
	}

	sch, err := compiledSchema()
	if err != nil {
		return Config{}, err
	}
	if err := sch.Validate(doc); err != nil {
		return Config{}, &ConfigError{Problems: schemaProblems(err)}
	}

	flat, problems := flatten(doc.(map[string]any))
	if len(problems) > 0 {
		return Config{}, &ConfigError{Problems: problems}
	}
	merged, err := json.Marshal(flat)
	if err != nil {
		return Config{}, fmt.Errorf("policy: re-encode: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return Config{}, &ConfigError{Problems: []string{err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flatten merges section members and top-level keys into one map keyed by
// canonical names. A key set in two places is a conflict, even when both
// values agree.
func flatten(doc map[string]any) (map[string]any, []string) {
	flat := make(map[string]any)
	origin := make(map[string]string)
	var problems []string

	put := func(key string, val any, where string) {
		canon := key
		if a, ok := aliases[key]; ok {
			canon = a
		}
		if prev, ok := origin[canon]; ok {
			problems = append(problems, fmt.Sprintf("%s set twice (%s and %s)", canon, prev, where))
			return
		}
		origin[canon] = where
		flat[canon] = val
	}

	isSection := make(map[string]bool, len(sections))
	for _, s := range sections {
		isSection[s] = true
		sec, ok := doc[s].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range sortedKeys(sec) {
			put(k, sec[k], s+"."+k)
		}
	}
	for _, k := range sortedKeys(doc) {
		if isSection[k] {
			continue
		}
		put(k, doc[k], k)
	}
	sort.Strings(problems)
	return flat, problems
}

// Validate checks ranges and compiles every custom gate and the ruleset
// version constraint. It reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	ratio := func(name string, v float64) {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0, 1], got %g", name, v))
		}
	}
	ratio("min_golden_pass_rate", c.MinGoldenPassRate)
	ratio("min_rule_precision", c.MinRulePrecision)
	ratio("min_rule_recall", c.MinRuleRecall)
	if c.TopNProblemRules < 0 {
		problems = append(problems, fmt.Sprintf("top_n_problem_rules must be >= 0, got %d", c.TopNProblemRules))
	}
	if c.ShowExamplesPerRule < 0 {
		problems = append(problems, fmt.Sprintf("show_examples_per_rule must be >= 0, got %d", c.ShowExamplesPerRule))
	}
	if c.HistogramBuckets < 1 || c.HistogramBuckets > 100 {
		problems = append(problems, fmt.Sprintf("histogram_buckets must be within [1, 100], got %d", c.HistogramBuckets))
	}
	if c.RulesetVersionConstraint != "" {
		if _, err := semver.NewConstraint(c.RulesetVersionConstraint); err != nil {
			problems = append(problems, fmt.Sprintf("ruleset_version_constraint %q: %v", c.RulesetVersionConstraint, err))
		}
	}
	if _, err := CompileGates(c.CustomGates); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			problems = append(problems, ce.Problems...)
		} else {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// VersionConstraint returns the parsed ruleset constraint, or nil when none
// is configured.
func (c Config) VersionConstraint() *semver.Constraints {
	if c.RulesetVersionConstraint == "" {
		return nil
	}
	cons, err := semver.NewConstraint(c.RulesetVersionConstraint)
	if err != nil {
		return nil
	}
	return cons
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://evalgate.local/schemas/policy.schema.json"
		if err := c.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load policy schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(url)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile policy schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

func schemaProblems(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := v.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+v.Message)
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
