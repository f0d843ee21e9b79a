// Package report serializes the three run artifacts (report.json, report.md
// and gate_decision.json) from one computed state. JSON output is RFC 8785
// canonical JSON re-indented with two spaces, so repeated runs over the same
// inputs are byte-identical.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"evalgate/internal/artifact"
	"evalgate/internal/gate"
	"evalgate/internal/metrics"
	"evalgate/internal/policy"
)

// SchemaVersion identifies the layout of report.json.
const SchemaVersion = "1"

// runNamespace scopes name-based run ids.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://evalgate.local/runs"))

// Conventions documents the arithmetic and ordering rules of the report.
type Conventions struct {
	ZeroDenominator string            `json:"zero_denominator"`
	Rounding        string            `json:"rounding"`
	PassRule        string            `json:"pass_rule"`
	RunStats        string            `json:"run_stats"`
	SortKeys        map[string]string `json:"sort_keys"`
}

func conventions() Conventions {
	return Conventions{
		ZeroDenominator: "every ratio (golden_pass_rate, precision, recall, f1, proportions) is 0 when its denominator is 0",
		Rounding:        "ratios are emitted rounded half away from zero to 4 decimals; gate comparisons use unrounded values",
		PassRule:        "a clause passes when risk_flag equals expected_flag, or when allow_conservative is set and risk_flag is strictly higher on OK < WARN < HIGH; AMBIG and NULL never pass. strict_match does not narrow the rule: allow_conservative takes effect whenever it is set, whatever strict_match says",
		RunStats:        "copied from run_stats.json as written; only whitespace changes",
		SortKeys: map[string]string{
			"per_rule":             "rule_id ascending",
			"top_problem_rules":    "min(precision, recall) ascending, then rule_id ascending; rules without golden evidence are not ranked",
			"rule_hit_counts":      "hits descending, then rule_id ascending",
			"rule_categories":      "category ascending, then subcategory ascending",
			"clause_categories":    "category ascending, then subcategory ascending",
			"fp_examples":          "clause_id ascending, capped at show_examples_per_rule",
			"fn_examples":          "clause_id ascending, capped at show_examples_per_rule",
			"failure_examples":     "clause_id ascending, capped at show_examples_per_rule",
			"risk_flags":           "OK, WARN, HIGH, AMBIG, NULL",
			"confusion_matrix":     "rows expected, columns actual, both OK, WARN, HIGH",
			"confidence_histogram": "bucket lower bound ascending; equal-width over [0, 1], last bucket closed",
			"unmatched_clauses":    "clause_id ascending",
			"unknown_rules":        "rule_id ascending",
			"variants":             "variant ascending",
			"failing_rules":        "rule_id ascending",
			"rules_below_floor":    "rule_id ascending",
		},
	}
}

// Document is the layout of report.json.
type Document struct {
	SchemaVersion string        `json:"schema_version"`
	RunID         string        `json:"run_id"`
	InputDigest   string        `json:"input_digest"`
	Conventions   Conventions   `json:"conventions"`
	Policy        policy.Config `json:"policy"`
	*metrics.Result
	RulesBelowFloor []gate.RuleFinding `json:"rules_below_floor"`
	GateDecision    gate.Decision      `json:"gate_decision"`
}

// Bundle holds the rendered artifacts of one run.
type Bundle struct {
	RunID          string
	InputDigest    string
	Decision       gate.Decision
	ReportJSON     []byte
	ReportMarkdown []byte
	GateJSON       []byte
}

// Build renders every artifact. It fails without partial output: either all
// three are rendered or an error is returned.
func Build(set *artifact.Set, cfg policy.Config, res *metrics.Result, d gate.Decision) (*Bundle, error) {
	digest, err := Digest(set, cfg)
	if err != nil {
		return nil, err
	}
	runID := RunID(digest)

	doc := Document{
		SchemaVersion:   SchemaVersion,
		RunID:           runID,
		InputDigest:     digest,
		Conventions:     conventions(),
		Policy:          cfg,
		Result:          res,
		RulesBelowFloor: d.RulesBelowFloor,
		GateDecision:    d,
	}
	reportJSON, err := canonicalWith(doc, "run_stats", set.RunStats)
	if err != nil {
		return nil, fmt.Errorf("render report.json: %w", err)
	}
	gateJSON, err := Canonical(d)
	if err != nil {
		return nil, fmt.Errorf("render gate_decision.json: %w", err)
	}
	md := Markdown(runID, cfg, res, d)

	return &Bundle{
		RunID:          runID,
		InputDigest:    digest,
		Decision:       d,
		ReportJSON:     reportJSON,
		ReportMarkdown: []byte(md),
		GateJSON:       gateJSON,
	}, nil
}

// Canonical marshals v, canonicalizes it per RFC 8785 and indents it with
// two spaces. The result ends with a newline.
func Canonical(v any) ([]byte, error) {
	canon, err := canonicalCompact(v)
	if err != nil {
		return nil, err
	}
	return indent(canon)
}

// canonicalWith is Canonical with raw added as a top-level member named key.
// raw is copied as written, so its numbers keep their exact spelling; only
// insignificant whitespace changes. Top-level keys are ASCII, where the
// RFC 8785 member order and byte order agree.
func canonicalWith(v any, key string, raw json.RawMessage) ([]byte, error) {
	canon, err := canonicalCompact(v)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return indent(canon)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(canon, &members); err != nil {
		return nil, fmt.Errorf("split members: %w", err)
	}
	if _, dup := members[key]; dup {
		return nil, fmt.Errorf("member %q already present", key)
	}
	members[key] = raw

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(members); err != nil {
		return nil, fmt.Errorf("splice %s: %w", key, err)
	}
	return indent(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func canonicalCompact(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canon, nil
}

func indent(compact []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Digest is the sha256 of the sorted inputs and the policy, streamed into
// the hash one record at a time. Element order in the input arrays does not
// affect it. run_stats is hashed as written, minus whitespace.
func Digest(set *artifact.Set, cfg policy.Config) (string, error) {
	c := set.Canonical()
	h := sha256.New()
	enc := json.NewEncoder(h)
	enc.SetEscapeHTML(false)

	sections := []struct {
		name string
		hash func() error
	}{
		{"golden", func() error { return encodeEach(h, enc, c.Golden) }},
		{"scores", func() error { return encodeEach(h, enc, c.Scores) }},
		{"hits", func() error { return encodeEach(h, enc, c.Hits) }},
		{"ruleset", func() error { return enc.Encode(c.Ruleset) }},
		{"clauses", func() error { return encodeEach(h, enc, c.Clauses) }},
		{"snippets", func() error { return encodeEach(h, enc, c.Snippets) }},
		{"run_stats", func() error { return hashRaw(h, c.RunStats) }},
		{"policy", func() error { return enc.Encode(cfg) }},
	}
	for _, s := range sections {
		fmt.Fprintf(h, "%s\n", s.name)
		if err := s.hash(); err != nil {
			return "", fmt.Errorf("digest %s: %w", s.name, err)
		}
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// encodeEach writes the item count and then one JSON line per item.
func encodeEach[T any](w io.Writer, enc *json.Encoder, items []T) error {
	fmt.Fprintf(w, "%d\n", len(items))
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return err
		}
	}
	return nil
}

func hashRaw(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := io.WriteString(w, "null\n")
		return err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// RunID derives a name-based UUID from an input digest.
func RunID(digest string) string {
	return uuid.NewSHA1(runNamespace, []byte(digest)).String()
}
