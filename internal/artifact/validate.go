package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names one input artifact.
type Kind string

const (
	KindGolden   Kind = "golden_labels"
	KindScores   Kind = "scores"
	KindHits     Kind = "hits"
	KindRuleset  Kind = "ruleset_runtime"
	KindRunStats Kind = "run_stats"
	KindClauses  Kind = "clauses"
	KindSnippets Kind = "snippets"
)

// Sources holds the raw bytes of each supplied artifact. A missing key means
// the artifact was not supplied.
type Sources map[Kind][]byte

// Violation is one structural problem found in an artifact.
type Violation struct {
	Artifact Kind   `json:"artifact"`
	Path     string `json:"path"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%s %s: %s", v.Artifact, path, v.Message)
}

// ValidationError lists every violation found by Parse, sorted by artifact,
// JSON pointer and message.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "invalid input: " + e.Violations[0].String()
	}
	return fmt.Sprintf("invalid input: %d violations (first: %s)", len(e.Violations), e.Violations[0])
}

// idRef locates one identifier inside a parsed document.
type idRef struct {
	path string
	id   string
}

// kindSpec is the contract for one artifact kind: its schema plus the
// checks JSON Schema cannot express. Parse interprets these generically.
type kindSpec struct {
	kind     Kind
	required bool
	idField  string
	ids      func(doc any) []idRef
	check    func(doc any) []Violation
	decode   func(raw []byte, set *Set) error
}

var specs = []kindSpec{
	{
		kind:     KindGolden,
		required: true,
		idField:  "clause_id",
		ids:      arrayIDs("", "clause_id"),
		check:    checkGoldenNotEmpty,
		decode:   func(raw []byte, set *Set) error { return json.Unmarshal(raw, &set.Golden) },
	},
	{
		kind:     KindScores,
		required: true,
		idField:  "clause_id",
		ids:      arrayIDs("", "clause_id"),
		decode:   func(raw []byte, set *Set) error { return json.Unmarshal(raw, &set.Scores) },
	},
	{
		kind:     KindHits,
		required: true,
		decode:   func(raw []byte, set *Set) error { return json.Unmarshal(raw, &set.Hits) },
	},
	{
		kind:    KindRuleset,
		idField: "rule_id",
		ids:     rulesetIDs,
		check:   checkRuleset,
		decode:  decodeRuleset,
	},
	{
		kind: KindRunStats,
		decode: func(raw []byte, set *Set) error {
			set.RunStats = append(json.RawMessage(nil), raw...)
			return nil
		},
	},
	{
		kind:    KindClauses,
		idField: "clause_id",
		ids:     arrayIDs("", "clause_id"),
		decode:  func(raw []byte, set *Set) error { return json.Unmarshal(raw, &set.Clauses) },
	},
	{
		kind:    KindSnippets,
		idField: "clause_id",
		ids:     arrayIDs("", "clause_id"),
		decode:  func(raw []byte, set *Set) error { return json.Unmarshal(raw, &set.Snippets) },
	},
}

var (
	compileOnce sync.Once
	compiled    map[Kind]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[Kind]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		compiled = make(map[Kind]*jsonschema.Schema, len(specs))
		for _, s := range specs {
			name := string(s.kind) + ".schema.json"
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			url := "https://evalgate.local/schemas/" + name
			if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("load schema %s: %w", name, err)
				return
			}
			sch, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[s.kind] = sch
		}
	})
	return compiled, compileErr
}

// Kinds returns every artifact kind in validation order.
func Kinds() []Kind {
	out := make([]Kind, len(specs))
	for i, s := range specs {
		out[i] = s.kind
	}
	return out
}

// Required reports whether k must be supplied for a run.
func Required(k Kind) bool {
	for _, s := range specs {
		if s.kind == k {
			return s.required
		}
	}
	return false
}

// Parse validates every supplied artifact and returns the typed Set. On any
// violation it returns a *ValidationError enumerating all of them and no Set.
func Parse(src Sources) (*Set, error) {
	sch, err := schemas()
	if err != nil {
		return nil, err
	}

	set := &Set{}
	var all []Violation
	for _, spec := range specs {
		raw, ok := src[spec.kind]
		if !ok {
			if spec.required {
				all = append(all, Violation{Artifact: spec.kind, Message: "required artifact not supplied"})
			}
			continue
		}
		vs := validateOne(spec, sch[spec.kind], raw, set)
		all = append(all, vs...)
	}

	if len(all) > 0 {
		sortViolations(all)
		return nil, &ValidationError{Violations: all}
	}
	return set, nil
}

func validateOne(spec kindSpec, sch *jsonschema.Schema, raw []byte, set *Set) []Violation {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []Violation{{Artifact: spec.kind, Message: "malformed JSON: " + err.Error()}}
	}
	if dec.More() {
		return []Violation{{Artifact: spec.kind, Message: "malformed JSON: trailing data after top-level value"}}
	}

	var vs []Violation
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return []Violation{{Artifact: spec.kind, Message: err.Error()}}
		}
		for _, leaf := range leaves(ve) {
			vs = append(vs, Violation{Artifact: spec.kind, Path: leaf.InstanceLocation, Message: leaf.Message})
		}
	}
	if spec.ids != nil {
		vs = append(vs, duplicates(spec.kind, spec.idField, spec.ids(doc))...)
	}
	if spec.check != nil {
		vs = append(vs, spec.check(doc)...)
	}
	if len(vs) > 0 {
		return vs
	}

	if err := spec.decode(raw, set); err != nil {
		return []Violation{{Artifact: spec.kind, Message: "decode: " + err.Error()}}
	}
	return nil
}

// leaves flattens a schema error tree into its most specific causes.
func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func duplicates(kind Kind, field string, refs []idRef) []Violation {
	first := make(map[string]string, len(refs))
	var vs []Violation
	for _, r := range refs {
		if prev, seen := first[r.id]; seen {
			vs = append(vs, Violation{
				Artifact: kind,
				Path:     r.path,
				Message:  fmt.Sprintf("duplicate %s %q (first seen at %s)", field, r.id, prev),
			})
			continue
		}
		first[r.id] = r.path
	}
	return vs
}

// arrayIDs extracts string ids from the objects of the array at prefix.
func arrayIDs(prefix, key string) func(doc any) []idRef {
	return func(doc any) []idRef {
		return collectIDs(doc, prefix, key)
	}
}

func collectIDs(items any, prefix, key string) []idRef {
	arr, ok := items.([]any)
	if !ok {
		return nil
	}
	var refs []idRef
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := obj[key].(string); ok && id != "" {
			refs = append(refs, idRef{path: prefix + "/" + strconv.Itoa(i) + "/" + key, id: id})
		}
	}
	return refs
}

func checkGoldenNotEmpty(doc any) []Violation {
	if arr, ok := doc.([]any); ok && len(arr) == 0 {
		return []Violation{{Artifact: KindGolden, Message: "golden set is empty: golden_pass_rate denominator would be zero"}}
	}
	return nil
}

// rulesetRules returns the rule container of a ruleset document: the
// top-level array, or the "rules" member (array or object keyed by id).
func rulesetRules(doc any) (any, string) {
	if obj, ok := doc.(map[string]any); ok {
		return obj["rules"], "/rules"
	}
	return doc, ""
}

func ruleID(obj map[string]any) string {
	if id, ok := obj["rule_id"].(string); ok && id != "" {
		return id
	}
	id, _ := obj["id"].(string)
	return id
}

func rulesetIDs(doc any) []idRef {
	rules, prefix := rulesetRules(doc)
	var refs []idRef
	switch rules := rules.(type) {
	case []any:
		for i, item := range rules {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id := ruleID(obj); id != "" {
				refs = append(refs, idRef{path: prefix + "/" + strconv.Itoa(i), id: id})
			}
		}
	case map[string]any:
		keys := sortedKeys(rules)
		for _, k := range keys {
			id := k
			if obj, ok := rules[k].(map[string]any); ok {
				if inner := ruleID(obj); inner != "" {
					id = inner
				}
			}
			refs = append(refs, idRef{path: prefix + "/" + escapePointer(k), id: id})
		}
	}
	return refs
}

func checkRuleset(doc any) []Violation {
	var vs []Violation
	rules, prefix := rulesetRules(doc)
	if arr, ok := rules.([]any); ok {
		for i, item := range arr {
			obj, ok := item.(map[string]any)
			if ok && ruleID(obj) == "" {
				vs = append(vs, Violation{
					Artifact: KindRuleset,
					Path:     prefix + "/" + strconv.Itoa(i),
					Message:  "missing properties: 'rule_id'",
				})
			}
		}
	}
	if obj, ok := doc.(map[string]any); ok {
		if meta, ok := obj["metadata"].(map[string]any); ok {
			if v, ok := meta["version"].(string); ok && v != "" {
				if _, err := semver.NewVersion(v); err != nil {
					vs = append(vs, Violation{
						Artifact: KindRuleset,
						Path:     "/metadata/version",
						Message:  fmt.Sprintf("%q is not a semantic version: %v", v, err),
					})
				}
			}
		}
	}
	return vs
}

type ruleDoc struct {
	RuleID      string          `json:"rule_id"`
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Variant     string          `json:"variant"`
	Severity    string          `json:"severity"`
	Version     string          `json:"version"`
	Priority    int             `json:"priority"`
	Flags       json.RawMessage `json:"flags"`
	Metadata    struct {
		Variant string `json:"variant"`
	} `json:"metadata"`
}

func (d ruleDoc) meta(fallbackID string) RuleMeta {
	id := d.RuleID
	if id == "" {
		id = d.ID
	}
	if id == "" {
		id = fallbackID
	}
	variant := d.Variant
	if variant == "" {
		variant = d.Metadata.Variant
	}
	return RuleMeta{
		RuleID:      id,
		Category:    d.Category,
		Subcategory: d.Subcategory,
		Variant:     variant,
		Severity:    d.Severity,
		Version:     d.Version,
		Priority:    d.Priority,
		Critical:    criticalFlag(d.Flags),
	}
}

// criticalFlag reads flags written either as {"critical": true} or as a list
// of flag names containing "critical".
func criticalFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), "critical") {
				return true
			}
		}
		return false
	}
	var obj struct {
		Critical bool `json:"critical"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Critical
	}
	return false
}

func decodeRuleset(raw []byte, set *Set) error {
	rs := &Ruleset{Rules: make(map[string]RuleMeta)}

	var list []ruleDoc
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, d := range list {
			m := d.meta("")
			rs.Rules[m.RuleID] = m
		}
		set.Ruleset = rs
		return nil
	}

	var doc struct {
		Metadata struct {
			RulesetID string `json:"ruleset_id"`
			Version   string `json:"version"`
		} `json:"metadata"`
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	rs.ID = doc.Metadata.RulesetID
	if doc.Metadata.Version != "" {
		v, err := semver.NewVersion(doc.Metadata.Version)
		if err != nil {
			return err
		}
		rs.Version = v.String()
	}

	if err := json.Unmarshal(doc.Rules, &list); err == nil {
		for _, d := range list {
			m := d.meta("")
			rs.Rules[m.RuleID] = m
		}
		set.Ruleset = rs
		return nil
	}
	var keyed map[string]ruleDoc
	if err := json.Unmarshal(doc.Rules, &keyed); err != nil {
		return err
	}
	for key, d := range keyed {
		m := d.meta(key)
		rs.Rules[m.RuleID] = m
	}
	set.Ruleset = rs
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

func kindOrder(k Kind) int {
	for i, s := range specs {
		if s.kind == k {
			return i
		}
	}
	return len(specs)
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if oa, ob := kindOrder(a.Artifact), kindOrder(b.Artifact); oa != ob {
			return oa < ob
		}
		if c := comparePointers(a.Path, b.Path); c != 0 {
			return c < 0
		}
		return a.Message < b.Message
	})
}

// comparePointers orders JSON pointers segment by segment, numerically where
// both segments are array indexes.
func comparePointers(a, b string) int {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			return 1
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}
