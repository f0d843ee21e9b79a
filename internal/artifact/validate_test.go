package artifact

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validSources() Sources {
	return Sources{
		KindGolden: []byte(`[
			{"clause_id": "A", "expected_flag": "OK"},
			{"clause_id": "B", "expected_flag": "WARN", "expected_rules": ["r1"], "notes": null}
		]`),
		KindScores: []byte(`[
			{"clause_id": "A", "risk_flag": "OK", "confidence": 0.9},
			{"clause_id": "B", "risk_flag": "AMBIG", "confidence": 0.4, "category": "liability"}
		]`),
		KindHits: []byte(`[
			{"rule_id": "r1", "clause_id": "B", "match_type": "regex", "spans": [[0, 4]], "strength": 0.8}
		]`),
	}
}

func violationsOf(t *testing.T, err error) []Violation {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return ve.Violations
}

func TestParse_Valid(t *testing.T) {
	set, err := Parse(validSources())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(set.Golden) != 2 || len(set.Scores) != 2 || len(set.Hits) != 1 {
		t.Fatalf("unexpected sizes: %d golden, %d scores, %d hits", len(set.Golden), len(set.Scores), len(set.Hits))
	}
	if set.Ruleset != nil {
		t.Error("Ruleset should be nil when not supplied")
	}
	want := Hit{RuleID: "r1", ClauseID: "B", MatchType: "regex", Spans: []Span{{0, 4}}, Strength: 0.8}
	if diff := cmp.Diff(want, set.Hits[0]); diff != "" {
		t.Errorf("hit mismatch (-want +got):\n%s", diff)
	}
	if set.Scores[1].RiskFlag != FlagAmbig {
		t.Errorf("RiskFlag = %q, want AMBIG", set.Scores[1].RiskFlag)
	}
}

func TestParse_StripsBOM(t *testing.T) {
	src := validSources()
	src[KindGolden] = append([]byte("\xef\xbb\xbf"), src[KindGolden]...)
	if _, err := Parse(src); err != nil {
		t.Fatalf("Parse with BOM: %v", err)
	}
}

func TestParse_ReportsEveryViolation(t *testing.T) {
	src := Sources{
		KindGolden: []byte(`[
			{"clause_id": "A", "expected_flag": "OK"},
			{"clause_id": "A", "expected_flag": "WARN"},
			{"clause_id": "C", "expected_flag": "SEVERE"},
			{"expected_flag": "HIGH"}
		]`),
		KindScores: []byte(`[
			{"clause_id": "A", "risk_flag": "OK", "confidence": "high"},
			{"clause_id": "B", "risk_flag": "MAYBE", "confidence": 0.5}
		]`),
		KindHits: []byte(`[{"clause_id": "A"}]`),
	}
	_, err := Parse(src)
	vs := violationsOf(t, err)

	type key struct {
		Artifact Kind
		Path     string
	}
	var got []key
	for _, v := range vs {
		got = append(got, key{v.Artifact, v.Path})
	}
	want := []key{
		{KindGolden, "/1/clause_id"},
		{KindGolden, "/2/expected_flag"},
		{KindGolden, "/3"},
		{KindScores, "/0/confidence"},
		{KindScores, "/1/risk_flag"},
		{KindHits, "/0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("violation locations (-want +got):\n%s\nall: %v", diff, vs)
	}
	if !strings.Contains(vs[0].Message, `duplicate clause_id "A"`) {
		t.Errorf("duplicate message = %q", vs[0].Message)
	}
	if !strings.Contains(vs[1].Message, "must be one of") {
		t.Errorf("enum message = %q", vs[1].Message)
	}
	if !strings.Contains(vs[2].Message, "clause_id") {
		t.Errorf("missing-field message = %q", vs[2].Message)
	}
	if !strings.Contains(vs[5].Message, "rule_id") {
		t.Errorf("hits message = %q", vs[5].Message)
	}
}

func TestParse_MissingRequiredAndMalformed(t *testing.T) {
	src := Sources{
		KindGolden: []byte(`[{"clause_id": "A", "expected_flag": "OK"}`),
		KindHits:   []byte(`[]`),
	}
	vs := violationsOf(t, func() error { _, err := Parse(src); return err }())
	if len(vs) != 2 {
		t.Fatalf("expected 2 violations, got %v", vs)
	}
	if vs[0].Artifact != KindGolden || !strings.HasPrefix(vs[0].Message, "malformed JSON") {
		t.Errorf("first violation = %v", vs[0])
	}
	if vs[1].Artifact != KindScores || vs[1].Message != "required artifact not supplied" {
		t.Errorf("second violation = %v", vs[1])
	}
}

func TestParse_EmptyGoldenIsViolation(t *testing.T) {
	src := validSources()
	src[KindGolden] = []byte(`[]`)
	vs := violationsOf(t, func() error { _, err := Parse(src); return err }())
	if len(vs) != 1 || !strings.Contains(vs[0].Message, "denominator") {
		t.Fatalf("violations = %v", vs)
	}
}

func TestParse_DuplicateExpectedRule(t *testing.T) {
	src := validSources()
	src[KindGolden] = []byte(`[{"clause_id": "A", "expected_flag": "OK", "expected_rules": ["r1", "r1"]}]`)
	vs := violationsOf(t, func() error { _, err := Parse(src); return err }())
	if len(vs) != 1 || vs[0].Path != "/0/expected_rules" {
		t.Fatalf("violations = %v", vs)
	}
}

func TestParse_RulesetShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want map[string]RuleMeta
		ver  string
	}{
		{
			name: "top-level array",
			doc:  `[{"rule_id": "r1", "category": "liability", "flags": {"critical": true}}]`,
			want: map[string]RuleMeta{"r1": {RuleID: "r1", Category: "liability", Critical: true}},
		},
		{
			name: "object with rules array and id alias",
			doc: `{"metadata": {"ruleset_id": "rs", "version": "1.2.0"},
			       "rules": [{"id": "r2", "flags": ["Critical"], "metadata": {"variant": "B"}, "priority": 5}]}`,
			want: map[string]RuleMeta{"r2": {RuleID: "r2", Critical: true, Variant: "B", Priority: 5}},
			ver:  "1.2.0",
		},
		{
			name: "rules keyed by id",
			doc:  `{"rules": {"r3": {"category": null, "subcategory": "cap"}, "r4": {"flags": null}}}`,
			want: map[string]RuleMeta{
				"r3": {RuleID: "r3", Subcategory: "cap"},
				"r4": {RuleID: "r4"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSources()
			src[KindRuleset] = []byte(tt.doc)
			set, err := Parse(src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, set.Ruleset.Rules); diff != "" {
				t.Errorf("rules (-want +got):\n%s", diff)
			}
			if set.Ruleset.Version != tt.ver {
				t.Errorf("Version = %q, want %q", set.Ruleset.Version, tt.ver)
			}
		})
	}
}

func TestParse_RulesetViolations(t *testing.T) {
	src := validSources()
	src[KindRuleset] = []byte(`{"metadata": {"version": "one"},
		"rules": [{"rule_id": "r1"}, {"rule_id": "r1"}, {"category": "x"}, {"rule_id": "r5", "flags": {"critical": "yes"}}]}`)
	vs := violationsOf(t, func() error { _, err := Parse(src); return err }())
	var paths []string
	for _, v := range vs {
		paths = append(paths, v.Path)
	}
	want := []string{"/metadata/version", "/rules/1", "/rules/2", "/rules/3/flags/critical"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s\n%v", diff, vs)
	}
}

func TestComparePointers(t *testing.T) {
	if comparePointers("/2/x", "/10/x") >= 0 {
		t.Error("/2 should sort before /10")
	}
	if comparePointers("", "/0") >= 0 {
		t.Error("root should sort first")
	}
}

func TestCanonical_OrderIndependent(t *testing.T) {
	a := &Set{
		Golden: []GoldenClause{{ClauseID: "B"}, {ClauseID: "A"}},
		Hits:   []Hit{{RuleID: "r2", ClauseID: "A"}, {RuleID: "r1", ClauseID: "B"}, {RuleID: "r1", ClauseID: "A"}},
	}
	b := &Set{
		Golden: []GoldenClause{{ClauseID: "A"}, {ClauseID: "B"}},
		Hits:   []Hit{{RuleID: "r1", ClauseID: "A"}, {RuleID: "r2", ClauseID: "A"}, {RuleID: "r1", ClauseID: "B"}},
	}
	if diff := cmp.Diff(a.Canonical(), b.Canonical()); diff != "" {
		t.Errorf("canonical forms differ:\n%s", diff)
	}
	if a.Golden[0].ClauseID != "B" {
		t.Error("Canonical must not reorder the receiver")
	}
}

func TestCanonical_HitsTotalOrder(t *testing.T) {
	want := []Hit{
		{RuleID: "r1", ClauseID: "A", MatchType: "keyword", Strength: 0.2},
		{RuleID: "r1", ClauseID: "A", MatchType: "keyword", Strength: 0.9},
		{RuleID: "r1", ClauseID: "A", MatchType: "regex", Strength: 0.5},
		{RuleID: "r1", ClauseID: "A", MatchType: "regex", Strength: 0.5, Spans: []Span{{0, 4}}},
		{RuleID: "r1", ClauseID: "A", MatchType: "regex", Strength: 0.5, Spans: []Span{{0, 4}, {8, 9}}},
		{RuleID: "r1", ClauseID: "A", MatchType: "regex", Strength: 0.5, Spans: []Span{{0, 7}}},
		{RuleID: "r1", ClauseID: "A", MatchType: "regex", Strength: 0.5, Spans: []Span{{0, 7}}, EvidenceSnippet: "x"},
		{RuleID: "r1", ClauseID: "B"},
		{RuleID: "r2", ClauseID: "A"},
	}
	shuffled := []Hit{want[6], want[8], want[3], want[0], want[5], want[7], want[2], want[4], want[1]}

	got := (&Set{Hits: shuffled}).Canonical().Hits
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hit order (-want +got):\n%s", diff)
	}
	for i := 1; i < len(want); i++ {
		if compareHits(want[i-1], want[i]) >= 0 || compareHits(want[i], want[i-1]) <= 0 {
			t.Errorf("hits %d and %d are not strictly ordered", i-1, i)
		}
	}
	if compareHits(want[4], want[4]) != 0 {
		t.Error("a hit must compare equal to itself")
	}
}

func TestFlagRank(t *testing.T) {
	for i, f := range OrderedFlags {
		r, ok := f.Rank()
		if !ok || r != i {
			t.Errorf("%s.Rank() = %d, %v", f, r, ok)
		}
	}
	for _, f := range AmbiguousFlags {
		if _, ok := f.Rank(); ok {
			t.Errorf("%s should have no rank", f)
		}
		if !f.Ambiguous() {
			t.Errorf("%s should be ambiguous", f)
		}
	}
}
