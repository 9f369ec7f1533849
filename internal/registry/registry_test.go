// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

func minimalQuestions() []types.Question {
	return []types.Question{
		{ID: "a", Prompt: "A", Type: types.AnswerText, Required: true},
		{ID: "b", Prompt: "B", Type: types.AnswerText},
		{ID: "c", Prompt: "C", Type: types.AnswerText},
	}
}

func minimalStages() []types.StageDecl {
	return []types.StageDecl{
		{ID: "draft", Name: "Draft", Fields: []string{"draft."},
			Checkpoint: &types.CheckpointDecl{ID: "final_review", Name: "Final", Role: "chair"}},
	}
}

func TestDefaultRegistryValid(t *testing.T) {
	reg := Default()

	if got := len(reg.Stages()); got != 8 {
		t.Errorf("stages = %d, want 8", got)
	}
	gates := 0
	for _, s := range reg.Stages() {
		if s.Checkpoint != nil {
			gates++
		}
	}
	if gates != 5 {
		t.Errorf("checkpoints = %d, want 5", gates)
	}
	if reg.FinalCheckpointID() != "final_review" {
		t.Errorf("final checkpoint = %q, want final_review", reg.FinalCheckpointID())
	}
	if ord := reg.CheckpointOrdinal("regulatory_review"); ord != 2 {
		t.Errorf("regulatory_review ordinal = %d, want 2", ord)
	}
}

func TestCyclicBranchesRejected(t *testing.T) {
	branches := []types.BranchRule{
		{ID: "r1", When: types.BranchCondition{Question: "a", Operator: types.OpAny}, Requires: []string{"b"}},
		{ID: "r2", When: types.BranchCondition{Question: "b", Operator: types.OpAny}, Requires: []string{"c"}},
		{ID: "r3", When: types.BranchCondition{Question: "c", Operator: types.OpAny}, Requires: []string{"a"}},
	}
	_, err := New(minimalQuestions(), branches, nil, minimalStages())
	if err == nil {
		t.Fatal("expected cycle rejection at load, got nil error")
	}
	var rce *types.RuleConfigError
	if !errors.As(err, &rce) {
		t.Fatalf("err = %T, want RuleConfigError", err)
	}
	if !strings.Contains(err.Error(), "cyclic") {
		t.Errorf("err = %v, want mention of cycle", err)
	}
}

func TestSelfTriggerRejected(t *testing.T) {
	branches := []types.BranchRule{
		{ID: "r1", When: types.BranchCondition{Question: "a", Operator: types.OpAny}, Requires: []string{"a"}},
	}
	if _, err := New(minimalQuestions(), branches, nil, minimalStages()); err == nil {
		t.Fatal("expected self-trigger rejection")
	}
}

func TestUnknownReferencesRejected(t *testing.T) {
	tests := []struct {
		name     string
		branches []types.BranchRule
		rules    []types.ValidationRule
	}{
		{
			name: "unknown trigger question",
			branches: []types.BranchRule{
				{ID: "r", When: types.BranchCondition{Question: "ghost", Operator: types.OpAny}},
			},
		},
		{
			name: "unknown required question",
			branches: []types.BranchRule{
				{ID: "r", When: types.BranchCondition{Question: "a", Operator: types.OpAny}, Requires: []string{"ghost"}},
			},
		},
		{
			name: "unknown predicate kind",
			rules: []types.ValidationRule{
				{ID: "v", Severity: types.SeverityError, Kind: "regex_match"},
			},
		},
		{
			name: "rule references unowned field",
			rules: []types.ValidationRule{
				{ID: "v", Severity: types.SeverityError, Kind: types.KindSumEquals,
					PartsField: "elsewhere.parts", TotalField: "draft.total"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(minimalQuestions(), tt.branches, tt.rules, minimalStages()); err == nil {
				t.Fatal("expected load-time rejection, got nil error")
			}
		})
	}
}

func TestOverlappingOwnershipRejected(t *testing.T) {
	stages := []types.StageDecl{
		{ID: "s1", Fields: []string{"doc."}},
		{ID: "s2", Fields: []string{"doc.summary."},
			Checkpoint: &types.CheckpointDecl{ID: "final_review", Role: "chair"}},
	}
	if _, err := New(minimalQuestions(), nil, nil, stages); err == nil {
		t.Fatal("expected overlapping ownership rejection")
	}
}

func TestFinalStageMustGate(t *testing.T) {
	stages := []types.StageDecl{{ID: "s1", Fields: []string{"doc."}}}
	if _, err := New(minimalQuestions(), nil, nil, stages); err == nil {
		t.Fatal("expected rejection of ungated final stage")
	}
}

func TestFieldOwned(t *testing.T) {
	prefixes := []string{"intake.", "regulatory.", "protocol.title"}
	tests := []struct {
		path string
		want bool
	}{
		{"intake.species", true},
		{"regulatory.pain_category", true},
		{"protocol.title", true},
		{"protocol.body", false},
		{"intake", false},
	}
	for _, tt := range tests {
		if got := FieldOwned(tt.path, prefixes); got != tt.want {
			t.Errorf("FieldOwned(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
questions:
  - id: species
    prompt: Species
    type: single_choice
    required: true
    options:
      - {value: mouse, label: Mouse}
  - id: enrichment
    prompt: Enrichment plan
    type: text
branches:
  - id: mouse_branch
    when: {question: species, operator: eq, values: [mouse]}
    requires: [enrichment]
rules:
  - id: counts
    description: group sizes sum to total
    severity: error
    kind: sum_equals
    parts_field: draft.group_counts
    total_field: draft.total
stages:
  - id: draft
    name: Draft
    fields: ["draft."]
    checkpoint: {id: final_review, name: Final, role: chair}
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := reg.Question("enrichment"); !ok {
		t.Error("question enrichment not loaded")
	}
	if len(reg.Branches()) != 1 || reg.Branches()[0].When.Values[0] != "mouse" {
		t.Errorf("branches not loaded: %+v", reg.Branches())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing rule file")
	}
}
