// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"strings"
	"testing"
	"time"

	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

func sampleInstance() *types.WorkflowInstance {
	decided := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	return &types.WorkflowInstance{
		ID:       "wf-42",
		Status:   types.StatusComplete,
		Position: types.PositionComplete,
		Document: types.DocumentState{
			Fields: map[string]any{
				"intake.species":           "mouse",
				"intake.total_animals":     40.0,
				"profile.title":            "Cortical plasticity in the adult mouse",
				"profile.personnel":        []any{"Dr. Ramos", "surgical technician"},
				"animals.group_counts":     []any{20.0, 20.0},
				"regulatory.pain_category": "D",
				"protocol.sections":        []any{"profile", "regulatory"},
			},
			Version: 10,
		},
		Findings: []types.Finding{
			{RuleID: "terminal_needs_euthanasia", Severity: types.SeverityWarning, Message: "method not stated"},
		},
		Checkpoints: []types.CheckpointRecord{
			{ID: "c1", DeclID: "final_review", Stage: "assembly", Role: "iacuc_chair",
				Status: types.CheckpointApproved, ReviewerID: "chair-1", DecidedAt: &decided},
		},
	}
}

func TestMarkdownLayout(t *testing.T) {
	var buf strings.Builder
	if err := Markdown(&buf, sampleInstance(), registry.Default()); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Cortical plasticity in the adult mouse",
		"## Intake",
		"- **species**: mouse",
		"## Research Profile",
		"- **group_counts**: 20, 20",
		"## Regulatory Assessment",
		"## Review Trail",
		"final_review (iacuc_chair): approved by chair-1",
		"## Validation Findings",
		"[warning] terminal_needs_euthanasia",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	// Intake comes before the stage sections, assembly output last.
	if strings.Index(out, "## Intake") > strings.Index(out, "## Research Profile") {
		t.Error("intake section not first")
	}
}

func TestMarkdownSkipsEmptySections(t *testing.T) {
	w := sampleInstance()
	var buf strings.Builder
	if err := Markdown(&buf, w, registry.Default()); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "## Statistical Design") {
		t.Error("empty stage section rendered")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	var buf strings.Builder
	if err := YAML(&buf, sampleInstance()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id: wf-42") {
		t.Errorf("yaml missing instance id:\n%s", out)
	}
	if !strings.Contains(out, "pain_category") {
		t.Errorf("yaml missing document fields:\n%s", out)
	}
}
