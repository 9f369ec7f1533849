// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package intake

import (
	"reflect"
	"testing"
	"time"

	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func submit(t *testing.T, w *types.WorkflowInstance, reg *registry.Registry, id string, value any) {
	t.Helper()
	if err := Submit(w, reg, id, value, now); err != nil {
		t.Fatalf("Submit(%s): %v", id, err)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestSubmitValidation(t *testing.T) {
	reg := registry.Default()

	tests := []struct {
		name     string
		question string
		value    any
		wantErr  bool
	}{
		{"unknown question", "ghost", "x", true},
		{"valid choice", "species", "mouse", false},
		{"invalid choice", "species", "ferret", true},
		{"choice wrong type", "species", 7, true},
		{"valid multi choice", "procedure_types", []string{"injections"}, false},
		{"invalid multi choice member", "procedure_types", []string{"injections", "dancing"}, true},
		{"valid number", "total_animals", 40, false},
		{"number wrong type", "total_animals", "forty", true},
		{"valid date", "start_date", "2026-04-01", false},
		{"malformed date", "start_date", "01/04/2026", true},
		{"empty text", "pi_name", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &types.WorkflowInstance{}
			err := Submit(w, reg, tt.question, tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !types.IsInput(err) {
					t.Errorf("err = %T, want InputError", err)
				}
				if len(w.Answers) != 0 {
					t.Error("failed submit must not change the log")
				}
			}
		})
	}
}

func TestSupersedeKeepsHistory(t *testing.T) {
	reg := registry.Default()
	w := &types.WorkflowInstance{}

	submit(t, w, reg, "species", "mouse")
	submit(t, w, reg, "species", "rat")

	if len(w.Answers) != 2 {
		t.Fatalf("log length = %d, want 2 (history retained)", len(w.Answers))
	}
	if w.Answers[1].Supersedes != w.Answers[0].Seq {
		t.Errorf("supersedes = %d, want %d", w.Answers[1].Supersedes, w.Answers[0].Seq)
	}
	if got := Current(w.Answers)["species"].Value; got != "rat" {
		t.Errorf("current species = %v, want rat", got)
	}
}

func TestNextRequiredFixedPoint(t *testing.T) {
	reg := registry.Default()
	w := &types.WorkflowInstance{}
	submit(t, w, reg, "species", "primate")
	submit(t, w, reg, "procedure_types", []string{"survival_surgery"})

	first := NextRequired(w.Answers, reg)
	second := NextRequired(w.Answers, reg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("recomputation changed the requirement:\n first = %+v\nsecond = %+v", first, second)
	}
}

func TestSurgeryBranching(t *testing.T) {
	reg := registry.Default()
	w := &types.WorkflowInstance{}

	submit(t, w, reg, "procedure_types", []string{"survival_surgery"})
	req := NextRequired(w.Answers, reg)
	for _, id := range []string{"surgeon_training", "aseptic_confirmation", "post_op_monitoring"} {
		if !contains(req.Required, id) {
			t.Errorf("required set missing %s after survival_surgery: %v", id, req.Required)
		}
	}

	// Answer the surgical follow-ups, then change the procedure type.
	submit(t, w, reg, "surgeon_training", "Dr. Okafor, 6 years rodent surgery")
	submit(t, w, reg, "aseptic_confirmation", "yes")
	submit(t, w, reg, "post_op_monitoring", "Twice daily for 7 days")
	submit(t, w, reg, "procedure_types", []string{"non_survival"})

	req = NextRequired(w.Answers, reg)
	for _, id := range []string{"surgeon_training", "aseptic_confirmation", "post_op_monitoring"} {
		if contains(req.Required, id) {
			t.Errorf("%s still required after switching to non_survival", id)
		}
	}
	for _, id := range []string{"anesthesia_protocol", "euthanasia_method"} {
		if !contains(req.Required, id) {
			t.Errorf("required set missing %s after non_survival: %v", id, req.Required)
		}
	}

	// The stale surgical answers stay in the log but are excluded from
	// the effective answer bundle.
	effective := EffectiveAnswers(w.Answers, reg)
	if _, ok := effective["surgeon_training"]; ok {
		t.Error("stale surgeon_training leaked into effective answers")
	}
	if len(w.Answers) != 5 {
		t.Errorf("log length = %d, want 5 (stale answers retained)", len(w.Answers))
	}
}

func TestIntakeCompletion(t *testing.T) {
	reg := registry.Default()
	w := &types.WorkflowInstance{}

	submit(t, w, reg, "protocol_title", "Chronic implant recovery study")
	submit(t, w, reg, "pi_name", "Dr. Ibarra")
	submit(t, w, reg, "species", "mouse")
	submit(t, w, reg, "total_animals", 40)
	submit(t, w, reg, "procedure_types", []string{"injections"})
	submit(t, w, reg, "start_date", "2026-04-01")
	submit(t, w, reg, "end_date", "2026-10-01")

	req := NextRequired(w.Answers, reg)
	if req.Complete {
		t.Fatal("intake complete before pain_expectation answered")
	}
	if req.Progress <= 0 || req.Progress >= 1 {
		t.Errorf("progress = %v, want strictly between 0 and 1", req.Progress)
	}

	submit(t, w, reg, "pain_expectation", "none")
	req = NextRequired(w.Answers, reg)
	if !req.Complete {
		t.Fatalf("intake incomplete, missing %v", req.Missing())
	}
}

func TestDefaultsFollowTriggers(t *testing.T) {
	reg := registry.Default()
	w := &types.WorkflowInstance{}

	submit(t, w, reg, "pain_expectation", "unrelieved")
	defaults := Defaults(w.Answers, reg)
	if defaults["intake.pain_category_hint"] != "E" {
		t.Errorf("defaults = %v, want pain_category_hint E", defaults)
	}

	submit(t, w, reg, "pain_expectation", "none")
	defaults = Defaults(w.Answers, reg)
	if _, ok := defaults["intake.pain_category_hint"]; ok {
		t.Error("default survived after its trigger was re-answered")
	}
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		name  string
		cond  types.BranchCondition
		value any
		want  bool
	}{
		{"eq match", types.BranchCondition{Operator: types.OpEq, Values: []string{"mouse"}}, "mouse", true},
		{"eq miss", types.BranchCondition{Operator: types.OpEq, Values: []string{"mouse"}}, "rat", false},
		{"ne", types.BranchCondition{Operator: types.OpNe, Values: []string{"mouse"}}, "rat", true},
		{"in", types.BranchCondition{Operator: types.OpIn, Values: []string{"rabbit", "pig"}}, "pig", true},
		{"not_in", types.BranchCondition{Operator: types.OpNotIn, Values: []string{"rabbit"}}, "mouse", true},
		{"contains list", types.BranchCondition{Operator: types.OpContains, Values: []string{"imaging"}}, []string{"imaging", "breeding"}, true},
		{"contains scalar", types.BranchCondition{Operator: types.OpContains, Values: []string{"imaging"}}, "imaging", true},
		{"contains miss", types.BranchCondition{Operator: types.OpContains, Values: []string{"imaging"}}, []string{"breeding"}, false},
		{"any", types.BranchCondition{Operator: types.OpAny}, "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matches(tt.cond, tt.value); got != tt.want {
				t.Errorf("matches(%+v, %v) = %v, want %v", tt.cond, tt.value, got, tt.want)
			}
		})
	}
}
