// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package document

import (
	"errors"
	"testing"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

var regStage = types.StageDecl{ID: "regulatory", Fields: []string{"regulatory."}}

func TestMergeBumpsVersion(t *testing.T) {
	doc := &types.DocumentState{}

	err := Merge(doc, regStage, map[string]any{"regulatory.pain_category": "D"}, 0)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	v, ok := Get(doc, "regulatory.pain_category")
	if !ok || v != "D" {
		t.Errorf("Get = %v, %v; want D, true", v, ok)
	}
}

func TestMergeVersionConflict(t *testing.T) {
	doc := &types.DocumentState{}
	if err := Merge(doc, regStage, map[string]any{"regulatory.pain_category": "C"}, 0); err != nil {
		t.Fatal(err)
	}

	// A second merge built against the old version must fail.
	err := Merge(doc, regStage, map[string]any{"regulatory.basis": "AWA"}, 0)
	if !errors.Is(err, types.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if _, ok := Get(doc, "regulatory.basis"); ok {
		t.Error("conflicting merge must write nothing")
	}
}

func TestMergeRejectsUnownedFields(t *testing.T) {
	doc := &types.DocumentState{}
	err := Merge(doc, regStage, map[string]any{
		"regulatory.pain_category": "D",
		"veterinary.analgesia":     "buprenorphine",
	}, 0)
	if err == nil {
		t.Fatal("expected ownership rejection")
	}
	var se *types.StageError
	if !errors.As(err, &se) || se.Kind != types.StagePermanent {
		t.Fatalf("err = %v, want permanent StageError", err)
	}
	if len(doc.Fields) != 0 || doc.Version != 0 {
		t.Error("rejected merge must leave the aggregate untouched")
	}
}

func TestAbsentDistinctFromEmpty(t *testing.T) {
	doc := &types.DocumentState{}
	if err := Merge(doc, regStage, map[string]any{"regulatory.notes": ""}, 0); err != nil {
		t.Fatal(err)
	}

	if _, ok := Get(doc, "regulatory.notes"); !ok {
		t.Error("explicitly empty field reported absent")
	}
	if _, ok := Get(doc, "regulatory.missing"); ok {
		t.Error("absent field reported present")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	doc := &types.DocumentState{}
	if err := Merge(doc, regStage, map[string]any{"regulatory.refs": []string{"AWA"}}, 0); err != nil {
		t.Fatal(err)
	}

	snap := Snapshot(doc)
	snap["regulatory.refs"].([]string)[0] = "mutated"
	snap["regulatory.new"] = "x"

	if v, _ := Get(doc, "regulatory.refs"); v.([]string)[0] != "AWA" {
		t.Error("mutating a snapshot leaked into the aggregate")
	}
	if _, ok := Get(doc, "regulatory.new"); ok {
		t.Error("snapshot write leaked into the aggregate")
	}
}

func TestClearStageScoped(t *testing.T) {
	doc := &types.DocumentState{}
	vetStage := types.StageDecl{ID: "veterinary", Fields: []string{"veterinary."}}
	if err := Merge(doc, regStage, map[string]any{"regulatory.pain_category": "D"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := Merge(doc, vetStage, map[string]any{"veterinary.analgesia_plan": "carprofen BID"}, 1); err != nil {
		t.Fatal(err)
	}

	ClearStage(doc, vetStage)

	if _, ok := Get(doc, "veterinary.analgesia_plan"); ok {
		t.Error("ClearStage left the stage's own field")
	}
	if _, ok := Get(doc, "regulatory.pain_category"); !ok {
		t.Error("ClearStage removed another stage's field")
	}
	if doc.Version != 3 {
		t.Errorf("version = %d, want 3", doc.Version)
	}
}

func TestMergeIntake(t *testing.T) {
	doc := &types.DocumentState{}
	MergeIntake(doc,
		map[string]any{"species": "mouse", "total_animals": float64(40)},
		map[string]any{"intake.pain_category_hint": "D"},
	)

	if v, _ := Get(doc, "intake.species"); v != "mouse" {
		t.Errorf("intake.species = %v", v)
	}
	if v, _ := Get(doc, "intake.pain_category_hint"); v != "D" {
		t.Errorf("default not merged: %v", v)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
}
