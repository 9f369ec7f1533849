// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtolwani/iacuc-protocol-generator/internal/checkpoint"
	"github.com/rtolwani/iacuc-protocol-generator/internal/document"
	"github.com/rtolwani/iacuc-protocol-generator/internal/intake"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

func init() {
	RetryBaseDelay = time.Millisecond
}

// scriptedGen produces fixed per-stage output and can be primed with
// failures for specific stages.
type scriptedGen struct {
	failures map[string][]error
	calls    map[string]int
	bundles  map[string]InputBundle
}

func newScriptedGen() *scriptedGen {
	return &scriptedGen{
		failures: map[string][]error{},
		calls:    map[string]int{},
		bundles:  map[string]InputBundle{},
	}
}

func (g *scriptedGen) Generate(_ context.Context, in InputBundle) (map[string]any, error) {
	id := in.Stage.ID
	g.calls[id]++
	g.bundles[id] = in
	if queued := g.failures[id]; len(queued) > 0 {
		err := queued[0]
		g.failures[id] = queued[1:]
		return nil, err
	}

	switch id {
	case "profile":
		return map[string]any{
			"profile.personnel":    []any{"surgeon", "technician"},
			"animals.group_counts": []any{12.0, 8.0, 20.0},
			"animals.total":        40.0,
		}, nil
	case "regulatory":
		return map[string]any{"regulatory.pain_category": "D"}, nil
	case "veterinary":
		return map[string]any{
			"veterinary.analgesia_plan":    "carprofen 5mg/kg SC q24h x3d",
			"veterinary.euthanasia_method": "co2_inhalation",
		}, nil
	case "procedures":
		return map[string]any{"procedures.performed_by": []any{"surgeon"}}, nil
	}
	return map[string]any{in.Stage.Fields[0] + "text": "drafted " + id}, nil
}

type fakeSearcher struct {
	queries []string
	tags    [][]string
	topKs   []int
}

func (s *fakeSearcher) Search(_ context.Context, query string, tags []string, topK int) ([]Snippet, error) {
	s.queries = append(s.queries, query)
	s.tags = append(s.tags, tags)
	s.topKs = append(s.topKs, topK)
	return []Snippet{{ID: "g1", Title: "guideline", Body: "text", Score: 1}}, nil
}

func answerAll(t *testing.T, w *types.WorkflowInstance, reg *registry.Registry) {
	t.Helper()
	base := map[string]any{
		"protocol_title":       "Cortical plasticity in the adult mouse",
		"pi_name":              "Dr. Ramos",
		"species":              "mouse",
		"total_animals":        40,
		"procedure_types":      []string{"survival_surgery"},
		"pain_expectation":     "relieved",
		"start_date":           "2026-06-01",
		"end_date":             "2027-06-01",
		"surgeon_training":     "rodent surgery course, 3 years experience",
		"aseptic_confirmation": "yes",
		"post_op_monitoring":   "twice daily for 72h",
		"analgesia_protocol":   "carprofen per formulary",
	}
	now := time.Now()
	for req := intake.NextRequired(w.Answers, reg); !req.Complete; req = intake.NextRequired(w.Answers, reg) {
		missing := req.Missing()
		require.NotEmpty(t, missing)
		id := missing[0]
		v, ok := base[id]
		require.True(t, ok, "no scripted answer for %s", id)
		require.NoError(t, intake.Submit(w, reg, id, v, now))
	}
}

func newTestWorkflow() *types.WorkflowInstance {
	now := time.Now().UTC()
	return &types.WorkflowInstance{
		ID:        "wf-test",
		Status:    types.StatusIntake,
		Position:  types.PositionIntake,
		Document:  types.DocumentState{Fields: map[string]any{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// approveAll drives the workflow to completion, approving every gate.
func approveAll(t *testing.T, o *Orchestrator, w *types.WorkflowInstance, reg *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, o.Run(ctx, w))
	for w.Status == types.StatusAwaitingReview {
		pending := checkpoint.Pending(w)
		require.Len(t, pending, 1)
		require.NoError(t, checkpoint.Decide(w, reg, pending[0].ID, checkpoint.Decision{
			Status:     types.CheckpointApproved,
			ReviewerID: "rev-1",
		}, time.Now()))
		require.NoError(t, o.Run(ctx, w))
	}
}

func TestFullRunToCompletion(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	search := &fakeSearcher{}
	o := New(reg, gen, search, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	approveAll(t, o, w, reg)

	assert.Equal(t, types.StatusComplete, w.Status)
	assert.Equal(t, types.PositionComplete, w.Position)

	// Every stage ran exactly once.
	for _, s := range reg.Stages() {
		assert.Equal(t, 1, gen.calls[s.ID], "stage %s", s.ID)
	}

	// Intake answers landed under the intake prefix.
	v, ok := document.Get(&w.Document, "intake.species")
	require.True(t, ok)
	assert.Equal(t, "mouse", v)
	_, ok = document.Get(&w.Document, "intake.survival_surgery")
	assert.True(t, ok, "branch default not merged")

	// Five gates decided, all approved, final_review last.
	require.Len(t, w.Checkpoints, 5)
	last := w.Checkpoints[4]
	assert.Equal(t, "final_review", last.DeclID)
	assert.Equal(t, 5, last.Ordinal)
	for _, c := range w.Checkpoints {
		assert.Equal(t, types.CheckpointApproved, c.Status)
	}

	// No error findings survive the final pass.
	for _, f := range w.Findings {
		assert.NotEqual(t, types.SeverityError, f.Severity, "finding %s", f.RuleID)
	}
}

func TestSearchBundlePlumbing(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	search := &fakeSearcher{}
	o := New(reg, gen, search, types.EngineConfig{SearchTopK: 3}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	approveAll(t, o, w, reg)

	// Three stages declare a search.
	require.Len(t, search.queries, 3)
	assert.Equal(t, "regulations mouse", search.queries[0])
	assert.Equal(t, []string{"regulatory"}, search.tags[0])
	assert.Equal(t, 3, search.topKs[0])
	assert.Equal(t, "alternatives survival_surgery", search.queries[1])
	assert.Equal(t, "analgesia formulary mouse", search.queries[2])

	// Snippets reached the searching stages only.
	assert.Len(t, gen.bundles["regulatory"].Snippets, 1)
	assert.Empty(t, gen.bundles["lay_summary"].Snippets)
}

func TestIncompleteIntakeRefused(t *testing.T) {
	reg := registry.Default()
	o := New(reg, newScriptedGen(), nil, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	require.NoError(t, intake.Submit(w, reg, "species", "mouse", time.Now()))

	err := o.Run(context.Background(), w)
	require.Error(t, err)
	assert.True(t, types.IsInput(err), "err = %v", err)
	assert.Equal(t, types.PositionIntake, w.Position)
}

func TestTransientRetryThenSuccess(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	gen.failures["profile"] = []error{
		&types.StageError{Stage: "profile", Kind: types.StageTransient, Err: errors.New("model busy")},
	}
	o := New(reg, gen, nil, types.EngineConfig{MaxRetries: 2}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	require.NoError(t, o.Run(context.Background(), w))

	assert.Equal(t, 2, gen.calls["profile"])
	assert.Equal(t, types.StatusAwaitingReview, w.Status)
}

// interleavedGen lands an extra document write between the bundle
// snapshot and the stage's merge, making the bundle stale.
type interleavedGen struct {
	inner  *scriptedGen
	w      *types.WorkflowInstance
	bumped bool
}

func (g *interleavedGen) Generate(ctx context.Context, in InputBundle) (map[string]any, error) {
	if !g.bumped && in.Stage.ID == "profile" {
		g.bumped = true
		g.w.Document.Version++
	}
	return g.inner.Generate(ctx, in)
}

func TestStaleBundleMergeRetries(t *testing.T) {
	reg := registry.Default()
	inner := newScriptedGen()
	gen := &interleavedGen{inner: inner}
	o := New(reg, gen, nil, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	gen.w = w
	answerAll(t, w, reg)
	require.NoError(t, o.Run(context.Background(), w))

	// The merge must refuse output computed against the older version;
	// the retry rebuilds the bundle at the moved version and lands.
	assert.Equal(t, 2, inner.calls["profile"])
	assert.Equal(t, types.StatusAwaitingReview, w.Status)
	assert.Equal(t, 40.0, w.Document.Fields["animals.total"])
}

func TestTransientExhaustionStalls(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	gen.failures["profile"] = []error{
		&types.StageError{Stage: "profile", Kind: types.StageTransient, Err: errors.New("timeout")},
		&types.StageError{Stage: "profile", Kind: types.StageTransient, Err: errors.New("timeout")},
	}
	o := New(reg, gen, nil, types.EngineConfig{MaxRetries: 2}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	err := o.Run(context.Background(), w)
	require.ErrorIs(t, err, types.ErrStalled)

	assert.Equal(t, 2, gen.calls["profile"])
	assert.Equal(t, types.StatusStalled, w.Status)
	assert.NotEmpty(t, w.StallReason)

	// A stalled workflow refuses to run until an operator intervenes.
	require.ErrorIs(t, o.Run(context.Background(), w), types.ErrStalled)
	assert.Equal(t, 2, gen.calls["profile"])
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	gen.failures["profile"] = []error{
		&types.StageError{Stage: "profile", Kind: types.StagePermanent, Err: errors.New("malformed output")},
	}
	o := New(reg, gen, nil, types.EngineConfig{MaxRetries: 3}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	err := o.Run(context.Background(), w)
	require.ErrorIs(t, err, types.ErrStalled)
	assert.Equal(t, 1, gen.calls["profile"], "permanent failure must not retry")
	assert.Equal(t, types.StatusStalled, w.Status)
}

func TestUnownedWriteStalls(t *testing.T) {
	reg := registry.Default()
	gen := &rogueGen{}
	o := New(reg, gen, nil, types.EngineConfig{MaxRetries: 3}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	err := o.Run(context.Background(), w)
	require.ErrorIs(t, err, types.ErrStalled)
	assert.Equal(t, 1, gen.calls, "ownership violation must not retry")

	// The rogue write never reached the aggregate.
	_, ok := document.Get(&w.Document, "regulatory.pain_category")
	assert.False(t, ok)
}

// rogueGen writes outside its stage's ownership.
type rogueGen struct{ calls int }

func (g *rogueGen) Generate(_ context.Context, in InputBundle) (map[string]any, error) {
	g.calls++
	return map[string]any{"regulatory.pain_category": "B"}, nil
}

func TestRerunStageAfterStall(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	gen.failures["profile"] = []error{
		&types.StageError{Stage: "profile", Kind: types.StagePermanent, Err: errors.New("bad output")},
	}
	o := New(reg, gen, nil, types.EngineConfig{MaxRetries: 1}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	require.ErrorIs(t, o.Run(context.Background(), w), types.ErrStalled)

	require.NoError(t, o.RerunStage(context.Background(), w, "profile"))
	assert.Equal(t, types.StatusAwaitingReview, w.Status)
	assert.Empty(t, w.StallReason)
	assert.Equal(t, 2, gen.calls["profile"])
}

func TestRejectionRerunsStageWithReviewerContext(t *testing.T) {
	reg := registry.Default()
	gen := newScriptedGen()
	o := New(reg, gen, nil, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	require.NoError(t, o.Run(context.Background(), w))
	require.Equal(t, types.StatusAwaitingReview, w.Status)

	gate := checkpoint.Pending(w)[0]
	require.NoError(t, checkpoint.Decide(w, reg, gate.ID, checkpoint.Decision{
		Status:     types.CheckpointRejected,
		ReviewerID: "rev-2",
		Comments:   "personnel list is incomplete",
		Issues:     []string{"profile.personnel"},
	}, time.Now()))

	require.NoError(t, o.Run(context.Background(), w))
	assert.Equal(t, 2, gen.calls["profile"])

	// The re-run saw the reviewer's send-back context.
	bundle := gen.bundles["profile"]
	assert.Equal(t, 1, bundle.Revision)
	assert.Equal(t, "personnel list is incomplete", bundle.ReviewerComments)
	assert.Equal(t, []string{"profile.personnel"}, bundle.ReviewerIssues)

	// A fresh gate is pending; the rejected one is preserved.
	pending := checkpoint.Pending(w)
	require.Len(t, pending, 1)
	assert.Equal(t, "intake_review", pending[0].DeclID)
	assert.Equal(t, 1, pending[0].RevisionCount)
	assert.Len(t, w.Checkpoints, 2)
}

func TestGateCarriesFindings(t *testing.T) {
	reg := registry.Default()
	// Break the group counts so the first gate sees an error finding.
	o := New(reg, &mismatchGen{inner: newScriptedGen()}, nil, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	require.NoError(t, o.Run(context.Background(), w))

	gate := checkpoint.Pending(w)[0]
	found := false
	for _, f := range gate.Findings {
		if f.RuleID == "group_counts_sum" && f.Severity == types.SeverityError {
			found = true
		}
	}
	assert.True(t, found, "gate findings = %v", gate.Findings)
}

// mismatchGen corrupts the profile stage's animal total.
type mismatchGen struct{ inner Generator }

func (g *mismatchGen) Generate(ctx context.Context, in InputBundle) (map[string]any, error) {
	out, err := g.inner.Generate(ctx, in)
	if err == nil && in.Stage.ID == "profile" {
		out["animals.total"] = 39.0
	}
	return out, err
}

func TestAbandon(t *testing.T) {
	reg := registry.Default()
	o := New(reg, newScriptedGen(), nil, types.EngineConfig{}, io.Discard)

	w := newTestWorkflow()
	require.NoError(t, o.Abandon(w, "superseded by a new submission"))
	assert.Equal(t, types.StatusAbandoned, w.Status)

	err := o.Abandon(w, "again")
	assert.True(t, types.IsInvalidTransition(err))
	require.Error(t, o.Run(context.Background(), w))
}

func TestExpandQuery(t *testing.T) {
	answers := map[string]any{
		"species":         "mouse",
		"procedure_types": []string{"survival_surgery", "imaging"},
	}
	cases := []struct{ in, want string }{
		{"regulations {answer:species}", "regulations mouse"},
		{"alternatives {answer:procedure_types}", "alternatives survival_surgery imaging"},
		{"{answer:missing} fallback", "fallback"},
		{"no placeholders", "no placeholders"},
		{"open {answer:species", "open {answer:species"},
	}
	for _, tc := range cases {
		if got := expandQuery(tc.in, answers); got != tc.want {
			t.Errorf("expandQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandQueryLeavesSplicedTextAlone(t *testing.T) {
	// Free-text answers may themselves look like placeholders; they
	// must land in the query verbatim instead of being expanded again.
	answers := map[string]any{
		"surgeon_training": "{answer:surgeon_training}",
		"species":          "rat {answer:species}",
	}

	done := make(chan string, 1)
	go func() {
		done <- expandQuery("analgesia {answer:surgeon_training} {answer:species}", answers)
	}()
	select {
	case got := <-done:
		want := "analgesia {answer:surgeon_training} rat {answer:species}"
		if got != want {
			t.Errorf("expandQuery = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expandQuery did not return for a placeholder-shaped answer value")
	}
}

func TestProgressOutput(t *testing.T) {
	reg := registry.Default()
	var buf bytes.Buffer
	o := New(reg, newScriptedGen(), nil, types.EngineConfig{}, &buf)

	w := newTestWorkflow()
	answerAll(t, w, reg)
	require.NoError(t, o.Run(context.Background(), w))
	assert.Contains(t, buf.String(), "intake complete")
	assert.Contains(t, buf.String(), "awaiting")
}
