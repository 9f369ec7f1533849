// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine is the workflow engine's boundary API. Every call
// loads the instance from the store, mutates it under a per-instance
// lock, and saves it back; no in-memory copy survives between calls.
package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtolwani/iacuc-protocol-generator/internal/checkpoint"
	"github.com/rtolwani/iacuc-protocol-generator/internal/intake"
	"github.com/rtolwani/iacuc-protocol-generator/internal/pipeline"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/internal/store"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// Engine coordinates intake, the stage pipeline, and checkpoint
// decisions over persisted workflow instances.
type Engine struct {
	reg   *registry.Registry
	store *store.Store
	orch  *pipeline.Orchestrator
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine. searcher may be nil when no knowledge base is
// configured.
func New(reg *registry.Registry, st *store.Store, gen pipeline.Generator, searcher pipeline.Searcher, cfg types.EngineConfig, progress io.Writer) *Engine {
	return &Engine{
		reg:   reg,
		store: st,
		orch:  pipeline.New(reg, gen, searcher, cfg, progress),
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

// lock serializes access to one instance. Different instances proceed
// concurrently.
func (e *Engine) lock(id string) func() {
	e.mu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// StartWorkflow creates a workflow in the intake phase. An empty id
// generates one; a caller-supplied id makes creation idempotent, with
// repeats returning the existing instance.
func (e *Engine) StartWorkflow(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	if id == "" {
		id = uuid.NewString()
	}
	defer e.lock(id)()

	if existing, err := e.store.Load(ctx, id); err == nil {
		return existing, nil
	}

	now := e.now().UTC()
	w := &types.WorkflowInstance{
		ID:        id,
		Status:    types.StatusIntake,
		Position:  types.PositionIntake,
		Document:  types.DocumentState{Fields: map[string]any{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Save(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// SubmitAnswer validates and appends one intake answer and returns the
// recomputed requirement set.
func (e *Engine) SubmitAnswer(ctx context.Context, id, questionID string, value any) (intake.Requirement, error) {
	defer e.lock(id)()

	w, err := e.store.Load(ctx, id)
	if err != nil {
		return intake.Requirement{}, err
	}
	if w.Status != types.StatusIntake {
		return intake.Requirement{}, &types.InvalidTransitionError{
			Msg: fmt.Sprintf("workflow %s is %s, answers are only accepted during intake", id, w.Status),
		}
	}
	if err := intake.Submit(w, e.reg, questionID, value, e.now()); err != nil {
		return intake.Requirement{}, err
	}
	w.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, w); err != nil {
		return intake.Requirement{}, err
	}
	return intake.NextRequired(w.Answers, e.reg), nil
}

// RequiredQuestions returns the current requirement set plus the full
// question declarations for everything still missing, in a stable
// order.
func (e *Engine) RequiredQuestions(ctx context.Context, id string) (intake.Requirement, []types.Question, error) {
	w, err := e.store.Load(ctx, id)
	if err != nil {
		return intake.Requirement{}, nil, err
	}
	req := intake.NextRequired(w.Answers, e.reg)

	var missing []types.Question
	for _, qid := range req.Missing() {
		if q, ok := e.reg.Question(qid); ok {
			missing = append(missing, q)
		}
	}
	return req, missing, nil
}

// Snapshot returns the stored instance. Callers get their own copy.
func (e *Engine) Snapshot(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	return e.store.Load(ctx, id)
}

// Run advances the workflow until it parks at a gate, stalls, or
// completes. The persisted state always reflects how far it got, even
// when the return is a stall error.
func (e *Engine) Run(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	defer e.lock(id)()

	w, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	runErr := e.orch.Run(ctx, w)
	if saveErr := e.store.Save(ctx, w); saveErr != nil {
		return w, saveErr
	}
	return w, runErr
}

// PendingReview is one open checkpoint across the instance population.
type PendingReview struct {
	WorkflowID string                 `json:"workflow_id"`
	Record     types.CheckpointRecord `json:"record"`
}

// PendingCheckpoints lists open gates across all workflows awaiting
// review, oldest first. A non-empty role restricts to gates requiring
// that role.
func (e *Engine) PendingCheckpoints(ctx context.Context, role string) ([]PendingReview, error) {
	waiting, err := e.store.List(ctx, types.StatusAwaitingReview)
	if err != nil {
		return nil, err
	}

	var out []PendingReview
	for _, sum := range waiting {
		w, err := e.store.Load(ctx, sum.ID)
		if err != nil {
			return nil, err
		}
		for _, rec := range checkpoint.Pending(w) {
			if role != "" && rec.Role != role {
				continue
			}
			out = append(out, PendingReview{WorkflowID: w.ID, Record: rec})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.CreatedAt.Before(out[j].Record.CreatedAt)
	})
	return out, nil
}

// DecideCheckpoint applies a reviewer decision and immediately resumes
// the pipeline: an approval rolls forward to the next gate or to
// completion, a send-back re-runs the feeding stage up to its fresh
// gate.
func (e *Engine) DecideCheckpoint(ctx context.Context, id, checkpointID string, d checkpoint.Decision) (*types.WorkflowInstance, error) {
	defer e.lock(id)()

	w, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkpoint.Decide(w, e.reg, checkpointID, d, e.now()); err != nil {
		return nil, err
	}

	var runErr error
	if w.Status == types.StatusRunning {
		runErr = e.orch.Run(ctx, w)
	}
	if saveErr := e.store.Save(ctx, w); saveErr != nil {
		return w, saveErr
	}
	return w, runErr
}

// DecisionHistory returns the instance's append-only audit trail.
func (e *Engine) DecisionHistory(ctx context.Context, id string) ([]types.TransitionRecord, error) {
	w, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.History, nil
}

// RerunStage clears a stall and re-runs from the named stage.
func (e *Engine) RerunStage(ctx context.Context, id, stageID string) (*types.WorkflowInstance, error) {
	defer e.lock(id)()

	w, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	runErr := e.orch.RerunStage(ctx, w, stageID)
	if saveErr := e.store.Save(ctx, w); saveErr != nil {
		return w, saveErr
	}
	return w, runErr
}

// Abandon terminates the workflow permanently.
func (e *Engine) Abandon(ctx context.Context, id, reason string) error {
	defer e.lock(id)()

	w, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := e.orch.Abandon(w, reason); err != nil {
		return err
	}
	return e.store.Save(ctx, w)
}

// List returns workflow summaries, optionally filtered by status.
func (e *Engine) List(ctx context.Context, status types.WorkflowStatus) ([]store.Summary, error) {
	return e.store.List(ctx, status)
}
