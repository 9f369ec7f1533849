// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint implements the human-review gates between pipeline
// stages: creating pending gate records, applying reviewer decisions,
// and driving the rejection side effects on the workflow instance.
package checkpoint

import (
	"time"

	"github.com/google/uuid"

	"github.com/rtolwani/iacuc-protocol-generator/internal/document"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// CreateGate appends a fresh pending checkpoint record for the given
// stage and parks the workflow in awaiting_review. Escalation rules are
// evaluated once, here, against the current document; the resolved role
// is frozen into the record. Validation findings from the gate-time
// pass ride along so the reviewer sees them.
func CreateGate(w *types.WorkflowInstance, reg *registry.Registry, stage types.StageDecl, findings []types.Finding, now time.Time) *types.CheckpointRecord {
	decl := stage.Checkpoint
	rec := types.CheckpointRecord{
		ID:            uuid.NewString(),
		DeclID:        decl.ID,
		Stage:         stage.ID,
		Ordinal:       reg.CheckpointOrdinal(decl.ID),
		Role:          resolveRole(w, decl),
		Status:        types.CheckpointPending,
		Findings:      findings,
		RevisionCount: Revisions(w, decl.ID),
		CreatedAt:     now.UTC(),
	}
	w.Checkpoints = append(w.Checkpoints, rec)
	w.Status = types.StatusAwaitingReview
	w.History = append(w.History, types.TransitionRecord{
		At:         now.UTC(),
		Checkpoint: rec.ID,
		To:         types.CheckpointPending,
		Note:       "gate opened after stage " + stage.ID,
	})
	w.UpdatedAt = now.UTC()
	return &w.Checkpoints[len(w.Checkpoints)-1]
}

// resolveRole applies the first matching escalation rule, falling back
// to the declared role.
func resolveRole(w *types.WorkflowInstance, decl *types.CheckpointDecl) string {
	for _, e := range decl.Escalations {
		v, ok := document.Get(&w.Document, e.Field)
		if !ok || !stringIn(v, e.In) {
			continue
		}
		if e.UnlessPresent != "" {
			if _, present := document.Get(&w.Document, e.UnlessPresent); present {
				continue
			}
		}
		return e.Role
	}
	return decl.Role
}

// Decision carries one reviewer verdict on a pending checkpoint.
type Decision struct {
	Status     types.CheckpointStatus
	ReviewerID string
	Comments   string
	Issues     []string
}

// Decide applies a reviewer decision to the checkpoint identified by
// record id or, failing that, the latest record for a checkpoint decl
// id. The transition is compare-and-set on pending status: a retry that
// repeats an already-recorded decision verbatim is a no-op, while any
// conflicting decision on a settled checkpoint fails with no state
// change. Rejections and revision requests must carry comments.
//
// On rejection or revision request the workflow's position moves back
// to the feeding stage and that stage's owned fields are cleared, so a
// re-run regenerates them from scratch. On approval the workflow is
// marked running; the orchestrator resumes it from there.
func Decide(w *types.WorkflowInstance, reg *registry.Registry, checkpointID string, d Decision, now time.Time) error {
	if !d.Status.Decided() {
		return types.NewInputError("decision %q is not approve, reject, or revision_requested", d.Status)
	}
	if d.ReviewerID == "" {
		return types.NewInputError("decision needs a reviewer id")
	}
	if d.Status != types.CheckpointApproved && d.Comments == "" {
		return types.NewInputError("%s decisions require comments", d.Status)
	}

	rec := Find(w, checkpointID)
	if rec == nil {
		return types.ErrNotFound
	}

	if rec.Status != types.CheckpointPending {
		if sameDecision(rec, d) {
			return nil
		}
		return &types.InvalidTransitionError{
			Checkpoint: rec.DeclID,
			Msg:        string(rec.Status) + " checkpoint cannot become " + string(d.Status),
		}
	}
	if w.Status.Terminal() {
		return &types.InvalidTransitionError{
			Checkpoint: rec.DeclID,
			Msg:        "workflow is " + string(w.Status),
		}
	}

	ts := now.UTC()
	rec.Status = d.Status
	rec.ReviewerID = d.ReviewerID
	rec.Comments = d.Comments
	rec.Issues = d.Issues
	rec.DecidedAt = &ts

	w.History = append(w.History, types.TransitionRecord{
		At:         ts,
		Checkpoint: rec.ID,
		From:       types.CheckpointPending,
		To:         d.Status,
		ReviewerID: d.ReviewerID,
		Comments:   d.Comments,
		Issues:     d.Issues,
	})

	switch d.Status {
	case types.CheckpointApproved:
		w.Status = types.StatusRunning
	case types.CheckpointRejected, types.CheckpointRevisionRequested:
		stage, _ := reg.Stage(rec.Stage)
		document.ClearStage(&w.Document, stage)
		w.Position = rec.Stage
		w.Status = types.StatusRunning
		w.History = append(w.History, types.TransitionRecord{
			At:   ts,
			Note: "stage " + rec.Stage + " sent back for revision",
		})
	}
	w.UpdatedAt = ts
	return nil
}

// Find locates a checkpoint by record id, or returns the most recent
// record for a decl id.
func Find(w *types.WorkflowInstance, id string) *types.CheckpointRecord {
	for i := range w.Checkpoints {
		if w.Checkpoints[i].ID == id {
			return &w.Checkpoints[i]
		}
	}
	for i := len(w.Checkpoints) - 1; i >= 0; i-- {
		if w.Checkpoints[i].DeclID == id {
			return &w.Checkpoints[i]
		}
	}
	return nil
}

// Pending returns every undecided checkpoint, oldest first.
func Pending(w *types.WorkflowInstance) []types.CheckpointRecord {
	var out []types.CheckpointRecord
	for _, c := range w.Checkpoints {
		if c.Status == types.CheckpointPending {
			out = append(out, c)
		}
	}
	return out
}

// Revisions counts how many records for a checkpoint decl were sent
// back, which is the revision count the next record carries.
func Revisions(w *types.WorkflowInstance, declID string) int {
	n := 0
	for _, c := range w.Checkpoints {
		if c.DeclID != declID {
			continue
		}
		if c.Status == types.CheckpointRejected || c.Status == types.CheckpointRevisionRequested {
			n++
		}
	}
	return n
}

func sameDecision(rec *types.CheckpointRecord, d Decision) bool {
	if rec.Status != d.Status || rec.ReviewerID != d.ReviewerID || rec.Comments != d.Comments {
		return false
	}
	if len(rec.Issues) != len(d.Issues) {
		return false
	}
	for i := range d.Issues {
		if rec.Issues[i] != d.Issues[i] {
			return false
		}
	}
	return true
}

func stringIn(value any, values []string) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
