// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Answer is one appended question answer. Answers are never edited in
// place: re-answering appends a new Answer whose Supersedes points at
// the prior one, so the full history survives for audit.
type Answer struct {
	// Seq is the 1-based append position within the workflow's log.
	Seq int `json:"seq" yaml:"seq"`

	// Question is the question id answered.
	Question string `json:"question" yaml:"question"`

	// Value is typed per the question's AnswerType: string for
	// single_choice/text/date, []string for multi_choice, float64 for
	// number.
	Value any `json:"value" yaml:"value"`

	// At is the server-observed submission time.
	At time.Time `json:"at" yaml:"at"`

	// Supersedes is the Seq of the prior answer for the same question,
	// or zero for a first answer.
	Supersedes int `json:"supersedes,omitempty" yaml:"supersedes,omitempty"`
}

// DocumentState is the versioned document aggregate: a flat mapping of
// dot-addressable field-paths to values. Version increases by one on
// every merge; a merge built against a stale version is rejected.
type DocumentState struct {
	Fields  map[string]any `json:"fields" yaml:"fields"`
	Version int64          `json:"version" yaml:"version"`
}

// CheckpointStatus is the lifecycle state of one checkpoint.
type CheckpointStatus string

const (
	CheckpointPending           CheckpointStatus = "pending"
	CheckpointApproved          CheckpointStatus = "approved"
	CheckpointRejected          CheckpointStatus = "rejected"
	CheckpointRevisionRequested CheckpointStatus = "revision_requested"
)

// Decided reports whether the status is a reviewer decision rather than
// the initial pending state.
func (s CheckpointStatus) Decided() bool {
	return s == CheckpointApproved || s == CheckpointRejected || s == CheckpointRevisionRequested
}

// CheckpointRecord is one created gate instance. A rejected checkpoint
// is never reopened: the stage re-runs and a fresh pending record is
// appended, leaving the old record untouched in the list.
type CheckpointRecord struct {
	// ID uniquely identifies this gate instance.
	ID string `json:"id" yaml:"id"`

	// DeclID is the declaring CheckpointDecl id.
	DeclID string `json:"decl_id" yaml:"decl_id"`

	// Stage is the pipeline stage that feeds this checkpoint.
	Stage string `json:"stage" yaml:"stage"`

	// Ordinal is the checkpoint's position in the pipeline, counted
	// from 1.
	Ordinal int `json:"ordinal" yaml:"ordinal"`

	// Role is the required reviewer role, after any escalation applied
	// at gate-creation time.
	Role string `json:"role" yaml:"role"`

	// Status is pending until a reviewer decides.
	Status CheckpointStatus `json:"status" yaml:"status"`

	// Findings are the validation findings attached at gate time.
	Findings []Finding `json:"findings,omitempty" yaml:"findings,omitempty"`

	// ReviewerID, Comments and Issues record the decision.
	ReviewerID string   `json:"reviewer_id,omitempty" yaml:"reviewer_id,omitempty"`
	Comments   string   `json:"comments,omitempty" yaml:"comments,omitempty"`
	Issues     []string `json:"issues,omitempty" yaml:"issues,omitempty"`

	// RevisionCount counts how many times this decl's stage has been
	// sent back before this record was created.
	RevisionCount int `json:"revision_count" yaml:"revision_count"`

	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
}

// TransitionRecord is one immutable entry in a workflow's audit trail.
// The trail is append-only; entries are never rewritten.
type TransitionRecord struct {
	At         time.Time        `json:"at" yaml:"at"`
	Checkpoint string           `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	From       CheckpointStatus `json:"from,omitempty" yaml:"from,omitempty"`
	To         CheckpointStatus `json:"to,omitempty" yaml:"to,omitempty"`
	ReviewerID string           `json:"reviewer_id,omitempty" yaml:"reviewer_id,omitempty"`
	Comments   string           `json:"comments,omitempty" yaml:"comments,omitempty"`
	Issues     []string         `json:"issues,omitempty" yaml:"issues,omitempty"`

	// Note records non-decision events: stage completion, stalls,
	// stage re-runs, abandonment.
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// WorkflowStatus is the overall state of a workflow instance.
type WorkflowStatus string

const (
	StatusIntake         WorkflowStatus = "intake"
	StatusRunning        WorkflowStatus = "running"
	StatusAwaitingReview WorkflowStatus = "awaiting_review"
	StatusStalled        WorkflowStatus = "stalled"
	StatusComplete       WorkflowStatus = "complete"
	StatusAbandoned      WorkflowStatus = "abandoned"
)

// Terminal reports whether the workflow can make no further progress.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusComplete || s == StatusAbandoned
}

// Position values beyond stage ids.
const (
	PositionIntake     = "intake"
	PositionValidating = "validating"
	PositionComplete   = "complete"
)

// WorkflowInstance is the durable record for one end-to-end protocol
// draft: answer log, document aggregate, checkpoint history, and audit
// trail. It is the sole source of truth across process restarts; no
// in-memory copy is authoritative.
type WorkflowInstance struct {
	// ID identifies the instance. Callers needing idempotent creation
	// supply their own id; otherwise one is generated.
	ID string `json:"id" yaml:"id"`

	Status WorkflowStatus `json:"status" yaml:"status"`

	// Position is the current pipeline position: "intake", a stage id,
	// "validating", or "complete".
	Position string `json:"position" yaml:"position"`

	// Answers is the append-only answer log.
	Answers []Answer `json:"answers" yaml:"answers"`

	// Document is the versioned document aggregate, owned by the
	// orchestrator while the pipeline runs.
	Document DocumentState `json:"document" yaml:"document"`

	// Checkpoints holds every gate instance ever created, in creation
	// order, including superseded rejected ones.
	Checkpoints []CheckpointRecord `json:"checkpoints" yaml:"checkpoints"`

	// Findings are the latest validation pass results; each pass
	// replaces them wholesale.
	Findings []Finding `json:"findings,omitempty" yaml:"findings,omitempty"`

	// History is the append-only audit trail.
	History []TransitionRecord `json:"history" yaml:"history"`

	// StallReason is set while Status is stalled.
	StallReason string `json:"stall_reason,omitempty" yaml:"stall_reason,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
