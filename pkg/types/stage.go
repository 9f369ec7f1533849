// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SearchDecl declares a stage's dependency on the knowledge search
// capability. The orchestrator resolves it into a bounded set of ranked
// snippets included in the stage's input bundle.
type SearchDecl struct {
	// Query is the search string. An answer value can be spliced in
	// with the {answer:question_id} placeholder.
	Query string `json:"query" yaml:"query"`

	// Tags filters snippets by tag with AND semantics.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// TopK bounds the result count. Zero uses the engine default.
	TopK int `json:"top_k,omitempty" yaml:"top_k,omitempty"`
}

// EscalationRule raises a checkpoint's required reviewer role based on
// document state at gate-creation time. The first matching rule wins.
type EscalationRule struct {
	// Field is the document field-path inspected.
	Field string `json:"field" yaml:"field"`

	// In lists the values that trigger escalation.
	In []string `json:"in" yaml:"in"`

	// UnlessPresent suppresses the escalation when this field-path is
	// present in the document (e.g. a documented mitigation).
	UnlessPresent string `json:"unless_present,omitempty" yaml:"unless_present,omitempty"`

	// Role is the escalated required-approver role.
	Role string `json:"role" yaml:"role"`
}

// CheckpointDecl declares the human-approval gate that follows a stage.
// A stage without a declaration produces no gate.
type CheckpointDecl struct {
	// ID is the stable checkpoint identifier (e.g. "veterinary_review").
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable checkpoint name.
	Name string `json:"name" yaml:"name"`

	// Role is the baseline required reviewer role.
	Role string `json:"role" yaml:"role"`

	// Instructions guide the reviewer.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// Escalations may raise the required role at gate-creation time.
	Escalations []EscalationRule `json:"escalations,omitempty" yaml:"escalations,omitempty"`
}

// StageDecl declares one content-generating pipeline stage: its owned
// document fields, optional search dependency, and optional gate.
type StageDecl struct {
	// ID is the stable stage identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable stage name.
	Name string `json:"name" yaml:"name"`

	// Fields lists the field-path prefixes the stage owns. A stage may
	// only merge output under its own prefixes.
	Fields []string `json:"fields" yaml:"fields"`

	// Search, when set, adds ranked snippets to the input bundle.
	Search *SearchDecl `json:"search,omitempty" yaml:"search,omitempty"`

	// Checkpoint, when set, gates progress after the stage completes.
	Checkpoint *CheckpointDecl `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
}
