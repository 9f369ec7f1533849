// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// InputError reports a malformed or out-of-range caller input: an
// unknown question id, a value of the wrong type, a missing comment on
// a rejection. The workflow state is unchanged and the call is safe to
// retry with corrected input.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// NewInputError builds an InputError with Sprintf formatting.
func NewInputError(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// IsInput reports whether err is an InputError.
func IsInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// RuleConfigError reports an invalid rule registry: a cyclic branch
// rule, a reference to an undefined question or field, an unknown
// predicate kind. It is fatal at load time and never a per-request
// condition.
type RuleConfigError struct {
	Msg string
}

func (e *RuleConfigError) Error() string { return "rule config: " + e.Msg }

// NewRuleConfigError builds a RuleConfigError with Sprintf formatting.
func NewRuleConfigError(format string, args ...any) error {
	return &RuleConfigError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a checkpoint decision that the state
// machine forbids: deciding a checkpoint that is not pending with a
// decision different from the recorded one, or acting in a state that
// forbids the attempted action. No state changes.
type InvalidTransitionError struct {
	Checkpoint string
	Msg        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition on checkpoint %s: %s", e.Checkpoint, e.Msg)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// StageErrorKind classifies a stage failure for retry policy.
type StageErrorKind string

const (
	// StageTransient failures (timeouts, collaborator unavailable) are
	// retried with backoff up to the configured bound.
	StageTransient StageErrorKind = "transient"

	// StagePermanent failures (output that cannot be parsed into the
	// declared shape, writes outside declared ownership) stall the
	// pipeline immediately.
	StagePermanent StageErrorKind = "permanent"
)

// StageError wraps a generator-stage failure with its classification.
type StageError struct {
	Stage string
	Kind  StageErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageKind extracts the classification from err. Unclassified errors
// and context timeouts count as transient so the retry policy gets a
// chance; only an explicit StagePermanent skips retries.
func StageKind(err error) StageErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return StageTransient
}

// ErrStalled marks a pipeline that exhausted retries or hit a permanent
// stage failure. Automatic progress stops; an operator must re-run the
// stage or abandon the instance.
var ErrStalled = errors.New("pipeline stalled")

// ErrNotFound reports a missing workflow instance or checkpoint.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict reports a document merge built against a stale
// aggregate version. The caller rebuilds its input and retries.
var ErrVersionConflict = errors.New("document version conflict")
