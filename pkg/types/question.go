// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for the protocol workflow
// engine: intake questions and answers, branching and validation rules,
// the document aggregate, checkpoints, and workflow instances.
package types

// AnswerType classifies the value a question accepts.
type AnswerType string

const (
	AnswerSingleChoice AnswerType = "single_choice"
	AnswerMultiChoice  AnswerType = "multi_choice"
	AnswerText         AnswerType = "text"
	AnswerNumber       AnswerType = "number"
	AnswerDate         AnswerType = "date"
)

// Option is one selectable value for a choice-typed question.
type Option struct {
	// Value is the stable machine value stored in answers.
	Value string `json:"value" yaml:"value"`

	// Label is the display text shown to the researcher.
	Label string `json:"label" yaml:"label"`
}

// Question is one intake question. Questions are immutable once loaded
// into the rule registry.
type Question struct {
	// ID is the unique, stable question identifier.
	ID string `json:"id" yaml:"id"`

	// Prompt is the question text.
	Prompt string `json:"prompt" yaml:"prompt"`

	// Type selects the accepted answer value shape.
	Type AnswerType `json:"type" yaml:"type"`

	// Options lists the allowed values for choice types.
	Options []Option `json:"options,omitempty" yaml:"options,omitempty"`

	// Required marks the question as part of the base intake set,
	// asked for every workflow regardless of branching.
	Required bool `json:"required" yaml:"required"`

	// Help is optional guidance shown alongside the prompt.
	Help string `json:"help,omitempty" yaml:"help,omitempty"`
}

// Branch condition operators. "any" matches whenever the question has a
// current answer, whatever its value.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpIn       = "in"
	OpNotIn    = "not_in"
	OpContains = "contains"
	OpAny      = "any"
)

// BranchCondition is the trigger side of a branch rule: an operator
// applied to the current answer of one question.
type BranchCondition struct {
	// Question is the source question id.
	Question string `json:"question" yaml:"question"`

	// Operator is one of eq, ne, in, not_in, contains, any.
	Operator string `json:"operator" yaml:"operator"`

	// Values holds the comparison values. Empty for "any".
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// BranchRule adds follow-up questions and document-field defaults when
// its condition matches a current answer. The trigger graph over rules
// (source question to each required question) must be acyclic; this is
// checked when the registry loads.
type BranchRule struct {
	// ID names the rule for load-time diagnostics.
	ID string `json:"id" yaml:"id"`

	// When is the triggering condition.
	When BranchCondition `json:"when" yaml:"when"`

	// Requires lists question ids that become required when triggered.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Defaults maps document field-paths to values merged into the
	// document when intake completes with this rule active.
	Defaults map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}
