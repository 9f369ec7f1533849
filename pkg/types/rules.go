// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Severity grades a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Predicate kinds understood by the consistency validator. Each kind is
// compiled into a pure predicate over document field-paths when the
// registry loads; an unrecognized kind is a load-time error.
const (
	// KindSumEquals: the numbers in PartsField must sum to TotalField.
	KindSumEquals = "sum_equals"

	// KindForbiddenPair: when IfField's value is in IfIn, ThenField's
	// value must not be in NotIn.
	KindForbiddenPair = "forbidden_pair"

	// KindRolesListed: every role named in RolesField must appear in
	// the PersonnelField list.
	KindRolesListed = "roles_listed"

	// KindDateOrder: EndField must not precede StartField, and the span
	// must not exceed MaxSpanDays when positive.
	KindDateOrder = "date_order"

	// KindRequiresField: when IfField's value is in IfIn (or merely
	// present, if IfIn is empty), RequireField must be present.
	KindRequiresField = "requires_field"
)

// ValidationRule is one declarative consistency check over the document
// aggregate. Predicates are side-effect-free and deterministic for the
// same field values.
type ValidationRule struct {
	// ID is the unique rule identifier, used to order findings.
	ID string `json:"id" yaml:"id"`

	// Description explains the check to reviewers.
	Description string `json:"description" yaml:"description"`

	// Severity grades failures: error or warning.
	Severity Severity `json:"severity" yaml:"severity"`

	// Kind selects the predicate; see the Kind constants.
	Kind string `json:"kind" yaml:"kind"`

	// sum_equals
	PartsField string `json:"parts_field,omitempty" yaml:"parts_field,omitempty"`
	TotalField string `json:"total_field,omitempty" yaml:"total_field,omitempty"`

	// forbidden_pair, requires_field
	IfField string   `json:"if_field,omitempty" yaml:"if_field,omitempty"`
	IfIn    []string `json:"if_in,omitempty" yaml:"if_in,omitempty"`

	// forbidden_pair
	ThenField string   `json:"then_field,omitempty" yaml:"then_field,omitempty"`
	NotIn     []string `json:"not_in,omitempty" yaml:"not_in,omitempty"`

	// requires_field
	RequireField string `json:"require_field,omitempty" yaml:"require_field,omitempty"`

	// roles_listed
	RolesField     string `json:"roles_field,omitempty" yaml:"roles_field,omitempty"`
	PersonnelField string `json:"personnel_field,omitempty" yaml:"personnel_field,omitempty"`

	// date_order
	StartField  string `json:"start_field,omitempty" yaml:"start_field,omitempty"`
	EndField    string `json:"end_field,omitempty" yaml:"end_field,omitempty"`
	MaxSpanDays int    `json:"max_span_days,omitempty" yaml:"max_span_days,omitempty"`
}

// Fields returns the field-paths the rule reads.
func (r ValidationRule) Fields() []string {
	var fields []string
	add := func(f string) {
		if f != "" {
			fields = append(fields, f)
		}
	}
	add(r.PartsField)
	add(r.TotalField)
	add(r.IfField)
	add(r.ThenField)
	add(r.RequireField)
	add(r.RolesField)
	add(r.PersonnelField)
	add(r.StartField)
	add(r.EndField)
	return fields
}

// Finding is one validation rule's output for a pass. A rule that passes
// produces no Finding. Each validation pass fully replaces the prior
// findings for a workflow instance.
type Finding struct {
	// RuleID names the rule that produced the finding.
	RuleID string `json:"rule_id" yaml:"rule_id"`

	// Severity is copied from the rule.
	Severity Severity `json:"severity" yaml:"severity"`

	// Message describes the inconsistency.
	Message string `json:"message" yaml:"message"`

	// Fields lists the field-paths implicated.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`

	// At is when the pass produced the finding.
	At time.Time `json:"at" yaml:"at"`
}
