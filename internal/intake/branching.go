// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package intake

import (
	"sort"

	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// Requirement is the branching engine's view of intake progress.
type Requirement struct {
	// Required lists every question id required so far, sorted.
	Required []string

	// Satisfied lists the required ids that have a current answer.
	Satisfied []string

	// Complete is true when every required question is satisfied.
	Complete bool

	// Progress is satisfied/required, 0 when nothing is required yet.
	Progress float64
}

// NextRequired computes the fixed-point required-question set: the base
// set plus everything branch rules add for current answers, repeated
// until no rule adds a new id. Termination is guaranteed by the
// registry's load-time acyclicity check. The computation always starts
// from scratch: re-answering a question that removes a prior trigger
// drops its dependent questions even if they were already answered.
func NextRequired(answers []types.Answer, reg *registry.Registry) Requirement {
	current := Current(answers)

	required := make(map[string]bool)
	for _, id := range reg.BaseRequired() {
		required[id] = true
	}

	for {
		added := false
		for _, rule := range reg.Branches() {
			if !required[rule.When.Question] {
				// A rule only fires while its source question is
				// itself in play.
				continue
			}
			ans, ok := current[rule.When.Question]
			if !ok || !matches(rule.When, ans.Value) {
				continue
			}
			for _, id := range rule.Requires {
				if !required[id] {
					required[id] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	req := Requirement{}
	for id := range required {
		req.Required = append(req.Required, id)
		if _, ok := current[id]; ok {
			req.Satisfied = append(req.Satisfied, id)
		}
	}
	sort.Strings(req.Required)
	sort.Strings(req.Satisfied)
	req.Complete = len(req.Satisfied) == len(req.Required)
	if len(req.Required) > 0 {
		req.Progress = float64(len(req.Satisfied)) / float64(len(req.Required))
	}
	return req
}

// Missing returns the required ids without a current answer, sorted.
func (r Requirement) Missing() []string {
	satisfied := make(map[string]bool, len(r.Satisfied))
	for _, id := range r.Satisfied {
		satisfied[id] = true
	}
	var missing []string
	for _, id := range r.Required {
		if !satisfied[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// EffectiveAnswers returns the current answer values for questions in
// the fixed-point required set, keyed by question id. Answers whose
// question fell out of the required set after a re-answer are stale:
// they stay in the log for audit but are excluded here, so generators
// never see them.
func EffectiveAnswers(answers []types.Answer, reg *registry.Registry) map[string]any {
	current := Current(answers)
	req := NextRequired(answers, reg)

	effective := make(map[string]any, len(req.Satisfied))
	for _, id := range req.Required {
		if a, ok := current[id]; ok {
			effective[id] = a.Value
		}
	}
	return effective
}

// Defaults collects the document-field defaults of every triggered
// branch rule, applied to the document when intake completes.
func Defaults(answers []types.Answer, reg *registry.Registry) map[string]any {
	current := Current(answers)
	req := NextRequired(answers, reg)
	active := make(map[string]bool, len(req.Required))
	for _, id := range req.Required {
		active[id] = true
	}

	defaults := make(map[string]any)
	for _, rule := range reg.Branches() {
		if !active[rule.When.Question] {
			continue
		}
		ans, ok := current[rule.When.Question]
		if !ok || !matches(rule.When, ans.Value) {
			continue
		}
		for path, v := range rule.Defaults {
			defaults[path] = v
		}
	}
	return defaults
}

// matches evaluates a branch condition against a current answer value.
// Multi-choice answers compare element-wise for eq/in/contains.
func matches(cond types.BranchCondition, value any) bool {
	switch cond.Operator {
	case types.OpAny:
		return true

	case types.OpEq:
		s, ok := value.(string)
		return ok && len(cond.Values) > 0 && s == cond.Values[0]

	case types.OpNe:
		s, ok := value.(string)
		return ok && len(cond.Values) > 0 && s != cond.Values[0]

	case types.OpIn:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, v := range cond.Values {
			if s == v {
				return true
			}
		}
		return false

	case types.OpNotIn:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, v := range cond.Values {
			if s == v {
				return false
			}
		}
		return true

	case types.OpContains:
		list, err := stringSlice(value)
		if err != nil {
			// A scalar answer degrades to equality so single-choice
			// questions can share contains-style rules.
			s, ok := value.(string)
			if !ok {
				return false
			}
			list = []string{s}
		}
		for _, item := range list {
			for _, v := range cond.Values {
				if item == v {
					return true
				}
			}
		}
		return false
	}
	return false
}
