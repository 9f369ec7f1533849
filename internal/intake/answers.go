// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package intake manages the append-only answer log and the adaptive
// question branching that decides which inputs are still required.
package intake

import (
	"time"

	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

const dateLayout = "2006-01-02"

// Submit validates value against the question's declared type and
// appends it to the workflow's answer log. A prior answer for the same
// question is superseded, never edited: concurrent writes to one
// question id serialize in server-observed order, the later write
// superseding the earlier. The full log survives for audit.
func Submit(w *types.WorkflowInstance, reg *registry.Registry, questionID string, value any, now time.Time) error {
	q, ok := reg.Question(questionID)
	if !ok {
		return types.NewInputError("unknown question id %q", questionID)
	}

	typed, err := coerce(q, value)
	if err != nil {
		return err
	}

	ans := types.Answer{
		Seq:      len(w.Answers) + 1,
		Question: questionID,
		Value:    typed,
		At:       now.UTC(),
	}
	if prev, ok := Current(w.Answers)[questionID]; ok {
		ans.Supersedes = prev.Seq
	}
	w.Answers = append(w.Answers, ans)
	return nil
}

// Current returns the non-superseded answer per question id. Later
// appends win by construction of the log.
func Current(answers []types.Answer) map[string]types.Answer {
	current := make(map[string]types.Answer, len(answers))
	for _, a := range answers {
		current[a.Question] = a
	}
	return current
}

// coerce checks and normalizes a submitted value for a question.
// Choice values must come from the option set; dates use YYYY-MM-DD.
func coerce(q types.Question, value any) (any, error) {
	switch q.Type {
	case types.AnswerSingleChoice:
		s, ok := value.(string)
		if !ok {
			return nil, types.NewInputError("question %q expects a single choice value", q.ID)
		}
		if !optionAllowed(q, s) {
			return nil, types.NewInputError("question %q: %q is not an option", q.ID, s)
		}
		return s, nil

	case types.AnswerMultiChoice:
		values, err := stringSlice(value)
		if err != nil {
			return nil, types.NewInputError("question %q expects a list of choices", q.ID)
		}
		for _, v := range values {
			if !optionAllowed(q, v) {
				return nil, types.NewInputError("question %q: %q is not an option", q.ID, v)
			}
		}
		return values, nil

	case types.AnswerText:
		s, ok := value.(string)
		if !ok || s == "" {
			return nil, types.NewInputError("question %q expects non-empty text", q.ID)
		}
		return s, nil

	case types.AnswerNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, types.NewInputError("question %q expects a number", q.ID)
		}

	case types.AnswerDate:
		s, ok := value.(string)
		if !ok {
			return nil, types.NewInputError("question %q expects a date string", q.ID)
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, types.NewInputError("question %q: %q is not a YYYY-MM-DD date", q.ID, s)
		}
		return s, nil
	}
	return nil, types.NewInputError("question %q has unsupported type %q", q.ID, q.Type)
}

func optionAllowed(q types.Question, v string) bool {
	for _, o := range q.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// stringSlice accepts []string directly or []any of strings (the shape
// JSON round-tripping produces).
func stringSlice(value any) ([]string, error) {
	switch vs := value.(type) {
	case []string:
		return vs, nil
	case []any:
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			s, ok := v.(string)
			if !ok {
				return nil, types.NewInputError("not a string list")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, types.NewInputError("not a string list")
}
