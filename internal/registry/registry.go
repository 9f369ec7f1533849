// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package registry holds the declarative rule registry: intake questions,
// branch rules, validation rules, and the stage pipeline declaration.
// The registry is validated once at load and read-only afterwards; it is
// shared by every workflow instance in the process.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// IntakePrefix is the document field-path prefix under which intake
// answers and branch-rule defaults are merged.
const IntakePrefix = "intake."

// Registry is the validated, immutable rule set.
type Registry struct {
	questions []types.Question
	branches  []types.BranchRule
	rules     []types.ValidationRule
	stages    []types.StageDecl

	byQuestion map[string]types.Question
	byStage    map[string]int
}

// New validates the rule set and builds a Registry. Any inconsistency
// (duplicate or unknown ids, cyclic branch triggers, unrecognized
// predicate kinds, overlapping stage ownership) is a RuleConfigError,
// fatal to process startup.
func New(questions []types.Question, branches []types.BranchRule, rules []types.ValidationRule, stages []types.StageDecl) (*Registry, error) {
	r := &Registry{
		questions:  questions,
		branches:   branches,
		rules:      rules,
		stages:     stages,
		byQuestion: make(map[string]types.Question, len(questions)),
		byStage:    make(map[string]int, len(stages)),
	}

	if err := r.checkQuestions(); err != nil {
		return nil, err
	}
	if err := r.checkBranches(); err != nil {
		return nil, err
	}
	if err := r.checkStages(); err != nil {
		return nil, err
	}
	if err := r.checkValidationRules(); err != nil {
		return nil, err
	}
	return r, nil
}

// Question returns the question with the given id.
func (r *Registry) Question(id string) (types.Question, bool) {
	q, ok := r.byQuestion[id]
	return q, ok
}

// Questions returns all questions in declaration order.
func (r *Registry) Questions() []types.Question { return r.questions }

// Branches returns all branch rules.
func (r *Registry) Branches() []types.BranchRule { return r.branches }

// ValidationRules returns all validation rules.
func (r *Registry) ValidationRules() []types.ValidationRule { return r.rules }

// Stages returns the pipeline stages in order.
func (r *Registry) Stages() []types.StageDecl { return r.stages }

// Stage returns the stage with the given id.
func (r *Registry) Stage(id string) (types.StageDecl, bool) {
	i, ok := r.byStage[id]
	if !ok {
		return types.StageDecl{}, false
	}
	return r.stages[i], true
}

// StageIndex returns the zero-based pipeline position of a stage id,
// or -1 when unknown.
func (r *Registry) StageIndex(id string) int {
	i, ok := r.byStage[id]
	if !ok {
		return -1
	}
	return i
}

// FirstStage returns the first pipeline stage.
func (r *Registry) FirstStage() types.StageDecl { return r.stages[0] }

// FinalStage returns the last pipeline stage.
func (r *Registry) FinalStage() types.StageDecl { return r.stages[len(r.stages)-1] }

// CheckpointOrdinal returns the 1-based position of a checkpoint decl
// among all declared checkpoints, or 0 when the decl id is unknown.
func (r *Registry) CheckpointOrdinal(declID string) int {
	ord := 0
	for _, s := range r.stages {
		if s.Checkpoint == nil {
			continue
		}
		ord++
		if s.Checkpoint.ID == declID {
			return ord
		}
	}
	return 0
}

// FinalCheckpointID returns the decl id of the last declared checkpoint.
// The registry guarantees the final stage declares one.
func (r *Registry) FinalCheckpointID() string {
	return r.FinalStage().Checkpoint.ID
}

// BaseRequired returns the ids of the always-required questions.
func (r *Registry) BaseRequired() []string {
	var ids []string
	for _, q := range r.questions {
		if q.Required {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// ownedPrefixes returns every declared field ownership prefix plus the
// reserved intake prefix, used to resolve field references.
func (r *Registry) ownedPrefixes() []string {
	prefixes := []string{IntakePrefix}
	for _, s := range r.stages {
		prefixes = append(prefixes, s.Fields...)
	}
	return prefixes
}

// FieldOwned reports whether a field-path falls under one of the given
// ownership prefixes. A prefix ending in "." owns its whole subtree;
// otherwise it names a single field.
func FieldOwned(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasSuffix(p, ".") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func (r *Registry) checkQuestions() error {
	if len(r.questions) == 0 {
		return types.NewRuleConfigError("no questions defined")
	}
	validTypes := map[types.AnswerType]bool{
		types.AnswerSingleChoice: true,
		types.AnswerMultiChoice:  true,
		types.AnswerText:         true,
		types.AnswerNumber:       true,
		types.AnswerDate:         true,
	}
	for _, q := range r.questions {
		if q.ID == "" {
			return types.NewRuleConfigError("question with empty id")
		}
		if _, dup := r.byQuestion[q.ID]; dup {
			return types.NewRuleConfigError("duplicate question id %q", q.ID)
		}
		if !validTypes[q.Type] {
			return types.NewRuleConfigError("question %q: unknown answer type %q", q.ID, q.Type)
		}
		switch q.Type {
		case types.AnswerSingleChoice, types.AnswerMultiChoice:
			if len(q.Options) == 0 {
				return types.NewRuleConfigError("question %q: choice type without options", q.ID)
			}
		}
		r.byQuestion[q.ID] = q
	}
	return nil
}

var validOperators = map[string]bool{
	types.OpEq: true, types.OpNe: true, types.OpIn: true,
	types.OpNotIn: true, types.OpContains: true, types.OpAny: true,
}

func (r *Registry) checkBranches() error {
	seen := make(map[string]bool, len(r.branches))
	for _, b := range r.branches {
		if b.ID == "" {
			return types.NewRuleConfigError("branch rule with empty id")
		}
		if seen[b.ID] {
			return types.NewRuleConfigError("duplicate branch rule id %q", b.ID)
		}
		seen[b.ID] = true

		if _, ok := r.byQuestion[b.When.Question]; !ok {
			return types.NewRuleConfigError("branch %q: unknown trigger question %q", b.ID, b.When.Question)
		}
		if !validOperators[b.When.Operator] {
			return types.NewRuleConfigError("branch %q: unknown operator %q", b.ID, b.When.Operator)
		}
		if b.When.Operator != types.OpAny && len(b.When.Values) == 0 {
			return types.NewRuleConfigError("branch %q: operator %q needs values", b.ID, b.When.Operator)
		}
		for _, req := range b.Requires {
			if _, ok := r.byQuestion[req]; !ok {
				return types.NewRuleConfigError("branch %q: unknown required question %q", b.ID, req)
			}
		}
	}
	return r.checkAcyclic()
}

// checkAcyclic rejects any branch rule set whose trigger graph lets a
// question (directly or transitively) gate itself back into the
// required set. Cycles must fail at load, never at runtime: the fixed
// point in the branching engine relies on it.
func (r *Registry) checkAcyclic() error {
	edges := make(map[string][]string)
	for _, b := range r.branches {
		edges[b.When.Question] = append(edges[b.When.Question], b.Requires...)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case done:
			return nil
		case inStack:
			return types.NewRuleConfigError("cyclic branch trigger: %s", strings.Join(append(trail, id), " -> "))
		}
		state[id] = inStack
		for _, next := range edges[id] {
			if err := visit(next, append(trail, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	roots := make([]string, 0, len(edges))
	for id := range edges {
		roots = append(roots, id)
	}
	sort.Strings(roots)
	for _, id := range roots {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkStages() error {
	if len(r.stages) == 0 {
		return types.NewRuleConfigError("no pipeline stages defined")
	}
	ckptIDs := make(map[string]bool)
	for i, s := range r.stages {
		if s.ID == "" {
			return types.NewRuleConfigError("stage %d: empty id", i)
		}
		if _, dup := r.byStage[s.ID]; dup {
			return types.NewRuleConfigError("duplicate stage id %q", s.ID)
		}
		if len(s.Fields) == 0 {
			return types.NewRuleConfigError("stage %q: no owned fields declared", s.ID)
		}
		for _, f := range s.Fields {
			if f == "" || f == IntakePrefix {
				return types.NewRuleConfigError("stage %q: invalid field prefix %q", s.ID, f)
			}
		}
		if s.Checkpoint != nil {
			c := s.Checkpoint
			if c.ID == "" || c.Role == "" {
				return types.NewRuleConfigError("stage %q: checkpoint needs id and role", s.ID)
			}
			if ckptIDs[c.ID] {
				return types.NewRuleConfigError("duplicate checkpoint id %q", c.ID)
			}
			ckptIDs[c.ID] = true
			for _, e := range c.Escalations {
				if e.Field == "" || e.Role == "" || len(e.In) == 0 {
					return types.NewRuleConfigError("checkpoint %q: incomplete escalation rule", c.ID)
				}
			}
		}
		r.byStage[s.ID] = i
	}

	// Ownership prefixes must be disjoint across stages.
	for i, a := range r.stages {
		for _, pa := range a.Fields {
			for j, b := range r.stages {
				if i == j {
					continue
				}
				for _, pb := range b.Fields {
					if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
						return types.NewRuleConfigError(
							"stages %q and %q claim overlapping field ownership (%q, %q)",
							a.ID, b.ID, pa, pb)
					}
				}
			}
		}
	}

	if r.FinalStage().Checkpoint == nil {
		return types.NewRuleConfigError("final stage %q must declare a checkpoint", r.FinalStage().ID)
	}

	// Branch defaults must land under a known prefix.
	prefixes := r.ownedPrefixes()
	for _, b := range r.branches {
		for path := range b.Defaults {
			if !FieldOwned(path, prefixes) {
				return types.NewRuleConfigError("branch %q: default targets undefined field %q", b.ID, path)
			}
		}
	}
	return nil
}

func (r *Registry) checkValidationRules() error {
	validKinds := map[string]bool{
		types.KindSumEquals: true, types.KindForbiddenPair: true,
		types.KindRolesListed: true, types.KindDateOrder: true,
		types.KindRequiresField: true,
	}
	prefixes := r.ownedPrefixes()
	seen := make(map[string]bool, len(r.rules))
	for _, rule := range r.rules {
		if rule.ID == "" {
			return types.NewRuleConfigError("validation rule with empty id")
		}
		if seen[rule.ID] {
			return types.NewRuleConfigError("duplicate validation rule id %q", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Severity != types.SeverityError && rule.Severity != types.SeverityWarning {
			return types.NewRuleConfigError("rule %q: unknown severity %q", rule.ID, rule.Severity)
		}
		if !validKinds[rule.Kind] {
			return types.NewRuleConfigError("rule %q: unknown predicate kind %q", rule.ID, rule.Kind)
		}
		if err := checkRuleShape(rule); err != nil {
			return err
		}
		for _, f := range rule.Fields() {
			if !FieldOwned(f, prefixes) {
				return types.NewRuleConfigError("rule %q: references undefined field %q", rule.ID, f)
			}
		}
	}
	return nil
}

func checkRuleShape(rule types.ValidationRule) error {
	missing := func(what string) error {
		return types.NewRuleConfigError("rule %q (%s): missing %s", rule.ID, rule.Kind, what)
	}
	switch rule.Kind {
	case types.KindSumEquals:
		if rule.PartsField == "" || rule.TotalField == "" {
			return missing("parts_field/total_field")
		}
	case types.KindForbiddenPair:
		if rule.IfField == "" || len(rule.IfIn) == 0 || rule.ThenField == "" || len(rule.NotIn) == 0 {
			return missing("if_field/if_in/then_field/not_in")
		}
	case types.KindRolesListed:
		if rule.RolesField == "" || rule.PersonnelField == "" {
			return missing("roles_field/personnel_field")
		}
	case types.KindDateOrder:
		if rule.StartField == "" || rule.EndField == "" {
			return missing("start_field/end_field")
		}
	case types.KindRequiresField:
		if rule.IfField == "" || rule.RequireField == "" {
			return missing("if_field/require_field")
		}
	}
	return nil
}

// String summarizes the registry for startup logs.
func (r *Registry) String() string {
	gates := 0
	for _, s := range r.stages {
		if s.Checkpoint != nil {
			gates++
		}
	}
	return fmt.Sprintf("registry: %d questions, %d branch rules, %d validation rules, %d stages, %d checkpoints",
		len(r.questions), len(r.branches), len(r.rules), len(r.stages), gates)
}
