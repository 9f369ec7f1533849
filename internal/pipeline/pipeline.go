// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the staged drafting loop: it feeds each stage a
// bundle of effective answers, document snapshot, and knowledge
// snippets, merges the stage's output into the aggregate, and parks the
// workflow at every declared review gate until a human decides.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rtolwani/iacuc-protocol-generator/internal/checkpoint"
	"github.com/rtolwani/iacuc-protocol-generator/internal/document"
	"github.com/rtolwani/iacuc-protocol-generator/internal/intake"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/internal/validate"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// RetryBaseDelay is the first retry backoff; each further attempt
// doubles it. Tests shrink this.
var RetryBaseDelay = 500 * time.Millisecond

// Snippet is one ranked knowledge-base excerpt handed to a stage.
type Snippet struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
	Score float64  `json:"score"`
}

// Searcher resolves a stage's declared search into ranked snippets.
type Searcher interface {
	Search(ctx context.Context, query string, tags []string, topK int) ([]Snippet, error)
}

// InputBundle is everything a stage sees. Stages are pure functions of
// their bundle; they never reach back into the workflow.
type InputBundle struct {
	WorkflowID string
	Stage      types.StageDecl

	// Answers are the effective intake answers, keyed by question id.
	// Superseded and stale answers are excluded.
	Answers map[string]any

	// Document is a snapshot of the aggregate; mutating it has no
	// effect on the workflow. DocumentVersion is the aggregate version
	// the snapshot was taken at and is the base for merging the
	// stage's output.
	Document        map[string]any
	DocumentVersion int64

	// Snippets are the resolved knowledge results, best first. Empty
	// when the stage declares no search.
	Snippets []Snippet

	// Revision and ReviewerComments carry the latest send-back context
	// when the stage re-runs after a rejection.
	Revision         int
	ReviewerComments string
	ReviewerIssues   []string
}

// Generator produces a stage's document fields from its input bundle.
// Returned keys must fall under the stage's declared ownership.
type Generator interface {
	Generate(ctx context.Context, in InputBundle) (map[string]any, error)
}

// Orchestrator drives workflow instances through the stage pipeline.
// It mutates the instance it is handed; persistence is the caller's
// concern.
type Orchestrator struct {
	reg      *registry.Registry
	gen      Generator
	searcher Searcher
	cfg      types.EngineConfig
	progress io.Writer

	now func() time.Time
}

// New builds an orchestrator. searcher may be nil when no knowledge
// base is configured; stages declaring a search then run with no
// snippets.
func New(reg *registry.Registry, gen Generator, searcher Searcher, cfg types.EngineConfig, progress io.Writer) *Orchestrator {
	if progress == nil {
		progress = io.Discard
	}
	return &Orchestrator{
		reg:      reg,
		gen:      gen,
		searcher: searcher,
		cfg:      cfg.WithDefaults(),
		progress: progress,
		now:      time.Now,
	}
}

// Run advances the workflow until it parks: at a pending review gate,
// at a stall, or at completion. Run is also how a workflow resumes
// after an approval or a send-back; the loop picks up from the stored
// position. Calling Run on a workflow parked at a pending gate is a
// no-op.
func (o *Orchestrator) Run(ctx context.Context, w *types.WorkflowInstance) error {
	if w.Status.Terminal() {
		return &types.InvalidTransitionError{Msg: "workflow is " + string(w.Status)}
	}
	if w.Status == types.StatusStalled {
		return fmt.Errorf("workflow %s: %w: %s", w.ID, types.ErrStalled, w.StallReason)
	}

	for {
		switch w.Position {
		case types.PositionIntake:
			if err := o.finishIntake(w); err != nil {
				return err
			}

		case types.PositionValidating:
			if err := o.finalValidation(w); err != nil {
				return err
			}

		case types.PositionComplete:
			return nil

		default:
			parked, err := o.advanceStage(ctx, w)
			if err != nil || parked {
				return err
			}
		}
	}
}

// finishIntake merges the effective answers and branch defaults into
// the aggregate and moves the workflow onto the first stage. Incomplete
// intake is a caller error, not a stall.
func (o *Orchestrator) finishIntake(w *types.WorkflowInstance) error {
	req := intake.NextRequired(w.Answers, o.reg)
	if !req.Complete {
		return types.NewInputError("intake incomplete: missing %s", strings.Join(req.Missing(), ", "))
	}

	answers := intake.EffectiveAnswers(w.Answers, o.reg)
	document.MergeIntake(&w.Document, answers, intake.Defaults(w.Answers, o.reg))

	w.Position = o.reg.FirstStage().ID
	w.Status = types.StatusRunning
	w.History = append(w.History, types.TransitionRecord{
		At:   o.now().UTC(),
		Note: fmt.Sprintf("intake complete: %d answers merged", len(answers)),
	})
	w.UpdatedAt = o.now().UTC()
	fmt.Fprintf(o.progress, "[%s] intake complete, entering stage %s\n", w.ID, w.Position)
	return nil
}

// advanceStage handles the stage at the current position. It returns
// parked=true when the workflow stops here (pending gate or stall).
func (o *Orchestrator) advanceStage(ctx context.Context, w *types.WorkflowInstance) (parked bool, err error) {
	stage, ok := o.reg.Stage(w.Position)
	if !ok {
		return true, fmt.Errorf("workflow %s: unknown position %q", w.ID, w.Position)
	}

	if stage.Checkpoint != nil {
		switch gate := checkpoint.Find(w, stage.Checkpoint.ID); {
		case gate == nil:
			// Stage has not produced output for review yet.
		case gate.Status == types.CheckpointPending:
			w.Status = types.StatusAwaitingReview
			return true, nil
		case gate.Status == types.CheckpointApproved && stageHasOutput(w, stage):
			o.moveOn(w, stage)
			return false, nil
		}
		// Rejected, sent back, or cleared for an operator re-run: fall
		// through and run the stage again.
	}

	if err := o.runStage(ctx, w, stage); err != nil {
		return true, err
	}

	if stage.Checkpoint != nil {
		findings := validate.Validate(&w.Document, o.reg, o.now())
		w.Findings = findings
		rec := checkpoint.CreateGate(w, o.reg, stage, findings, o.now())
		fmt.Fprintf(o.progress, "[%s] stage %s awaiting %s (%s)\n", w.ID, stage.ID, rec.Role, rec.DeclID)
		return true, nil
	}

	o.moveOn(w, stage)
	return false, nil
}

// stageHasOutput reports whether any document field under the stage's
// ownership is present.
func stageHasOutput(w *types.WorkflowInstance, stage types.StageDecl) bool {
	for _, p := range document.Paths(&w.Document) {
		if registry.FieldOwned(p, stage.Fields) {
			return true
		}
	}
	return false
}

// moveOn advances the position past a finished stage.
func (o *Orchestrator) moveOn(w *types.WorkflowInstance, stage types.StageDecl) {
	idx := o.reg.StageIndex(stage.ID)
	if idx == len(o.reg.Stages())-1 {
		w.Position = types.PositionValidating
	} else {
		w.Position = o.reg.Stages()[idx+1].ID
	}
	w.Status = types.StatusRunning
	w.UpdatedAt = o.now().UTC()
}

// runStage executes the generator with retry. Transient failures back
// off exponentially up to the configured attempt bound; a permanent
// failure or an exhausted bound stalls the workflow.
func (o *Orchestrator) runStage(ctx context.Context, w *types.WorkflowInstance, stage types.StageDecl) error {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return o.stall(w, stage, ctx.Err())
			}
			fmt.Fprintf(o.progress, "[%s] stage %s retry %d\n", w.ID, stage.ID, attempt)
		}

		lastErr = o.attemptStage(ctx, w, stage)
		if lastErr == nil {
			w.History = append(w.History, types.TransitionRecord{
				At:   o.now().UTC(),
				Note: "stage " + stage.ID + " completed",
			})
			w.UpdatedAt = o.now().UTC()
			return nil
		}
		if types.StageKind(lastErr) == types.StagePermanent {
			return o.stall(w, stage, lastErr)
		}
	}
	return o.stall(w, stage, lastErr)
}

func (o *Orchestrator) attemptStage(ctx context.Context, w *types.WorkflowInstance, stage types.StageDecl) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	bundle, err := o.buildBundle(ctx, w, stage)
	if err != nil {
		return err
	}

	out, err := o.gen.Generate(ctx, bundle)
	if err != nil {
		return err
	}

	if err := document.Merge(&w.Document, stage, out, bundle.DocumentVersion); err != nil {
		if errors.Is(err, types.ErrVersionConflict) {
			// The document moved while the stage was generating; the
			// bundle is stale, so rebuild it and try again.
			return &types.StageError{Stage: stage.ID, Kind: types.StageTransient, Err: err}
		}
		return err
	}
	return nil
}

func (o *Orchestrator) buildBundle(ctx context.Context, w *types.WorkflowInstance, stage types.StageDecl) (InputBundle, error) {
	bundle := InputBundle{
		WorkflowID:      w.ID,
		Stage:           stage,
		Answers:         intake.EffectiveAnswers(w.Answers, o.reg),
		Document:        document.Snapshot(&w.Document),
		DocumentVersion: w.Document.Version,
	}

	if stage.Checkpoint != nil {
		if gate := checkpoint.Find(w, stage.Checkpoint.ID); gate != nil && gate.Status != types.CheckpointApproved && gate.Status.Decided() {
			bundle.Revision = gate.RevisionCount + 1
			bundle.ReviewerComments = gate.Comments
			bundle.ReviewerIssues = gate.Issues
		}
	}

	if stage.Search != nil && o.searcher != nil {
		query := expandQuery(stage.Search.Query, bundle.Answers)
		topK := stage.Search.TopK
		if topK == 0 {
			topK = o.cfg.SearchTopK
		}
		snippets, err := o.searcher.Search(ctx, query, stage.Search.Tags, topK)
		if err != nil {
			return bundle, &types.StageError{Stage: stage.ID, Kind: types.StageTransient,
				Err: fmt.Errorf("knowledge search: %w", err)}
		}
		bundle.Snippets = snippets
	}
	return bundle, nil
}

// expandQuery splices effective answer values into {answer:question_id}
// placeholders. Unanswered placeholders expand to nothing. The scan is
// a single left-to-right pass over the template; spliced answer text is
// never rescanned, so placeholder-shaped answer values stay literal.
func expandQuery(query string, answers map[string]any) string {
	var out strings.Builder
	for {
		start := strings.Index(query, "{answer:")
		if start < 0 {
			break
		}
		end := strings.Index(query[start:], "}")
		if end < 0 {
			break
		}
		end += start
		id := query[start+len("{answer:") : end]
		out.WriteString(query[:start])
		if v, ok := answers[id]; ok {
			out.WriteString(answerText(v))
		}
		query = query[end+1:]
	}
	out.WriteString(query)
	return strings.Join(strings.Fields(out.String()), " ")
}

func answerText(v any) string {
	switch av := v.(type) {
	case string:
		return av
	case []string:
		return strings.Join(av, " ")
	case []any:
		parts := make([]string, 0, len(av))
		for _, p := range av {
			parts = append(parts, fmt.Sprintf("%v", p))
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("%v", v)
}

func (o *Orchestrator) stall(w *types.WorkflowInstance, stage types.StageDecl, cause error) error {
	w.Status = types.StatusStalled
	w.StallReason = fmt.Sprintf("stage %s: %v", stage.ID, cause)
	w.History = append(w.History, types.TransitionRecord{
		At:   o.now().UTC(),
		Note: "stalled at stage " + stage.ID + ": " + cause.Error(),
	})
	w.UpdatedAt = o.now().UTC()
	fmt.Fprintf(o.progress, "[%s] stalled at stage %s: %v\n", w.ID, stage.ID, cause)
	return fmt.Errorf("workflow %s: %w: %v", w.ID, types.ErrStalled, cause)
}

// finalValidation runs the last consistency pass after the final gate
// approves. Error findings at this point stall the instance for an
// operator; the assembled document is preserved for inspection.
func (o *Orchestrator) finalValidation(w *types.WorkflowInstance) error {
	findings := validate.Validate(&w.Document, o.reg, o.now())
	w.Findings = findings
	if validate.Errors(findings) {
		w.Status = types.StatusStalled
		w.StallReason = fmt.Sprintf("final validation found %d findings", len(findings))
		w.History = append(w.History, types.TransitionRecord{
			At:   o.now().UTC(),
			Note: w.StallReason,
		})
		w.UpdatedAt = o.now().UTC()
		return fmt.Errorf("workflow %s: %w: %s", w.ID, types.ErrStalled, w.StallReason)
	}

	w.Position = types.PositionComplete
	w.Status = types.StatusComplete
	w.History = append(w.History, types.TransitionRecord{
		At:   o.now().UTC(),
		Note: "protocol draft complete",
	})
	w.UpdatedAt = o.now().UTC()
	fmt.Fprintf(o.progress, "[%s] complete at document version %d\n", w.ID, w.Document.Version)
	return nil
}

// RerunStage clears a stall and re-enters the pipeline at the given
// stage. The stage's owned fields are cleared first so the re-run
// regenerates them.
func (o *Orchestrator) RerunStage(ctx context.Context, w *types.WorkflowInstance, stageID string) error {
	if w.Status.Terminal() {
		return &types.InvalidTransitionError{Msg: "workflow is " + string(w.Status)}
	}
	stage, ok := o.reg.Stage(stageID)
	if !ok {
		return types.NewInputError("unknown stage %q", stageID)
	}

	document.ClearStage(&w.Document, stage)
	w.Position = stage.ID
	w.Status = types.StatusRunning
	w.StallReason = ""
	w.History = append(w.History, types.TransitionRecord{
		At:   o.now().UTC(),
		Note: "operator re-run from stage " + stage.ID,
	})
	w.UpdatedAt = o.now().UTC()
	return o.Run(ctx, w)
}

// Abandon terminates the workflow permanently. Already-terminal
// workflows cannot be abandoned again.
func (o *Orchestrator) Abandon(w *types.WorkflowInstance, reason string) error {
	if w.Status.Terminal() {
		return &types.InvalidTransitionError{Msg: "workflow is " + string(w.Status)}
	}
	w.Status = types.StatusAbandoned
	w.History = append(w.History, types.TransitionRecord{
		At:   o.now().UTC(),
		Note: "abandoned: " + reason,
	})
	w.UpdatedAt = o.now().UTC()
	return nil
}
