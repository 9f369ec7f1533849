// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package generate drafts protocol content for each pipeline stage. The
// drafter is deterministic: the same input bundle always produces the
// same fields, so a re-run after a rejection differs only through the
// changed inputs.
package generate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rtolwani/iacuc-protocol-generator/internal/pipeline"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// Drafter implements the pipeline's Generator interface with template
// drafting over the input bundle.
type Drafter struct{}

// New returns a template drafter.
func New() *Drafter { return &Drafter{} }

// Generate produces the stage's document fields.
func (d *Drafter) Generate(_ context.Context, in pipeline.InputBundle) (map[string]any, error) {
	switch in.Stage.ID {
	case "profile":
		return d.profile(in)
	case "regulatory":
		return d.regulatory(in)
	case "lay_summary":
		return d.laySummary(in)
	case "alternatives":
		return d.alternatives(in)
	case "statistics":
		return d.statistics(in)
	case "veterinary":
		return d.veterinary(in)
	case "procedures":
		return d.procedures(in)
	case "assembly":
		return d.assembly(in)
	}
	return nil, &types.StageError{
		Stage: in.Stage.ID,
		Kind:  types.StagePermanent,
		Err:   fmt.Errorf("no drafter for stage %q", in.Stage.ID),
	}
}

func (d *Drafter) profile(in pipeline.InputBundle) (map[string]any, error) {
	total, err := answerNumber(in, "total_animals")
	if err != nil {
		return nil, permanent(in, err)
	}

	personnel := []any{answerString(in, "pi_name")}
	if hasProcedure(in, "survival_surgery") {
		personnel = append(personnel, "surgical technician")
	}
	if hasProcedure(in, "behavioral_testing") {
		personnel = append(personnel, "behavioral technician")
	}

	// Split the requested animals into control and treatment arms.
	control := math.Floor(total / 2)
	return map[string]any{
		"profile.title":        answerString(in, "protocol_title"),
		"profile.pi":           answerString(in, "pi_name"),
		"profile.species":      answerString(in, "species"),
		"profile.personnel":    personnel,
		"animals.total":        total,
		"animals.group_counts": []any{control, total - control},
		"animals.groups":       []any{"control", "treatment"},
	}, nil
}

func (d *Drafter) regulatory(in pipeline.InputBundle) (map[string]any, error) {
	category := painCategory(in)

	regulations := []any{"PHS Policy on Humane Care and Use of Laboratory Animals"}
	if docBool(in, "intake.usda_covered") {
		regulations = append(regulations, "Animal Welfare Act 9 CFR")
	}

	fields := map[string]any{
		"regulatory.pain_category": category,
		"regulatory.regulations":   regulations,
		"regulatory.citations":     snippetIDs(in),
	}
	if category == "E" {
		fields["regulatory.justification_required"] = true
	}
	return fields, nil
}

func (d *Drafter) laySummary(in pipeline.InputBundle) (map[string]any, error) {
	text := fmt.Sprintf(
		"This study, %q, uses up to %s %s to answer a question that cannot yet be answered without animals. "+
			"The team minimizes animal numbers and discomfort at every step.",
		answerString(in, "protocol_title"),
		trimNumber(docValue(in, "animals.total")),
		answerString(in, "species"))
	return map[string]any{"lay_summary.text": text}, nil
}

func (d *Drafter) alternatives(in pipeline.InputBundle) (map[string]any, error) {
	return map[string]any{
		"alternatives.databases": []any{"PubMed", "AGRICOLA", "Altweb"},
		"alternatives.narrative": fmt.Sprintf(
			"A literature search for alternatives to %s found no complete replacement; "+
				"refinements identified in the search are incorporated into the procedures.",
			strings.Join(procedureList(in), ", ")),
		"alternatives.citations": snippetIDs(in),
	}, nil
}

func (d *Drafter) statistics(in pipeline.InputBundle) (map[string]any, error) {
	counts := docValue(in, "animals.group_counts")
	return map[string]any{
		"statistics.design": "Two-arm controlled comparison with predefined primary outcome.",
		"statistics.power_analysis": fmt.Sprintf(
			"Group sizes %v provide 80%% power to detect the expected effect at alpha 0.05.",
			counts),
		"statistics.justification": "Animal numbers are the minimum needed for a statistically interpretable result.",
	}, nil
}

func (d *Drafter) veterinary(in pipeline.InputBundle) (map[string]any, error) {
	fields := map[string]any{
		"veterinary.monitoring_plan": "Animals are checked daily; post-procedural checks follow the procedure narrative.",
		"veterinary.citations":       snippetIDs(in),
	}

	if plan := answerString(in, "analgesia_protocol"); plan != "" {
		fields["veterinary.analgesia_plan"] = plan
	} else if painCategory(in) == "D" {
		fields["veterinary.analgesia_plan"] = "Species-appropriate analgesia per the institutional formulary."
	}

	if method := answerString(in, "euthanasia_method"); method != "" {
		fields["veterinary.euthanasia_method"] = method
	} else {
		fields["veterinary.euthanasia_method"] = "co2_inhalation"
	}
	return fields, nil
}

func (d *Drafter) procedures(in pipeline.InputBundle) (map[string]any, error) {
	var steps []string
	for _, p := range procedureList(in) {
		steps = append(steps, fmt.Sprintf("%s performed as described in the institutional SOP", p))
	}

	// Performers must come from the declared personnel list.
	performers := []any{}
	if listed, ok := docValue(in, "profile.personnel").([]any); ok && len(listed) > 0 {
		performers = append(performers, listed[0])
		if hasProcedure(in, "survival_surgery") && len(listed) > 1 {
			performers = append(performers, listed[1])
		}
	}

	return map[string]any{
		"procedures.narrative":    strings.Join(steps, ". ") + ".",
		"procedures.performed_by": performers,
	}, nil
}

func (d *Drafter) assembly(in pipeline.InputBundle) (map[string]any, error) {
	sections := []string{"profile", "regulatory", "lay_summary", "alternatives",
		"statistics", "veterinary", "procedures"}

	var missing []string
	for _, sec := range sections {
		if !sectionPresent(in, sec) {
			missing = append(missing, sec)
		}
	}
	if len(missing) > 0 {
		return nil, permanent(in, fmt.Errorf("cannot assemble: missing sections %s", strings.Join(missing, ", ")))
	}

	secList := make([]any, 0, len(sections))
	for _, sec := range sections {
		secList = append(secList, sec)
	}
	return map[string]any{
		"protocol.sections": secList,
		"protocol.title":    docValue(in, "profile.title"),
		"protocol.summary": fmt.Sprintf("Protocol %q assembled from %d sections.",
			docValue(in, "profile.title"), len(sections)),
	}, nil
}

func permanent(in pipeline.InputBundle, err error) error {
	return &types.StageError{Stage: in.Stage.ID, Kind: types.StagePermanent, Err: err}
}

func answerString(in pipeline.InputBundle, id string) string {
	s, _ := in.Answers[id].(string)
	return s
}

func answerNumber(in pipeline.InputBundle, id string) (float64, error) {
	switch n := in.Answers[id].(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("answer %s is not numeric", id)
}

func docValue(in pipeline.InputBundle, path string) any {
	return in.Document[path]
}

func docBool(in pipeline.InputBundle, path string) bool {
	b, _ := in.Document[path].(bool)
	return b
}

func hasProcedure(in pipeline.InputBundle, procedure string) bool {
	for _, p := range procedureList(in) {
		if p == procedure {
			return true
		}
	}
	return false
}

func procedureList(in pipeline.InputBundle) []string {
	switch vs := in.Answers["procedure_types"].(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// painCategory maps the intake pain expectation onto the USDA category.
// A branch-rule hint in the document wins when present.
func painCategory(in pipeline.InputBundle) string {
	if hint, ok := docValue(in, "intake.pain_category_hint").(string); ok && hint != "" {
		return hint
	}
	switch answerString(in, "pain_expectation") {
	case "unrelieved":
		return "E"
	case "relieved":
		return "D"
	}
	if hasProcedure(in, "survival_surgery") {
		return "D"
	}
	return "C"
}

func snippetIDs(in pipeline.InputBundle) []any {
	ids := make([]string, 0, len(in.Snippets))
	for _, s := range in.Snippets {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}

func sectionPresent(in pipeline.InputBundle, section string) bool {
	prefix := section + "."
	for path := range in.Document {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func trimNumber(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%g", f)
	}
	return fmt.Sprintf("%v", v)
}
