// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import "github.com/rtolwani/iacuc-protocol-generator/pkg/types"

// Default returns the built-in IACUC rule set: the base intake
// questionnaire, species- and procedure-driven branches, the protocol
// consistency rules, and the eight-stage drafting pipeline with its
// five review checkpoints.
func Default() *Registry {
	reg, err := New(defaultQuestions(), defaultBranches(), defaultRules(), defaultStages())
	if err != nil {
		// The built-in set is validated by tests; failing here means
		// the binary itself is broken.
		panic(err)
	}
	return reg
}

func choices(values ...string) []types.Option {
	opts := make([]types.Option, 0, len(values))
	for _, v := range values {
		opts = append(opts, types.Option{Value: v, Label: v})
	}
	return opts
}

func defaultQuestions() []types.Question {
	return []types.Question{
		// Base set, always required.
		{ID: "protocol_title", Prompt: "Protocol title", Type: types.AnswerText, Required: true},
		{ID: "pi_name", Prompt: "Principal Investigator", Type: types.AnswerText, Required: true},
		{ID: "species", Prompt: "Species to be used", Type: types.AnswerSingleChoice, Required: true,
			Options: choices("mouse", "rat", "rabbit", "zebrafish", "pig", "primate")},
		{ID: "total_animals", Prompt: "Total number of animals requested", Type: types.AnswerNumber, Required: true},
		{ID: "procedure_types", Prompt: "Procedures to be performed", Type: types.AnswerMultiChoice, Required: true,
			Options: choices("survival_surgery", "non_survival", "injections", "blood_collection",
				"behavioral_testing", "imaging", "breeding"),
			Help: "Select every procedure class animals will undergo."},
		{ID: "pain_expectation", Prompt: "Expected pain or distress", Type: types.AnswerSingleChoice, Required: true,
			Options: choices("none", "relieved", "unrelieved")},
		{ID: "start_date", Prompt: "Study start date", Type: types.AnswerDate, Required: true},
		{ID: "end_date", Prompt: "Study end date", Type: types.AnswerDate, Required: true},

		// Asked only when a branch rule triggers them.
		{ID: "surgeon_training", Prompt: "Surgical training and experience of personnel", Type: types.AnswerText},
		{ID: "aseptic_confirmation", Prompt: "Will aseptic technique be used?", Type: types.AnswerSingleChoice,
			Options: choices("yes", "no")},
		{ID: "post_op_monitoring", Prompt: "Post-operative monitoring plan", Type: types.AnswerText},
		{ID: "anesthesia_protocol", Prompt: "Anesthesia protocol for terminal procedures", Type: types.AnswerText},
		{ID: "euthanasia_method", Prompt: "Euthanasia method", Type: types.AnswerSingleChoice,
			Options: choices("co2_inhalation", "anesthetic_overdose", "cervical_dislocation", "perfusion")},
		{ID: "analgesia_protocol", Prompt: "Analgesia plan (agents, doses, schedule)", Type: types.AnswerText},
		{ID: "category_e_justification", Prompt: "Scientific justification for withholding pain relief", Type: types.AnswerText,
			Help: "Required for any procedure where pain or distress goes unrelieved."},
		{ID: "primate_enrichment", Prompt: "Environmental enrichment plan for primates", Type: types.AnswerText},
		{ID: "primate_housing", Prompt: "Social housing arrangement for primates", Type: types.AnswerText},
		{ID: "usda_justification", Prompt: "Justification for use of a USDA-covered species", Type: types.AnswerText},
	}
}

func defaultBranches() []types.BranchRule {
	return []types.BranchRule{
		{
			ID:   "surgery_branch",
			When: types.BranchCondition{Question: "procedure_types", Operator: types.OpContains, Values: []string{"survival_surgery"}},
			Requires: []string{"surgeon_training", "aseptic_confirmation", "post_op_monitoring"},
			Defaults: map[string]any{"intake.survival_surgery": true},
		},
		{
			ID:   "terminal_branch",
			When: types.BranchCondition{Question: "procedure_types", Operator: types.OpContains, Values: []string{"non_survival"}},
			Requires: []string{"anesthesia_protocol", "euthanasia_method"},
		},
		{
			ID:   "pain_relieved_branch",
			When: types.BranchCondition{Question: "pain_expectation", Operator: types.OpEq, Values: []string{"relieved"}},
			Requires: []string{"analgesia_protocol"},
			Defaults: map[string]any{"intake.pain_category_hint": "D"},
		},
		{
			ID:   "pain_unrelieved_branch",
			When: types.BranchCondition{Question: "pain_expectation", Operator: types.OpEq, Values: []string{"unrelieved"}},
			Requires: []string{"category_e_justification"},
			Defaults: map[string]any{"intake.pain_category_hint": "E"},
		},
		{
			ID:   "primate_branch",
			When: types.BranchCondition{Question: "species", Operator: types.OpEq, Values: []string{"primate"}},
			Requires: []string{"primate_enrichment", "primate_housing"},
		},
		{
			ID:   "usda_branch",
			When: types.BranchCondition{Question: "species", Operator: types.OpIn, Values: []string{"rabbit", "pig", "primate"}},
			Requires: []string{"usda_justification"},
			Defaults: map[string]any{"intake.usda_covered": true},
		},
	}
}

func defaultRules() []types.ValidationRule {
	return []types.ValidationRule{
		{
			ID:          "group_counts_sum",
			Description: "Experimental group sizes must sum to the declared animal total",
			Severity:    types.SeverityError,
			Kind:        types.KindSumEquals,
			PartsField:  "animals.group_counts",
			TotalField:  "animals.total",
		},
		{
			ID:          "pain_category_vs_procedures",
			Description: "Procedures implying unrelieved pain cannot carry the no-distress category",
			Severity:    types.SeverityError,
			Kind:        types.KindForbiddenPair,
			IfField:     "intake.procedure_types",
			IfIn:        []string{"survival_surgery"},
			ThenField:   "regulatory.pain_category",
			NotIn:       []string{"B", "C"},
		},
		{
			ID:             "procedure_roles_listed",
			Description:    "Every role performing a procedure must appear in the personnel list",
			Severity:       types.SeverityError,
			Kind:           types.KindRolesListed,
			RolesField:     "procedures.performed_by",
			PersonnelField: "profile.personnel",
		},
		{
			ID:          "study_dates_ordered",
			Description: "The study end date must not precede the start date and may span at most three years",
			Severity:    types.SeverityError,
			Kind:        types.KindDateOrder,
			StartField:  "intake.start_date",
			EndField:    "intake.end_date",
			MaxSpanDays: 1095,
		},
		{
			ID:           "category_d_needs_analgesia",
			Description:  "Pain category D requires a documented analgesia plan",
			Severity:     types.SeverityError,
			Kind:         types.KindRequiresField,
			IfField:      "regulatory.pain_category",
			IfIn:         []string{"D"},
			RequireField: "veterinary.analgesia_plan",
		},
		{
			ID:           "terminal_needs_euthanasia",
			Description:  "Terminal procedures require a stated euthanasia method",
			Severity:     types.SeverityWarning,
			Kind:         types.KindRequiresField,
			IfField:      "intake.procedure_types",
			IfIn:         []string{"non_survival"},
			RequireField: "veterinary.euthanasia_method",
		},
	}
}

func defaultStages() []types.StageDecl {
	return []types.StageDecl{
		{
			ID: "profile", Name: "Research Profile",
			Fields: []string{"profile.", "animals."},
			Checkpoint: &types.CheckpointDecl{
				ID: "intake_review", Name: "Research Profile Review", Role: "reviewer",
				Instructions: "Verify species, animal numbers, and captured procedures before drafting begins.",
			},
		},
		{
			ID: "regulatory", Name: "Regulatory Assessment",
			Fields: []string{"regulatory."},
			Search: &types.SearchDecl{Query: "regulations {answer:species}", Tags: []string{"regulatory"}},
			Checkpoint: &types.CheckpointDecl{
				ID: "regulatory_review", Name: "Regulatory Compliance Review", Role: "compliance_officer",
				Instructions: "Confirm the pain category and applicable regulations.",
				Escalations: []types.EscalationRule{
					{Field: "regulatory.pain_category", In: []string{"E"},
						UnlessPresent: "regulatory.pain_mitigation", Role: "attending_veterinarian"},
				},
			},
		},
		{
			ID: "lay_summary", Name: "Lay Summary",
			Fields: []string{"lay_summary."},
		},
		{
			ID: "alternatives", Name: "Alternatives Search",
			Fields: []string{"alternatives."},
			Search: &types.SearchDecl{Query: "alternatives {answer:procedure_types}", Tags: []string{"alternatives"}},
		},
		{
			ID: "statistics", Name: "Statistical Design",
			Fields: []string{"statistics."},
			Checkpoint: &types.CheckpointDecl{
				ID: "statistical_review", Name: "Statistical Design Review", Role: "statistician",
				Instructions: "Verify the power analysis and sample size justification.",
			},
		},
		{
			ID: "veterinary", Name: "Veterinary Review",
			Fields: []string{"veterinary."},
			Search: &types.SearchDecl{Query: "analgesia formulary {answer:species}", Tags: []string{"formulary"}},
			Checkpoint: &types.CheckpointDecl{
				ID: "veterinary_review", Name: "Veterinary and Welfare Review", Role: "veterinarian",
				Instructions: "Check dosages, humane endpoints, and monitoring schedules.",
			},
		},
		{
			ID: "procedures", Name: "Procedure Narrative",
			Fields: []string{"procedures."},
		},
		{
			ID: "assembly", Name: "Protocol Assembly",
			Fields: []string{"protocol."},
			Checkpoint: &types.CheckpointDecl{
				ID: "final_review", Name: "Final Protocol Review", Role: "iacuc_chair",
				Instructions: "Confirm the assembled protocol is complete, consistent, and submission-ready.",
			},
		},
	}
}
