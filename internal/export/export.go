// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export renders a workflow's document aggregate into reviewer
// and submission formats.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/rtolwani/iacuc-protocol-generator/internal/document"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// Markdown renders the instance as a submission-style Markdown document:
// intake answers first, then one section per pipeline stage in order,
// then the review trail.
func Markdown(out io.Writer, w *types.WorkflowInstance, reg *registry.Registry) error {
	title := "Protocol Draft"
	if v, ok := document.Get(&w.Document, "profile.title"); ok {
		title = fmt.Sprintf("%v", v)
	}
	fmt.Fprintf(out, "# %s\n\n", title)
	fmt.Fprintf(out, "Workflow %s, status %s, document version %d.\n\n", w.ID, w.Status, w.Document.Version)

	writeSection(out, "Intake", &w.Document, []string{registry.IntakePrefix})
	for _, stage := range reg.Stages() {
		writeSection(out, stage.Name, &w.Document, stage.Fields)
	}

	if len(w.Findings) > 0 {
		fmt.Fprintf(out, "## Validation Findings\n\n")
		for _, f := range w.Findings {
			fmt.Fprintf(out, "- [%s] %s: %s\n", f.Severity, f.RuleID, f.Message)
		}
		fmt.Fprintln(out)
	}

	if len(w.Checkpoints) > 0 {
		fmt.Fprintf(out, "## Review Trail\n\n")
		for _, c := range w.Checkpoints {
			line := fmt.Sprintf("- %s (%s): %s", c.DeclID, c.Role, c.Status)
			if c.ReviewerID != "" {
				line += " by " + c.ReviewerID
			}
			if c.Comments != "" {
				line += " -- " + c.Comments
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

// YAML writes the full instance state for archival.
func YAML(out io.Writer, w *types.WorkflowInstance) error {
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	if err := enc.Encode(w); err != nil {
		return fmt.Errorf("encoding workflow %s: %w", w.ID, err)
	}
	return nil
}

func writeSection(out io.Writer, name string, doc *types.DocumentState, prefixes []string) {
	var paths []string
	for _, prefix := range prefixes {
		paths = append(paths, document.Section(doc, prefix)...)
	}
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)

	fmt.Fprintf(out, "## %s\n\n", name)
	for _, p := range paths {
		v, _ := document.Get(doc, p)
		label := p
		if i := strings.Index(p, "."); i >= 0 {
			label = p[i+1:]
		}
		fmt.Fprintf(out, "- **%s**: %s\n", label, renderValue(v))
	}
	fmt.Fprintln(out)
}

func renderValue(v any) string {
	switch vs := v.(type) {
	case []any:
		parts := make([]string, 0, len(vs))
		for _, p := range vs {
			parts = append(parts, fmt.Sprintf("%v", p))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(vs, ", ")
	case float64:
		return fmt.Sprintf("%g", vs)
	}
	return fmt.Sprintf("%v", v)
}
