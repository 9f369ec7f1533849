// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package document manages the versioned document aggregate assembled
// from stage outputs. Fields are flat, dot-addressable paths; every
// merge bumps the version and checks the writer's basis against it.
package document

import (
	"sort"
	"strings"

	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// Get returns the value at a field-path. The second result
// distinguishes an absent field from an explicitly empty one;
// validation rules rely on this and never see zero-value stand-ins.
func Get(doc *types.DocumentState, path string) (any, bool) {
	v, ok := doc.Fields[path]
	return v, ok
}

// Snapshot deep-copies the field map so a stage's input bundle stays
// stable while later merges land.
func Snapshot(doc *types.DocumentState) map[string]any {
	out := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		out[k] = copyValue(v)
	}
	return out
}

// Merge writes a stage's output under its declared field ownership.
// baseVersion is the aggregate version the output was computed against;
// a mismatch means something merged in between and the caller must
// rebuild its input and retry (ErrVersionConflict). A field-path
// outside the stage's declared prefixes rejects the whole merge with
// nothing written; stages never write outside their ownership.
func Merge(doc *types.DocumentState, stage types.StageDecl, fields map[string]any, baseVersion int64) error {
	if doc.Version != baseVersion {
		return types.ErrVersionConflict
	}
	for path := range fields {
		if !registry.FieldOwned(path, stage.Fields) {
			return &types.StageError{
				Stage: stage.ID,
				Kind:  types.StagePermanent,
				Err:   types.NewInputError("field %q outside stage ownership %v", path, stage.Fields),
			}
		}
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any, len(fields))
	}
	for path, v := range fields {
		doc.Fields[path] = copyValue(v)
	}
	doc.Version++
	return nil
}

// MergeIntake writes the effective intake answers and branch defaults
// under the reserved intake prefix when intake completes. Ownership is
// not stage-checked here; the registry already validated default paths.
func MergeIntake(doc *types.DocumentState, answers map[string]any, defaults map[string]any) {
	if doc.Fields == nil {
		doc.Fields = make(map[string]any, len(answers)+len(defaults))
	}
	for id, v := range answers {
		doc.Fields[registry.IntakePrefix+id] = copyValue(v)
	}
	for path, v := range defaults {
		doc.Fields[path] = copyValue(v)
	}
	doc.Version++
}

// ClearStage removes only the fields a stage owns, used when a
// checkpoint rejection sends the pipeline back to that stage. The rest
// of the document is untouched.
func ClearStage(doc *types.DocumentState, stage types.StageDecl) {
	for path := range doc.Fields {
		if registry.FieldOwned(path, stage.Fields) {
			delete(doc.Fields, path)
		}
	}
	doc.Version++
}

// Paths returns the populated field-paths, sorted, for snapshots and
// rendering.
func Paths(doc *types.DocumentState) []string {
	paths := make([]string, 0, len(doc.Fields))
	for p := range doc.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Section returns the populated paths under a prefix, sorted.
func Section(doc *types.DocumentState, prefix string) []string {
	var paths []string
	for p := range doc.Fields {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// copyValue deep-copies the JSON-shaped values stored in the aggregate
// (scalars, string slices, generic slices and maps).
func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
