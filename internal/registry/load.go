// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// RuleFile is the YAML document shape for an external rule registry.
type RuleFile struct {
	Questions []types.Question       `yaml:"questions"`
	Branches  []types.BranchRule     `yaml:"branches"`
	Rules     []types.ValidationRule `yaml:"rules"`
	Stages    []types.StageDecl      `yaml:"stages"`
}

// Load reads and validates a YAML rule registry. Parse and validation
// failures are fatal to startup; no instance may be created against an
// unvalidated registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	reg, err := New(file.Questions, file.Branches, file.Rules, file.Stages)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return reg, nil
}
