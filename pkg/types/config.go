// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// EngineConfig holds the workflow engine settings.
type EngineConfig struct {
	// DataDir is the base directory for durable state (contains the
	// workflow database and the knowledge index).
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// RulesFile is an optional YAML rule registry. Empty selects the
	// built-in IACUC rule set.
	RulesFile string `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`

	// MaxRetries bounds transient-failure retries per stage run
	// (default 3). After the bound the pipeline stalls.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// StageTimeout caps one generator invocation (default 2m).
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`

	// SearchTopK bounds snippets per stage when the stage declares a
	// search dependency but no explicit limit (default 5).
	SearchTopK int `json:"search_top_k" yaml:"search_top_k"`
}

// WithDefaults fills unset fields with defaults.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.SearchTopK <= 0 {
		c.SearchTopK = 5
	}
	return c
}

// KnowledgeConfig holds settings for the guideline knowledge base used
// by the search capability.
type KnowledgeConfig struct {
	// DataDir is the base directory containing the index database.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// MaxResults is the default maximum query result count (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}
