// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the protocol-engine CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rtolwani/iacuc-protocol-generator/internal/engine"
	"github.com/rtolwani/iacuc-protocol-generator/internal/generate"
	"github.com/rtolwani/iacuc-protocol-generator/internal/knowledge"
	"github.com/rtolwani/iacuc-protocol-generator/internal/registry"
	"github.com/rtolwani/iacuc-protocol-generator/internal/store"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the protocol-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "protocol-engine",
	Short: "Workflow engine for drafting IACUC animal-use protocols",
	Long: `protocol-engine drafts structured animal-use protocols through a staged
pipeline with human review gates. An adaptive questionnaire captures the
study design, drafting stages fill in the protocol sections, and each
declared checkpoint parks the workflow until a reviewer approves,
rejects, or requests revision.

Start a workflow, answer its questions, run the pipeline, and work the
review queue with the review subcommands.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./protocol-engine.yaml or ~/.config/protocol-engine/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for durable state (default: ./data)")
	rootCmd.PersistentFlags().String("rules", "", "YAML rule registry (default: built-in IACUC rule set)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("protocol-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "protocol-engine"))
		}
	}

	viper.SetDefault("data_dir", "data")
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("stage_timeout", 2*time.Minute)
	viper.SetDefault("search_top_k", 5)

	viper.SetEnvPrefix("PROTOCOL_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// engineConfig resolves the engine settings from flags, config file,
// and environment.
func engineConfig() types.EngineConfig {
	cfg := types.EngineConfig{
		DataDir:      viper.GetString("data_dir"),
		RulesFile:    viper.GetString("rules_file"),
		MaxRetries:   viper.GetInt("max_retries"),
		StageTimeout: viper.GetDuration("stage_timeout"),
		SearchTopK:   viper.GetInt("search_top_k"),
	}
	if dir, _ := rootCmd.PersistentFlags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if rules, _ := rootCmd.PersistentFlags().GetString("rules"); rules != "" {
		cfg.RulesFile = rules
	}
	return cfg.WithDefaults()
}

// loadRegistry loads the configured rule registry, or the built-in
// IACUC rule set when none is configured.
func loadRegistry(cfg types.EngineConfig) (*registry.Registry, error) {
	if cfg.RulesFile == "" {
		return registry.Default(), nil
	}
	return registry.Load(cfg.RulesFile)
}

// openEngine wires the full engine: registry, workflow store, knowledge
// searcher, and the template drafter. The returned closer releases both
// databases.
func openEngine() (*engine.Engine, func(), error) {
	cfg := engineConfig()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	kb, err := knowledge.Open(types.KnowledgeConfig{DataDir: cfg.DataDir})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	e := engine.New(reg, st, generate.New(), kb, cfg, os.Stderr)
	closer := func() {
		kb.Close()
		st.Close()
	}
	return e, closer, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
