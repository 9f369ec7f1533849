// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtolwani/iacuc-protocol-generator/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-id>",
	Short: "Run the consistency rules against a workflow's document",
	Long: `Validate evaluates every consistency rule against the workflow's
current document and prints the findings. The exit status is non-zero
when any error-severity finding is present, so the command can gate
scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		w, err := e.Snapshot(context.Background(), args[0])
		if err != nil {
			return err
		}

		cfg := engineConfig()
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}

		findings := validate.Validate(&w.Document, reg, time.Now())
		if len(findings) == 0 {
			fmt.Println("no findings")
			return nil
		}
		for _, f := range findings {
			fmt.Printf("[%s] %s: %s\n", f.Severity, f.RuleID, f.Message)
		}
		if validate.Errors(findings) {
			return fmt.Errorf("%d findings, errors present", len(findings))
		}
		fmt.Printf("%d findings, warnings only\n", len(findings))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
