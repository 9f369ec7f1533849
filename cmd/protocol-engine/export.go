// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtolwani/iacuc-protocol-generator/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <workflow-id>",
	Short: "Export a workflow's protocol document",
	Long: `Export renders the workflow's document aggregate as a submission-style
Markdown document, or as full YAML state with --format yaml. Output goes
to stdout unless --output names a file.`,
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

		var out io.Writer = os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "markdown", "":
			return export.Markdown(out, w, reg)
		case "yaml":
			return export.YAML(out, w)
		}
		return fmt.Errorf("unsupported format %q: use markdown or yaml", format)
	},
}

func init() {
	exportCmd.Flags().String("format", "markdown", "export format: markdown or yaml")
	exportCmd.Flags().String("output", "", "write to a file instead of stdout")

	rootCmd.AddCommand(exportCmd)
}
