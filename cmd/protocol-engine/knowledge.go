// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtolwani/iacuc-protocol-generator/internal/knowledge"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the guideline knowledge base",
	Long: `Knowledge manages the local SQLite guideline base that search-enabled
pipeline stages query. Use subcommands to ingest guideline seed files
and to query the index directly.`,
}

func openKnowledge() (*knowledge.Store, error) {
	cfg := engineConfig()
	return knowledge.Open(types.KnowledgeConfig{DataDir: cfg.DataDir})
}

var knowledgeIngestCmd = &cobra.Command{
	Use:   "ingest <seed-file.yaml>",
	Short: "Ingest guidelines from a YAML seed file",
	Long: `Ingest upserts guidelines by id, so re-running with an updated seed
file refreshes existing entries instead of duplicating them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kb, err := openKnowledge()
		if err != nil {
			return err
		}
		defer kb.Close()

		_, err = kb.IngestFile(context.Background(), args[0], os.Stdout)
		return err
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the guideline index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kb, err := openKnowledge()
		if err != nil {
			return err
		}
		defer kb.Close()

		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")
		var tags []string
		if tag != "" {
			tags = []string{tag}
		}

		snippets, err := kb.Search(context.Background(), strings.Join(args, " "), tags, limit)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snippets)
		}

		if len(snippets) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, s := range snippets {
			fmt.Printf("%d. %s  %s\n", i+1, s.ID, s.Title)
			fmt.Printf("   %s\n", s.Body)
			if len(s.Tags) > 0 {
				fmt.Printf("   tags: %s\n", strings.Join(s.Tags, ", "))
			}
		}
		return nil
	},
}

var knowledgeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the guideline index size",
	RunE: func(cmd *cobra.Command, args []string) error {
		kb, err := openKnowledge()
		if err != nil {
			return err
		}
		defer kb.Close()

		n, err := kb.Count(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%d guidelines indexed\n", n)
		return nil
	},
}

func init() {
	knowledgeSearchCmd.Flags().String("tag", "", "filter by tag")
	knowledgeSearchCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	knowledgeSearchCmd.Flags().Bool("json", false, "output results as JSON")

	knowledgeCmd.AddCommand(knowledgeIngestCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeStatusCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
