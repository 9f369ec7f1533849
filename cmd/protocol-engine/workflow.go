// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new protocol workflow",
	Long: `Start creates a workflow in the intake phase and prints its id.
Passing --id makes creation idempotent: repeating the command with the
same id returns the existing workflow instead of creating a new one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		id, _ := cmd.Flags().GetString("id")
		w, err := e.StartWorkflow(context.Background(), id)
		if err != nil {
			return err
		}
		fmt.Println(w.ID)
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <workflow-id> <question-id> <value>",
	Short: "Submit an intake answer",
	Long: `Answer validates and appends one intake answer. Multi-choice answers
take comma-separated values; numbers and dates are parsed from the
value text. Re-answering a question supersedes the prior answer and
recomputes which follow-up questions are required.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		value := parseAnswerValue(args[2])
		req, err := e.SubmitAnswer(context.Background(), args[0], args[1], value)
		if err != nil {
			return err
		}

		fmt.Printf("answered %s (%d/%d questions, %.0f%%)\n",
			args[1], len(req.Satisfied), len(req.Required), req.Progress*100)
		if req.Complete {
			fmt.Println("intake complete; run the pipeline with: protocol-engine run", args[0])
		} else {
			fmt.Println("still missing:", strings.Join(req.Missing(), ", "))
		}
		return nil
	},
}

// parseAnswerValue maps CLI text onto the answer value types: numbers
// parse as float, comma-separated text becomes a multi-choice list,
// everything else stays a string.
func parseAnswerValue(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return raw
}

var questionsCmd = &cobra.Command{
	Use:   "questions <workflow-id>",
	Short: "Show the open intake questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		req, missing, err := e.RequiredQuestions(context.Background(), args[0])
		if err != nil {
			return err
		}
		if req.Complete {
			fmt.Println("intake complete")
			return nil
		}

		fmt.Printf("%d of %d questions answered\n\n", len(req.Satisfied), len(req.Required))
		for _, q := range missing {
			fmt.Printf("%-24s %s (%s)\n", q.ID, q.Prompt, q.Type)
			if len(q.Options) > 0 {
				values := make([]string, 0, len(q.Options))
				for _, o := range q.Options {
					values = append(values, o.Value)
				}
				fmt.Printf("%-24s options: %s\n", "", strings.Join(values, ", "))
			}
			if q.Help != "" {
				fmt.Printf("%-24s %s\n", "", q.Help)
			}
		}
		return nil
	},
	Args: cobra.ExactArgs(1),
}

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run the drafting pipeline until it parks",
	Long: `Run advances the workflow until it reaches a review gate, stalls, or
completes. Running a workflow already waiting on a reviewer is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		w, err := e.Run(context.Background(), args[0])
		if err != nil {
			return err
		}
		printWorkflowState(w)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow's state",
	Args:  cobra.ExactArgs(1),
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

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(w)
		}
		printWorkflowState(w)
		return nil
	},
}

func printWorkflowState(w *types.WorkflowInstance) {
	fmt.Printf("workflow %s\n", w.ID)
	fmt.Printf("  status:   %s\n", w.Status)
	fmt.Printf("  position: %s\n", w.Position)
	fmt.Printf("  document: version %d, %d fields\n", w.Document.Version, len(w.Document.Fields))
	if w.StallReason != "" {
		fmt.Printf("  stalled:  %s\n", w.StallReason)
	}
	for _, rec := range w.Checkpoints {
		if rec.Status == types.CheckpointPending {
			fmt.Printf("  waiting:  %s (%s)\n", rec.DeclID, rec.Role)
		}
	}
	if n := len(w.Findings); n > 0 {
		fmt.Printf("  findings: %d\n", n)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		status, _ := cmd.Flags().GetString("status")
		sums, err := e.List(context.Background(), types.WorkflowStatus(status))
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("no workflows")
			return nil
		}
		fmt.Printf("%-38s %-16s %-12s %s\n", "ID", "STATUS", "POSITION", "UPDATED")
		for _, s := range sums {
			fmt.Printf("%-38s %-16s %-12s %s\n", s.ID, s.Status, s.Position,
				s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <workflow-id> <stage-id>",
	Short: "Clear a stall and re-run from a stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		w, err := e.RerunStage(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		printWorkflowState(w)
		return nil
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <workflow-id>",
	Short: "Abandon a workflow permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		reason, _ := cmd.Flags().GetString("reason")
		if err := e.Abandon(context.Background(), args[0], reason); err != nil {
			return err
		}
		fmt.Println("abandoned", args[0])
		return nil
	},
}

func init() {
	startCmd.Flags().String("id", "", "client-chosen workflow id for idempotent creation")
	statusCmd.Flags().Bool("json", false, "output the full instance as JSON")
	listCmd.Flags().String("status", "", "filter by status: intake, running, awaiting_review, stalled, complete, abandoned")
	abandonCmd.Flags().String("reason", "operator request", "reason recorded in the audit trail")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(abandonCmd)
}
