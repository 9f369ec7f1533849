// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtolwani/iacuc-protocol-generator/internal/checkpoint"
	"github.com/rtolwani/iacuc-protocol-generator/pkg/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
	Long: `Review lists pending checkpoints and records reviewer decisions.
A decision is final: once a checkpoint is approved or rejected it never
reopens, and a send-back re-runs the feeding stage under a fresh
checkpoint.`,
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List checkpoints waiting for a decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		role, _ := cmd.Flags().GetString("role")
		pending, err := e.PendingCheckpoints(context.Background(), role)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending reviews")
			return nil
		}

		for _, p := range pending {
			rec := p.Record
			fmt.Printf("%s  %s (%s), stage %s, revision %d\n",
				p.WorkflowID, rec.DeclID, rec.Role, rec.Stage, rec.RevisionCount)
			for _, f := range rec.Findings {
				fmt.Printf("    [%s] %s: %s\n", f.Severity, f.RuleID, f.Message)
			}
		}
		return nil
	},
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <workflow-id> <checkpoint> <approve|reject|revise>",
	Short: "Record a reviewer decision",
	Long: `Decide records a decision on a pending checkpoint, addressed by record
id or checkpoint name (e.g. veterinary_review). Rejections and revision
requests require --comments. After the decision the pipeline resumes
immediately: approvals roll forward, send-backs re-run the stage.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		var status types.CheckpointStatus
		switch args[2] {
		case "approve":
			status = types.CheckpointApproved
		case "reject":
			status = types.CheckpointRejected
		case "revise":
			status = types.CheckpointRevisionRequested
		default:
			return fmt.Errorf("unknown decision %q: use approve, reject, or revise", args[2])
		}

		reviewer, _ := cmd.Flags().GetString("reviewer")
		comments, _ := cmd.Flags().GetString("comments")
		issues, _ := cmd.Flags().GetString("issues")

		d := checkpoint.Decision{
			Status:     status,
			ReviewerID: reviewer,
			Comments:   comments,
		}
		if issues != "" {
			for _, i := range strings.Split(issues, ",") {
				d.Issues = append(d.Issues, strings.TrimSpace(i))
			}
		}

		w, err := e.DecideCheckpoint(context.Background(), args[0], args[1], d)
		if err != nil {
			return err
		}
		printWorkflowState(w)
		return nil
	},
}

var reviewHistoryCmd = &cobra.Command{
	Use:   "history <workflow-id>",
	Short: "Show a workflow's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		history, err := e.DecisionHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		for _, h := range history {
			line := h.At.Format("2006-01-02 15:04:05")
			if h.Note != "" {
				line += "  " + h.Note
			} else {
				line += fmt.Sprintf("  %s: %s -> %s by %s", h.Checkpoint, h.From, h.To, h.ReviewerID)
				if h.Comments != "" {
					line += " -- " + h.Comments
				}
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	reviewPendingCmd.Flags().String("role", "", "only checkpoints requiring this reviewer role")
	reviewDecideCmd.Flags().String("reviewer", "", "reviewer id recorded with the decision")
	reviewDecideCmd.Flags().String("comments", "", "decision comments (required for reject and revise)")
	reviewDecideCmd.Flags().String("issues", "", "comma-separated field-paths the decision flags")

	reviewCmd.AddCommand(reviewPendingCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	reviewCmd.AddCommand(reviewHistoryCmd)
	rootCmd.AddCommand(reviewCmd)
}
