package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/orchestrator"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd(rt *runtime) *cobra.Command {
	var (
		in      orchestrator.AnalyzeInput
		answers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze repositories for a goal and print questions and recommendations",
		Long: "Analyze probes the repositories, recommends agents and MCP tools and prints the\n" +
			"clarifying questions. With --answer for every question it also derives the plan.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rt.logger
			c, err := wire(rt.cfg, logger)
			if err != nil {
				return err
			}
			defer c.close(logger)

			ctx := cmd.Context()
			res, err := c.service.StartAnalysis(ctx, in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(answers) == 0 {
				return printJSON(out, res)
			}

			p, err := c.service.SubmitAnswers(ctx, res.SessionID, answers)
			if err != nil {
				return fmt.Errorf("session %s: %w", res.SessionID, err)
			}
			return printJSON(out, map[string]any{
				"analysis": res,
				"plan":     p,
			})
		},
	}
	cmd.Flags().StringSliceVar(&in.RepoURLs, "repo", nil, "Repository URL (repeatable)")
	cmd.Flags().StringVar(&in.Goal, "goal", "", "What the project should achieve")
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "Project to attach the session to")
	cmd.Flags().StringToStringVar(&answers, "answer", nil, "Answer as question_id=value (repeatable)")
	return cmd
}

func newContextPackCmd(rt *runtime) *cobra.Command {
	var projectID, taskID, role string
	var prompt bool

	cmd := &cobra.Command{
		Use:   "context-pack",
		Short: "Print the context pack for a task, or the orchestrator prompt for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rt.logger
			c, err := wire(rt.cfg, logger)
			if err != nil {
				return err
			}
			defer c.close(logger)

			out := cmd.OutOrStdout()
			if prompt {
				p, err := c.assembler.BuildOrchestratorPrompt(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, p.OrchestratorPrompt)
				return err
			}
			pack, err := c.assembler.Build(cmd.Context(), projectID, taskID, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, pack.ContextPack)
			return err
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&taskID, "task", "", "Task ID")
	cmd.Flags().StringVar(&role, "role", "", "Agent role override, e.g. @frontend")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Print the sub-orchestrator prompt instead")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := wire(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			c.close(rt.logger)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", rt.cfg.DatabasePath)
			return err
		},
	}
}
