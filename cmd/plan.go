package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/planner"
)

// taskPlanner is the part of the planner the plan-only commands use.
type taskPlanner interface {
	Plan(ctx context.Context, task string) (*schemas.TaskPlan, error)
}

var _ taskPlanner = (*planner.Planner)(nil)

// newPlanCmd creates the `plan` command, which prints a plan without executing it.
func newPlanCmd() *cobra.Command {
	var save bool
	planCmd := &cobra.Command{
		Use:   "plan [task...]",
		Short: "Generates a step-by-step plan for a task and prints it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := initializePlanner(cmd.Context(), cfg, logger)
			if components != nil {
				defer components.Shutdown(logger)
			}
			if err != nil {
				return err
			}

			dir := ""
			if save {
				dir = cfg.Planner().PlanDir
			}
			_, err = planAndPrint(cmd.Context(), cmd.OutOrStdout(), components.Planner, strings.Join(args, " "), dir)
			return err
		},
	}
	planCmd.Flags().BoolVar(&save, "save", false, "Write the plan to planner.plan_dir")
	return planCmd
}

// planAndPrint plans task, prints it and saves it into saveDir when one is given.
func planAndPrint(ctx context.Context, out io.Writer, p taskPlanner, task, saveDir string) (*schemas.TaskPlan, error) {
	plan, err := p.Plan(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	fmt.Fprintln(out, string(data))

	if saveDir == "" {
		return plan, nil
	}
	return plan, savePlan(out, saveDir, plan)
}

func savePlan(out io.Writer, dir string, plan *schemas.TaskPlan) error {
	path, err := planner.SavePlan(dir, plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plan saved to %s\n", path)
	return nil
}
