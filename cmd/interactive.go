package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/planner"
)

var _ sessionPlanner = (*planner.Planner)(nil)

const interactiveHelp = `Commands:
  help        show this help
  save        save the last plan
  save on     save every plan automatically
  save off    stop saving automatically
  refine <feedback>
              revise the last plan
  exit, quit, q
Anything else is planned and printed.`

// newInteractiveCmd creates the `interactive` command, a planning REPL.
func newInteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Starts an interactive planning session",
		Args:  cobra.NoArgs,
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

			session := &planSession{planner: components.Planner, planDir: cfg.Planner().PlanDir, out: cmd.OutOrStdout()}
			return session.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// sessionPlanner plans new tasks and revises the last plan.
type sessionPlanner interface {
	taskPlanner
	RefinePlan(ctx context.Context, plan *schemas.TaskPlan, feedback string) (*schemas.TaskPlan, error)
}

type planSession struct {
	planner  sessionPlanner
	planDir  string
	out      io.Writer
	autoSave bool
	lastPlan *schemas.TaskPlan
}

// run reads commands until exit, EOF or cancellation. Planning failures are
// printed and the session continues.
func (s *planSession) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Interactive planning. Type 'help' for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "planner> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		case "help":
			fmt.Fprintln(s.out, interactiveHelp)
		case "save on":
			s.autoSave = true
			fmt.Fprintln(s.out, "Plans will be saved automatically.")
		case "save off":
			s.autoSave = false
			fmt.Fprintln(s.out, "Automatic saving disabled.")
		case "refine":
			fmt.Fprintln(s.out, "Usage: refine <feedback>")
		case "save":
			if s.lastPlan == nil {
				fmt.Fprintln(s.out, "Nothing to save yet.")
				continue
			}
			if err := savePlan(s.out, s.saveDir(), s.lastPlan); err != nil {
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
		default:
			if feedback, ok := refineFeedback(line); ok {
				s.refine(ctx, feedback)
				continue
			}
			s.plan(ctx, line, s.autoSave)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *planSession) saveDir() string {
	if s.planDir == "" {
		return "."
	}
	return s.planDir
}

func (s *planSession) plan(ctx context.Context, task string, save bool) {
	dir := ""
	if save {
		dir = s.saveDir()
	}
	plan, err := planAndPrint(ctx, s.out, s.planner, task, dir)
	if plan != nil {
		s.lastPlan = plan
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

// refineFeedback splits "refine <feedback>" lines.
func refineFeedback(line string) (string, bool) {
	head, rest, found := strings.Cut(line, " ")
	if !found || !strings.EqualFold(head, "refine") {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func (s *planSession) refine(ctx context.Context, feedback string) {
	if s.lastPlan == nil {
		fmt.Fprintln(s.out, "Nothing to refine yet.")
		return
	}
	plan, err := s.planner.RefinePlan(ctx, s.lastPlan, feedback)
	if err != nil {
		fmt.Fprintf(s.out, "Error: refinement failed: %v\n", err)
		return
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		fmt.Fprintf(s.out, "Error: failed to encode plan: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, string(data))
	s.lastPlan = plan
	if s.autoSave {
		if err := savePlan(s.out, s.saveDir(), plan); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}
