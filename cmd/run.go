package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/orchestrator"
	"github.com/xkilldash9x/tandem-cli/internal/planner"
)

type runOptions struct {
	batch         bool
	maxSteps      int
	attach        bool
	cdpURL        string
	headless      bool
	planFile      string
	screenshotDir string
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Plans and executes a task in the browser",
		Long: `Runs the iterative loop: the planner decides one action at a time from the
latest screenshot and the step history, and the executor carries it out.
Without a task argument the task is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, opts)

			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" && opts.planFile == "" {
				task, err = readTask(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			return runTask(cmd.Context(), cmd.OutOrStdout(), cfg, task, opts)
		},
	}

	runCmd.Flags().BoolVar(&opts.batch, "batch", false, "Plan the whole task up front, then execute it")
	runCmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "Maximum number of iterative steps (overrides executor.max_steps)")
	runCmd.Flags().BoolVar(&opts.attach, "attach", false, "Attach to a running browser over its remote debugging endpoint")
	runCmd.Flags().StringVar(&opts.cdpURL, "cdp-url", "", "Remote debugging endpoint used with --attach")
	runCmd.Flags().BoolVar(&opts.headless, "headless", false, "Launch the browser headless")
	runCmd.Flags().StringVar(&opts.planFile, "plan-file", "", "Execute a saved plan without planning")
	runCmd.Flags().StringVar(&opts.screenshotDir, "screenshot-dir", "", "Directory for step screenshots")
	return runCmd
}

// applyRunFlags overrides configuration with the flags the user actually set.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface, opts *runOptions) {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.SetBrowserHeadless(opts.headless)
	}
	if flags.Changed("attach") {
		cfg.SetBrowserAttach(opts.attach)
	}
	if flags.Changed("cdp-url") {
		cfg.SetBrowserCDPURL(opts.cdpURL)
	}
	if flags.Changed("max-steps") && opts.maxSteps > 0 {
		cfg.SetExecutorMaxSteps(opts.maxSteps)
	}
	if flags.Changed("screenshot-dir") {
		cfg.SetExecutorScreenshotDir(opts.screenshotDir)
	}
}

// readTask reads a multi-line task. A blank line after some content, or EOF,
// ends it.
func readTask(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintln(out, "Enter the task (finish with an empty line):")
	scanner := bufio.NewScanner(in)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read task: %w", err)
	}
	task := strings.TrimSpace(strings.Join(lines, "\n"))
	if task == "" {
		return "", errors.New("no task provided")
	}
	return task, nil
}

func runTask(ctx context.Context, out io.Writer, cfg *config.Config, task string, opts *runOptions) error {
	logger := observability.GetLogger()

	components, err := initializeRunComponents(ctx, cfg, logger)
	if components != nil {
		defer components.Shutdown(logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize run components: %w", err)
	}

	var result *orchestrator.RunResult
	switch {
	case opts.planFile != "":
		plan, loadErr := planner.LoadPlan(opts.planFile)
		if loadErr != nil {
			// The executor owns the browser even when nothing ran.
			_ = components.Executor.Close(context.WithoutCancel(ctx))
			return loadErr
		}
		result, err = components.Orchestrator.RunPlan(ctx, plan)
	case opts.batch:
		result, err = components.Orchestrator.RunBatch(ctx, task)
	default:
		result, err = components.Orchestrator.RunIterative(ctx, task, cfg.Executor().MaxSteps)
	}

	if result != nil {
		fmt.Fprint(out, result.Summary())
		logger.Info("Run summary",
			zap.String("run_id", result.RunID),
			zap.String("stop_reason", string(result.StopReason)),
			zap.Int("steps_taken", result.StepsTaken))
	}
	if err != nil {
		return err
	}
	if result.Err != nil {
		return fmt.Errorf("run stopped early: %w", result.Err)
	}
	return nil
}
