package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/store"
)

// stepReader is the part of the store the history command reads.
type stepReader interface {
	GetRunSteps(ctx context.Context, runID string) ([]schemas.StepRecord, error)
}

var _ stepReader = (*store.Store)(nil)

// newStepReader connects to run history. The returned func releases the connection.
var newStepReader = func(ctx context.Context, url string, logger *zap.Logger) (stepReader, func(), error) {
	s, pool, err := connectStore(ctx, url, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// newHistoryCmd creates the `history` command, which prints the stored steps of a run.
func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Prints the recorded steps of a previous run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			url := cfg.Database().URL
			if url == "" {
				return errors.New("run history requires database.url to be set")
			}

			reader, release, err := newStepReader(cmd.Context(), url, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer release()
			return printRunSteps(cmd.Context(), cmd.OutOrStdout(), reader, args[0])
		},
	}
}

// printRunSteps writes one line per stored step and the error of each step that did not succeed.
func printRunSteps(ctx context.Context, out io.Writer, r stepReader, runID string) error {
	steps, err := r.GetRunSteps(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if len(steps) == 0 {
		return fmt.Errorf("no steps recorded for run %s", runID)
	}
	fmt.Fprintf(out, "Run %s: %d steps\n", runID, len(steps))
	for _, rec := range steps {
		fmt.Fprintln(out, rec.Line())
		if !rec.Succeeded() && rec.Result.Status != schemas.StatusSkipped && rec.Result.ErrorMessage != "" {
			fmt.Fprintf(out, "  Error: %s\n", rec.Result.ErrorMessage)
		}
	}
	return nil
}
