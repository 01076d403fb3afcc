package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ orchestrator.RunRecorder = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaDDL = `
    CREATE TABLE IF NOT EXISTS runs (
        id          TEXT PRIMARY KEY,
        task        TEXT NOT NULL,
        mode        TEXT NOT NULL,
        stop_reason TEXT NOT NULL DEFAULT '',
        steps_taken INTEGER NOT NULL DEFAULT 0,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ
    );
    CREATE TABLE IF NOT EXISTS run_steps (
        run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
        step_index  INTEGER NOT NULL,
        action_type TEXT NOT NULL,
        status      TEXT NOT NULL,
        action      JSONB NOT NULL,
        result      JSONB NOT NULL,
        recorded_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (run_id, step_index)
    );
`

const (
	sqlInsertRun = `
        INSERT INTO runs (id, task, mode, started_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlInsertStep = `
        INSERT INTO run_steps (run_id, step_index, action_type, status, action, result, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id, step_index) DO UPDATE SET
            status = EXCLUDED.status,
            action = EXCLUDED.action,
            result = EXCLUDED.result,
            recorded_at = EXCLUDED.recorded_at;
    `
	sqlCompleteRun = `
        UPDATE runs SET stop_reason = $2, steps_taken = $3, finished_at = $4
        WHERE id = $1;
    `
	sqlInsertFinishedRun = `
        INSERT INTO runs (id, task, mode, stop_reason, steps_taken, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	sqlSelectSteps = `
        SELECT step_index, action_type, action, result, recorded_at
        FROM run_steps
        WHERE run_id = $1
        ORDER BY step_index ASC;
    `
)

var stepColumns = []string{"run_id", "step_index", "action_type", "status", "action", "result", "recorded_at"}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateRun inserts the run row at the start of a run.
func (s *Store) CreateRun(ctx context.Context, run *orchestrator.RunResult) error {
	if _, err := s.pool.Exec(ctx, sqlInsertRun, run.RunID, run.Task, string(run.Mode), run.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordStep stores one step with its action and outcome as JSONB.
func (s *Store) RecordStep(ctx context.Context, runID string, record schemas.StepRecord) error {
	row, err := stepRow(runID, record)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlInsertStep, row...); err != nil {
		return fmt.Errorf("failed to insert step %d of run %s: %w", record.StepIndex, runID, err)
	}
	return nil
}

// CompleteRun stamps the stop reason and finish time on a run.
func (s *Store) CompleteRun(ctx context.Context, runID string, reason orchestrator.StopReason, stepsTaken int, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, sqlCompleteRun, runID, string(reason), stepsTaken, finishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// PersistRun writes a finished run and all of its steps in one transaction.
func (s *Store) PersistRun(ctx context.Context, result *orchestrator.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertFinishedRun,
		result.RunID, result.Task, string(result.Mode), string(result.StopReason),
		result.StepsTaken, result.StartedAt.UTC(), result.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", result.RunID, err)
	}

	if len(result.Steps) > 0 {
		rows := make([][]any, len(result.Steps))
		for i, rec := range result.Steps {
			row, err := stepRow(result.RunID, rec)
			if err != nil {
				return err
			}
			rows[i] = row
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"run_steps"}, stepColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy steps: %w", err)
		}
		if int(copyCount) != len(rows) {
			return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(rows), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRunSteps loads the recorded steps of a run in order.
func (s *Store) GetRunSteps(ctx context.Context, runID string) ([]schemas.StepRecord, error) {
	rows, err := s.pool.Query(ctx, sqlSelectSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var records []schemas.StepRecord
	for rows.Next() {
		var (
			rec        schemas.StepRecord
			actionType string
			actionJSON []byte
			resultJSON []byte
		)
		if err := rows.Scan(&rec.StepIndex, &actionType, &actionJSON, &resultJSON, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		if err := json.Unmarshal(actionJSON, &rec.Action); err != nil {
			return nil, fmt.Errorf("failed to decode action of step %d: %w", rec.StepIndex, err)
		}
		if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of step %d: %w", rec.StepIndex, err)
		}
		rec.ActionType = schemas.ActionType(actionType)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

func stepRow(runID string, rec schemas.StepRecord) ([]any, error) {
	action, err := json.Marshal(rec.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action of step %d: %w", rec.StepIndex, err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of step %d: %w", rec.StepIndex, err)
	}
	recordedAt := rec.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	return []any{
		runID, rec.StepIndex, string(rec.ActionType), string(rec.Result.Status),
		action, result, recordedAt.UTC(),
	}, nil
}
