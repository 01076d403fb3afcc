package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/browser"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/executor"
	"github.com/xkilldash9x/tandem-cli/internal/llmclient"
	"github.com/xkilldash9x/tandem-cli/internal/orchestrator"
	"github.com/xkilldash9x/tandem-cli/internal/planner"
	"github.com/xkilldash9x/tandem-cli/internal/store"
)

// Constructors are variables so tests can swap in fakes.
var (
	newLLMClient = func(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
		return llmclient.NewRouterFromConfig(ctx, cfg, logger)
	}
	newBrowserOpener = func(cfg config.BrowserConfig, logger *zap.Logger) executor.BrowserOpener {
		return browser.NewManager(cfg, logger)
	}
)

// runComponents holds everything a run needs.
type runComponents struct {
	LLM          schemas.LLMClient
	Planner      *planner.Planner
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	DBPool       *pgxpool.Pool
	Store        *store.Store
}

// Shutdown releases the LLM clients and the database pool. The browser is
// closed by the orchestrator when the run returns.
func (rc *runComponents) Shutdown(logger *zap.Logger) {
	if rc.LLM != nil {
		if err := rc.LLM.Close(); err != nil {
			logger.Warn("Error while closing LLM clients", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializePlanner builds the LLM clients and the planner alone, for the
// commands that never touch a browser.
func initializePlanner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	llm, err := newLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM clients: %w", err)
	}
	components.LLM = llm

	p, err := planner.New(llm, cfg.Planner(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize planner: %w", err)
	}
	components.Planner = p
	return components, nil
}

// initializeRunComponents handles dependency injection for a full run.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components, err := initializePlanner(ctx, cfg, logger)
	if err != nil {
		return components, err
	}

	exec, err := executor.New(newBrowserOpener(cfg.Browser(), logger), components.LLM, cfg.Executor(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize executor: %w", err)
	}
	components.Executor = exec

	opts := []orchestrator.Option{orchestrator.WithShutdownTimeout(cfg.Executor().ShutdownTimeout)}
	if url := cfg.Database().URL; url != "" {
		if s, pool := openStore(ctx, url, logger); s != nil {
			components.DBPool = pool
			components.Store = s
			opts = append(opts, orchestrator.WithRecorder(s))
		}
	}

	orch, err := orchestrator.New(components.Planner, exec, logger, opts...)
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch
	return components, nil
}

// openStore connects run history. Failures only disable persistence.
func openStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, *pgxpool.Pool) {
	s, pool, err := connectStore(ctx, url, logger)
	if err != nil {
		logger.Warn("Run history disabled", zap.Error(err))
		return nil, nil
	}
	return s, pool
}

// connectStore opens the pool, checks the database and ensures the schema.
func connectStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := store.New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := s.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, pool, nil
}
