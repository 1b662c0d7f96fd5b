package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/config"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/executor"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/llm"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/orchestrator"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/queue"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/resource"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/tracker"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worker"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worktree"
)

var (
	infinityMaxIssues  int
	infinityConcurrency int
	infinitySprintSize int
	infinityDryRun     bool
	infinityResume     bool
	infinitySchedule   string
)

var infinityCmd = &cobra.Command{
	Use:   "infinity",
	Short: "Run the sprint loop: fetch open items, decompose, execute, report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		applyInfinityFlags(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return userError(err)
		}

		runOnce := func() error {
			report, err := orch.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return interruptedError(err)
				}
				return executionError(err)
			}
			fmt.Printf("sprint loop finished: %s (%d succeeded, %d failed, %.0f%% success rate)\n",
				report.StopReason, report.SuccessCount, report.FailureCount, report.SuccessRate()*100)
			return nil
		}

		if infinitySchedule != "" {
			return runScheduled(ctx, infinitySchedule, runOnce)
		}
		return runOnce()
	},
}

func init() {
	infinityCmd.Flags().IntVar(&infinityMaxIssues, "max-issues", 0, "maximum number of work items to process (0 = unlimited)")
	infinityCmd.Flags().IntVar(&infinityConcurrency, "concurrency", 0, "initial concurrency override (0 = use scaler minimum)")
	infinityCmd.Flags().IntVar(&infinitySprintSize, "sprint-size", 0, "work items per sprint (0 = use config default)")
	infinityCmd.Flags().BoolVar(&infinityDryRun, "dry-run", false, "simulate execution without spawning workers or worktrees")
	infinityCmd.Flags().BoolVar(&infinityResume, "resume", false, "accepted for compatibility; has no effect (persisted queue/registry state is always loaded)")
	infinityCmd.Flags().StringVar(&infinitySchedule, "schedule", "", "cron expression; run the sprint loop on a recurring schedule instead of once")
}

func applyInfinityFlags(cfg *config.Config) {
	if infinityMaxIssues > 0 {
		cfg.Sprint.MaxIssues = infinityMaxIssues
	}
	if infinitySprintSize > 0 {
		cfg.Sprint.SprintSize = infinitySprintSize
	}
	if infinityDryRun {
		cfg.Sprint.DryRun = true
	}
}

// buildOrchestrator wires every subsystem together: the resource scaler
// (C2), the worktree manager (C4), the worker pool (C5), the DAG executor
// (C6), and the sprint loop (C8) itself.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	mgr, err := worktree.NewManager(
		".", cfg.Worktree.BasePath, cfg.StateDir,
		worktree.DefaultThresholds(),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize worktree manager: %w", err)
	}

	monitor := resource.NewMonitor(cfg.Worktree.BasePath, resource.DefaultDemand)
	scalerCfg := resource.DefaultScalerConfig()
	scalerCfg.Min = cfg.Scaler.MinConcurrency
	scalerCfg.Max = cfg.Scaler.MaxConcurrency
	scalerCfg.UpThreshold = cfg.Scaler.UpThreshold
	scalerCfg.DownThreshold = cfg.Scaler.DownThreshold
	if infinityConcurrency > 0 {
		scalerCfg.Min = infinityConcurrency
	}
	scaler := resource.NewScaler(scalerCfg, monitor, scalerCfg.Min, nil)
	go scaler.Run(context.Background())

	bus := worker.NewBus(64, false)
	pool := worker.NewPool(scalerCfg.Max, bus, func(v worker.Variant) (worker.Executor, error) {
		return &worker.CLIWorker{Command: cfg.Worker.Command, Args: cfg.Worker.Args}, nil
	})

	exec := executor.New(scaler, mgr, pool, executor.RetryPolicy{MaxRetries: 2}, worker.VariantCodeGen)

	ghTracker := &tracker.GitHubCLITracker{}
	chain := llm.NewFallbackChain() // no providers are added here, so Decompose fails until a provider is added to the chain
	decomposer := orchestrator.NewLLMDecomposer(chain, scalerCfg.Min)
	messages := queue.NewMessageQueue(cfg.StateDir)

	return orchestrator.New(ghTracker, decomposer, exec, cfg.Sprint).WithMessageQueue(messages), nil
}

func runScheduled(ctx context.Context, expr string, run func() error) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if err := run(); err != nil && log.ErrorLog != nil {
			log.ErrorLog.Printf("scheduled sprint run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid --schedule expression %q: %w", expr, err)
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return nil
}
