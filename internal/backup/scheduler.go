package backup

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/dump"
	"mysql-replica-backup/internal/logging"
)

// SchedulerConfig holds the run-wide settings every task shares
type SchedulerConfig struct {
	Concurrency  int
	OutputPrefix string
	Connection   config.ServerConfig
	FlagOptions  dump.FlagOptions
}

// Scheduler runs one phase of backups through a bounded worker pool
type Scheduler struct {
	executor   dump.Executor
	aggregator *Aggregator
	observer   Observer
	logger     *logging.Logger
	cfg        SchedulerConfig
	flags      map[dump.Strategy][]string
}

// NewScheduler creates a scheduler. Flags for both strategies are resolved here
// once and shared by all tasks.
func NewScheduler(cfg SchedulerConfig, executor dump.Executor, aggregator *Aggregator, observer Observer, logger *logging.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	return &Scheduler{
		executor:   executor,
		aggregator: aggregator,
		observer:   observer,
		logger:     logger,
		cfg:        cfg,
		flags: map[dump.Strategy][]string{
			dump.StrategySnapshot: dump.BuildFlags(dump.StrategySnapshot, cfg.FlagOptions),
			dump.StrategyLocking:  dump.BuildFlags(dump.StrategyLocking, cfg.FlagOptions),
		},
	}
}

// Flags returns the resolved flags for a strategy
func (s *Scheduler) Flags(strategy dump.Strategy) []string {
	return s.flags[strategy]
}

// RunPhase backs up databases with at most Concurrency tasks in flight. It
// returns once every task has finished. A failed task never stops its
// siblings.
func (s *Scheduler) RunPhase(ctx context.Context, phase int, databases []string, strategy dump.Strategy) []dump.Outcome {
	if len(databases) == 0 {
		return nil
	}

	s.logger.LogPhase(phase, strategy.String(), len(databases))
	s.observer.PhaseStarted(phase, strategy, databases)

	outcomes := make([]dump.Outcome, len(databases))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for i, db := range databases {
		task := dump.Task{
			Database:     db,
			Strategy:     strategy,
			Flags:        s.flags[strategy],
			OutputPrefix: s.cfg.OutputPrefix,
			Connection:   s.cfg.Connection,
		}
		g.Go(func() error {
			outcome := s.execute(ctx, phase, task)
			outcomes[i] = outcome
			s.aggregator.Add(outcome)
			s.observer.TaskFinished(outcome)
			return nil
		})
	}

	g.Wait()
	return outcomes
}

func (s *Scheduler) execute(ctx context.Context, phase int, task dump.Task) (outcome dump.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("database", task.Database).Errorf("Backup task panicked: %v", r)
			outcome = dump.Outcome{
				Database: task.Database,
				Phase:    phase,
				Strategy: task.Strategy,
				Error:    fmt.Sprintf("backup task panicked: %v", r),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return dump.Outcome{
			Database: task.Database,
			Phase:    phase,
			Strategy: task.Strategy,
			Error:    "backup interrupted before start",
		}
	}

	outcome = s.executor.Execute(ctx, task)
	outcome.Database = task.Database
	outcome.Phase = phase
	outcome.Strategy = task.Strategy
	return outcome
}
