package backup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/discovery"
	"mysql-replica-backup/internal/dump"
	"mysql-replica-backup/internal/logging"
	"mysql-replica-backup/internal/replication"
)

// ReplicationFailure is the pseudo-database name used when resuming
// replication fails under the "fail" policy
const ReplicationFailure = "replication"

// StorageFailure is the pseudo-database name used when archives could not be
// promoted to their final location
const StorageFailure = "storage"

// DatabaseLister lists and filters the databases to back up
type DatabaseLister interface {
	Discover(ctx context.Context, allowList string) (discovery.FilterResult, error)
}

// EngineClassifier splits databases by the strategy they need
type EngineClassifier interface {
	Classify(ctx context.Context, databases []string) (discovery.Classification, error)
}

// Options are the run settings taken from the configuration
type Options struct {
	Server              config.ServerConfig
	AllowList           string
	Concurrency         int
	OutputPrefix        string
	FlagOptions         dump.FlagOptions
	ResumeFailurePolicy string
}

// NewOptions derives run options from the configuration. outputPrefix is the
// staging directory with a trailing separator.
func NewOptions(cfg config.Config, outputPrefix string) Options {
	return Options{
		Server:       cfg.Server,
		AllowList:    cfg.Databases,
		Concurrency:  cfg.Concurrency,
		OutputPrefix: outputPrefix,
		FlagOptions: dump.FlagOptions{
			SSL:       cfg.Server.SSL,
			ExtraArgs: cfg.Dump.ExtraArgs,
		},
		ResumeFailurePolicy: cfg.Replication.ResumeFailurePolicy,
	}
}

// Dependencies are the collaborators of an orchestrator
type Dependencies struct {
	Lister     DatabaseLister
	Classifier EngineClassifier
	Replica    replication.Replica
	Executor   dump.Executor
	Observer   Observer
	Logger     *logging.Logger
}

// Orchestrator drives a full run: discovery, classification, the unlocked
// phase, then the locking phase with replication paused.
type Orchestrator struct {
	opts Options
	deps Dependencies
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(opts Options, deps Dependencies) *Orchestrator {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNullLogger()
	}
	return &Orchestrator{opts: opts, deps: deps}
}

// Run executes one backup run. An error is returned only for fatal problems
// before any backup started; per-database failures are in the result.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		ID:        uuid.New().String(),
		Server:    o.opts.Server.Name,
		StartedAt: time.Now(),
	}
	ctx = logging.ContextWithRunID(ctx, result.ID)
	logger := o.deps.Logger

	filter, err := o.deps.Lister.Discover(ctx, o.opts.AllowList)
	if err != nil {
		return nil, err
	}
	result.Databases = filter.Databases
	result.Excluded = filter.Excluded

	classification, err := o.deps.Classifier.Classify(ctx, filter.Databases)
	if err != nil {
		return nil, err
	}
	result.Classification = classification
	o.deps.Observer.Classified(filter, classification)

	aggregator := NewAggregator()
	scheduler := NewScheduler(SchedulerConfig{
		Concurrency:  o.opts.Concurrency,
		OutputPrefix: o.opts.OutputPrefix,
		Connection:   o.opts.Server,
		FlagOptions:  o.opts.FlagOptions,
	}, o.deps.Executor, aggregator, o.deps.Observer, logger)

	scheduler.RunPhase(ctx, 1, classification.TransactionalOnly, dump.StrategySnapshot)

	if len(classification.RequiresLock) > 0 {
		paused, resumeErr := replication.Guard(ctx, o.deps.Replica, func(ctx context.Context) {
			scheduler.RunPhase(ctx, 2, classification.RequiresLock, dump.StrategyLocking)
		})
		result.ReplicationPaused = paused

		if resumeErr != nil {
			result.ResumeError = Summarize(resumeErr.Error())
			if o.opts.ResumeFailurePolicy == config.ResumePolicyFail {
				aggregator.AddFailure(ReplicationFailure, "failed to resume replication: "+result.ResumeError)
			}
		}
	}

	result.Outcomes = aggregator.Outcomes()
	result.Failures = aggregator.Failures()
	result.Success = len(result.Failures) == 0
	result.FinishedAt = time.Now()

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"databases": len(result.Databases),
		"failures":  len(result.Failures),
		"duration":  result.Duration().String(),
	}).Info("Backup run finished")

	return result, nil
}
