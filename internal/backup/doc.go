// Package backup runs a two-phase backup of the databases on a replica.
//
// A run discovers the databases to back up, classifies them by table engine and
// dumps them in two phases:
//
// 1. Transactional: databases whose tables are all transactional are dumped in
// parallel with a consistent snapshot and no locks
// 2. Locking: databases holding non-transactional tables are dumped with table
// locks while the replica SQL thread is paused
//
// Replication is resumed exactly once after phase 2, even when every dump in the
// phase failed or the run was interrupted. Per-database failures never abort a
// run; they are collected by the Aggregator and reported in the RunResult.
//
// Core Components:
//
// - Orchestrator: drives discovery, classification and both phases
// - Scheduler: runs one phase on a bounded worker pool with a hard barrier
// - Aggregator: collects outcomes and failures from concurrent workers
// - RunResult: the final report, also written as a JSON or YAML manifest
//
// Example usage:
//
//	orchestrator := backup.NewOrchestrator(backup.NewOptions(cfg, layout.OutputPrefix()), backup.Dependencies{
//		Lister:     discovery.NewLister(db, logger),
//		Classifier: discovery.NewClassifier(db, logger, cfg.Classification.LockEngines),
//		Replica:    replication.NewController(db, logger),
//		Executor:   dump.NewMariaDBExecutor(cfg.Dump.Binary, archiver, logger),
//		Logger:     logger,
//	})
//	result, err := orchestrator.Run(ctx)
//	if err != nil {
//		return fmt.Errorf("backup run failed: %w", err)
//	}
//	if !result.Success {
//		for _, f := range result.Failures {
//			fmt.Printf("%s: %s\n", f.Database, f.Error)
//		}
//	}
package backup
