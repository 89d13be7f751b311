package cmd

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mysql-replica-backup/internal/archive"
	"mysql-replica-backup/internal/backup"
	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/database"
	"mysql-replica-backup/internal/discovery"
	"mysql-replica-backup/internal/display"
	"mysql-replica-backup/internal/dump"
	apperrors "mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
	"mysql-replica-backup/internal/notify"
	"mysql-replica-backup/internal/replication"
	"mysql-replica-backup/internal/storage"
)

// runBackup is the full flow: connect, stage, dump both phases, promote,
// clean up, write the manifest and notify.
func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fatal(err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fatal(err)
	}
	logger.WithFields(map[string]interface{}{
		"server":      cfg.Server.Name,
		"host":        cfg.Server.Host,
		"compression": cfg.Archive.Compression,
		"provider":    cfg.Storage.Provider,
	}).Debug("Configuration loaded")

	shutdown := apperrors.NewGracefulShutdownHandler()
	ctx := shutdown.Start(cmd.Context())
	defer shutdown.Stop()
	shutdown.RegisterShutdownFunc(func() error {
		logger.Warn("Interrupt received, stopping running dumps")
		return nil
	})

	reporter := newReporter(cfg.Display)
	now := time.Now()
	reporter.Header(cfg.Server.Name, now)

	service, db, err := connect(ctx, cfg, logger)
	if err != nil {
		return fatal(err)
	}
	defer service.Close(db)

	layout := storage.NewLayout(cfg.Storage, cfg.Server.Name, now)
	if err := layout.Prepare(); err != nil {
		return fatal(apperrors.NewAppError(apperrors.ErrorTypeStorage, "failed to prepare staging directories", err))
	}

	provider, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return fatal(err)
	}
	defer provider.Close()

	archiver, err := archive.New(cfg.Archive)
	if err != nil {
		return fatal(apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid archive configuration", err))
	}

	orchestrator := backup.NewOrchestrator(
		backup.NewOptions(cfg, layout.OutputPrefix()),
		backup.Dependencies{
			Lister:     discovery.NewLister(db, logger),
			Classifier: discovery.NewClassifier(db, logger, cfg.Classification.LockEngines),
			Replica:    replication.NewController(db, logger),
			Executor:   dump.NewMariaDBExecutor(cfg.Dump.Binary, archiver, logger),
			Observer:   reporter,
			Logger:     logger,
		},
	)

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return fatal(err)
	}

	// Promotion runs even when some databases failed.
	stored, promoteErr := layout.Promote(ctx, provider, logger)
	reporter.Stored(provider.Location(layout.ObjectKey("")), len(stored), promoteErr)
	if promoteErr != nil {
		result.AddFailure(backup.StorageFailure, promoteErr.Error())
	} else if !cfg.Storage.KeepTmp {
		if err := layout.Cleanup(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to remove staging directory")
		}
	}

	if cfg.Display.Manifest != "" {
		if err := result.WriteManifest(cfg.Display.Manifest); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to write manifest")
		} else {
			logger.WithField("path", cfg.Display.Manifest).Info("Manifest written")
		}
	}

	notify.New(cfg.Notify, logger).Notify(context.WithoutCancel(ctx), result)
	reporter.Summary(result)

	return runOutcome(result)
}

// runOutcome maps a finished run onto the process exit status
func runOutcome(result *backup.RunResult) error {
	if result.Success {
		return nil
	}
	return &exitError{code: exitBackupFailed, err: result.Err()}
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logger, err := logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(cfg.Level),
		Output:  os.Stderr,
		Format:  cfg.Format,
		LogFile: cfg.File,
	})
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to create logger", err)
	}
	return logger, nil
}

func newReporter(cfg config.DisplayConfig) *display.Reporter {
	return display.NewReporter(os.Stdout, display.Options{
		Colors:  display.NewColorSystem(cfg.Color && display.DetectColorSupport(os.Stdout)),
		Unicode: display.DetectUnicodeSupport(os.Stdout),
		Width:   display.TerminalWidth(os.Stdout),
	})
}

// connect opens the metadata connection used by subcommands
func connect(ctx context.Context, cfg config.Config, logger *logging.Logger) (*database.Service, *sql.DB, error) {
	return connectWith(ctx, database.NewServiceWithLogger(logger), cfg, logger)
}

func connectWith(ctx context.Context, service *database.Service, cfg config.Config, logger *logging.Logger) (*database.Service, *sql.DB, error) {
	db, err := service.Connect(ctx, cfg.Server)
	if err != nil {
		return nil, nil, err
	}

	if version, err := service.GetVersion(ctx, db); err != nil {
		logger.WithField("error", err.Error()).Warn("Could not determine server version")
	} else {
		logger.WithFields(map[string]interface{}{
			"server":  cfg.Server.Name,
			"version": version,
		}).Info("Connected to replica")
	}
	return service, db, nil
}
