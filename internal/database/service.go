package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

// OpenFunc opens a database handle, sql.Open by default
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Service owns the metadata connection to the replica
type Service struct {
	logger *logging.Logger
	open   OpenFunc
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		logger: logger,
		open:   sql.Open,
	}
}

// WithOpenFunc replaces the function used to open handles
func (s *Service) WithOpenFunc(open OpenFunc) *Service {
	s.open = open
	return s
}

// Connect opens the metadata connection and pings it. A failed ping is fatal
// to the run, so there is no retry.
func (s *Service) Connect(ctx context.Context, server config.ServerConfig) (*sql.DB, error) {
	startTime := time.Now()

	if server.Host == "" || server.Username == "" {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "host and username are required to connect", nil)
	}

	s.logger.WithFields(map[string]interface{}{
		"host": server.Host,
		"port": server.Port,
		"ssl":  server.SSL,
	}).Debug("Attempting database connection")

	db, err := s.open("mysql", DSN(server))
	if err != nil {
		err = errors.WrapError(err, "failed to open database connection")
		s.logger.LogDatabaseConnection(server.Host, server.Port, false, time.Since(startTime), err)
		return nil, err
	}

	// dumps use their own connections; the metadata handle only needs a couple
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx := ctx
	if server.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, server.Timeout)
		defer cancel()
	}

	if err := s.TestConnection(pingCtx, db); err != nil {
		db.Close()
		s.logger.LogDatabaseConnection(server.Host, server.Port, false, time.Since(startTime), err)
		return nil, err
	}

	s.logger.LogDatabaseConnection(server.Host, server.Port, true, time.Since(startTime), nil)
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion retrieves the server version string
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	var version string
	query := "SELECT VERSION()"
	startTime := time.Now()

	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), err)

	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}
