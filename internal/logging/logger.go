package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const runIDKey contextKey = "run_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	if config.Level == "" {
		config.Level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelDebug,
		Output: io.Discard,
	})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps the CLI/config spelling of a level onto LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(s) {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return LogLevel(s), nil
	case "":
		return LogLevelNormal, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want quiet, normal, verbose or debug)", s)
	}
}

// WithContext returns a logger entry carrying the run ID stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if runID := RunIDFromContext(ctx); runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, port int, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"port":      port,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Connected to server")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogSQLExecution logs a metadata or control statement at debug level, or as an error when it failed
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "sql_execution",
		"sql":       sql,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Debug("SQL execution failed")
		return
	}
	l.logger.WithFields(fields).Debug("SQL executed successfully")
}

// LogPhase logs the start of a backup phase
func (l *Logger) LogPhase(phase int, strategy string, databases int) {
	l.logger.WithFields(logrus.Fields{
		"operation": "backup_phase",
		"phase":     phase,
		"strategy":  strategy,
		"databases": databases,
	}).Info("Starting backup phase")
}

// LogBackupTask logs the outcome of a single database backup
func (l *Logger) LogBackupTask(database string, success bool, size int64, duration time.Duration, errMsg string) {
	fields := logrus.Fields{
		"operation": "database_backup",
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		fields["size_bytes"] = size
		l.logger.WithFields(fields).Info("Database backup completed")
		return
	}
	fields["error"] = errMsg
	l.logger.WithFields(fields).Error("Database backup failed")
}

// LogReplication logs a replication control action. Denied actions are warnings, other failures are errors.
func (l *Logger) LogReplication(action string, success, denied bool, err error) {
	fields := logrus.Fields{
		"operation": "replication_" + action,
		"success":   success,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	switch {
	case success:
		l.logger.WithFields(fields).Infof("Replica SQL thread %s", pastTense(action))
	case denied:
		l.logger.WithFields(fields).Warnf("Cannot %s replication - backup user needs REPLICATION SLAVE ADMIN privilege", action)
	default:
		l.logger.WithFields(fields).Errorf("Failed to %s replication", action)
	}
}

func pastTense(action string) string {
	switch action {
	case "pause":
		return "stopped"
	case "resume":
		return "started"
	default:
		return action
	}
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// ContextWithRunID returns a context carrying the backup run ID for log correlation
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}
