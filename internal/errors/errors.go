package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeSQL represents SQL execution errors
	ErrorTypeSQL ErrorType = "sql"
	// ErrorTypeValidation represents configuration and input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeStorage represents staging or upload errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// MySQL server error numbers the backup cares about.
const (
	mysqlAccessDenied         = 1045 // ER_ACCESS_DENIED_ERROR
	mysqlUnknownDatabase      = 1049 // ER_BAD_DB_ERROR
	mysqlTableAccessDenied    = 1142 // ER_TABLEACCESS_DENIED_ERROR
	mysqlSpecificAccessDenied = 1227 // ER_SPECIFIC_ACCESS_DENIED_ERROR
	mysqlSyntaxError          = 1064 // ER_PARSE_ERROR
	mysqlNotReplica           = 1200 // ER_SLAVE_NOT_RUNNING / not configured as replica
	mysqlCantConnect          = 2003
	mysqlServerGone           = 2006
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	e := NewAppError(errorType, message, cause)
	e.Recoverable = true
	return e
}

// ErrorClassifier provides methods to classify different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlAccessDenied:
			return NewAppError(ErrorTypePermission,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlSpecificAccessDenied, mysqlTableAccessDenied:
			return NewAppError(ErrorTypePermission,
				"Backup user lacks a required privilege", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlUnknownDatabase:
			return NewAppError(ErrorTypeValidation,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlSyntaxError:
			return NewAppError(ErrorTypeSQL,
				"SQL syntax error", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlNotReplica:
			return NewAppError(ErrorTypeSQL,
				"Server is not configured as a replica", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlCantConnect:
			return NewRecoverableError(ErrorTypeConnection,
				"Cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case mysqlServerGone:
			return NewRecoverableError(ErrorTypeConnection,
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeSQL,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

// classifyFileSystemError classifies staging directory errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeStorage,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES, syscall.EPERM:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeStorage,
				fmt.Sprintf("No space left on device: %s", pathErr.Path), err)
		}
	}
	return nil
}

// IsPrivilegeDenied reports whether err means the backup user is not allowed to
// run a statement, as opposed to the statement failing for another reason.
func IsPrivilegeDenied(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlAccessDenied, mysqlTableAccessDenied, mysqlSpecificAccessDenied:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "replication slave admin") ||
		strings.Contains(msg, "super privilege") ||
		strings.Contains(msg, "access denied")
}

// WrapError wraps an existing error with additional context while keeping its classification
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classified := NewErrorClassifier().ClassifyError(err)
	return &AppError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
	}
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return err.Error()
}

// TroubleshootingHints returns operator hints for a classified error
func TroubleshootingHints(err error) []string {
	switch GetErrorType(err) {
	case ErrorTypeConnection:
		return []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case ErrorTypePermission:
		return []string{
			"Verify the username and password are correct",
			"Grant SELECT, LOCK TABLES, SHOW VIEW, EVENT, TRIGGER to the backup user",
			"Grant REPLICATION SLAVE ADMIN to let the backup pause replication",
		}
	case ErrorTypeValidation:
		return []string{
			"Review the configuration file and environment variables",
			"Generate a sample configuration with the config command",
		}
	case ErrorTypeStorage:
		return []string{
			"Check free space and permissions on the tmp and final directories",
			"Verify object storage credentials and bucket names",
		}
	}
	return nil
}

// GracefulShutdownHandler cancels a context on SIGINT/SIGTERM and runs registered cleanups
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	stopped       chan struct{}
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signalChan: make(chan os.Signal, 1),
		stopped:    make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called when a signal arrives
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start listens for shutdown signals and returns a context cancelled on the first one
func (gsh *GracefulShutdownHandler) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-gsh.signalChan:
			cancel()
			gsh.shutdown()
		case <-gsh.stopped:
			cancel()
		}
	}()

	return ctx
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	select {
	case <-gsh.stopped:
	default:
		close(gsh.stopped)
	}
}

// shutdown executes all registered shutdown functions in reverse order
func (gsh *GracefulShutdownHandler) shutdown() {
	gsh.mu.Lock()
	funcs := append([]func() error(nil), gsh.shutdownFuncs...)
	gsh.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}
