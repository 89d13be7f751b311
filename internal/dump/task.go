// Package dump runs one logical backup per database and describes the
// outcome contract consumed by the backup scheduler.
package dump

import (
	"context"
	"time"

	"mysql-replica-backup/internal/config"
)

// Strategy is the consistency strategy used for a database
type Strategy int

const (
	// StrategySnapshot dumps inside a single transaction without locks
	StrategySnapshot Strategy = iota
	// StrategyLocking locks tables for the duration of the dump
	StrategyLocking
)

func (s Strategy) String() string {
	switch s {
	case StrategySnapshot:
		return "single-transaction"
	case StrategyLocking:
		return "lock-tables"
	default:
		return "unknown"
	}
}

// Phase returns the scheduling phase a strategy runs in
func (s Strategy) Phase() int {
	if s == StrategyLocking {
		return 2
	}
	return 1
}

// MarshalText renders the strategy for manifests
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Task is a single database backup request
type Task struct {
	Database string
	Strategy Strategy
	// Flags are the resolved dump flags, shared by every task of a phase
	Flags []string
	// OutputPrefix is the directory (with trailing separator) dump files go into
	OutputPrefix string
	Connection   config.ServerConfig
}

// Outcome is the result of a Task. Error is a single line when Success is false.
type Outcome struct {
	Database    string        `json:"database" yaml:"database"`
	Phase       int           `json:"phase" yaml:"phase"`
	Strategy    Strategy      `json:"strategy" yaml:"strategy"`
	Success     bool          `json:"success" yaml:"success"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	SizeBytes   int64         `json:"size_bytes" yaml:"size_bytes"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
	ArchivePath string        `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
}

// Executor performs backup tasks. Implementations must be safe for concurrent
// use and must report failures through the Outcome rather than panicking.
type Executor interface {
	Execute(ctx context.Context, task Task) Outcome
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, task Task) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, task Task) Outcome {
	return f(ctx, task)
}
