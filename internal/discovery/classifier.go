package discovery

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

// DefaultLockEngines are the non-transactional engines that need table locks
var DefaultLockEngines = []string{"MyISAM", "Aria"}

const engineQuery = `SELECT TABLE_SCHEMA, ENGINE, COUNT(*) FROM information_schema.TABLES ` +
	`WHERE TABLE_TYPE = 'BASE TABLE' AND ENGINE IS NOT NULL ` +
	`GROUP BY TABLE_SCHEMA, ENGINE`

// Classification partitions the filtered databases by the dump strategy they need
type Classification struct {
	TransactionalOnly []string            `json:"transactional_only" yaml:"transactional_only"`
	RequiresLock      []string            `json:"requires_lock" yaml:"requires_lock"`
	Engines           map[string][]string `json:"engines" yaml:"engines"`
}

// Total returns how many databases were classified
func (c Classification) Total() int {
	return len(c.TransactionalOnly) + len(c.RequiresLock)
}

// NeedsLock reports whether db was put in the lock-requiring group
func (c Classification) NeedsLock(db string) bool {
	for _, name := range c.RequiresLock {
		if name == db {
			return true
		}
	}
	return false
}

// Classifier reads table engines from information_schema
type Classifier struct {
	db          *sql.DB
	logger      *logging.Logger
	lockEngines map[string]struct{}
}

// NewClassifier creates a classifier. An empty lockEngines uses DefaultLockEngines.
func NewClassifier(db *sql.DB, logger *logging.Logger, lockEngines []string) *Classifier {
	if len(lockEngines) == 0 {
		lockEngines = DefaultLockEngines
	}
	set := make(map[string]struct{}, len(lockEngines))
	for _, e := range lockEngines {
		set[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &Classifier{db: db, logger: logger, lockEngines: set}
}

// Classify splits databases into transactional-only and lock-requiring groups,
// preserving input order within each group. One query covers every database.
func (c *Classifier) Classify(ctx context.Context, databases []string) (Classification, error) {
	result := Classification{Engines: make(map[string][]string, len(databases))}
	if len(databases) == 0 {
		return result, nil
	}

	engines, err := c.engines(ctx)
	if err != nil {
		return Classification{}, err
	}

	for _, name := range databases {
		dbEngines := engines[name]
		sort.Strings(dbEngines)
		result.Engines[name] = dbEngines

		if c.needsLock(dbEngines) {
			result.RequiresLock = append(result.RequiresLock, name)
		} else {
			result.TransactionalOnly = append(result.TransactionalOnly, name)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"transactional": len(result.TransactionalOnly),
		"requires_lock": len(result.RequiresLock),
	}).Debug("Classified databases")

	return result, nil
}

func (c *Classifier) needsLock(engines []string) bool {
	for _, e := range engines {
		if _, ok := c.lockEngines[strings.ToLower(e)]; ok {
			return true
		}
	}
	return false
}

// engines returns the distinct engines in use per schema
func (c *Classifier) engines(ctx context.Context) (map[string][]string, error) {
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, engineQuery)
	if err != nil {
		c.logger.LogSQLExecution(engineQuery, time.Since(start), err)
		return nil, errors.WrapError(err, "failed to read table engines")
	}
	defer rows.Close()

	engines := make(map[string][]string)
	for rows.Next() {
		var schema, engine string
		var count int64
		if err := rows.Scan(&schema, &engine, &count); err != nil {
			return nil, errors.WrapError(err, "failed to read table engines")
		}
		if count > 0 {
			engines[schema] = append(engines[schema], engine)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to read table engines")
	}

	c.logger.LogSQLExecution(engineQuery, time.Since(start), nil)
	return engines, nil
}
