// Package replication pauses and resumes the replica SQL thread around
// backups that need table locks.
package replication

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

const (
	stopSQLThread  = "STOP SLAVE SQL_THREAD"
	startSQLThread = "START SLAVE SQL_THREAD"
	slaveStatus    = "SHOW SLAVE STATUS"
)

// State of the replica SQL thread as far as this run knows
type State int

const (
	// Running is the state before Pause and after a successful Resume
	Running State = iota
	// Stopped means this run stopped the SQL thread and still owes a resume
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// Replica is what the backup phases need from replication control
type Replica interface {
	Pause(ctx context.Context) bool
	Resume(ctx context.Context) error
	LogLag(ctx context.Context)
}

// Controller issues replication statements on the metadata connection. It is
// single-writer: one run owns one controller.
type Controller struct {
	db     *sql.DB
	logger *logging.Logger

	mu        sync.Mutex
	state     State
	resumed   bool
	resumeErr error
}

// NewController creates a controller in the Running state
func NewController(db *sql.DB, logger *logging.Logger) *Controller {
	return &Controller{db: db, logger: logger}
}

// State returns the current replication state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pause stops the replica SQL thread. It returns false when the statement
// failed; a missing privilege is only a warning. Pausing a controller whose
// resume already failed arms a new resume attempt.
func (c *Controller) Pause(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Stopped {
		c.resumed = false
		c.resumeErr = nil
		return true
	}

	start := time.Now()
	_, err := c.db.ExecContext(ctx, stopSQLThread)
	c.logger.LogSQLExecution(stopSQLThread, time.Since(start), err)

	if err != nil {
		c.logger.LogReplication("pause", false, errors.IsPrivilegeDenied(err), err)
		return false
	}

	c.state = Stopped
	c.resumed = false
	c.logger.LogReplication("pause", true, false, nil)
	return true
}

// Resume restarts the SQL thread. It only acts when this controller stopped
// it, and only once per pause; later calls return the first result.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Stopped || c.resumed {
		return c.resumeErr
	}
	c.resumed = true

	start := time.Now()
	_, err := c.db.ExecContext(ctx, startSQLThread)
	c.logger.LogSQLExecution(startSQLThread, time.Since(start), err)

	if err != nil {
		c.resumeErr = errors.WrapError(err, "failed to resume replication")
		// a replica left stopped is always an error, whatever the cause
		c.logger.LogReplication("resume", false, false, err)
		return c.resumeErr
	}

	c.state = Running
	c.resumeErr = nil
	c.logger.LogReplication("resume", true, false, nil)
	return nil
}

// Lag returns Seconds_Behind_Master (or Seconds_Behind_Source on newer servers).
// ok is false when the server is not a replica, the value is NULL, or the
// query fails.
func (c *Controller) Lag(ctx context.Context) (int64, bool) {
	rows, err := c.db.QueryContext(ctx, slaveStatus)
	if err != nil {
		c.logger.LogSQLExecution(slaveStatus, 0, err)
		return 0, false
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil || !rows.Next() {
		return 0, false
	}

	values := make([]sql.NullString, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return 0, false
	}

	for i, col := range columns {
		if !strings.EqualFold(col, "Seconds_Behind_Master") && !strings.EqualFold(col, "Seconds_Behind_Source") {
			continue
		}
		if !values[i].Valid {
			return 0, false
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(values[i].String), 10, 64)
		if err != nil {
			return 0, false
		}
		return seconds, true
	}
	return 0, false
}

// LogLag logs the current replication lag, or a warning when it is unknown
func (c *Controller) LogLag(ctx context.Context) {
	seconds, ok := c.Lag(ctx)
	if !ok {
		c.logger.Warn("Could not determine replication lag")
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"seconds": seconds,
		"lag":     (time.Duration(seconds) * time.Second).String(),
	}).Info(fmt.Sprintf("Replication lag: %d seconds", seconds))
}

// Guard runs fn with the SQL thread paused on c.
func (c *Controller) Guard(ctx context.Context, fn func(ctx context.Context)) (paused bool, resumeErr error) {
	return Guard(ctx, c, fn)
}

// Guard pauses r, runs fn, then resumes r if the pause took effect and logs
// the lag. fn runs even when the pause failed. The resume uses a context
// that ignores cancellation of ctx, and still runs if fn panics.
func Guard(ctx context.Context, r Replica, fn func(ctx context.Context)) (paused bool, resumeErr error) {
	paused = r.Pause(ctx)

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if paused {
			resumeErr = r.Resume(cleanupCtx)
		}
		r.LogLag(cleanupCtx)
	}()

	fn(ctx)
	return paused, nil
}
