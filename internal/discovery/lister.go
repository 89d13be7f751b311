// Package discovery finds the databases a run should back up and decides which
// dump strategy each one needs.
package discovery

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

// excluded holds the system and virtual schemas that are never dumped.
var excluded = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"sys":                {},
}

// IsExcluded reports whether name is a system schema that is never backed up
func IsExcluded(name string) bool {
	_, ok := excluded[name]
	return ok
}

// FilterResult is the outcome of applying the allow-list and exclusion set
type FilterResult struct {
	Databases     []string
	Excluded      []string
	FromAllowList bool
}

// Lister queries the server for databases
type Lister struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewLister creates a lister on an open metadata connection
func NewLister(db *sql.DB, logger *logging.Logger) *Lister {
	return &Lister{db: db, logger: logger}
}

// ListDatabases returns every database visible to the backup user, in server order.
func (l *Lister) ListDatabases(ctx context.Context) ([]string, error) {
	const query = "SHOW DATABASES"
	start := time.Now()

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		l.logger.LogSQLExecution(query, time.Since(start), err)
		return nil, connectionError(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, connectionError(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, connectionError(err)
	}

	l.logger.LogSQLExecution(query, time.Since(start), nil)
	return names, nil
}

func connectionError(err error) error {
	return errors.NewAppError(errors.ErrorTypeConnection, "failed to list databases", err)
}

// Filter selects the candidate set and subtracts the exclusion set. A non-empty
// allow-list replaces the server list entirely, even for names the server does
// not have.
func Filter(serverList []string, allowList string) FilterResult {
	candidates := ParseAllowList(allowList)
	result := FilterResult{FromAllowList: len(candidates) > 0}
	if !result.FromAllowList {
		candidates = serverList
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if IsExcluded(name) {
			result.Excluded = append(result.Excluded, name)
			continue
		}
		result.Databases = append(result.Databases, name)
	}
	return result
}

// ParseAllowList splits a comma separated list, trimming entries and dropping blanks
func ParseAllowList(allowList string) []string {
	var names []string
	for _, part := range strings.Split(allowList, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Discover lists the server's databases and applies the allow-list. The server
// is queried even when an allow-list is given so an unreachable server still
// fails the run.
func (l *Lister) Discover(ctx context.Context, allowList string) (FilterResult, error) {
	serverList, err := l.ListDatabases(ctx)
	if err != nil {
		return FilterResult{}, err
	}

	result := Filter(serverList, allowList)

	if result.FromAllowList {
		l.logger.WithField("count", len(result.Databases)+len(result.Excluded)).Info("Using filtered database list")
	}
	if len(result.Excluded) > 0 {
		l.logger.WithField("excluded", strings.Join(result.Excluded, ", ")).Info("Excluding system databases")
	}
	l.logger.WithField("count", len(result.Databases)).Info("Found databases to backup")

	return result, nil
}
