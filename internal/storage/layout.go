// Package storage stages dump archives in a temporary directory and promotes
// them to their final location.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/logging"
)

// Layout is where one run stages and keeps its archives. Runs are bucketed by
// weekday and hour, so a week of hourly runs rotates in place.
type Layout struct {
	TmpDir   string
	FinalDir string
	Server   string
	Weekday  string
	Hour     string
}

// NewLayout computes the directories for a run started at now.
//
//	tmp:   <tmp_dir>/<Weekday>/<HH>
//	final: <final_dir>/<server>/<Weekday>/<HH>
func NewLayout(cfg config.StorageConfig, server string, now time.Time) Layout {
	l := Layout{
		Server:  server,
		Weekday: now.Weekday().String(),
		Hour:    now.Format("15"),
	}
	l.TmpDir = filepath.Join(cfg.TmpDir, l.Weekday, l.Hour)
	if cfg.FinalDir != "" {
		l.FinalDir = filepath.Join(cfg.FinalDir, server, l.Weekday, l.Hour)
	}
	return l
}

// OutputPrefix is the prefix dump files are written under
func (l Layout) OutputPrefix() string {
	return l.TmpDir + string(os.PathSeparator)
}

// ObjectKey is the location of a staged file relative to the storage root
func (l Layout) ObjectKey(name string) string {
	return path.Join(l.Server, l.Weekday, l.Hour, name)
}

// Prepare creates the staging directory and, when configured, the final one.
// A stale staging directory from the same weekday and hour is emptied first.
func (l Layout) Prepare() error {
	if err := os.RemoveAll(l.TmpDir); err != nil {
		return fmt.Errorf("failed to clear staging directory %s: %w", l.TmpDir, err)
	}
	if err := os.MkdirAll(l.TmpDir, 0750); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", l.TmpDir, err)
	}
	if l.FinalDir != "" {
		if err := os.MkdirAll(l.FinalDir, 0750); err != nil {
			return fmt.Errorf("failed to create final directory %s: %w", l.FinalDir, err)
		}
	}
	return nil
}

// Files lists the regular files staged in TmpDir, sorted by name
func (l Layout) Files() ([]string, error) {
	entries, err := os.ReadDir(l.TmpDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.Type()&fs.ModeType != 0 {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Promote sends every staged file to provider. It keeps going after a failed
// upload and returns the keys that were stored along with the combined error.
func (l Layout) Promote(ctx context.Context, provider Provider, logger *logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	files, err := l.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to list staged files: %w", err)
	}

	done := logger.LogOperationStart("promote", map[string]interface{}{
		"provider": provider.Name(),
		"files":    len(files),
	})

	var (
		stored []string
		result *multierror.Error
	)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		key := l.ObjectKey(name)
		if err := provider.Upload(ctx, filepath.Join(l.TmpDir, name), key); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		logger.WithFields(map[string]interface{}{
			"file":     name,
			"location": provider.Location(key),
		}).Debug("Stored archive")
		stored = append(stored, key)
	}

	err = result.ErrorOrNil()
	done(err)
	return stored, err
}

// Cleanup removes the staging directory
func (l Layout) Cleanup() error {
	if err := os.RemoveAll(l.TmpDir); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", l.TmpDir, err)
	}
	return nil
}
