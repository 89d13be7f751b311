package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"mysql-replica-backup/internal/discovery"
	"mysql-replica-backup/internal/dump"
)

// RunResult is the machine-readable report of one backup run
type RunResult struct {
	ID                string                   `json:"id" yaml:"id"`
	Server            string                   `json:"server" yaml:"server"`
	StartedAt         time.Time                `json:"started_at" yaml:"started_at"`
	FinishedAt        time.Time                `json:"finished_at" yaml:"finished_at"`
	Databases         []string                 `json:"databases" yaml:"databases"`
	Excluded          []string                 `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Classification    discovery.Classification `json:"classification" yaml:"classification"`
	Outcomes          []dump.Outcome           `json:"outcomes" yaml:"outcomes"`
	Failures          []Failure                `json:"failures,omitempty" yaml:"failures,omitempty"`
	Success           bool                     `json:"success" yaml:"success"`
	ReplicationPaused bool                     `json:"replication_paused" yaml:"replication_paused"`
	ResumeError       string                   `json:"resume_error,omitempty" yaml:"resume_error,omitempty"`
}

// Duration is the wall time of the run
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalSize sums the archive sizes of successful outcomes
func (r *RunResult) TotalSize() int64 {
	var total int64
	for _, o := range r.Outcomes {
		if o.Success {
			total += o.SizeBytes
		}
	}
	return total
}

// AddFailure records a failure that happened after the run, such as a
// promotion error, and marks the run failed
func (r *RunResult) AddFailure(name, reason string) {
	r.Failures = append(r.Failures, Failure{Database: name, Error: Summarize(reason)})
	r.Success = false
}

// Err combines every failure into one error, or returns nil when the run
// succeeded. The message reads "backup completed with N failure(s): a: x; b: y".
func (r *RunResult) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, fmt.Errorf("%s", f.String()))
	}
	if result == nil {
		if r.Success {
			return nil
		}
		return errors.New("backup completed with failures")
	}
	result.ErrorFormat = func(errs []error) string {
		reasons := make([]string, len(errs))
		for i, err := range errs {
			reasons[i] = err.Error()
		}
		return fmt.Sprintf("backup completed with %d failure(s): %s", len(errs), strings.Join(reasons, "; "))
	}
	return result
}

// Succeeded counts successful outcomes
func (r *RunResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// WriteManifest writes the report to path. A .json extension selects JSON,
// anything else YAML.
func (r *RunResult) WriteManifest(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
	default:
		data, err = yaml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
