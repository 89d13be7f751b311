package backup

import (
	"fmt"
	"sync"

	"mysql-replica-backup/internal/dump"
)

// Failure is one failed database with a single-line reason
type Failure struct {
	Database string `json:"database" yaml:"database"`
	Error    string `json:"error" yaml:"error"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Database, f.Error)
}

// Summarize reduces an error message to the single line kept in reports
func Summarize(err string) string {
	return dump.Summarize(err)
}

// Aggregator collects outcomes from concurrent tasks. It is append-only.
type Aggregator struct {
	mu       sync.Mutex
	outcomes []dump.Outcome
	extra    []Failure
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records an outcome. Failure reasons are reduced to one line.
func (a *Aggregator) Add(outcome dump.Outcome) {
	if !outcome.Success {
		outcome.Error = Summarize(outcome.Error)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome)
}

// AddFailure records a run-level failure that is not tied to a dump task
func (a *Aggregator) AddFailure(name, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extra = append(a.extra, Failure{Database: name, Error: Summarize(reason)})
}

// Outcomes returns a snapshot of every recorded outcome
func (a *Aggregator) Outcomes() []dump.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]dump.Outcome(nil), a.outcomes...)
}

// Failures returns the failed outcomes in completion order, followed by
// run-level failures.
func (a *Aggregator) Failures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()

	var failures []Failure
	for _, o := range a.outcomes {
		if !o.Success {
			failures = append(failures, Failure{Database: o.Database, Error: o.Error})
		}
	}
	return append(failures, a.extra...)
}

// Success is true iff nothing failed
func (a *Aggregator) Success() bool {
	return len(a.Failures()) == 0
}
