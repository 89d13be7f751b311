package backup

import (
	"mysql-replica-backup/internal/discovery"
	"mysql-replica-backup/internal/dump"
)

// Observer receives progress events from a run. TaskFinished is called from
// worker goroutines and must be safe for concurrent use.
type Observer interface {
	Classified(filter discovery.FilterResult, classification discovery.Classification)
	PhaseStarted(phase int, strategy dump.Strategy, databases []string)
	TaskFinished(outcome dump.Outcome)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) Classified(discovery.FilterResult, discovery.Classification) {}
func (NopObserver) PhaseStarted(int, dump.Strategy, []string) {}
func (NopObserver) TaskFinished(dump.Outcome) {}
