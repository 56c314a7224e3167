package reconcile

import (
	"time"

	"go.uber.org/atomic"
)

type stats struct {
	runs                atomic.Uint64
	failedRuns          atomic.Uint64
	retries             atomic.Uint64
	triggers            atomic.Uint64
	blocksSynced        atomic.Uint64
	eventsApplied       atomic.Uint64
	malformedEvents     atomic.Uint64
	orphanEvents        atomic.Uint64
	invariantViolations atomic.Uint64

	lastRunID    atomic.String
	lastRunError atomic.String
	lastRunAt    atomic.Int64

	followUp atomic.Bool
}

// Stats is a point in time copy of the engine counters. The alert counters
// are MalformedEvents, OrphanEvents and InvariantViolations.
type Stats struct {
	Runs                uint64    `json:"runs"`
	FailedRuns          uint64    `json:"failedRuns"`
	Retries             uint64    `json:"retries"`
	Triggers            uint64    `json:"triggers"`
	BlocksSynced        uint64    `json:"blocksSynced"`
	EventsApplied       uint64    `json:"eventsApplied"`
	MalformedEvents     uint64    `json:"malformedEvents"`
	OrphanEvents        uint64    `json:"orphanEvents"`
	InvariantViolations uint64    `json:"invariantViolations"`
	LastRunID           string    `json:"lastRunId,omitempty"`
	LastRunError        string    `json:"lastRunError,omitempty"`
	LastRunAt           time.Time `json:"lastRunAt,omitempty"`
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Runs:                e.stats.runs.Load(),
		FailedRuns:          e.stats.failedRuns.Load(),
		Retries:             e.stats.retries.Load(),
		Triggers:            e.stats.triggers.Load(),
		BlocksSynced:        e.stats.blocksSynced.Load(),
		EventsApplied:       e.stats.eventsApplied.Load(),
		MalformedEvents:     e.stats.malformedEvents.Load(),
		OrphanEvents:        e.stats.orphanEvents.Load(),
		InvariantViolations: e.stats.invariantViolations.Load(),
		LastRunID:           e.stats.lastRunID.Load(),
		LastRunError:        e.stats.lastRunError.Load(),
	}
	if ns := e.stats.lastRunAt.Load(); ns > 0 {
		s.LastRunAt = time.Unix(0, ns).UTC()
	}
	return s
}

func (e *Engine) recordRun(id string, err error) {
	e.stats.runs.Inc()
	e.stats.lastRunID.Store(id)
	e.stats.lastRunAt.Store(time.Now().UnixNano())
	if err != nil {
		e.stats.failedRuns.Inc()
		e.stats.lastRunError.Store(err.Error())
		return
	}
	e.stats.lastRunError.Store("")
}
