package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"keypilot/internal/domain"
)

// ErrUnknownRun is returned when transitioning a run that was never begun.
var ErrUnknownRun = errors.New("unknown run")

// RunRecord is the outcome of one job run.
type RunRecord struct {
	RunID      string           `json:"runId"`
	Job        string           `json:"job"`
	Status     domain.RunStatus `json:"status"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// History keeps the most recent runs and validates their transitions.
type History struct {
	mu      sync.RWMutex
	maxRuns int
	order   []string
	runs    map[string]*RunRecord
}

// NewHistory creates a bounded run history.
func NewHistory(maxRuns int) *History {
	if maxRuns <= 0 {
		maxRuns = 100
	}
	return &History{maxRuns: maxRuns, runs: make(map[string]*RunRecord)}
}

// Begin records a run in running state.
func (h *History) Begin(job, runID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs[runID] = &RunRecord{RunID: runID, Job: job, Status: domain.RunStatusRunning, StartedAt: at}
	h.order = append(h.order, runID)
	if len(h.order) > h.maxRuns {
		trim := len(h.order) - h.maxRuns
		for _, id := range h.order[:trim] {
			delete(h.runs, id)
		}
		h.order = append([]string(nil), h.order[trim:]...)
	}
}

// Finish validates and applies the terminal transition of a run.
func (h *History) Finish(runID string, status domain.RunStatus, at time.Time, runErr error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if !isValidTransition(rec.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", rec.Status, status)
	}

	rec.Status = status
	rec.FinishedAt = at
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return nil
}

// Get returns a copy of one run record.
func (h *History) Get(runID string) (RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// Recent returns run records newest first.
func (h *History) Recent() []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RunRecord, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		out = append(out, *h.runs[h.order[i]])
	}
	return out
}

// isValidTransition enforces the run state machine edges.
func isValidTransition(from, to domain.RunStatus) bool {
	switch from {
	case domain.RunStatusRunning:
		return to == domain.RunStatusDone || to == domain.RunStatusFailed || to == domain.RunStatusCancelled
	default:
		return false
	}
}
