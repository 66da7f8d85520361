package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

// SendState is the lifecycle of one optimistic send.
type SendState int

const (
	StatePending SendState = iota
	StateConfirmed
	StateFailed
)

func (s SendState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SendState(%d)", int(s))
	}
}

// PendingSend is the record kept per provisional id.
type PendingSend struct {
	ProvisionalID string
	ThreadKey     model.ThreadKey
	State         SendState
	StartedAt     time.Time
	timer         *clock.Timer
}

// Tracker holds the send state machine. Transition is the only way a record
// leaves StatePending.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*PendingSend
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*PendingSend)}
}

// Begin registers a new pending send.
func (t *Tracker) Begin(id string, key model.ThreadKey, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[id] = &PendingSend{
		ProvisionalID: id,
		ThreadKey:     key,
		State:         StatePending,
		StartedAt:     at,
	}
	metrics.PendingSends.Inc()
}

// Arm attaches the confirmation timer. If the send already left
// StatePending the timer is stopped and Arm returns false.
func (t *Tracker) Arm(id string, timer *clock.Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.State != StatePending {
		timer.Stop()
		return false
	}
	rec.timer = timer
	return true
}

// Disarm stops the confirmation timer of a pending send. It returns false
// when the send already left StatePending.
func (t *Tracker) Disarm(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.State != StatePending {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	return true
}

// Transition moves a pending send to Confirmed or Failed. Any other move,
// including a repeat, returns ErrIllegalTransition and changes nothing.
func (t *Tracker) Transition(id string, to SendState) (PendingSend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return PendingSend{}, fmt.Errorf("%w: unknown send %s", ErrIllegalTransition, id)
	}
	if rec.State != StatePending || (to != StateConfirmed && to != StateFailed) {
		return *rec, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.State, to)
	}
	rec.State = to
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	metrics.PendingSends.Dec()
	return *rec, nil
}

// Get returns a copy of the record for id.
func (t *Tracker) Get(id string) (PendingSend, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return PendingSend{}, false
	}
	return *rec, true
}

// PendingCount returns the number of sends still awaiting confirmation.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, rec := range t.records {
		if rec.State == StatePending {
			n++
		}
	}
	return n
}

// Abandon forgets every record of a thread, stopping their timers.
func (t *Tracker) Abandon(key model.ThreadKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.records {
		if rec.ThreadKey == key {
			t.dropLocked(id, rec)
		}
	}
}

// Reset forgets every record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.records {
		t.dropLocked(id, rec)
	}
}

func (t *Tracker) dropLocked(id string, rec *PendingSend) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	if rec.State == StatePending {
		metrics.PendingSends.Dec()
	}
	delete(t.records, id)
}
