// File: internal/harness/progress.go
package harness

import (
	"sync"
	"time"
)

// Tracker records the most recent sign of life from the run loop. The retry
// executor marks it before every attempt; the liveness monitor reads it to
// detect whole-session hangs.
type Tracker struct {
	mu        sync.Mutex
	lastMark  time.Time
	currentOp string
	now       func() time.Time
}

// NewTracker returns a tracker primed with the current time, so a freshly
// started run is never considered idle.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.lastMark = t.now()
	return t
}

// Mark records that the named operation made progress now.
func (t *Tracker) Mark(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentOp = op
	t.lastMark = t.now()
}

// Touch refreshes the progress timestamp without changing the operation name.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastMark = t.now()
}

// Idle returns how long ago progress was last reported.
func (t *Tracker) Idle() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.lastMark)
}

// CurrentOp returns the name of the most recently started operation.
func (t *Tracker) CurrentOp() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentOp
}

// RetryState tracks per-operation retry counters for one run. Consecutive
// counters reset to zero whenever the operation succeeds; lifetime totals
// only ever grow and feed the final report.
type RetryState struct {
	mu          sync.Mutex
	consecutive map[string]int
	totals      map[string]int
}

// NewRetryState returns an empty counter set.
func NewRetryState() *RetryState {
	return &RetryState{
		consecutive: make(map[string]int),
		totals:      make(map[string]int),
	}
}

// Failure records a failed attempt of the named operation.
func (s *RetryState) Failure(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive[op]++
	s.totals[op]++
}

// Success resets the operation's consecutive counter.
func (s *RetryState) Success(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive[op] = 0
}

// Consecutive returns the operation's consecutive failure count.
func (s *RetryState) Consecutive(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive[op]
}

// Snapshot returns a copy of the lifetime retry totals, omitting operations
// that never failed.
func (s *RetryState) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.totals))
	for op, n := range s.totals {
		if n > 0 {
			out[op] = n
		}
	}
	return out
}
