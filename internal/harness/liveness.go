// File: internal/harness/liveness.go
package harness

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Recoverer is the contract the liveness monitor uses to nudge or replace a
// stuck session. The runner implements it against whichever session is
// current.
type Recoverer interface {
	// Reload refreshes the current page.
	Reload(ctx context.Context) error
	// ScrollTop scrolls the current page back to the top.
	ScrollTop(ctx context.Context) error
	// Restart discards the browser session entirely and flushes buffered
	// logs; the next operation attempt re-initializes the session.
	Restart(ctx context.Context) error
}

// Monitor watches the progress tracker on a fixed interval and escalates
// from soft recovery to a hard session restart when the run loop appears
// stuck. It is best-effort staleness detection, not cancellation: an
// in-flight browser call is never interrupted, only followed up on.
type Monitor struct {
	logger  *zap.Logger
	tracker *Tracker
	rec     Recoverer

	interval      time.Duration
	idleThreshold time.Duration
	maxSoft       int

	// inRecovery guards against overlapping recoveries; concurrent stuck
	// detections are no-ops while one is active.
	inRecovery atomic.Bool
	// softFailures counts consecutive failed soft recoveries; reset after a
	// success or an escalation.
	softFailures atomic.Int32

	stuckRecoveries atomic.Int64
	hardRestarts    atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor builds a liveness monitor. Start must be called to arm it.
func NewMonitor(logger *zap.Logger, tracker *Tracker, rec Recoverer, interval, idleThreshold time.Duration, maxSoft int) *Monitor {
	return &Monitor{
		logger:        logger.Named("liveness"),
		tracker:       tracker,
		rec:           rec,
		interval:      interval,
		idleThreshold: idleThreshold,
		maxSoft:       maxSoft,
		sleep:         sleepCtx,
		done:          make(chan struct{}),
	}
}

// Start launches the periodic check goroutine. Stop (or parent context
// cancellation) shuts it down deterministically.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

// Stop cancels the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

// StuckRecoveries returns how many soft recoveries were attempted.
func (m *Monitor) StuckRecoveries() int { return int(m.stuckRecoveries.Load()) }

// HardRestarts returns how many hard session restarts were triggered.
func (m *Monitor) HardRestarts() int { return int(m.hardRestarts.Load()) }

// check runs one staleness probe. Exported behavior is tested through it.
func (m *Monitor) check(ctx context.Context) {
	idle := m.tracker.Idle()
	if idle < m.idleThreshold {
		return
	}
	if !m.inRecovery.CompareAndSwap(false, true) {
		return
	}
	defer m.inRecovery.Store(false)

	op := m.tracker.CurrentOp()
	m.logger.Warn("Possible stuck session detected",
		zap.Duration("idle", idle),
		zap.String("operation", op))

	m.stuckRecoveries.Add(1)
	if err := m.softRecover(ctx, op); err != nil {
		failures := m.softFailures.Add(1)
		m.logger.Warn("Soft recovery failed",
			zap.Int32("consecutive_failures", failures), zap.Error(err))
		if int(failures) >= m.maxSoft {
			m.escalate(ctx)
		}
		return
	}
	m.softFailures.Store(0)
}

// softRecover nudges the session based on what the run loop was doing, then
// settles and refreshes the progress timestamp.
func (m *Monitor) softRecover(ctx context.Context, op string) error {
	var err error
	switch {
	case strings.Contains(op, "navigation"):
		err = m.rec.Reload(ctx)
	case strings.Contains(op, "dropdown"):
		err = m.rec.ScrollTop(ctx)
	}

	if serr := m.sleep(ctx, recoveryPause); serr != nil && err == nil {
		err = serr
	}
	m.tracker.Touch()
	return err
}

// escalate performs the hard restart path: the session object is discarded
// outright, never interrupted mid-call.
func (m *Monitor) escalate(ctx context.Context) {
	m.logger.Error("Soft recovery budget exhausted, restarting browser session")
	m.hardRestarts.Add(1)
	m.softFailures.Store(0)
	if err := m.rec.Restart(ctx); err != nil {
		m.logger.Error("Hard session restart failed", zap.Error(err))
	}
	m.tracker.Touch()
}
