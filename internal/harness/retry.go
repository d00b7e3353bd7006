// File: internal/harness/retry.go
package harness

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Operation names used by the run loop. The liveness monitor matches on
// substrings of these to pick its soft-recovery action.
const (
	OpDriverInit     = "driverInitialization"
	OpNavigation     = "navigation"
	OpDropdownFind   = "dropdownFinding"
	OpOptionExtract  = "optionExtraction"
	OpOptionSelect   = "optionSelection"
	OpCombinationRun = "combinationTesting"
)

const (
	backoffBase   = time.Second
	backoffCap    = 10 * time.Second
	backoffJitter = time.Second
	recoveryPause = 2 * time.Second
)

// RecoveryFunc runs between a failed attempt and the next one, putting the
// session back into a state where the retry has a chance to succeed.
type RecoveryFunc func(ctx context.Context) error

// Executor wraps fallible operations with bounded retries, capped exponential
// backoff with jitter, and operation-specific recovery actions.
type Executor struct {
	logger     *zap.Logger
	state      *RetryState
	tracker    *Tracker
	recoveries map[string]RecoveryFunc
	rng        *rand.Rand
	// sleep is swappable so tests run without real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor bound to one run's counters and
// progress tracker.
func NewExecutor(logger *zap.Logger, state *RetryState, tracker *Tracker) *Executor {
	return &Executor{
		logger:     logger.Named("retry"),
		state:      state,
		tracker:    tracker,
		recoveries: make(map[string]RecoveryFunc),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepCtx,
	}
}

// SetRecovery registers the recovery action invoked between attempts of the
// named operation. Operations without one get the default pause.
func (e *Executor) SetRecovery(op string, fn RecoveryFunc) {
	e.recoveries[op] = fn
}

// ClearRecoveries drops all registered recovery actions. Called between
// targets, since recoveries close over the previous target's session.
func (e *Executor) ClearRecoveries() {
	e.recoveries = make(map[string]RecoveryFunc)
}

// Do runs fn up to maxAttempts times. Each attempt is preceded by a progress
// mark for the liveness monitor. On success the operation's consecutive
// retry counter resets to zero; on exhaustion it returns an *ExhaustedError
// wrapping the most recent underlying error.
func (e *Executor) Do(ctx context.Context, op string, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.tracker.Mark(op)
		err := fn(ctx)
		if err == nil {
			e.state.Success(op)
			if attempt > 1 {
				e.logger.Info("Operation recovered on retry",
					zap.String("operation", op),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err
		e.state.Failure(op)
		e.logger.Warn("Operation attempt failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if attempt == maxAttempts {
			break
		}
		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return err
		}
		if err := e.recover(ctx, op); err != nil {
			// A failed recovery is not fatal; the next attempt decides.
			e.logger.Warn("Recovery action failed",
				zap.String("operation", op), zap.Error(err))
		}
	}

	return &ExhaustedError{Op: op, Attempts: maxAttempts, Err: lastErr}
}

// DoValue is the value-returning counterpart of Executor.Do.
func DoValue[T any](e *Executor, ctx context.Context, op string, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, maxAttempts, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// backoff computes the capped exponential delay plus jitter for the attempt
// that just failed.
func (e *Executor) backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d + time.Duration(e.rng.Int63n(int64(backoffJitter)))
}

// recover runs the operation's registered recovery action, or the default
// settling pause when none is registered.
func (e *Executor) recover(ctx context.Context, op string) error {
	if fn, ok := e.recoveries[op]; ok {
		return fn(ctx)
	}
	return e.sleep(ctx, recoveryPause)
}
