// File: internal/harness/runner.go
package harness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/selectsweep/internal/config"
	"github.com/xkilldash9x/selectsweep/internal/valog"
)

// Runner drives the whole test run: one isolated browser session per target,
// strictly sequential combinations within it, with the retry executor and
// liveness monitor wrapped around every browser roundtrip. All counters live
// on the run context, never in package state, so repeated runs cannot
// cross-contaminate.
type Runner struct {
	logger  *zap.Logger
	cfg     config.HarnessConfig
	factory SessionFactory
	vlog    *valog.Buffer
	version string

	state   *RetryState
	tracker *Tracker
	exec    *Executor
	monitor *Monitor

	holderMu sync.Mutex
	holder   *sessionHolder
}

// NewRunner assembles a run context. The validation log buffer is owned by
// the caller; the runner only appends and flushes.
func NewRunner(logger *zap.Logger, cfg config.HarnessConfig, factory SessionFactory, vlog *valog.Buffer, version string) *Runner {
	r := &Runner{
		logger:  logger.Named("runner"),
		cfg:     cfg,
		factory: factory,
		vlog:    vlog,
		version: version,
	}
	r.state = NewRetryState()
	r.tracker = NewTracker()
	r.exec = NewExecutor(logger, r.state, r.tracker)
	r.monitor = NewMonitor(logger, r.tracker, r, cfg.Liveness.CheckInterval, cfg.Liveness.IdleThreshold, cfg.Liveness.MaxSoftRecovery)
	return r
}

// Run executes every target sequentially and always returns a report, even
// when individual targets errored or the context was cancelled mid-run.
func (r *Runner) Run(ctx context.Context, targets []Target) *RunReport {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Version:   r.version,
		StartedAt: time.Now(),
	}

	r.logger.Info("Test run starting",
		zap.String("run_id", report.RunID),
		zap.Int("targets", len(targets)))

	// Background timers (liveness checks, validation log flushes) are owned
	// by this run and shut down deterministically with it.
	timerCtx, cancelTimers := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(timerCtx)
	g.Go(func() error { return r.vlog.Run(gctx, r.cfg.FlushInterval) })
	r.monitor.Start(timerCtx)

	for _, target := range targets {
		if ctx.Err() != nil {
			r.logger.Warn("Run cancelled, remaining targets skipped")
			break
		}
		report.Results = append(report.Results, r.runTarget(ctx, target))
	}

	r.monitor.Stop()
	cancelTimers()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Validation log flusher exited with error", zap.Error(err))
	}

	report.FinishedAt = time.Now()
	report.RetryCounts = r.state.Snapshot()
	report.StuckRecoveries = r.monitor.StuckRecoveries()
	report.HardRestarts = r.monitor.HardRestarts()
	report.Finalize()

	r.logger.Info("Test run finished",
		zap.Int("total", report.TotalTests),
		zap.Int("passed", report.PassedTests),
		zap.Int("failed", report.FailedTests),
		zap.Int("errored_urls", report.ErroredURLs))
	return report
}

// runTarget tests one URL against a fresh session. Structural failures mark
// the result ERROR; they never abort the run.
func (r *Runner) runTarget(ctx context.Context, target Target) (res RunResult) {
	log := r.logger.With(zap.String("url", target.URL))
	res = RunResult{
		URL:         target.URL,
		Description: target.Description,
		Status:      RunCompleted,
		StartedAt:   time.Now(),
	}
	defer func() {
		res.Finalize()
		res.FinishedAt = time.Now()
		r.vlog.Append("url=%s status=%s combinations=%d passed=%d failed=%d",
			res.URL, res.Status, res.ExecutedCombinations, res.Passed, res.Failed)
	}()

	h := &sessionHolder{factory: r.factory, target: target}
	r.setHolder(h)
	defer func() {
		// Full teardown between URLs prevents cookie/storage/DOM leakage
		// across test cases.
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		h.discard(closeCtx)
		cancel()
		r.setHolder(nil)
	}()

	r.exec.ClearRecoveries()
	r.exec.SetRecovery(OpNavigation, func(ctx context.Context) error {
		drv, _, err := h.acquire(ctx)
		if err != nil {
			return err
		}
		return drv.ClearCookies(ctx)
	})
	r.exec.SetRecovery(OpDropdownFind, func(ctx context.Context) error {
		drv, _, err := h.acquire(ctx)
		if err != nil {
			return err
		}
		if err := drv.Reload(ctx); err != nil {
			return err
		}
		return sleepCtx(ctx, recoveryPause)
	})

	log.Info("Testing URL", zap.String("description", target.Description))
	r.vlog.Append("url=%s start", target.URL)

	if err := r.exec.Do(ctx, OpDriverInit, r.cfg.Retry.DriverInit, func(ctx context.Context) error {
		_, _, err := h.acquire(ctx)
		return err
	}); err != nil {
		return failResult(res, log, "browser session could not be initialized", err)
	}

	if err := r.exec.Do(ctx, OpNavigation, r.cfg.Retry.Navigation, func(ctx context.Context) error {
		drv, gen, err := h.acquire(ctx)
		if err != nil {
			return err
		}
		if err := drv.Navigate(ctx, target.URL); err != nil {
			return err
		}
		if h.generation() != gen {
			return ErrSessionDiscarded
		}
		return nil
	}); err != nil {
		return failResult(res, log, "navigation failed", err)
	}

	dropdowns, err := DoValue(r.exec, ctx, OpDropdownFind, r.cfg.Retry.DropdownFind, func(ctx context.Context) ([]*Dropdown, error) {
		disc, err := r.discoverer(ctx, h)
		if err != nil {
			return nil, err
		}
		return disc.DiscoverDropdowns(ctx)
	})
	if err != nil {
		return failResult(res, log, "dropdown discovery failed", err)
	}
	res.DropdownCount = len(dropdowns)
	if target.ExpectedDropdowns > 0 && len(dropdowns) != target.ExpectedDropdowns {
		log.Warn("Discovered dropdown count differs from expectation",
			zap.Int("expected", target.ExpectedDropdowns),
			zap.Int("found", len(dropdowns)))
	}

	for _, dd := range dropdowns {
		options, err := DoValue(r.exec, ctx, OpOptionExtract, r.cfg.Retry.OptionExtract, func(ctx context.Context) ([]Option, error) {
			disc, err := r.discoverer(ctx, h)
			if err != nil {
				return nil, err
			}
			return disc.ExtractOptions(ctx, dd)
		})
		if err != nil {
			return failResult(res, log, "option extraction failed", err)
		}
		dd.Options = options
		res.OptionCounts = append(res.OptionCounts, len(options))
	}
	res.PlannedCombinations = PlannedCombinations(dropdowns)

	combos, err := DoValue(r.exec, ctx, OpCombinationRun, r.cfg.Retry.CombinationRun, func(ctx context.Context) ([]CombinationResult, error) {
		en := NewEnumerator(r.logger, &retrySelector{r: r, h: h}, &sessionClassifier{r: r, h: h})
		return en.Enumerate(ctx, dropdowns)
	})
	if err != nil {
		return failResult(res, log, "combination enumeration failed", err)
	}
	res.Combinations = combos
	return res
}

// failResult marks a structural, per-URL terminal failure.
func failResult(res RunResult, log *zap.Logger, msg string, err error) RunResult {
	log.Error(msg, zap.Error(err))
	res.Status = RunError
	res.Error = msg + ": " + err.Error()
	return res
}

// discoverer builds a Discoverer against the holder's current session.
func (r *Runner) discoverer(ctx context.Context, h *sessionHolder) (*Discoverer, error) {
	drv, _, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return NewDiscoverer(r.logger, drv, r.cfg.MaxDropdowns, r.cfg.ContainerWait, r.cfg.SettleDelay), nil
}

func (r *Runner) setHolder(h *sessionHolder) {
	r.holderMu.Lock()
	r.holder = h
	r.holderMu.Unlock()
}

func (r *Runner) currentHolder() *sessionHolder {
	r.holderMu.Lock()
	defer r.holderMu.Unlock()
	return r.holder
}

// -- Recoverer implementation for the liveness monitor --

// Reload refreshes the current page, if a session exists.
func (r *Runner) Reload(ctx context.Context) error {
	h := r.currentHolder()
	if h == nil {
		return nil
	}
	drv := h.current()
	if drv == nil {
		return nil
	}
	return drv.Reload(ctx)
}

// ScrollTop scrolls the current page back to the top, if a session exists.
func (r *Runner) ScrollTop(ctx context.Context) error {
	h := r.currentHolder()
	if h == nil {
		return nil
	}
	drv := h.current()
	if drv == nil {
		return nil
	}
	return drv.ScrollTop(ctx)
}

// Restart implements the hard-restart escalation: buffered logs are flushed
// and the session object is discarded; the next operation attempt
// re-initializes it. The in-flight browser call, if any, is never
// interrupted; its eventual result is rejected by the generation check.
func (r *Runner) Restart(ctx context.Context) error {
	if err := r.vlog.Flush(); err != nil {
		r.logger.Warn("Validation log flush during restart failed", zap.Error(err))
	}
	h := r.currentHolder()
	if h == nil {
		return nil
	}
	h.discard(ctx)
	return nil
}

// -- session holder --

// sessionHolder owns at most one live session for the current target and
// hands out generation numbers so results that resolve after a hard restart
// can be recognized as stale.
type sessionHolder struct {
	factory SessionFactory
	target  Target

	mu  sync.Mutex
	drv Driver
	gen uint64
}

// acquire returns the current session, creating one if none exists, along
// with the generation it belongs to.
func (h *sessionHolder) acquire(ctx context.Context) (Driver, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drv != nil {
		return h.drv, h.gen, nil
	}
	drv, err := h.factory.NewSession(ctx, h.target)
	if err != nil {
		return nil, h.gen, err
	}
	h.drv = drv
	return h.drv, h.gen, nil
}

// current returns the live session without creating one.
func (h *sessionHolder) current() Driver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv
}

// discard closes and forgets the session and bumps the generation.
func (h *sessionHolder) discard(ctx context.Context) {
	h.mu.Lock()
	drv := h.drv
	h.drv = nil
	h.gen++
	h.mu.Unlock()
	if drv != nil {
		_ = drv.Close(ctx)
	}
}

// generation returns the current session generation.
func (h *sessionHolder) generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// -- enumerator adapters --

// retrySelector wraps the per-selection operations of the Discoverer in the
// run's retry policy.
type retrySelector struct {
	r *Runner
	h *sessionHolder
}

func (s *retrySelector) SelectOption(ctx context.Context, dd *Dropdown, opt Option) error {
	return s.r.exec.Do(ctx, OpOptionSelect, s.r.cfg.Retry.OptionSelect, func(ctx context.Context) error {
		disc, err := s.r.discoverer(ctx, s.h)
		if err != nil {
			return err
		}
		return disc.SelectOption(ctx, dd, opt)
	})
}

func (s *retrySelector) ResetDropdowns(ctx context.Context, dropdowns []*Dropdown, fromIndex int) error {
	return s.r.exec.Do(ctx, OpOptionSelect, s.r.cfg.Retry.OptionSelect, func(ctx context.Context) error {
		disc, err := s.r.discoverer(ctx, s.h)
		if err != nil {
			return err
		}
		return disc.ResetDropdowns(ctx, dropdowns, fromIndex)
	})
}

// sessionClassifier binds classification to the holder's current session and
// mirrors each verdict into the validation log.
type sessionClassifier struct {
	r *Runner
	h *sessionHolder
}

func (c *sessionClassifier) Classify(ctx context.Context, selection Selection, dropdowns []*Dropdown) CombinationResult {
	drv, _, err := c.h.acquire(ctx)
	if err != nil {
		now := time.Now()
		return CombinationResult{
			Selection:       selection,
			Verdict:         VerdictFailed,
			Error:           "session unavailable: " + err.Error(),
			SortObservation: SortObservation{Order: SortNotApplicable, Reason: "session unavailable"},
			StartedAt:       now,
			FinishedAt:      now,
		}
	}
	disc := NewDiscoverer(c.r.logger, drv, c.r.cfg.MaxDropdowns, c.r.cfg.ContainerWait, c.r.cfg.SettleDelay)
	cl := NewClassifier(c.r.logger, drv, disc, c.r.cfg.SampleTiles)
	rec := cl.Classify(ctx, selection, dropdowns)

	c.r.tracker.Mark(OpCombinationRun)
	c.r.vlog.Append("combo verdict=%s tiles=%d message=%q",
		rec.Verdict, rec.TileObservation.VisibleCount, rec.TileObservation.MessageText)
	return rec
}
