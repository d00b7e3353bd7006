// File: internal/harness/runner_test.go
package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/selectsweep/internal/config"
	"github.com/xkilldash9x/selectsweep/internal/valog"
)

// pageDriver simulates a full filter page: two dropdowns whose combined
// state decides whether tiles or the canonical empty-state message render.
type pageDriver struct {
	mu sync.Mutex
	// values holds the current selection per dropdown selector.
	values  map[string]string
	options map[string][]jsOption
	// emptyCombos lists value pairs ("brand|color") that render no tiles.
	emptyCombos map[string]bool

	navigations int
	closed      bool

	// findErr makes every discovery strategy come back empty-handed.
	noDropdowns bool
}

func newPageDriver() *pageDriver {
	return &pageDriver{
		values: map[string]string{"#brand": "o1", "#color": "a"},
		options: map[string][]jsOption{
			"#brand": {{Value: "o1", Label: "Brand One", Index: 0}, {Value: "o2", Label: "Brand Two", Index: 1}},
			"#color": {{Value: "a", Label: "Amber", Index: 0}, {Value: "b", Label: "Blue", Index: 1}, {Value: "c", Label: "Coral", Index: 2}},
		},
		emptyCombos: map[string]bool{"o2|b": true, "o2|c": true},
	}
}

func (d *pageDriver) comboKey() string {
	return d.values["#brand"] + "|" + d.values["#color"]
}

func (d *pageDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations++
	return nil
}

func (d *pageDriver) FindElements(ctx context.Context, cssSelector string) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.noDropdowns {
		return nil, nil
	}
	if cssSelector == `select` {
		return []Element{
			&fakeElement{selector: "#brand"},
			&fakeElement{selector: "#color"},
		}, nil
	}
	return nil, nil
}

func (d *pageDriver) Evaluate(ctx context.Context, script string, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	empty := d.emptyCombos[d.comboKey()]
	switch {
	case strings.Contains(script, "result-tile"):
		if empty {
			return encodeTo(tileProbeResult{}, out)
		}
		return encodeTo(tileProbeResult{
			TotalFound: 2,
			Titles:     []string{"Amber Widget", "Blue Widget"},
			Samples:    []TileSample{{Title: "Amber Widget", Link: "https://example.test/1"}},
		}, out)
	case strings.Contains(script, "result-list"),
		strings.Contains(script, "display !== 'grid'"),
		strings.Contains(script, "a.querySelector('img')"):
		return encodeTo(tileProbeResult{}, out)
	case strings.Contains(script, "notification-banner"):
		if empty {
			return encodeTo(messageProbeResult{Found: true, Text: CanonicalNoResultsMessage, Canonical: true}, out)
		}
		return encodeTo(messageProbeResult{}, out)
	case strings.Contains(script, `select[name*="sort"]`):
		return encodeTo(sortProbeResult{Count: 1, Options: []string{"Name A-Z"}}, out)
	}
	return fmt.Errorf("unexpected script")
}

func (d *pageDriver) EvaluateOn(ctx context.Context, el Element, fnScript string, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := el.Selector()
	switch {
	case strings.Contains(fnScript, "opt.disabled"):
		return encodeTo(d.options[sel], out)
	case strings.Contains(fnScript, "sel.value = "):
		d.values[sel] = extractAppliedValue(fnScript)
		return encodeTo(true, out)
	case strings.Contains(fnScript, "return sel.value;"):
		v, ok := d.values[sel]
		if !ok {
			return encodeTo(nil, out)
		}
		return encodeTo(v, out)
	}
	return fmt.Errorf("unexpected element script")
}

func (d *pageDriver) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (d *pageDriver) ClearCookies(ctx context.Context) error { return nil }
func (d *pageDriver) Reload(ctx context.Context) error       { return nil }
func (d *pageDriver) ScrollTop(ctx context.Context) error    { return nil }

func (d *pageDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// pageFactory hands out one fresh pageDriver per session.
type pageFactory struct {
	mu       sync.Mutex
	sessions []*pageDriver
	build    func() *pageDriver
	err      error
}

func (f *pageFactory) NewSession(ctx context.Context, target Target) (Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	drv := f.build()
	f.sessions = append(f.sessions, drv)
	return drv, nil
}

func testHarnessConfig() config.HarnessConfig {
	return config.HarnessConfig{
		MaxDropdowns:  3,
		ContainerWait: time.Second,
		SettleDelay:   0,
		SampleTiles:   10,
		Retry: config.RetryConfig{
			DriverInit:     1,
			Navigation:     1,
			DropdownFind:   1,
			OptionExtract:  1,
			OptionSelect:   1,
			CombinationRun: 1,
		},
		Liveness: config.LivenessConfig{
			CheckInterval:   time.Hour,
			IdleThreshold:   time.Hour,
			MaxSoftRecovery: 2,
		},
		FlushInterval:  time.Hour,
		FlushThreshold: 1000,
	}
}

func newTestRunner(t *testing.T, factory SessionFactory, buf *bytes.Buffer) *Runner {
	vlog := valog.NewWithWriter(zaptest.NewLogger(t), buf, 1000)
	return NewRunner(zaptest.NewLogger(t), testHarnessConfig(), factory, vlog, "test")
}

func TestRunnerFullSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory := &pageFactory{build: newPageDriver}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	report := r.Run(context.Background(), []Target{
		{URL: "https://example.test/browse", Description: "filter page"},
	})

	require.Len(t, report.Results, 1)
	res := report.Results[0]

	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, 2, res.DropdownCount)
	assert.Equal(t, []int{2, 3}, res.OptionCounts)
	assert.Equal(t, 6, res.PlannedCombinations)
	assert.Equal(t, 6, res.ExecutedCombinations)
	assert.Equal(t, 6, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, res.NoResultsExpected)

	verdicts := map[Verdict]int{}
	for _, c := range res.Combinations {
		verdicts[c.Verdict]++
	}
	assert.Equal(t, 4, verdicts[VerdictPassed])
	assert.Equal(t, 2, verdicts[VerdictPassedNoResultsExpected])

	assert.Equal(t, 6, report.TotalTests)
	assert.Equal(t, 6, report.PassedTests)
	assert.Zero(t, report.FailedTests)
	assert.Zero(t, report.ErroredURLs)
	assert.NotEmpty(t, report.RunID)

	require.False(t, res.FinishedAt.IsZero())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	// The session is torn down once the target completes.
	require.Len(t, factory.sessions, 1)
	assert.True(t, factory.sessions[0].closed)

	// Validation entries were flushed on run shutdown, with the summary
	// line reflecting the finalized counters.
	assert.Contains(t, buf.String(), "url=https://example.test/browse")
	assert.Contains(t, buf.String(), "status=COMPLETED combinations=6 passed=6 failed=0")
}

func TestRunnerSortObservedOnTiledCombinations(t *testing.T) {
	factory := &pageFactory{build: newPageDriver}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	report := r.Run(context.Background(), []Target{{URL: "https://example.test/browse"}})
	require.Len(t, report.Results, 1)

	for _, c := range report.Results[0].Combinations {
		if c.Verdict == VerdictPassed {
			assert.Equal(t, SortAlphabetical, c.SortObservation.Order)
			assert.Equal(t, 1, c.SortObservation.ControlCount)
		} else {
			assert.Equal(t, SortNotApplicable, c.SortObservation.Order)
		}
	}
}

func TestRunnerContinuesPastErroredURL(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	factory := &pageFactory{build: func() *pageDriver {
		calls++
		drv := newPageDriver()
		if calls == 1 {
			drv.noDropdowns = true
		}
		return drv
	}}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	report := r.Run(context.Background(), []Target{
		{URL: "https://broken.test"},
		{URL: "https://example.test/browse"},
	})

	require.Len(t, report.Results, 2)
	assert.Equal(t, RunError, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Error, "dropdown discovery failed")
	assert.Equal(t, RunCompleted, report.Results[1].Status)
	assert.Equal(t, 1, report.ErroredURLs)
	assert.Equal(t, 6, report.TotalTests)

	// The failed discovery attempts show up in the retry totals.
	assert.Equal(t, 1, report.RetryCounts[OpDropdownFind])
}

func TestRunnerSessionInitFailure(t *testing.T) {
	factory := &pageFactory{
		build: newPageDriver,
		err:   errors.New("browser did not launch"),
	}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	report := r.Run(context.Background(), []Target{{URL: "https://example.test"}})

	require.Len(t, report.Results, 1)
	assert.Equal(t, RunError, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Error, "browser session could not be initialized")
	assert.Equal(t, 1, report.ErroredURLs)
	assert.Zero(t, report.TotalTests)
}

func TestRunnerCancelledBetweenTargets(t *testing.T) {
	factory := &pageFactory{build: newPageDriver}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := r.Run(ctx, []Target{{URL: "https://a.test"}, {URL: "https://b.test"}})
	assert.Empty(t, report.Results)
	assert.Zero(t, report.TotalTests)
}

func TestRunnerFreshSessionPerTarget(t *testing.T) {
	factory := &pageFactory{build: newPageDriver}
	var buf bytes.Buffer
	r := newTestRunner(t, factory, &buf)

	report := r.Run(context.Background(), []Target{
		{URL: "https://one.test"},
		{URL: "https://two.test"},
	})

	require.Len(t, report.Results, 2)
	require.Len(t, factory.sessions, 2)
	for _, s := range factory.sessions {
		assert.True(t, s.closed)
		assert.Equal(t, 1, s.navigations)
	}
}
