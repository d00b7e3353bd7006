// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/config"
)

// Manager handles the lifecycle of the headless browser process. Session
// contexts (tabs) are derived from its allocator; one allocator is kept per
// headless mode so per-test-case overrides do not force a relaunch of
// everything else.
type Manager struct {
	logger       *zap.Logger
	globalConfig *config.Config

	mu         sync.Mutex
	allocators map[bool]*allocator

	// wg tracks active sessions for a graceful shutdown.
	wg sync.WaitGroup
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager initializes the browser manager and launches the default
// browser process so configuration problems surface before the run starts.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:       logger.Named("browser_manager"),
		globalConfig: cfg,
		allocators:   make(map[bool]*allocator),
	}
	if _, err := m.allocatorFor(ctx, cfg.Browser.Headless); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// allocatorFor returns the allocator context for the given headless mode,
// launching and health-checking the browser process on first use.
func (m *Manager) allocatorFor(ctx context.Context, headless bool) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.allocators[headless]; ok {
		return a.ctx, nil
	}

	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", headless))
	opts := m.buildAllocatorOptions(headless)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)

	// Run a simple task with a deadline to confirm the browser is alive.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"))
	cancelTestCtx()
	cancelTest()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.allocators[headless] = &allocator{ctx: allocCtx, cancel: cancel}
	m.logger.Info("Browser launched successfully and is responsive.")
	return allocCtx, nil
}

// buildAllocatorOptions assembles the launch flags for a browser instance.
func (m *Manager) buildAllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)

	bc := m.globalConfig.Browser
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("ignore-certificate-errors", bc.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", headless),
		chromedp.WindowSize(bc.ViewportWidth, bc.ViewportHeight),
	)
	if bc.DisableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}

	// Custom arguments from the config file, "--name=value" or "--name".
	for _, arg := range bc.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// Shutdown waits for all active sessions to complete and then terminates the
// browser processes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	m.mu.Lock()
	for mode, a := range m.allocators {
		a.cancel()
		delete(m.allocators, mode)
	}
	m.mu.Unlock()

	m.logger.Info("Browser manager shut down.")
	return nil
}
