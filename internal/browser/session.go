// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/config"
	"github.com/xkilldash9x/selectsweep/internal/harness"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// tagAttribute is stamped onto located elements so they can be re-addressed
// by a stable selector for the rest of the page's lifetime.
const tagAttribute = "data-sweep-id"

// staleMarker is thrown from injected scripts when the addressed element no
// longer exists, and mapped back to harness.ErrStaleElement.
const staleMarker = "sweep:stale-element"

// Factory creates isolated chromedp sessions from the shared manager.
type Factory struct {
	logger  *zap.Logger
	manager *Manager
	cfg     *config.Config
}

// NewFactory wires a session factory over the given manager.
func NewFactory(logger *zap.Logger, manager *Manager, cfg *config.Config) *Factory {
	return &Factory{
		logger:  logger.Named("browser_factory"),
		manager: manager,
		cfg:     cfg,
	}
}

// NewSession opens a fresh browser tab for the target. The tab carries its
// own cookie jar and DOM; nothing is shared with previous sessions.
func (f *Factory) NewSession(ctx context.Context, target harness.Target) (harness.Driver, error) {
	headless := f.cfg.Browser.Headless
	if target.Headless != nil {
		headless = *target.Headless
	}
	allocCtx, err := f.manager.allocatorFor(ctx, headless)
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	s := &session{
		logger: f.logger.Named("session"),
		cfg:    f.cfg.Browser,
		ctx:    tabCtx,
		cancel: cancel,
	}

	if err := s.emulate(target); err != nil {
		cancel()
		return nil, err
	}

	f.manager.wg.Add(1)
	s.release = func() { f.manager.wg.Done() }
	return s, nil
}

// session implements harness.Driver on top of a single chromedp tab context.
type session struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	closed atomic.Bool
	idSeq  atomic.Int64
}

// devicePresets maps the CSV device column to chromedp emulation presets.
var devicePresets = map[string]chromedp.Device{
	"iphone-x":    device.IPhoneX,
	"iphone-8":    device.IPhone8,
	"iphone-se":   device.IPhoneSE,
	"ipad":        device.IPad,
	"ipad-pro":    device.IPadPro,
	"pixel-2":     device.Pixel2,
	"pixel-2-xl":  device.Pixel2XL,
	"galaxy-s5":   device.GalaxyS5,
	"nexus-5":     device.Nexus5,
	"nexus-7":     device.Nexus7,
	"kindle-fire": device.KindleFireHDX,
}

func (s *session) emulate(target harness.Target) error {
	name := target.MobileDevice
	if name == "" {
		name = target.Device
	}
	if name == "" {
		name = s.cfg.Device
	}
	if name == "" {
		return nil
	}

	preset, ok := devicePresets[normalizeDeviceName(name)]
	if !ok {
		s.logger.Warn("Unknown device preset, keeping desktop viewport", zap.String("device", name))
		return nil
	}
	if err := chromedp.Run(s.ctx, chromedp.Emulate(preset)); err != nil {
		return fmt.Errorf("failed to emulate device %q: %w", name, err)
	}
	return nil
}

func normalizeDeviceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	return strings.ReplaceAll(name, "_", "-")
}

// run executes actions in the tab context bounded by the caller's context.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return harness.ErrSessionDiscarded
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := s.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	// Give client-side rendering a chance to populate the page.
	if s.cfg.PostLoadWait > 0 {
		select {
		case <-time.After(s.cfg.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pageElement addresses a tagged DOM node by its stamped attribute selector.
type pageElement struct {
	selector string
}

func (e *pageElement) Selector() string { return e.selector }

// FindElements locates all matches of the CSS selector and stamps each with
// a unique tag attribute so later operations can address it without holding
// a node reference.
func (s *session) FindElements(ctx context.Context, cssSelector string) ([]harness.Element, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(cssSelector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("querying %q failed: %w", cssSelector, err)
	}

	elements := make([]harness.Element, 0, len(nodes))
	for _, node := range nodes {
		id := fmt.Sprintf("sweep-%d-%d", time.Now().UnixNano(), s.idSeq.Add(1))
		if err := s.run(ctx, dom.SetAttributeValue(node.NodeID, tagAttribute, id)); err != nil {
			// CDP error -32000 or "Could not find node" indicates the node
			// vanished between query and tagging.
			if strings.Contains(err.Error(), "Could not find node") || strings.Contains(err.Error(), "-32000") {
				return nil, fmt.Errorf("tagging element for %q: %w", cssSelector, harness.ErrStaleElement)
			}
			return nil, fmt.Errorf("tagging element for %q: %w", cssSelector, err)
		}
		elements = append(elements, &pageElement{selector: fmt.Sprintf(`[%s=%q]`, tagAttribute, id)})
	}
	return elements, nil
}

func (s *session) Evaluate(ctx context.Context, script string, out any) error {
	err := s.run(ctx, chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return mapScriptError(err)
	}
	return nil
}

func (s *session) EvaluateOn(ctx context.Context, el harness.Element, fnScript string, out any) error {
	expr := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { throw new Error(%s); }
	return (%s)(el);
})()`, jsonEncode(el.Selector()), jsonEncode(staleMarker), fnScript)
	return s.Evaluate(ctx, expr, out)
}

func (s *session) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return nil
}

func (s *session) ClearCookies(ctx context.Context) error {
	return s.run(ctx, storage.ClearCookies())
}

func (s *session) Reload(ctx context.Context) error {
	reloadCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	return s.run(reloadCtx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *session) ScrollTop(ctx context.Context) error {
	return s.Evaluate(ctx, `window.scrollTo(0, 0)`, nil)
}

func (s *session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if s.release != nil {
		s.release()
	}
	return nil
}

// mapScriptError folds injected-script failures onto harness sentinel errors.
func mapScriptError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), staleMarker) {
		return harness.ErrStaleElement
	}
	return err
}

// jsonEncode safely embeds a Go string as a JS string literal.
func jsonEncode(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
