// File: internal/harness/dropdown.go
package harness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// containerSelector is the element discovery waits on before probing for
// dropdowns; pages render their filter bar inside one of these.
const containerSelector = "main, #app, #content, body"

// dropdownStrategies are tried in order; the first selector yielding any
// match wins.
var dropdownStrategies = []string{
	`select[data-testid*="filter"], [data-testid*="filter"] select`,
	`form select, .filters select, [class*="filter"] select`,
	`custom-dropdown, [role="combobox"]`,
	`select`,
}

// Discoverer locates dropdown controls on the current page and manipulates
// their options through the driver boundary.
type Discoverer struct {
	logger        *zap.Logger
	drv           Driver
	maxDropdowns  int
	containerWait time.Duration
	settleDelay   time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewDiscoverer binds a discoverer to one session. Handles it produces are
// invalidated by navigation.
func NewDiscoverer(logger *zap.Logger, drv Driver, maxDropdowns int, containerWait, settleDelay time.Duration) *Discoverer {
	return &Discoverer{
		logger:        logger.Named("dropdowns"),
		drv:           drv,
		maxDropdowns:  maxDropdowns,
		containerWait: containerWait,
		settleDelay:   settleDelay,
		sleep:         sleepCtx,
	}
}

// DiscoverDropdowns waits for the page container, then tries each selector
// strategy in order, returning the first non-empty match capped at the
// configured maximum.
func (d *Discoverer) DiscoverDropdowns(ctx context.Context) ([]*Dropdown, error) {
	if err := d.drv.WaitReady(ctx, containerSelector, d.containerWait); err != nil {
		return nil, fmt.Errorf("page container never became ready: %w", err)
	}

	for _, strategy := range dropdownStrategies {
		elements, err := d.drv.FindElements(ctx, strategy)
		if err != nil {
			d.logger.Debug("Dropdown strategy errored",
				zap.String("selector", strategy), zap.Error(err))
			continue
		}
		if len(elements) == 0 {
			continue
		}
		if len(elements) > d.maxDropdowns {
			elements = elements[:d.maxDropdowns]
		}
		dropdowns := make([]*Dropdown, len(elements))
		for i, el := range elements {
			dropdowns[i] = &Dropdown{Index: i, Element: el}
		}
		d.logger.Info("Dropdowns discovered",
			zap.String("strategy", strategy),
			zap.Int("count", len(dropdowns)))
		return dropdowns, nil
	}
	return nil, ErrNoDropdownsFound
}

// jsOption mirrors the shape produced by scriptExtractOptions.
type jsOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Index int    `json:"index"`
}

// ExtractOptions evaluates the deep-query extraction script against the
// dropdown and returns its non-disabled options.
func (d *Discoverer) ExtractOptions(ctx context.Context, dd *Dropdown) ([]Option, error) {
	var raw []jsOption
	if err := d.drv.EvaluateOn(ctx, dd.Element, scriptExtractOptions, &raw); err != nil {
		return nil, fmt.Errorf("option extraction script failed for dropdown %d: %w", dd.Index, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("dropdown %d: %w", dd.Index, ErrNoOptionsFound)
	}
	options := make([]Option, len(raw))
	for i, o := range raw {
		options[i] = Option{Value: o.Value, Label: o.Label, OrdinalIndex: o.Index}
	}
	return options, nil
}

// SelectOption applies the option to the control, lets the page settle, then
// re-reads the control's value. Both the mutation and the post-condition
// check must succeed.
func (d *Discoverer) SelectOption(ctx context.Context, dd *Dropdown, opt Option) error {
	encoded, err := json.MarshalToString(opt.Value)
	if err != nil {
		return fmt.Errorf("encoding value for dropdown %d: %w", dd.Index, err)
	}
	var applied bool
	if err := d.drv.EvaluateOn(ctx, dd.Element, fmt.Sprintf(scriptSelectValue, encoded), &applied); err != nil {
		return fmt.Errorf("selection script failed for dropdown %d: %w", dd.Index, err)
	}
	if !applied {
		return fmt.Errorf("dropdown %d: %w", dd.Index, ErrStaleElement)
	}

	if err := d.sleep(ctx, d.settleDelay); err != nil {
		return err
	}

	var current *string
	if err := d.drv.EvaluateOn(ctx, dd.Element, scriptReadValue, &current); err != nil {
		return fmt.Errorf("verification read failed for dropdown %d: %w", dd.Index, err)
	}
	if current == nil || *current != opt.Value {
		got := "<gone>"
		if current != nil {
			got = *current
		}
		return fmt.Errorf("dropdown %d: wanted %q, control holds %q: %w",
			dd.Index, opt.Value, got, ErrSelectionVerification)
	}
	return nil
}

// ReadValue returns the control's current value, or nil when the native
// control can no longer be located.
func (d *Discoverer) ReadValue(ctx context.Context, dd *Dropdown) (*string, error) {
	var current *string
	if err := d.drv.EvaluateOn(ctx, dd.Element, scriptReadValue, &current); err != nil {
		return nil, err
	}
	return current, nil
}

// ResetDropdowns restores every dropdown from fromIndex onward to its
// baseline: the empty-valued option when one exists, else the first option.
// The enumerator calls this before exploring a new sibling branch and at
// enumeration start.
func (d *Discoverer) ResetDropdowns(ctx context.Context, dropdowns []*Dropdown, fromIndex int) error {
	for _, dd := range dropdowns[fromIndex:] {
		options, err := d.ExtractOptions(ctx, dd)
		if err != nil {
			return fmt.Errorf("reset re-extraction failed: %w", err)
		}
		baseline := options[0]
		for _, opt := range options {
			if opt.Value == "" {
				baseline = opt
				break
			}
		}
		if err := d.SelectOption(ctx, dd, baseline); err != nil {
			return fmt.Errorf("reset of dropdown %d failed: %w", dd.Index, err)
		}
	}
	return nil
}
