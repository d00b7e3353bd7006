// File: internal/harness/dropdown_test.go
package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// dropdownDriver fakes the element side of the driver: selector strategies
// resolve to configured elements, and the per-element select state reacts to
// the injected scripts the way a live page would.
type dropdownDriver struct {
	// elementsBySelector maps a discovery strategy selector to its matches.
	elementsBySelector map[string][]Element
	// options and values are keyed by element selector.
	options map[string][]jsOption
	values  map[string]string
	// failApply makes the selection script report the control as gone.
	failApply map[string]bool
	// sticky pins the control to its current value regardless of what is
	// applied, simulating a page script fighting the harness.
	sticky map[string]bool

	waitErr error
}

func newDropdownDriver() *dropdownDriver {
	return &dropdownDriver{
		elementsBySelector: map[string][]Element{},
		options:            map[string][]jsOption{},
		values:             map[string]string{},
		failApply:          map[string]bool{},
		sticky:             map[string]bool{},
	}
}

func (d *dropdownDriver) Navigate(ctx context.Context, url string) error { return nil }

func (d *dropdownDriver) FindElements(ctx context.Context, cssSelector string) ([]Element, error) {
	return d.elementsBySelector[cssSelector], nil
}

func (d *dropdownDriver) Evaluate(ctx context.Context, script string, out any) error { return nil }

func (d *dropdownDriver) EvaluateOn(ctx context.Context, el Element, fnScript string, out any) error {
	sel := el.Selector()
	switch {
	case strings.Contains(fnScript, "opt.disabled"):
		return encodeTo(d.options[sel], out)
	case strings.Contains(fnScript, "sel.value = "):
		if d.failApply[sel] {
			return encodeTo(false, out)
		}
		if !d.sticky[sel] {
			d.values[sel] = extractAppliedValue(fnScript)
		}
		return encodeTo(true, out)
	case strings.Contains(fnScript, "return sel.value;"):
		v, ok := d.values[sel]
		if !ok {
			return encodeTo(nil, out)
		}
		return encodeTo(v, out)
	}
	return nil
}

// extractAppliedValue pulls the JSON-encoded value literal out of the
// formatted selection script.
func extractAppliedValue(script string) string {
	const marker = "sel.value = "
	start := strings.Index(script, marker) + len(marker)
	end := strings.Index(script[start:], ";")
	var value string
	if err := json.UnmarshalFromString(script[start:start+end], &value); err != nil {
		return ""
	}
	return value
}

func (d *dropdownDriver) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return d.waitErr
}
func (d *dropdownDriver) ClearCookies(ctx context.Context) error { return nil }
func (d *dropdownDriver) Reload(ctx context.Context) error       { return nil }
func (d *dropdownDriver) ScrollTop(ctx context.Context) error    { return nil }
func (d *dropdownDriver) Close(ctx context.Context) error        { return nil }

func newTestDiscoverer(t *testing.T, drv Driver, maxDropdowns int) *Discoverer {
	return NewDiscoverer(zaptest.NewLogger(t), drv, maxDropdowns, time.Second, 0)
}

func TestDiscoverDropdownsUsesFirstMatchingStrategy(t *testing.T) {
	drv := newDropdownDriver()
	drv.elementsBySelector[`form select, .filters select, [class*="filter"] select`] = []Element{
		&fakeElement{selector: "#brand"},
		&fakeElement{selector: "#color"},
	}
	// The generic strategy matches more controls, but a more specific
	// earlier strategy wins.
	drv.elementsBySelector[`select`] = []Element{
		&fakeElement{selector: "#brand"},
		&fakeElement{selector: "#color"},
		&fakeElement{selector: "#unrelated"},
	}

	dropdowns, err := newTestDiscoverer(t, drv, 3).DiscoverDropdowns(context.Background())
	require.NoError(t, err)
	require.Len(t, dropdowns, 2)
	assert.Equal(t, 0, dropdowns[0].Index)
	assert.Equal(t, "#brand", dropdowns[0].Element.Selector())
	assert.Equal(t, "#color", dropdowns[1].Element.Selector())
}

func TestDiscoverDropdownsCapsAtMaximum(t *testing.T) {
	drv := newDropdownDriver()
	drv.elementsBySelector[`select`] = []Element{
		&fakeElement{selector: "#a"},
		&fakeElement{selector: "#b"},
		&fakeElement{selector: "#c"},
		&fakeElement{selector: "#d"},
	}

	dropdowns, err := newTestDiscoverer(t, drv, 3).DiscoverDropdowns(context.Background())
	require.NoError(t, err)
	assert.Len(t, dropdowns, 3)
}

func TestDiscoverDropdownsNoneFound(t *testing.T) {
	drv := newDropdownDriver()
	_, err := newTestDiscoverer(t, drv, 3).DiscoverDropdowns(context.Background())
	require.ErrorIs(t, err, ErrNoDropdownsFound)
}

func TestExtractOptions(t *testing.T) {
	drv := newDropdownDriver()
	el := &fakeElement{selector: "#brand"}
	drv.options["#brand"] = []jsOption{
		{Value: "", Label: "All brands", Index: 0},
		{Value: "acme", Label: "Acme", Index: 1},
	}

	dd := &Dropdown{Index: 0, Element: el}
	options, err := newTestDiscoverer(t, drv, 3).ExtractOptions(context.Background(), dd)
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, Option{Value: "acme", Label: "Acme", OrdinalIndex: 1}, options[1])
}

func TestExtractOptionsEmpty(t *testing.T) {
	drv := newDropdownDriver()
	dd := &Dropdown{Index: 0, Element: &fakeElement{selector: "#brand"}}
	_, err := newTestDiscoverer(t, drv, 3).ExtractOptions(context.Background(), dd)
	require.ErrorIs(t, err, ErrNoOptionsFound)
}

func TestSelectOptionAppliesAndVerifies(t *testing.T) {
	drv := newDropdownDriver()
	el := &fakeElement{selector: "#brand"}
	dd := &Dropdown{Index: 0, Element: el}

	err := newTestDiscoverer(t, drv, 3).SelectOption(context.Background(), dd, Option{Value: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", drv.values["#brand"])
}

func TestSelectOptionStaleControl(t *testing.T) {
	drv := newDropdownDriver()
	el := &fakeElement{selector: "#brand"}
	drv.failApply["#brand"] = true

	dd := &Dropdown{Index: 0, Element: el}
	err := newTestDiscoverer(t, drv, 3).SelectOption(context.Background(), dd, Option{Value: "acme"})
	require.ErrorIs(t, err, ErrStaleElement)
}

func TestSelectOptionVerificationMismatch(t *testing.T) {
	drv := newDropdownDriver()
	el := &fakeElement{selector: "#brand"}
	drv.values["#brand"] = "other"
	drv.sticky["#brand"] = true

	dd := &Dropdown{Index: 0, Element: el}
	err := newTestDiscoverer(t, drv, 3).SelectOption(context.Background(), dd, Option{Value: "acme"})
	require.ErrorIs(t, err, ErrSelectionVerification)
	assert.Contains(t, err.Error(), `"other"`)
}

func TestResetDropdownsPrefersEmptyValueBaseline(t *testing.T) {
	drv := newDropdownDriver()
	first := &fakeElement{selector: "#brand"}
	second := &fakeElement{selector: "#color"}
	drv.options["#brand"] = []jsOption{
		{Value: "acme", Label: "Acme", Index: 0},
		{Value: "", Label: "All", Index: 1},
	}
	drv.options["#color"] = []jsOption{
		{Value: "red", Label: "Red", Index: 0},
		{Value: "blue", Label: "Blue", Index: 1},
	}
	drv.values["#brand"] = "acme"
	drv.values["#color"] = "blue"

	dropdowns := []*Dropdown{
		{Index: 0, Element: first},
		{Index: 1, Element: second},
	}
	err := newTestDiscoverer(t, drv, 3).ResetDropdowns(context.Background(), dropdowns, 0)
	require.NoError(t, err)
	// Empty-valued option wins where present; first option otherwise.
	assert.Equal(t, "", drv.values["#brand"])
	assert.Equal(t, "red", drv.values["#color"])
}

func TestResetDropdownsFromIndexSkipsUpstream(t *testing.T) {
	drv := newDropdownDriver()
	first := &fakeElement{selector: "#brand"}
	second := &fakeElement{selector: "#color"}
	drv.options["#brand"] = []jsOption{{Value: "", Label: "All", Index: 0}, {Value: "acme", Index: 1}}
	drv.options["#color"] = []jsOption{{Value: "", Label: "Any", Index: 0}, {Value: "red", Index: 1}}
	drv.values["#brand"] = "acme"
	drv.values["#color"] = "red"

	dropdowns := []*Dropdown{
		{Index: 0, Element: first},
		{Index: 1, Element: second},
	}
	err := newTestDiscoverer(t, drv, 3).ResetDropdowns(context.Background(), dropdowns, 1)
	require.NoError(t, err)
	assert.Equal(t, "acme", drv.values["#brand"], "upstream dropdown must keep its value")
	assert.Equal(t, "", drv.values["#color"])
}
