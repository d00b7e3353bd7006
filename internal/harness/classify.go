// File: internal/harness/classify.go
package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CanonicalNoResultsMessage is the single expected empty-state phrase. Any
// other matched phrasing is reported as ambiguous.
const CanonicalNoResultsMessage = "No results found."

// noResultsPhrasings are matched case-insensitively as substrings.
var noResultsPhrasings = []string{
	"no results found",
	"no results",
	"nothing found",
	"no matches",
	"0 results",
	"no items to display",
}

// tileStrategy is one structural probe for result tiles; strategies run in
// order and the first one yielding any visible tile wins.
type tileStrategy struct {
	name   string
	script string
}

var tileStrategies = []tileStrategy{
	{name: "known-tile-tag", script: scriptTilesKnownTag},
	{name: "container-scoped", script: scriptTilesContainerScoped},
	{name: "grid-heuristic", script: scriptTilesGridHeuristic},
	{name: "image-text-link", script: scriptTilesImageLink},
}

// tileProbeResult mirrors the JSON shape the tile scripts evaluate to.
type tileProbeResult struct {
	TotalFound int          `json:"totalFound"`
	Titles     []string     `json:"titles"`
	Samples    []TileSample `json:"samples"`
}

// messageProbeResult mirrors scriptNoResultsProbe's result.
type messageProbeResult struct {
	Found     bool   `json:"found"`
	Text      string `json:"text"`
	Canonical bool   `json:"canonical"`
}

// sortProbeResult mirrors scriptSortControls' result.
type sortProbeResult struct {
	Count   int      `json:"count"`
	Options []string `json:"options"`
}

// Classifier inspects the page after a combination has been applied and
// turns the raw observations into a verdict. Only genuine technical failures
// (selection not holding, script errors) are failures; an empty result set
// is a valid outcome.
type Classifier struct {
	logger    *zap.Logger
	drv       Driver
	disc      *Discoverer
	sampleCap int
	now       func() time.Time
}

// NewClassifier binds a classifier to one session.
func NewClassifier(logger *zap.Logger, drv Driver, disc *Discoverer, sampleCap int) *Classifier {
	return &Classifier{
		logger:    logger.Named("classifier"),
		drv:       drv,
		disc:      disc,
		sampleCap: sampleCap,
		now:       time.Now,
	}
}

// Classify runs the full post-selection inspection for one combination.
func (c *Classifier) Classify(ctx context.Context, selection Selection, dropdowns []*Dropdown) (rec CombinationResult) {
	rec = CombinationResult{
		Selection: selection,
		StartedAt: c.now(),
	}
	defer func() { rec.FinishedAt = c.now() }()

	// A trailing dropdown's reset or selection can silently revert an
	// earlier one; verify the whole selection still holds before trusting
	// anything else on the page.
	if err := c.verifySelection(ctx, selection, dropdowns); err != nil {
		rec.Verdict = VerdictFailed
		rec.Error = err.Error()
		rec.SortObservation = SortObservation{Order: SortNotApplicable, Reason: "selection not verified"}
		return rec
	}

	tiles, err := c.ObserveTiles(ctx)
	if err != nil {
		rec.Verdict = VerdictFailed
		rec.Error = fmt.Sprintf("tile observation failed: %v", err)
		rec.SortObservation = SortObservation{Order: SortNotApplicable, Reason: "tile observation failed"}
		return rec
	}
	rec.TileObservation = tiles.observation

	if tiles.observation.VisibleCount == 0 {
		msg, err := c.detectNoResultsMessage(ctx)
		if err != nil {
			rec.Verdict = VerdictFailed
			rec.Error = fmt.Sprintf("no-results probe failed: %v", err)
			rec.SortObservation = SortObservation{Order: SortNotApplicable, Reason: "message probe failed"}
			return rec
		}
		rec.TileObservation.HasNoResultsMessage = msg.Found
		rec.TileObservation.MessageText = msg.Text
		rec.TileObservation.CanonicalMessage = msg.Canonical
	}

	rec.Verdict = classifyVerdict(rec.TileObservation)
	rec.SortObservation = c.validateSort(ctx, tiles)
	return rec
}

// verifySelection re-reads every dropdown in the selection and confirms it
// still holds its assigned value.
func (c *Classifier) verifySelection(ctx context.Context, selection Selection, dropdowns []*Dropdown) error {
	for _, sel := range selection {
		if sel.DropdownIndex < 0 || sel.DropdownIndex >= len(dropdowns) {
			return fmt.Errorf("selection references unknown dropdown %d", sel.DropdownIndex)
		}
		current, err := c.disc.ReadValue(ctx, dropdowns[sel.DropdownIndex])
		if err != nil {
			return fmt.Errorf("re-verification of dropdown %d failed: %w", sel.DropdownIndex, err)
		}
		if current == nil {
			return fmt.Errorf("dropdown %d vanished during verification: %w", sel.DropdownIndex, ErrStaleElement)
		}
		if *current != sel.Option.Value {
			return fmt.Errorf("dropdown %d reverted to %q, expected %q: %w",
				sel.DropdownIndex, *current, sel.Option.Value, ErrSelectionVerification)
		}
	}
	return nil
}

// tileScan bundles the reporting observation with the full ordered title
// list the sort validator needs.
type tileScan struct {
	observation TileObservation
	titles      []string
}

// ObserveTiles runs the probe strategies in order and returns a fresh
// snapshot; nothing is cached across combinations.
func (c *Classifier) ObserveTiles(ctx context.Context) (tileScan, error) {
	for _, strategy := range tileStrategies {
		var probe tileProbeResult
		script := fmt.Sprintf(strategy.script, c.sampleCap)
		if err := c.drv.Evaluate(ctx, script, &probe); err != nil {
			return tileScan{}, fmt.Errorf("strategy %q: %w", strategy.name, err)
		}
		if probe.TotalFound == 0 {
			continue
		}
		// The first strategy with any match owns the observation, even when
		// the visibility filter leaves nothing; later heuristics must not
		// resurrect tiles the page is actively hiding.
		c.logger.Debug("Tiles observed",
			zap.String("strategy", strategy.name),
			zap.Int("visible", len(probe.Titles)))
		return tileScan{
			observation: TileObservation{
				TotalFound:   probe.TotalFound,
				VisibleCount: len(probe.Titles),
				Strategy:     strategy.name,
				SampleTiles:  probe.Samples,
			},
			titles: probe.Titles,
		}, nil
	}
	return tileScan{observation: TileObservation{}}, nil
}

// detectNoResultsMessage probes for a visible empty-state message.
func (c *Classifier) detectNoResultsMessage(ctx context.Context) (messageProbeResult, error) {
	phrases, err := json.MarshalToString(noResultsPhrasings)
	if err != nil {
		return messageProbeResult{}, err
	}
	canonical, err := json.MarshalToString(CanonicalNoResultsMessage)
	if err != nil {
		return messageProbeResult{}, err
	}
	var probe messageProbeResult
	script := fmt.Sprintf(scriptNoResultsProbe, phrases, canonical)
	if err := c.drv.Evaluate(ctx, script, &probe); err != nil {
		return messageProbeResult{}, err
	}
	return probe, nil
}

// classifyVerdict maps a tile observation onto a verdict. The asymmetry is
// deliberate: an empty result set is an expected outcome, not a failure.
func classifyVerdict(obs TileObservation) Verdict {
	switch {
	case obs.VisibleCount > 0:
		return VerdictPassed
	case obs.HasNoResultsMessage && obs.CanonicalMessage:
		return VerdictPassedNoResultsExpected
	case obs.HasNoResultsMessage:
		return VerdictPassedAmbiguousMessage
	default:
		return VerdictPassedNoVisibleTiles
	}
}

// validateSort checks the current tile ordering against its alphabetical and
// reverse-alphabetical sortings. It never fails a combination: when fewer
// than two tiles are visible or no sort control exists, the result is
// NOT_APPLICABLE with the specific reason.
func (c *Classifier) validateSort(ctx context.Context, tiles tileScan) SortObservation {
	if len(tiles.titles) < 2 {
		return SortObservation{Order: SortNotApplicable, Reason: "insufficient tiles"}
	}

	var controls sortProbeResult
	if err := c.drv.Evaluate(ctx, scriptSortControls, &controls); err != nil {
		c.logger.Debug("Sort control probe failed", zap.Error(err))
		return SortObservation{Order: SortNotApplicable, Reason: "sort probe failed"}
	}
	if controls.Count == 0 {
		return SortObservation{Order: SortNotApplicable, Reason: "no sort controls"}
	}

	return SortObservation{
		Order:        classifyOrder(tiles.titles),
		ControlCount: controls.Count,
		Options:      controls.Options,
	}
}

// classifyOrder compares titles against their sorted and reverse-sorted
// permutations.
func classifyOrder(titles []string) SortOrder {
	asc := append([]string(nil), titles...)
	sort.Strings(asc)
	if equalStrings(titles, asc) {
		return SortAlphabetical
	}
	desc := make([]string, len(asc))
	for i, s := range asc {
		desc[len(asc)-1-i] = s
	}
	if equalStrings(titles, desc) {
		return SortReverseAlphabetical
	}
	return SortUnsorted
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
