// File: internal/harness/types.go
package harness

import (
	"time"
)

// Verdict classifies the outcome of one applied combination.
type Verdict string

const (
	// VerdictPassed means visible result tiles were present after the
	// combination was applied.
	VerdictPassed Verdict = "PASSED"
	// VerdictPassedNoResultsExpected means zero tiles with the canonical
	// "no results" message shown.
	VerdictPassedNoResultsExpected Verdict = "PASSED_NO_RESULTS_EXPECTED"
	// VerdictPassedAmbiguousMessage means zero tiles with a message that
	// resembles, but is not, the canonical "no results" text.
	VerdictPassedAmbiguousMessage Verdict = "PASSED_AMBIGUOUS_MESSAGE"
	// VerdictPassedNoVisibleTiles means zero tiles and no message at all;
	// an empty state, not a failure.
	VerdictPassedNoVisibleTiles Verdict = "PASSED_NO_VISIBLE_TILES"
	// VerdictFailed means the selection could not be applied or verified, or
	// an unexpected script/navigation error occurred.
	VerdictFailed Verdict = "FAILED"
)

// Passed reports whether the verdict counts as a passing outcome. Only
// genuine technical failures count as test failures; the absence of results
// is itself a valid, expected outcome.
func (v Verdict) Passed() bool {
	return v != VerdictFailed
}

// SortOrder classifies the current ordering of visible tile titles.
type SortOrder string

const (
	SortAlphabetical        SortOrder = "ALPHABETICAL"
	SortReverseAlphabetical SortOrder = "REVERSE_ALPHABETICAL"
	SortUnsorted            SortOrder = "UNSORTED"
	SortNotApplicable       SortOrder = "NOT_APPLICABLE"
)

// Option is one selectable entry of a dropdown control.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	// OrdinalIndex is the option's position within its owning dropdown as
	// provided by the page.
	OrdinalIndex int `json:"ordinalIndex"`
}

// SelectedOption pairs a dropdown index with the option applied to it.
type SelectedOption struct {
	DropdownIndex int    `json:"dropdownIndex"`
	Option        Option `json:"option"`
}

// Selection is one full assignment of one option per discovered dropdown,
// ordered by dropdown index.
type Selection []SelectedOption

// Clone returns an independent copy; partial selections are reused across
// sibling branches of the enumeration and must not alias recorded results.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	copy(out, s)
	return out
}

// TileSample carries reporting metadata for one observed tile.
type TileSample struct {
	Title string `json:"title,omitempty"`
	Link  string `json:"link,omitempty"`
	Image string `json:"image,omitempty"`
}

// TileObservation is a fresh snapshot of the result tiles after a combination
// was applied. It is recomputed per combination, never cached.
type TileObservation struct {
	TotalFound          int    `json:"totalFound"`
	VisibleCount        int    `json:"visibleCount"`
	HasNoResultsMessage bool   `json:"hasNoResultsMessage"`
	MessageText         string `json:"messageText,omitempty"`
	// CanonicalMessage is true when the detected message equals the expected
	// "no results" phrase exactly.
	CanonicalMessage bool         `json:"canonicalMessage"`
	Strategy         string       `json:"strategy,omitempty"`
	SampleTiles      []TileSample `json:"sampleTiles,omitempty"`
}

// SortObservation captures the sort-control validation for one combination.
type SortObservation struct {
	Order        SortOrder `json:"order"`
	ControlCount int       `json:"controlCount"`
	Options      []string  `json:"options,omitempty"`
	// Reason explains a NOT_APPLICABLE order (e.g. "insufficient tiles").
	Reason string `json:"reason,omitempty"`
}

// CombinationResult is the immutable record of one leaf of the combination
// tree.
type CombinationResult struct {
	Ordinal         int             `json:"ordinal"`
	Selection       Selection       `json:"selection"`
	Verdict         Verdict         `json:"verdict"`
	TileObservation TileObservation `json:"tileObservation"`
	SortObservation SortObservation `json:"sortObservation"`
	// Synthetic marks a sentinel failure recorded in place of an unreachable
	// subtree after a selection failure.
	Synthetic  bool      `json:"synthetic,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// RunStatus marks the overall outcome of one URL's test.
type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunError     RunStatus = "ERROR"
)

// RunResult aggregates all combination results for a single URL.
type RunResult struct {
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`

	DropdownCount int   `json:"dropdownCount"`
	OptionCounts  []int `json:"optionCounts,omitempty"`
	// PlannedCombinations is the up-front Cartesian product size. It can
	// exceed len(Combinations) when selection failures truncate subtrees.
	PlannedCombinations  int `json:"plannedCombinations"`
	ExecutedCombinations int `json:"executedCombinations"`

	Passed int `json:"passed"`
	Failed int `json:"failed"`
	// NoResultsExpected counts combinations with the canonical no-results
	// message ("combosWithCorrectNoResultsMessage" in earlier reports).
	NoResultsExpected int `json:"noResultsExpected"`
	AmbiguousMessage  int `json:"ambiguousMessage"`
	NoVisibleTiles    int `json:"noVisibleTiles"`

	TotalVisibleTiles int `json:"totalVisibleTiles"`
	SortValidated     int `json:"sortValidated"`
	SortNotApplicable int `json:"sortNotApplicable"`

	Combinations []CombinationResult `json:"combinations"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Finalize folds the per-combination verdicts into the summary counters.
func (r *RunResult) Finalize() {
	r.ExecutedCombinations = len(r.Combinations)
	r.Passed, r.Failed = 0, 0
	r.NoResultsExpected, r.AmbiguousMessage, r.NoVisibleTiles = 0, 0, 0
	r.TotalVisibleTiles, r.SortValidated, r.SortNotApplicable = 0, 0, 0

	for i := range r.Combinations {
		c := &r.Combinations[i]
		if c.Verdict.Passed() {
			r.Passed++
		} else {
			r.Failed++
		}
		switch c.Verdict {
		case VerdictPassedNoResultsExpected:
			r.NoResultsExpected++
		case VerdictPassedAmbiguousMessage:
			r.AmbiguousMessage++
		case VerdictPassedNoVisibleTiles:
			r.NoVisibleTiles++
		}
		r.TotalVisibleTiles += c.TileObservation.VisibleCount
		if c.SortObservation.Order == SortNotApplicable {
			r.SortNotApplicable++
		} else if c.SortObservation.Order != "" {
			r.SortValidated++
		}
	}
}

// RunReport is the run-level envelope handed to the reporting layer.
type RunReport struct {
	RunID      string    `json:"runId"`
	Version    string    `json:"version,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	TotalTests  int `json:"totalTests"`
	PassedTests int `json:"passedTests"`
	FailedTests int `json:"failedTests"`
	ErroredURLs int `json:"erroredUrls"`

	// RetryCounts holds cumulative retry counters per operation name.
	RetryCounts map[string]int `json:"retryCounts,omitempty"`
	// StuckRecoveries counts liveness-triggered soft recovery attempts.
	StuckRecoveries int `json:"stuckRecoveries"`
	HardRestarts    int `json:"hardRestarts"`

	Results []RunResult `json:"results"`
}

// Finalize rolls the per-URL results into the run-level counters.
func (rr *RunReport) Finalize() {
	rr.TotalTests, rr.PassedTests, rr.FailedTests, rr.ErroredURLs = 0, 0, 0, 0
	for i := range rr.Results {
		r := &rr.Results[i]
		rr.TotalTests += r.ExecutedCombinations
		rr.PassedTests += r.Passed
		rr.FailedTests += r.Failed
		if r.Status == RunError {
			rr.ErroredURLs++
		}
	}
}
