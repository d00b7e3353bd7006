// File: internal/harness/enumerate.go
package harness

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OptionSelector is what the enumerator needs from the dropdown layer. The
// runner wires in a retry-wrapped Discoverer.
type OptionSelector interface {
	SelectOption(ctx context.Context, dd *Dropdown, opt Option) error
	ResetDropdowns(ctx context.Context, dropdowns []*Dropdown, fromIndex int) error
}

// LeafClassifier turns a fully applied selection into a recorded result.
type LeafClassifier interface {
	Classify(ctx context.Context, selection Selection, dropdowns []*Dropdown) CombinationResult
}

// Enumerator walks the full Cartesian product of the dropdowns' options in
// depth-first left-to-right order, applying one option at a time and
// resetting only downstream dropdowns between sibling branches.
type Enumerator struct {
	logger     *zap.Logger
	selector   OptionSelector
	classifier LeafClassifier
}

// NewEnumerator wires the combination walker to its collaborators.
func NewEnumerator(logger *zap.Logger, selector OptionSelector, classifier LeafClassifier) *Enumerator {
	return &Enumerator{
		logger:     logger.Named("enumerator"),
		selector:   selector,
		classifier: classifier,
	}
}

// PlannedCombinations returns ∏|options| across the dropdowns. It is used
// for progress reporting only; the recursion is the actual loop bound.
func PlannedCombinations(dropdowns []*Dropdown) int {
	if len(dropdowns) == 0 {
		return 0
	}
	total := 1
	for _, dd := range dropdowns {
		total *= len(dd.Options)
	}
	return total
}

// Enumerate resets all dropdowns to their baseline, then explores every
// combination. Results are appended strictly in traversal order; a selection
// failure records one synthetic FAILED leaf in place of the unreachable
// subtree and the traversal moves on to the next sibling.
func (e *Enumerator) Enumerate(ctx context.Context, dropdowns []*Dropdown) ([]CombinationResult, error) {
	planned := PlannedCombinations(dropdowns)
	e.logger.Info("Starting combination enumeration",
		zap.Int("dropdowns", len(dropdowns)),
		zap.Int("planned_combinations", planned))

	if err := e.selector.ResetDropdowns(ctx, dropdowns, 0); err != nil {
		return nil, err
	}

	var results []CombinationResult
	err := e.walk(ctx, dropdowns, 0, nil, planned, &results)
	return results, err
}

func (e *Enumerator) walk(ctx context.Context, dropdowns []*Dropdown, idx int, partial Selection, planned int, results *[]CombinationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if idx == len(dropdowns) {
		rec := e.classifier.Classify(ctx, partial.Clone(), dropdowns)
		rec.Ordinal = len(*results) + 1
		*results = append(*results, rec)
		e.logger.Info("Combination classified",
			zap.Int("combo", rec.Ordinal),
			zap.Int("planned_total", planned),
			zap.String("verdict", string(rec.Verdict)))
		return nil
	}

	options := dropdowns[idx].Options
	for i, opt := range options {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.selector.SelectOption(ctx, dropdowns[idx], opt); err != nil {
			// The whole subtree under this option is unreachable; record a
			// single sentinel failure for it and continue with the sibling.
			*results = append(*results, e.syntheticFailure(partial, idx, opt, len(*results)+1, err))
			continue
		}

		partial = append(partial, SelectedOption{DropdownIndex: idx, Option: opt})
		if err := e.walk(ctx, dropdowns, idx+1, partial, planned, results); err != nil {
			return err
		}
		partial = partial[:len(partial)-1]

		// Restore downstream dropdowns before the next sibling. The current
		// dropdown is deliberately not reset: the next iteration overwrites
		// it directly, halving the selection operations.
		if i < len(options)-1 && idx < len(dropdowns)-1 {
			if err := e.selector.ResetDropdowns(ctx, dropdowns, idx+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// syntheticFailure records the sentinel leaf standing in for an unreachable
// subtree after a selection failure.
func (e *Enumerator) syntheticFailure(partial Selection, idx int, opt Option, ordinal int, cause error) CombinationResult {
	now := time.Now()
	sel := partial.Clone()
	sel = append(sel, SelectedOption{DropdownIndex: idx, Option: opt})
	e.logger.Warn("Selection failed, recording synthetic failure for subtree",
		zap.Int("dropdown", idx),
		zap.String("option", opt.Value),
		zap.Error(cause))
	return CombinationResult{
		Ordinal:   ordinal,
		Selection: sel,
		Verdict:   VerdictFailed,
		Synthetic: true,
		Error:     cause.Error(),
		SortObservation: SortObservation{
			Order:  SortNotApplicable,
			Reason: "selection failed",
		},
		StartedAt:  now,
		FinishedAt: now,
	}
}
