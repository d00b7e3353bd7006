// File: internal/harness/errors.go
package harness

import (
	"errors"
	"fmt"
)

// ErrNoDropdownsFound indicates that no selector strategy yielded a dropdown
// control after the retry policy was exhausted.
var ErrNoDropdownsFound = errors.New("no dropdown controls found on page")

// ErrNoOptionsFound indicates a dropdown exposed no selectable options.
var ErrNoOptionsFound = errors.New("dropdown has no selectable options")

// ErrSelectionVerification indicates the control's value did not match the
// requested option after the settle delay.
var ErrSelectionVerification = errors.New("selection could not be verified")

// ErrStaleElement indicates that an element reference is no longer valid,
// likely due to a page navigation or DOM modification.
var ErrStaleElement = errors.New("element is stale or detached from the document")

// ErrSessionDiscarded is returned by driver calls that resolved after the
// liveness monitor hard-restarted the session; callers must treat the result
// as stale.
var ErrSessionDiscarded = errors.New("browser session was discarded")

// ExhaustedError is returned once an operation's retry budget is spent.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
