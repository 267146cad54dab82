package repair

import (
	"fmt"
	"strings"

	"github.com/kalambet/promoai/internal/engine"
)

// ExhaustionError is returned when every attempt in the budget failed
// extraction. History holds one description per attempt, in order.
type ExhaustionError struct {
	Provider engine.Provider
	Model    string
	Attempts int
	History  []string
}

func (e *ExhaustionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) failed to fix the errors after %d iterations! This is the error history:", e.Model, e.Provider, e.Attempts)
	for i, h := range e.History {
		fmt.Fprintf(&b, "\n%d. %s", i+1, h)
	}
	return b.String()
}

// AbortError is returned when the extractor reported a fatal failure.
type AbortError struct {
	Attempt int
	Err     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("extraction aborted on attempt %d: %v", e.Attempt, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}
