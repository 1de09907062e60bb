package breaker

import (
	"errors"
	"fmt"
)

// ErrOpen matches any breaker-open error via errors.Is.
var ErrOpen = errors.New("circuit open")

// OpenError is returned when a call is rejected because the breaker is open
// and no fallback was supplied. Always recoverable by the caller.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %q", e.Name)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
