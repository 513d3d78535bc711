package call

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransport    = errors.New("call transport is not configured")
	ErrCallInProgress = errors.New("another call is already in progress")
)

// ValidationError reports a malformed call payload.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid call payload: missing %s", e.Field)
}
