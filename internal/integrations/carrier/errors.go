package carrier

import (
	"errors"
	"fmt"
)

// Sentinel errors for the carrier taxonomy.
var (
	// ErrAuthFailed indicates the carrier rejected our credentials. In a
	// batch this short-circuits the whole carrier partition.
	ErrAuthFailed = errors.New("carrier authentication failed")

	// ErrNoTrackingData indicates the carrier has no data for the AWB.
	// Per-item: distinct from a carrier error, nothing else is affected.
	ErrNoTrackingData = errors.New("no tracking data")

	// ErrNotRegistered indicates no adapter is registered for the code.
	ErrNotRegistered = errors.New("carrier not registered")
)

// Error is a carrier-level failure with enough context to report a
// partition-wide outcome.
type Error struct {
	Carrier    string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Carrier, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Carrier, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a carrier-level error.
func NewError(carrierCode, message string, cause error) *Error {
	return &Error{Carrier: carrierCode, Message: message, Cause: cause}
}

// WithStatusCode attaches the upstream HTTP status.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}
