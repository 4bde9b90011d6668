package ledger

import (
	"errors"
	"fmt"
)

// Category normalizes adapter failures.
type Category string

const (
	// CategoryUnavailable: the endpoint could not be reached or did not answer.
	CategoryUnavailable Category = "unavailable"
	// CategoryUnauthorized: the signing identity is unknown or cannot pay for the call.
	CategoryUnauthorized Category = "unauthorized"
	// CategoryRejected: the registry refused the payload.
	CategoryRejected Category = "rejected"
	// CategoryBadData: the registry answered with something we cannot decode.
	CategoryBadData Category = "bad_data"
	// CategoryInternal: anything else.
	CategoryInternal Category = "internal"
)

// Error wraps an adapter failure with its category.
type Error struct {
	Category Category
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Op, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(category Category, op, message string, err error) *Error {
	return &Error{Category: category, Op: op, Message: message, Err: err}
}

// CategoryOf extracts the category, defaulting to CategoryInternal.
func CategoryOf(err error) Category {
	var le *Error
	if errors.As(err, &le) {
		return le.Category
	}
	return CategoryInternal
}

var (
	// ErrUnreachable marks a query that never reached the registry.
	ErrUnreachable = errors.New("ledger unreachable")
	// ErrCircuitOpen is returned while the breaker is shedding calls.
	ErrCircuitOpen = errors.New("ledger circuit open")
)
