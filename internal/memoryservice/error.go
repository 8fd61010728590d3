package memoryservice

import (
	"errors"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// Error is the shape every façade method returns on failure, matching
// the §7 error taxonomy at the MCP boundary.
type Error struct {
	Kind      errkind.Kind
	Message   string
	Retryable bool
}

func (e *Error) Error() string { return e.Message }

// newError builds an *Error directly.
func newError(kind errkind.Kind, retryable bool, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable}
}

// toError normalizes any error into *Error, preserving an inner
// *errkind.Error's kind and retryability when present.
func toError(err error) *Error {
	if err == nil {
		return nil
	}
	var kindErr *errkind.Error
	if errors.As(err, &kindErr) {
		return &Error{Kind: kindErr.Kind, Message: kindErr.Message, Retryable: kindErr.Retryable}
	}
	return &Error{Kind: errkind.Internal, Message: err.Error(), Retryable: false}
}
