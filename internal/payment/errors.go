package payment

import (
	"errors"
	"fmt"

	"github.com/fjod/furnistore/internal/domain"
)

var ErrPaymentNotCompleted = errors.New("payment not completed")

// UpstreamError is a transport failure or non-2xx answer from a payment provider.
// StatusCode is zero when no response was received.
type UpstreamError struct {
	Provider   domain.Provider
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure says nothing about the request itself
// (no response or a 5xx), as opposed to a rejected payment.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// ValidationError rejects a request before any provider call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsUpstream(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u)
}
