package payment

import (
	"context"
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is; *Error reports its kind through Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrProviderTimeout   = errors.New("provider timeout")
	ErrProviderRejected  = errors.New("provider rejected")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRetryExhausted    = errors.New("retry attempts exhausted")

	// ErrProviderUnavailable is a transport or server failure; the provider gave no verdict.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Failure reasons recorded on a FAILED intent.
const (
	ReasonProviderRejected    = "ProviderRejected"
	ReasonProviderTimeout     = "ProviderTimeout"
	ReasonProviderError       = "ProviderError"
	ReasonConfirmationTimeout = "ConfirmationTimeout"
)

// Error is the normalized error every engine operation returns.
// Message is safe for display; for rejections it is the provider's text verbatim.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	// unsupported methods are a flavour of validation failure
	return e.Kind == ErrUnsupportedMethod && target == ErrValidation
}

func newError(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Validation(op, msg string) error { return newError(ErrValidation, op, msg, nil) }

func UnsupportedMethod(op string, method string) error {
	return newError(ErrUnsupportedMethod, op, fmt.Sprintf("unsupported payment method %q", method), nil)
}

func Conflict(op, msg string) error { return newError(ErrConflict, op, msg, nil) }

func NotFound(op, msg string) error { return newError(ErrNotFound, op, msg, nil) }

func ProviderTimeout(op string, err error) error {
	return newError(ErrProviderTimeout, op, "payment provider did not answer in time", err)
}

func ProviderUnavailable(op string, err error) error {
	return newError(ErrProviderUnavailable, op, "payment provider is unavailable", err)
}

// Rejected carries the provider's decline message unchanged.
func Rejected(op, providerMessage string) error {
	if providerMessage == "" {
		providerMessage = "payment was declined"
	}
	return newError(ErrProviderRejected, op, providerMessage, nil)
}

func InvalidTransition(from, to Status) error {
	return newError(ErrInvalidTransition, "", fmt.Sprintf("cannot move intent from %s to %s", from, to), nil)
}

func RetryExhausted(attempts int) error {
	return newError(ErrRetryExhausted, "", fmt.Sprintf("payment failed after %d attempts, please contact support", attempts), nil)
}

// Normalize maps an arbitrary provider-side error into the taxonomy.
// Already-normalized errors pass through.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ProviderTimeout(op, err)
	}
	return ProviderUnavailable(op, err)
}

// KindOf returns a stable, low-cardinality label for err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// Retryable reports whether a manual retry may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, ErrProviderUnavailable)
}

// MessageOf returns the display message of a normalized error.
func MessageOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Message != "" {
			return perr.Message
		}
		if perr.Kind != nil {
			return perr.Kind.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
