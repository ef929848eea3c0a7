package domain

import "errors"

// Error taxonomy. Every failure surfaced by the engine wraps exactly one of
// these, followed by a human-readable reason:
//
//	fmt.Errorf("%w: listing is not active", ErrPreconditionFailed)
var (
	ErrAccessDenied       = errors.New("access denied")
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrAlreadyClaimed     = errors.New("already claimed")
)

// ErrInsufficientBalance is a ledger-side PreconditionFailed.
var ErrInsufficientBalance = &kindError{kind: ErrPreconditionFailed, msg: "insufficient balance"}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// KindOf returns the taxonomy name of err, or "Internal" when err does not
// belong to the taxonomy (storage failures, bugs).
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessDenied):
		return "AccessDenied"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrPreconditionFailed):
		return "PreconditionFailed"
	case errors.Is(err, ErrAlreadyClaimed):
		return "AlreadyClaimed"
	default:
		return "Internal"
	}
}
