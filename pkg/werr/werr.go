// Package werr defines the wallet error taxonomy.
//
// Every error that leaves the core carries a stable machine-readable code and a
// human-readable message, so callers never need to match on message text.
package werr

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvariant         Kind = "invariant"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// Error is the structured error returned by wallet components.
type Error struct {
	Code    string            // stable code, e.g. INSUFFICIENT_FUNDS
	Message string            // human-readable message
	Kind    Kind              // reaction class
	Details map[string]string // extra context, sorted when printed
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that copies made by WithDetails and Wrap still match
// their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrValidation = &Error{Code: "VALIDATION_ERROR", Message: "invalid request", Kind: KindValidation}

	ErrUnsupportedCurrency = &Error{Code: "UNSUPPORTED_CURRENCY", Message: "currency is not supported", Kind: KindValidation}
	ErrInvalidNetwork      = &Error{Code: "INVALID_NETWORK", Message: "network is not supported for this currency", Kind: KindValidation}
	ErrInvalidAmount       = &Error{Code: "INVALID_AMOUNT", Message: "amount is not allowed", Kind: KindValidation}
	ErrAmountBelowMinimum  = &Error{Code: "AMOUNT_BELOW_MINIMUM", Message: "amount is below the minimum", Kind: KindValidation}
	ErrAmountAboveMaximum  = &Error{Code: "AMOUNT_ABOVE_MAXIMUM", Message: "amount is above the maximum", Kind: KindValidation}
	ErrInvalidAddress      = &Error{Code: "INVALID_ADDRESS", Message: "invalid address format", Kind: KindValidation}
	ErrKycLimit            = &Error{Code: "KYC_LIMIT_EXCEEDED", Message: "amount exceeds the limit of your verification tier", Kind: KindValidation}

	ErrInvalidTransition      = &Error{Code: "INVALID_TRANSITION", Message: "transaction cannot move to the requested state", Kind: KindValidation}
	ErrCancelAfterBroadcast   = &Error{Code: "ALREADY_BROADCAST", Message: "withdrawal was already broadcast and cannot be cancelled", Kind: KindValidation}
	ErrConfirmationsDecreased = &Error{Code: "DATA_ERROR", Message: "confirmation count cannot decrease", Kind: KindValidation}
	ErrHashMismatch           = &Error{Code: "HASH_MISMATCH", Message: "transaction already carries a different chain hash", Kind: KindValidation}
	ErrDuplicateDeposit       = &Error{Code: "DUPLICATE_DEPOSIT", Message: "chain transfer is already recorded as another deposit", Kind: KindValidation}

	ErrInsufficientFunds = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient available balance", Kind: KindInsufficientFunds}

	ErrInvariantViolation = &Error{Code: "INVARIANT_VIOLATION", Message: "balance invariant violated", Kind: KindInvariant}

	ErrNotFound = &Error{Code: "NOT_FOUND", Message: "resource not found", Kind: KindNotFound}

	ErrConcurrentModification = &Error{Code: "CONCURRENT_MODIFICATION", Message: "record was modified concurrently, try again", Kind: KindConflict}

	ErrExternalTimeout = &Error{Code: "EXTERNAL_TIMEOUT", Message: "dependency did not answer in time, try again", Kind: KindTimeout}

	ErrRateLimited = &Error{Code: "RATE_LIMITED", Message: "too many requests, slow down", Kind: KindConflict}

	ErrInternal = &Error{Code: "INTERNAL", Message: "something went wrong, please try again later", Kind: KindInternal}
)

// New returns a copy of base with a custom message.
func New(base *Error, msg string) *Error {
	e := *base
	e.Message = msg
	e.Details = nil
	e.Cause = nil
	return &e
}

// Newf is New with formatting.
func Newf(base *Error, format string, args ...any) *Error {
	return New(base, fmt.Sprintf(format, args...))
}

// Wrap returns a copy of base with cause attached.
func Wrap(base *Error, cause error) *Error {
	e := *base
	e.Cause = cause
	return &e
}

// WithDetails returns a copy of err with details merged in. Non-wallet
// errors are returned unchanged.
func WithDetails(err error, details map[string]string) error {
	var we *Error
	if !errors.As(err, &we) {
		return err
	}
	e := *we
	e.Details = make(map[string]string, len(we.Details)+len(details))
	for k, v := range we.Details {
		e.Details[k] = v
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return &e
}

// KindOf reports the kind of err; context deadlines count as timeouts and
// anything unknown is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// CodeOf returns the stable code of err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrExternalTimeout.Code
	}
	return ErrInternal.Code
}

// IsRetryable reports whether the whole operation may be attempted again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindTimeout:
		return !errors.Is(err, ErrRateLimited)
	}
	return false
}

// Public converts err into what an end user may see. Invariant violations
// and unclassified errors collapse into ErrInternal.
func Public(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) && we.Kind != KindInvariant && we.Kind != KindInternal {
		return &Error{Code: we.Code, Message: we.Message, Kind: we.Kind, Details: we.Details}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrExternalTimeout, ErrExternalTimeout.Message)
	}
	return New(ErrInternal, ErrInternal.Message)
}
