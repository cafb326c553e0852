package rpc

import (
	"errors"
	"strings"

	"ccwallet/pkg/werr"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// known lets the client turn a status back into the matching sentinel.
var known = map[string]*werr.Error{}

func init() {
	for _, e := range []*werr.Error{
		werr.ErrValidation, werr.ErrUnsupportedCurrency, werr.ErrInvalidNetwork, werr.ErrInvalidAmount,
		werr.ErrAmountBelowMinimum, werr.ErrAmountAboveMaximum, werr.ErrInvalidAddress, werr.ErrKycLimit,
		werr.ErrInvalidTransition, werr.ErrCancelAfterBroadcast, werr.ErrConfirmationsDecreased, werr.ErrHashMismatch,
		werr.ErrDuplicateDeposit, werr.ErrInsufficientFunds, werr.ErrNotFound, werr.ErrConcurrentModification, werr.ErrExternalTimeout,
		werr.ErrRateLimited, werr.ErrInternal,
	} {
		known[e.Code] = e
	}
}

func codeOf(e *werr.Error) codes.Code {
	switch {
	case errors.Is(e, werr.ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(e, werr.ErrInvalidTransition), errors.Is(e, werr.ErrCancelAfterBroadcast),
		errors.Is(e, werr.ErrConfirmationsDecreased), errors.Is(e, werr.ErrHashMismatch),
		errors.Is(e, werr.ErrDuplicateDeposit):
		return codes.FailedPrecondition
	}
	switch e.Kind {
	case werr.KindValidation:
		return codes.InvalidArgument
	case werr.KindInsufficientFunds:
		return codes.FailedPrecondition
	case werr.KindNotFound:
		return codes.NotFound
	case werr.KindConflict:
		return codes.Aborted
	case werr.KindTimeout:
		return codes.Unavailable
	}
	return codes.Internal
}

// toStatus renders err as "<CODE>: <message>". Internal details never leave
// the process.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	pe := werr.Public(err)
	return status.Error(codeOf(pe), pe.Code+": "+pe.Error())
}

// fromStatus is the client side of toStatus.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	code, msg, found := strings.Cut(st.Message(), ": ")
	base, ok := known[code]
	if !found || !ok {
		return err
	}
	return werr.New(base, msg)
}
