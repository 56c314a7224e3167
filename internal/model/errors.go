package model

import "errors"

// ErrLedgerUnavailable marks transient ledger failures: timeouts, refused
// connections, rate limits and 5xx responses. It is never a negative answer.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrInvariantViolation signals a reconciliation bug, e.g. a transition out
// of a terminal state or a conflicting duplicate of an immutable fact.
var ErrInvariantViolation = errors.New("invariant violation")

var (
	ErrNotFound             = errors.New("not found")
	ErrMalformedEvent       = errors.New("malformed ledger event")
	ErrUnknownRequest       = errors.New("event for unknown request")
	ErrRangeGap             = errors.New("block range does not follow the sync cursor")
	ErrUnauthorized         = errors.New("address is not authorized")
	ErrAuthorizationUnknown = errors.New("authorization could not be determined, retry later")
	ErrInvalidArgument      = errors.New("invalid argument")
)

func IsTransient(err error) bool { return errors.Is(err, ErrLedgerUnavailable) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
