package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyBet        = errors.New("user has already placed a bet on this event")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
	ErrAlreadyResolved   = errors.New("event already resolved")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrUserCancelled     = errors.New("user cancelled signing")
	ErrMergeInconsistent = errors.New("ledger and metadata store disagree")
	ErrNoWinningStake    = errors.New("no stake on winning outcome")
	ErrLockHeld          = errors.New("lock already held")
)

// LedgerErrorKind classifies ledger failures for retry policy: network
// errors are transient, reverted and rejected are terminal.
type LedgerErrorKind string

const (
	LedgerNetwork  LedgerErrorKind = "network"
	LedgerReverted LedgerErrorKind = "reverted"
	LedgerRejected LedgerErrorKind = "rejected"
)

// LedgerError wraps a failure from the external ledger with its kind and
// the most specific reason available (the on-chain revert reason when there
// is one).
type LedgerError struct {
	Kind   LedgerErrorKind
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger %s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("ledger %s", e.Kind)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// NewLedgerError builds a LedgerError of the given kind.
func NewLedgerError(kind LedgerErrorKind, reason string, err error) *LedgerError {
	return &LedgerError{Kind: kind, Reason: reason, Err: err}
}

// IsLedgerKind reports whether err is (or wraps) a LedgerError of the given
// kind.
func IsLedgerKind(err error, kind LedgerErrorKind) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Kind == kind
}
