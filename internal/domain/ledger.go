package domain

import (
	"context"
	"math/big"
	"time"
)

// TxHandle identifies a submitted ledger transaction while it awaits
// inclusion.
type TxHandle struct {
	Hash string
}

// TxResult is the outcome of a confirmed ledger transaction.
type TxResult struct {
	TxID        string
	BlockNumber uint64
}

// LedgerEvent is the on-chain record of an event. WinningOption is only
// meaningful when Closed is true.
type LedgerEvent struct {
	ID            int64
	Name          string
	CloseTime     time.Time
	Closed        bool
	WinningOption int
	Pool          *big.Int
}

// LedgerBet is a user's on-chain stake on an event.
type LedgerBet struct {
	Amount  *big.Int
	Option  int
	Claimed bool
}

// LedgerClient is the thin accessor over the external ledger. It holds no
// mutable state beyond the connection and signer; all methods may fail with
// a *LedgerError. Submit methods broadcast a signed transaction and return
// immediately; Await blocks until the transaction is included or the
// context expires.
type LedgerClient interface {
	ListEventIDs(ctx context.Context) ([]int64, error)
	GetEvent(ctx context.Context, id int64) (LedgerEvent, error)
	// GetUserBet reports the user's stake on an event; ok is false when the
	// user has no bet.
	GetUserBet(ctx context.Context, id int64, user string) (bet LedgerBet, ok bool, err error)
	GetOutcomeTotal(ctx context.Context, id int64, option int) (*big.Int, error)

	SubmitBet(ctx context.Context, id int64, option int, amount *big.Int) (TxHandle, error)
	SubmitResolve(ctx context.Context, id int64, winningOption int) (TxHandle, error)
	SubmitClaim(ctx context.Context, id int64, user string) (TxHandle, error)
	WithdrawFees(ctx context.Context) (TxHandle, error)

	Await(ctx context.Context, h TxHandle) (TxResult, error)
}
