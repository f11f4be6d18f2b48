package domain

import (
	"math/big"
	"time"
)

// Bet is the mirrored record of a ledger stake. At most one bet exists per
// (user, event) pair; the store enforces this with a unique constraint and
// the guard checks it before any ledger submission.
type Bet struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	EventID   int64     `json:"eventId"`
	OutcomeID string    `json:"outcomeId"`
	Amount    *big.Int  `json:"amount"`
	Claimed   bool      `json:"claimed"`
	CreatedAt time.Time `json:"createdAt"`
}

// BetView is a bet enriched with settlement facts derived from the merged
// event: whether it won, whether a claim is still open, and the pari-mutuel
// payout when it won.
type BetView struct {
	Bet
	EventTitle string      `json:"eventName"`
	Status     EventStatus `json:"status"`
	Won        bool        `json:"won"`
	Claimable  bool        `json:"claimable"`
	Payout     *big.Int    `json:"winnings,omitempty"`
}
