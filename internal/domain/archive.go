package domain

import (
	"context"
	"time"
)

// SettledBet is one bet inside a settlement snapshot. Amounts are decimal
// wei strings so snapshots stay readable by any JSON consumer.
type SettledBet struct {
	User      string `json:"user"`
	OutcomeID string `json:"outcomeId"`
	Amount    string `json:"amount"`
	Won       bool   `json:"won"`
	Payout    string `json:"payout,omitempty"`
}

// SettlementSnapshot is the archived record of a resolved event: the final
// pool, the winner, and the per-bet payouts at the configured fee rate.
type SettlementSnapshot struct {
	EventID          int64        `json:"eventId"`
	Title            string       `json:"title"`
	WinningOption    int          `json:"winningOption"`
	WinningOutcomeID string       `json:"winningOutcomeId"`
	Pool             string       `json:"pool"`
	FeeRateBps       int          `json:"feeRateBps"`
	ResolvedAt       time.Time    `json:"resolvedAt"`
	Bets             []SettledBet `json:"bets"`
}

// SnapshotWriter archives settlement snapshots to cold storage. It returns
// the storage key of the written object.
type SnapshotWriter interface {
	WriteSettlement(ctx context.Context, snap SettlementSnapshot) (string, error)
}
