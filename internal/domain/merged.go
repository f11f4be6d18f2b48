package domain

import (
	"math/big"
	"time"
)

// MergedOutcome is an outcome as presented in a merged view. Percent is the
// share of the pool staked on this outcome, rounded to whole percent.
type MergedOutcome struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Staked  *big.Int `json:"amount"`
	Percent int      `json:"percentage"`
}

// MergedEvent is the read-only projection joining ledger truth with metadata.
// It is recomputed on every read and never persisted: pool and closure come
// from the ledger, descriptive fields and bet counts from the metadata store,
// and Status is derived from the ledger close flag and close time at merge
// time. Callers must treat it as eventually consistent, not as a snapshot.
type MergedEvent struct {
	ID               int64           `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	LongDescription  string          `json:"longDescription"`
	Category         string          `json:"category"`
	CloseTime        time.Time       `json:"date"`
	Status           EventStatus     `json:"status"`
	Pool             *big.Int        `json:"pool"`
	TotalBets        int             `json:"totalBets"`
	Outcomes         []MergedOutcome `json:"outcomes"`
	WinningOutcomeID string          `json:"winningOutcome,omitempty"`
	// WinningOption is the ledger option index of the winner, -1 while the
	// event is open.
	WinningOption int `json:"-"`
}

// WinningOutcome returns the winning merged outcome once the event is
// completed.
func (m MergedEvent) WinningOutcome() (MergedOutcome, bool) {
	if m.WinningOutcomeID == "" {
		return MergedOutcome{}, false
	}
	for _, o := range m.Outcomes {
		if o.ID == m.WinningOutcomeID {
			return o, true
		}
	}
	return MergedOutcome{}, false
}
