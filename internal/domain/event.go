package domain

import (
	"math/big"
	"time"
)

// EventStatus represents the lifecycle state of a prediction event. It is
// derived from ledger truth at read time; the stored value is only a mirror
// of the last derivation.
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusLive      EventStatus = "live"
	EventStatusCompleted EventStatus = "completed"
)

// Outcome is one of the mutually exclusive results of an event. Position is
// the ledger-side option index; the two orderings must agree and the merger
// validates that they do.
type Outcome struct {
	ID           string   `json:"id"`
	EventID      int64    `json:"eventId"`
	Name         string   `json:"name"`
	Position     int      `json:"position"`
	StakedAmount *big.Int `json:"amount"`
}

// Event is the metadata-store row for a ledger event: descriptive fields
// owned by this engine plus a denormalized mirror of ledger facts (pool,
// totals). The event id is assigned by the ledger.
type Event struct {
	ID               int64       `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	LongDescription  string      `json:"longDescription"`
	Category         string      `json:"category"`
	CloseTime        time.Time   `json:"date"`
	Status           EventStatus `json:"status"`
	Pool             *big.Int    `json:"pool"`
	TotalBets        int         `json:"totalBets"`
	Outcomes         []Outcome   `json:"outcomes"`
	WinningOutcomeID string      `json:"winningOutcome,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// OutcomeByID returns the outcome with the given id and its index in the
// outcome list.
func (e Event) OutcomeByID(id string) (Outcome, int, bool) {
	for i, o := range e.Outcomes {
		if o.ID == id {
			return o, i, true
		}
	}
	return Outcome{}, -1, false
}

// OutcomeByIndex returns the outcome at the given ledger option index.
func (e Event) OutcomeByIndex(idx int) (Outcome, bool) {
	if idx < 0 || idx >= len(e.Outcomes) {
		return Outcome{}, false
	}
	return e.Outcomes[idx], true
}
