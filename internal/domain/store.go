// Package domain defines the entities, errors, and interfaces of the
// settlement engine. Concrete implementations live under internal/store,
// internal/cache, internal/ledger, and internal/blob.
package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// DeleteCounts reports what a cascading event delete removed.
type DeleteCounts struct {
	Bets     int64 `json:"bets"`
	Outcomes int64 `json:"outcomes"`
	Events   int64 `json:"event"`
}

// EventStore persists event metadata and the mirrored ledger facts.
type EventStore interface {
	// Create inserts the event and its outcomes in one transaction.
	Create(ctx context.Context, ev Event) (Event, error)
	GetByID(ctx context.Context, id int64) (Event, error)
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByCategory(ctx context.Context, category string, opts ListOpts) ([]Event, error)
	Count(ctx context.Context) (int64, error)

	// Resolve marks the event completed with the given winning outcome.
	// Resolving twice with the same winner succeeds; with a different
	// winner it fails with ErrAlreadyResolved.
	Resolve(ctx context.Context, eventID int64, winningOutcomeID string) (Event, error)

	// Delete removes the event, its outcomes, and its bets.
	Delete(ctx context.Context, eventID int64) (DeleteCounts, error)
}

// BetStore persists mirrored bets. Create applies the bet row and the
// outcome/event increments as a single atomic unit.
type BetStore interface {
	// Create fails with ErrAlreadyBet when a bet for the same
	// (user, event) pair already exists.
	Create(ctx context.Context, b Bet) (Bet, error)
	GetByID(ctx context.Context, id string) (Bet, error)
	GetByUserEvent(ctx context.Context, user string, eventID int64) (Bet, error)
	ListByUser(ctx context.Context, user string) ([]Bet, error)
	ListByEvent(ctx context.Context, eventID int64) ([]Bet, error)

	// MarkClaimed flips claimed to true. The transition is monotonic; a
	// second call fails with ErrAlreadyClaimed.
	MarkClaimed(ctx context.Context, id string) (Bet, error)
}

// LockManager provides mutual exclusion keyed by string. The returned
// unlock function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is a lightweight pub/sub channel used to broadcast operation
// lifecycle messages.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// OpsChannel is the signal-bus channel operation lifecycle messages travel
// on, shared by the orchestrator (producer) and the websocket hub (consumer).
const OpsChannel = "settlement:ops"

// MirrorTaskKind names the mirror write a task retries.
type MirrorTaskKind string

const (
	MirrorBet     MirrorTaskKind = "bet"
	MirrorClaim   MirrorTaskKind = "claim"
	MirrorResolve MirrorTaskKind = "resolve"
)

// MirrorTask records a mirror write that failed after the ledger already
// confirmed the transaction. The reconciler re-reads ledger truth and
// replays the write; it never re-submits to the ledger.
type MirrorTask struct {
	ID         string         `json:"id"`
	Kind       MirrorTaskKind `json:"kind"`
	EventID    int64          `json:"event_id"`
	User       string         `json:"user,omitempty"`
	BetID      string         `json:"bet_id,omitempty"`
	OutcomeID  string         `json:"outcome_id,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	RetryCount int            `json:"retry_count"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// MirrorQueue is the durable retry queue for failed mirror writes.
type MirrorQueue interface {
	Enqueue(ctx context.Context, t MirrorTask) error
	// Next returns the task with the fewest retries; ok is false when the
	// queue is empty.
	Next(ctx context.Context) (t MirrorTask, ok bool, err error)
	Remove(ctx context.Context, id string) error
	// Requeue puts a failed task back with an incremented retry count.
	Requeue(ctx context.Context, t MirrorTask) error
}
