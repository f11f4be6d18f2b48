// Package orchestrator drives the write path of the settlement engine: it
// serializes writes per event, submits ledger transactions, waits for
// confirmation, and mirrors confirmed facts into the metadata store.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/betchain/settlementd/internal/domain"
)

// OpKind names a write operation.
type OpKind string

const (
	OpPlaceBet     OpKind = "place_bet"
	OpResolveEvent OpKind = "resolve_event"
	OpClaimReward  OpKind = "claim_reward"
)

// OpState is a stage in the operation lifecycle. States advance strictly
// forward; done_unmirrored and failed are terminal alongside done.
type OpState string

const (
	StateValidating           OpState = "validating"
	StateSubmitted            OpState = "submitted"
	StateAwaitingConfirmation OpState = "awaiting_confirmation"
	StateMirroring            OpState = "mirroring"
	StateDone                 OpState = "done"
	StateDoneUnmirrored       OpState = "done_unmirrored"
	StateFailed               OpState = "failed"
)

// Operation is one tracked write. The ledger transaction hash is attached
// once the submission succeeds.
type Operation struct {
	ID        string    `json:"id"`
	Kind      OpKind    `json:"kind"`
	State     OpState   `json:"state"`
	EventID   int64     `json:"eventId"`
	User      string    `json:"user,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newOperation(kind OpKind, eventID int64, user string) *Operation {
	now := time.Now().UTC()
	return &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     StateValidating,
		EventID:   eventID,
		User:      user,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// tracker logs each transition and broadcasts it on the signal bus so
// websocket clients can follow settlement progress.
type tracker struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func (t *tracker) transition(ctx context.Context, op *Operation, state OpState) {
	op.State = state
	op.UpdatedAt = time.Now().UTC()

	t.logger.Info("operation state",
		slog.String("op", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("state", string(state)),
		slog.Int64("event_id", op.EventID),
	)

	if t.bus == nil {
		return
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, domain.OpsChannel, payload); err != nil {
		t.logger.Warn("lifecycle publish failed", slog.String("op", op.ID), slog.Any("err", err))
	}
}

// fail marks the operation failed with the error's message and returns the
// same error for the caller to propagate.
func (t *tracker) fail(ctx context.Context, op *Operation, err error) error {
	op.Reason = err.Error()
	t.transition(ctx, op, StateFailed)
	return err
}
