package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betchain/settlementd/internal/domain"
)

func newTestReconciler(h *harness) *Reconciler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconciler(h.ledger, h.events, h.bets, h.queue, time.Second, logger)
}

func TestReconcilerReplaysBetTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 0}
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind:      domain.MirrorBet,
		EventID:   7,
		User:      testUser,
		OutcomeID: "out-a",
		Amount:    eth(10).String(),
	}))

	newTestReconciler(h).Pass(context.Background())

	assert.Zero(t, h.queue.len())
	bet, err := h.bets.GetByUserEvent(context.Background(), testUser, 7)
	require.NoError(t, err)
	assert.Zero(t, bet.Amount.Cmp(eth(10)))
}

func TestReconcilerBetTaskAlreadyMirrored(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 0}
	h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(10),
	})
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind: domain.MirrorBet, EventID: 7, User: testUser, OutcomeID: "out-a", Amount: eth(10).String(),
	}))

	newTestReconciler(h).Pass(context.Background())

	assert.Zero(t, h.queue.len(), "duplicate mirror counts as done")
}

func TestReconcilerDropsBetAbsentFromLedger(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind: domain.MirrorBet, EventID: 7, User: testUser, OutcomeID: "out-a", Amount: eth(10).String(),
	}))

	newTestReconciler(h).Pass(context.Background())

	assert.Zero(t, h.queue.len())
	_, err := h.bets.GetByUserEvent(context.Background(), testUser, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcilerReplaysResolveTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.closeLedgerEvent(0)
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind: domain.MirrorResolve, EventID: 7, OutcomeID: "out-a",
	}))

	newTestReconciler(h).Pass(context.Background())

	assert.Zero(t, h.queue.len())
	ev, err := h.events.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "out-a", ev.WinningOutcomeID)
}

func TestReconcilerReplaysClaimTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(10),
	})
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind: domain.MirrorClaim, EventID: 7, User: testUser, BetID: bet.ID,
	}))

	newTestReconciler(h).Pass(context.Background())

	assert.Zero(t, h.queue.len())
	updated, err := h.bets.GetByID(context.Background(), bet.ID)
	require.NoError(t, err)
	assert.True(t, updated.Claimed)
}

func TestReconcilerRequeuesFailingTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 0}
	h.bets.createErr = errors.New("postgres still down")
	require.NoError(t, h.queue.Enqueue(context.Background(), domain.MirrorTask{
		Kind: domain.MirrorBet, EventID: 7, User: testUser, OutcomeID: "out-a", Amount: eth(10).String(),
	}))

	newTestReconciler(h).Pass(context.Background())

	require.Equal(t, 1, h.queue.len())
	task, ok, err := h.queue.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, task.RetryCount)
}

func TestReconcilerCreatesSkeletonEvents(t *testing.T) {
	h := newHarness(t)
	// Event 9 exists only on the ledger.
	h.ledger.events[9] = domain.LedgerEvent{
		ID:        9,
		Name:      "Created outside the engine",
		CloseTime: time.Now().Add(2 * time.Hour),
		Pool:      eth(3),
	}

	newTestReconciler(h).Pass(context.Background())

	ev, err := h.events.GetByID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Created outside the engine", ev.Title)
	assert.Equal(t, "Synced from chain", ev.Description)
}

func TestReconcilerLeavesKnownEventsAlone(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	newTestReconciler(h).Pass(context.Background())

	ev, err := h.events.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Championship final", ev.Title)
	assert.Len(t, ev.Outcomes, 2)
}
