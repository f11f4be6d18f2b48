package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/settlement"
)

const (
	testUser  = "0xabc"
	otherUser = "0xdef"
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// halfEth returns n/2 whole units in wei.
func halfEth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(5e17))
}

type harness struct {
	orch   *Orchestrator
	ledger *fakeLedger
	events *memEventStore
	bets   *memBetStore
	locks  *fakeLocks
	queue  *memQueue
	bus    *memBus
	snaps  *fakeSnapshots
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	events := newMemEventStore()
	h := &harness{
		ledger: newFakeLedger(),
		events: events,
		bets:   newMemBetStore(events),
		locks:  newFakeLocks(),
		queue:  &memQueue{},
		bus:    newMemBus(),
		snaps:  &fakeSnapshots{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.orch = New(
		h.ledger, h.events, h.bets, h.locks, h.queue, h.bus,
		settlement.NewCalculator(200), h.snaps,
		Config{LockTTL: time.Minute, ConfirmTimeout: time.Second},
		logger,
	)
	return h
}

// seedEvent installs an open event in both stores: two outcomes, 40 on a,
// 60 on b, pool 100.
func (h *harness) seedEvent(t *testing.T) {
	t.Helper()
	_, err := h.events.Create(context.Background(), domain.Event{
		ID:       7,
		Title:    "Championship final",
		Category: "sports",
		Outcomes: []domain.Outcome{
			{ID: "out-a", EventID: 7, Name: "Team A", Position: 0, StakedAmount: eth(40)},
			{ID: "out-b", EventID: 7, Name: "Team B", Position: 1, StakedAmount: eth(60)},
		},
		Pool:      eth(100),
		TotalBets: 2,
	})
	require.NoError(t, err)

	h.ledger.events[7] = domain.LedgerEvent{
		ID:        7,
		Name:      "Championship final",
		CloseTime: time.Now().Add(time.Hour),
		Pool:      eth(100),
	}
}

func (h *harness) closeLedgerEvent(winningOption int) {
	ev := h.ledger.events[7]
	ev.Closed = true
	ev.WinningOption = winningOption
	h.ledger.events[7] = ev
}

func TestPlaceBetMirrorsConfirmedStake(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	bet, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.NoError(t, err)
	assert.NotEmpty(t, bet.ID)
	assert.Equal(t, "out-a", bet.OutcomeID)

	stored, err := h.bets.GetByUserEvent(context.Background(), testUser, 7)
	require.NoError(t, err)
	assert.Zero(t, stored.Amount.Cmp(eth(10)))

	_, onLedger, err := h.ledger.GetUserBet(context.Background(), 7, testUser)
	require.NoError(t, err)
	assert.True(t, onLedger)

	assert.Equal(t, []string{"event:7"}, h.locks.acquired)
	assert.NotEmpty(t, h.bus.messages[domain.OpsChannel])
}

func TestPlaceBetRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", big.NewInt(0))
	require.Error(t, err)
	assert.Zero(t, h.ledger.submits)
}

func TestPlaceBetUnknownOutcome(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-z", eth(10))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.ledger.submits)
}

func TestPlaceBetDuplicateInMirror(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(5),
	})

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	assert.ErrorIs(t, err, domain.ErrAlreadyBet)
	assert.Zero(t, h.ledger.submits, "must not reach the ledger")
}

func TestPlaceBetDuplicateOnLedgerOnly(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	// Stake exists on the ledger but was never mirrored.
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(5), Option: 0}

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	assert.ErrorIs(t, err, domain.ErrAlreadyBet)
	assert.Zero(t, h.ledger.submits)
}

func TestPlaceBetOnClosedEvent(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.closeLedgerEvent(0)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Zero(t, h.ledger.submits)
}

func TestPlaceBetSigningDeclined(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.ledger.submitErr = domain.NewLedgerError(domain.LedgerRejected, "signer declined", nil)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	assert.ErrorIs(t, err, domain.ErrUserCancelled)

	_, err = h.bets.GetByUserEvent(context.Background(), testUser, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing must be mirrored")
}

func TestPlaceBetRevertedOnLedger(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.ledger.awaitErr = domain.NewLedgerError(domain.LedgerReverted, "Event is closed", nil)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.Error(t, err)
	assert.True(t, domain.IsLedgerKind(err, domain.LedgerReverted))

	_, merr := h.bets.GetByUserEvent(context.Background(), testUser, 7)
	assert.ErrorIs(t, merr, domain.ErrNotFound)
}

func TestPlaceBetConfirmationTimeoutRequeriesLedger(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	// Await never sees the receipt, but the stake lands on the ledger.
	h.ledger.awaitErr = domain.NewLedgerError(domain.LedgerNetwork, "confirmation wait expired", context.DeadlineExceeded)

	bet, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.NoError(t, err)
	assert.Zero(t, bet.Amount.Cmp(eth(10)))

	_, err = h.bets.GetByUserEvent(context.Background(), testUser, 7)
	assert.NoError(t, err, "bet must still be mirrored")
}

func TestPlaceBetMirrorFailureQueuesTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.bets.createErr = errors.New("postgres down")

	bet, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.NoError(t, err, "ledger confirmed, mirror failure is deferred")
	assert.Zero(t, bet.Amount.Cmp(eth(10)))

	require.Equal(t, 1, h.queue.len())
	task, ok, err := h.queue.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MirrorBet, task.Kind)
	assert.Equal(t, int64(7), task.EventID)
	assert.Equal(t, testUser, task.User)
	assert.Equal(t, eth(10).String(), task.Amount)
}

func TestPlaceBetSequenceKeepsPoolConsistent(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	_, err := h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.NoError(t, err)
	_, err = h.orch.PlaceBet(context.Background(), 7, otherUser, "out-b", eth(15))
	require.NoError(t, err)

	ev, err := h.events.GetByID(context.Background(), 7)
	require.NoError(t, err)

	staked := new(big.Int)
	for _, out := range ev.Outcomes {
		staked.Add(staked, out.StakedAmount)
	}
	assert.Zero(t, ev.Pool.Cmp(staked), "pool %s must equal staked sum %s", ev.Pool, staked)
	assert.Zero(t, ev.Pool.Cmp(eth(125)))
	assert.Equal(t, 4, ev.TotalBets)

	a, _, ok := ev.OutcomeByID("out-a")
	require.True(t, ok)
	assert.Zero(t, a.StakedAmount.Cmp(eth(50)))
}

func TestResolveEventClosesAndMirrors(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	resolved, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)
	assert.Equal(t, "out-a", resolved.WinningOutcomeID)
	assert.Equal(t, domain.EventStatusCompleted, resolved.Status)

	led := h.ledger.events[7]
	assert.True(t, led.Closed)
	assert.Equal(t, 0, led.WinningOption)
}

func TestResolveEventWritesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(10),
	})
	h.bets.seed(domain.Bet{
		User: otherUser, EventID: 7, OutcomeID: "out-b", Amount: eth(20),
	})

	_, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)

	require.Len(t, h.snaps.written, 1)
	snap := h.snaps.written[0]
	assert.Equal(t, int64(7), snap.EventID)
	assert.Equal(t, "out-a", snap.WinningOutcomeID)
	assert.Equal(t, 200, snap.FeeRateBps)
	require.Len(t, snap.Bets, 2)
	for _, sb := range snap.Bets {
		if sb.User == testUser {
			assert.True(t, sb.Won)
			// 10 * (100 * 0.98) / 40 = 24.5
			assert.Equal(t, halfEth(49).String(), sb.Payout)
		} else {
			assert.False(t, sb.Won)
			assert.Empty(t, sb.Payout)
		}
	}
}

func TestResolveEventIdempotentSameWinner(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	_, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)
	submits := h.ledger.submits

	resolved, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)
	assert.Equal(t, "out-a", resolved.WinningOutcomeID)
	assert.Equal(t, submits, h.ledger.submits, "second resolve must not resubmit")
}

func TestResolveEventDifferentWinner(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	_, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)

	_, err = h.orch.ResolveEvent(context.Background(), 7, "out-b")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveEventMirrorFailureQueuesTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	h.events.resolveErr = errors.New("postgres down")

	resolved, err := h.orch.ResolveEvent(context.Background(), 7, "out-a")
	require.NoError(t, err)
	assert.Equal(t, "out-a", resolved.WinningOutcomeID)

	require.Equal(t, 1, h.queue.len())
	task, _, _ := h.queue.Next(context.Background())
	assert.Equal(t, domain.MirrorResolve, task.Kind)
	assert.Equal(t, "out-a", task.OutcomeID)
}

func claimFixture(t *testing.T, h *harness) domain.Bet {
	t.Helper()
	bet := h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(10),
	})
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 0}
	h.closeLedgerEvent(0)
	_, err := h.events.Resolve(context.Background(), 7, "out-a")
	require.NoError(t, err)
	return bet
}

func TestClaimRewardPaysWinner(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := claimFixture(t, h)

	view, err := h.orch.ClaimReward(context.Background(), bet.ID)
	require.NoError(t, err)
	assert.True(t, view.Won)
	assert.True(t, view.Claimed)
	assert.False(t, view.Claimable)
	require.NotNil(t, view.Payout)
	assert.Zero(t, view.Payout.Cmp(halfEth(49)), "payout = %s", view.Payout)

	led := h.ledger.bets[betKey(7, testUser)]
	assert.True(t, led.Claimed)
}

func TestClaimRewardTwice(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := claimFixture(t, h)

	_, err := h.orch.ClaimReward(context.Background(), bet.ID)
	require.NoError(t, err)

	_, err = h.orch.ClaimReward(context.Background(), bet.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimRewardConcurrentSecondClaimFails(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := claimFixture(t, h)

	started := make(chan struct{})
	gate := make(chan struct{})
	h.ledger.claimStarted = started
	h.ledger.claimGate = gate

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.orch.ClaimReward(context.Background(), bet.ID)
		firstErr <- err
	}()
	// The first claim now holds the event lock, stalled at submission.
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := h.orch.ClaimReward(context.Background(), bet.ID)
		secondErr <- err
	}()

	// Give the second claim time to block on the lock before releasing.
	time.Sleep(150 * time.Millisecond)
	close(gate)

	require.NoError(t, <-firstErr)
	assert.ErrorIs(t, <-secondErr, domain.ErrAlreadyClaimed)
	assert.Equal(t, 1, h.ledger.submits, "only one claim may reach the ledger")
}

func TestClaimRewardLosingBet(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-b", Amount: eth(10),
	})
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 1}
	h.closeLedgerEvent(0)
	_, err := h.events.Resolve(context.Background(), 7, "out-a")
	require.NoError(t, err)

	_, err = h.orch.ClaimReward(context.Background(), bet.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimRewardOpenEvent(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := h.bets.seed(domain.Bet{
		User: testUser, EventID: 7, OutcomeID: "out-a", Amount: eth(10),
	})
	h.ledger.bets[betKey(7, testUser)] = domain.LedgerBet{Amount: eth(10), Option: 0}

	_, err := h.orch.ClaimReward(context.Background(), bet.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimRewardMirrorFailureQueuesTask(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)
	bet := claimFixture(t, h)
	h.bets.claimErr = errors.New("postgres down")

	view, err := h.orch.ClaimReward(context.Background(), bet.ID)
	require.NoError(t, err, "ledger paid out, mirror failure is deferred")
	assert.True(t, view.Claimed)

	require.Equal(t, 1, h.queue.len())
	task, _, _ := h.queue.Next(context.Background())
	assert.Equal(t, domain.MirrorClaim, task.Kind)
	assert.Equal(t, bet.ID, task.BetID)
}

func TestLockEventWaitsForHolder(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t)

	unlock, err := h.locks.Acquire(context.Background(), "event:7", time.Minute)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(250 * time.Millisecond)
		unlock()
		close(released)
	}()

	_, err = h.orch.PlaceBet(context.Background(), 7, testUser, "out-a", eth(10))
	require.NoError(t, err)
	<-released

	assert.GreaterOrEqual(t, len(h.locks.acquired), 2)
}
