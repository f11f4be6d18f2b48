package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/merge"
	"github.com/betchain/settlementd/internal/settlement"
)

// Config bounds the orchestrator's waiting behavior.
type Config struct {
	// LockTTL caps how long one operation may hold an event's write lock.
	LockTTL time.Duration
	// ConfirmTimeout caps the wait for ledger confirmation. On expiry the
	// ledger is re-queried before the operation is declared failed.
	ConfirmTimeout time.Duration
}

// lockRetryInterval is how often a blocked operation re-attempts the event
// lock.
const lockRetryInterval = 100 * time.Millisecond

// Orchestrator executes the three write operations. All writes to the same
// event are serialized through the lock manager; the ledger write always
// precedes the mirror write, and a mirror failure after ledger confirmation
// is queued for the reconciler instead of failing the operation.
type Orchestrator struct {
	ledger    domain.LedgerClient
	events    domain.EventStore
	bets      domain.BetStore
	locks     domain.LockManager
	queue     domain.MirrorQueue
	guard     *ConsistencyGuard
	calc      *settlement.Calculator
	snapshots domain.SnapshotWriter
	track     *tracker
	cfg       Config
	logger    *slog.Logger
}

// New wires an orchestrator. snapshots may be nil when settlement archiving
// is disabled.
func New(
	ledger domain.LedgerClient,
	events domain.EventStore,
	bets domain.BetStore,
	locks domain.LockManager,
	queue domain.MirrorQueue,
	bus domain.SignalBus,
	calc *settlement.Calculator,
	snapshots domain.SnapshotWriter,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	logger = logger.With(slog.String("component", "orchestrator"))
	return &Orchestrator{
		ledger:    ledger,
		events:    events,
		bets:      bets,
		locks:     locks,
		queue:     queue,
		guard:     NewConsistencyGuard(ledger, bets),
		calc:      calc,
		snapshots: snapshots,
		track:     &tracker{bus: bus, logger: logger},
		cfg:       cfg,
		logger:    logger,
	}
}

func eventLockKey(id int64) string { return fmt.Sprintf("event:%d", id) }

// lockEvent blocks until the event lock is acquired or ctx expires.
func (o *Orchestrator) lockEvent(ctx context.Context, id int64) (func(), error) {
	for {
		unlock, err := o.locks.Acquire(ctx, eventLockKey(id), o.cfg.LockTTL)
		switch {
		case err == nil:
			return unlock, nil
		case !errors.Is(err, domain.ErrLockHeld):
			return nil, fmt.Errorf("orchestrator: lock event %d: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("orchestrator: lock event %d: %w", id, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// classifySubmit maps ledger submission failures onto domain errors. A
// rejected signature means the caller declined; everything else passes
// through with its ledger kind intact.
func classifySubmit(err error) error {
	if domain.IsLedgerKind(err, domain.LedgerRejected) {
		return fmt.Errorf("%w: %w", domain.ErrUserCancelled, err)
	}
	return err
}

// PlaceBet validates, submits, confirms, and mirrors a stake by user on one
// outcome of an open event. The returned bet reflects the mirrored row, or
// the confirmed ledger facts when mirroring had to be deferred.
func (o *Orchestrator) PlaceBet(ctx context.Context, eventID int64, user, outcomeID string, amount *big.Int) (domain.Bet, error) {
	op := newOperation(OpPlaceBet, eventID, user)
	o.track.transition(ctx, op, StateValidating)

	if amount == nil || amount.Sign() <= 0 {
		return domain.Bet{}, o.track.fail(ctx, op, fmt.Errorf("orchestrator: bet amount must be positive"))
	}

	meta, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, fmt.Errorf("orchestrator: event %d: %w", eventID, err))
	}
	_, option, ok := meta.OutcomeByID(outcomeID)
	if !ok {
		return domain.Bet{}, o.track.fail(ctx, op,
			fmt.Errorf("orchestrator: outcome %s not part of event %d: %w", outcomeID, eventID, domain.ErrNotFound))
	}

	unlock, err := o.lockEvent(ctx, eventID)
	if err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, err)
	}
	defer unlock()

	led, err := o.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, err)
	}
	if led.Closed {
		return domain.Bet{}, o.track.fail(ctx, op,
			fmt.Errorf("orchestrator: event %d: %w", eventID, domain.ErrAlreadyResolved))
	}

	if err := o.guard.CheckNoExistingBet(ctx, eventID, user); err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, err)
	}

	handle, err := o.ledger.SubmitBet(ctx, eventID, option, amount)
	if err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, classifySubmit(err))
	}
	op.TxHash = handle.Hash
	o.track.transition(ctx, op, StateSubmitted)

	o.track.transition(ctx, op, StateAwaitingConfirmation)
	if err := o.awaitBet(ctx, op, handle, eventID, user); err != nil {
		return domain.Bet{}, o.track.fail(ctx, op, err)
	}

	o.track.transition(ctx, op, StateMirroring)
	bet := domain.Bet{
		User:      user,
		EventID:   eventID,
		OutcomeID: outcomeID,
		Amount:    amount,
	}
	mirrored, err := o.bets.Create(ctx, bet)
	if err != nil {
		o.deferMirror(ctx, op, domain.MirrorTask{
			Kind:      domain.MirrorBet,
			EventID:   eventID,
			User:      user,
			OutcomeID: outcomeID,
			Amount:    amount.String(),
		}, err)
		return bet, nil
	}

	o.track.transition(ctx, op, StateDone)
	return mirrored, nil
}

// awaitBet waits for the bet transaction. A confirmation timeout is not a
// failure by itself: the ledger is re-queried and the bet counts as
// confirmed when the stake is visible.
func (o *Orchestrator) awaitBet(ctx context.Context, op *Operation, h domain.TxHandle, eventID int64, user string) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	_, err := o.ledger.Await(waitCtx, h)
	if err == nil {
		return nil
	}
	if !domain.IsLedgerKind(err, domain.LedgerNetwork) {
		return err
	}

	_, ok, qerr := o.ledger.GetUserBet(ctx, eventID, user)
	if qerr != nil {
		return fmt.Errorf("orchestrator: requery after confirmation timeout: %w", qerr)
	}
	if !ok {
		return err
	}
	o.logger.Warn("confirmation timed out but stake is on ledger",
		slog.String("op", op.ID), slog.String("tx", h.Hash))
	return nil
}

// ResolveEvent closes an event on the ledger with the given winning outcome
// and mirrors the result. Re-resolving with the same winner is idempotent;
// a different winner fails with ErrAlreadyResolved.
func (o *Orchestrator) ResolveEvent(ctx context.Context, eventID int64, winningOutcomeID string) (domain.Event, error) {
	op := newOperation(OpResolveEvent, eventID, "")
	o.track.transition(ctx, op, StateValidating)

	meta, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return domain.Event{}, o.track.fail(ctx, op, fmt.Errorf("orchestrator: event %d: %w", eventID, err))
	}
	_, option, ok := meta.OutcomeByID(winningOutcomeID)
	if !ok {
		return domain.Event{}, o.track.fail(ctx, op,
			fmt.Errorf("orchestrator: outcome %s not part of event %d: %w", winningOutcomeID, eventID, domain.ErrNotFound))
	}

	unlock, err := o.lockEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, o.track.fail(ctx, op, err)
	}
	defer unlock()

	led, err := o.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, o.track.fail(ctx, op, err)
	}
	if led.Closed {
		if led.WinningOption != option {
			return domain.Event{}, o.track.fail(ctx, op,
				fmt.Errorf("orchestrator: event %d closed with option %d: %w",
					eventID, led.WinningOption, domain.ErrAlreadyResolved))
		}
		// Ledger already agrees; make sure the mirror does too.
		resolved, err := o.events.Resolve(ctx, eventID, winningOutcomeID)
		if err != nil {
			return domain.Event{}, o.track.fail(ctx, op, err)
		}
		o.track.transition(ctx, op, StateDone)
		return resolved, nil
	}

	handle, err := o.ledger.SubmitResolve(ctx, eventID, option)
	if err != nil {
		return domain.Event{}, o.track.fail(ctx, op, classifySubmit(err))
	}
	op.TxHash = handle.Hash
	o.track.transition(ctx, op, StateSubmitted)

	o.track.transition(ctx, op, StateAwaitingConfirmation)
	if err := o.awaitResolve(ctx, op, handle, eventID); err != nil {
		return domain.Event{}, o.track.fail(ctx, op, err)
	}

	o.track.transition(ctx, op, StateMirroring)
	resolved, err := o.events.Resolve(ctx, eventID, winningOutcomeID)
	if err != nil {
		o.deferMirror(ctx, op, domain.MirrorTask{
			Kind:      domain.MirrorResolve,
			EventID:   eventID,
			OutcomeID: winningOutcomeID,
		}, err)
		meta.WinningOutcomeID = winningOutcomeID
		meta.Status = domain.EventStatusCompleted
		return meta, nil
	}

	o.archiveSettlement(ctx, resolved, option)

	o.track.transition(ctx, op, StateDone)
	return resolved, nil
}

func (o *Orchestrator) awaitResolve(ctx context.Context, op *Operation, h domain.TxHandle, eventID int64) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	_, err := o.ledger.Await(waitCtx, h)
	if err == nil {
		return nil
	}
	if !domain.IsLedgerKind(err, domain.LedgerNetwork) {
		return err
	}

	led, qerr := o.ledger.GetEvent(ctx, eventID)
	if qerr != nil {
		return fmt.Errorf("orchestrator: requery after confirmation timeout: %w", qerr)
	}
	if !led.Closed {
		return err
	}
	o.logger.Warn("confirmation timed out but event is closed on ledger",
		slog.String("op", op.ID), slog.String("tx", h.Hash))
	return nil
}

// ClaimReward pays out a winning bet. Claims are idempotent through the
// monotonic claimed flag: a second claim fails with ErrAlreadyClaimed.
func (o *Orchestrator) ClaimReward(ctx context.Context, betID string) (domain.BetView, error) {
	bet, err := o.bets.GetByID(ctx, betID)
	if err != nil {
		return domain.BetView{}, fmt.Errorf("orchestrator: bet %s: %w", betID, err)
	}

	op := newOperation(OpClaimReward, bet.EventID, bet.User)
	o.track.transition(ctx, op, StateValidating)

	// The claim guard is a read-then-write sequence, so it must run under
	// the event lock: two concurrent claims on one bet would otherwise both
	// pass it and both reach the ledger.
	unlock, err := o.lockEvent(ctx, bet.EventID)
	if err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, err)
	}
	defer unlock()

	// Re-read now that the lock is held; a claim that completed while we
	// waited has already flipped the mirrored flag.
	bet, err = o.bets.GetByID(ctx, betID)
	if err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, fmt.Errorf("orchestrator: bet %s: %w", betID, err))
	}

	merged, err := o.mergedEvent(ctx, bet.EventID)
	if err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, err)
	}

	if err := o.guard.CheckClaim(ctx, merged, bet); err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, err)
	}

	view, err := merge.MergeUserBet(merged, bet, o.calc)
	if err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, err)
	}

	handle, err := o.ledger.SubmitClaim(ctx, bet.EventID, bet.User)
	if err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, classifySubmit(err))
	}
	op.TxHash = handle.Hash
	o.track.transition(ctx, op, StateSubmitted)

	o.track.transition(ctx, op, StateAwaitingConfirmation)
	if err := o.awaitClaim(ctx, op, handle, bet.EventID, bet.User); err != nil {
		return domain.BetView{}, o.track.fail(ctx, op, err)
	}

	o.track.transition(ctx, op, StateMirroring)
	updated, err := o.bets.MarkClaimed(ctx, bet.ID)
	if err != nil && !errors.Is(err, domain.ErrAlreadyClaimed) {
		o.deferMirror(ctx, op, domain.MirrorTask{
			Kind:    domain.MirrorClaim,
			EventID: bet.EventID,
			User:    bet.User,
			BetID:   bet.ID,
		}, err)
		view.Claimed = true
		view.Claimable = false
		return view, nil
	}
	if err == nil {
		view.Bet = updated
	}

	view.Claimed = true
	view.Claimable = false
	o.track.transition(ctx, op, StateDone)
	return view, nil
}

func (o *Orchestrator) awaitClaim(ctx context.Context, op *Operation, h domain.TxHandle, eventID int64, user string) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	_, err := o.ledger.Await(waitCtx, h)
	if err == nil {
		return nil
	}
	if !domain.IsLedgerKind(err, domain.LedgerNetwork) {
		return err
	}

	led, ok, qerr := o.ledger.GetUserBet(ctx, eventID, user)
	if qerr != nil {
		return fmt.Errorf("orchestrator: requery after confirmation timeout: %w", qerr)
	}
	if !ok || !led.Claimed {
		return err
	}
	o.logger.Warn("confirmation timed out but claim is settled on ledger",
		slog.String("op", op.ID), slog.String("tx", h.Hash))
	return nil
}

// mergedEvent reads both stores and merges them, the single authoritative
// projection the engine serves.
func (o *Orchestrator) mergedEvent(ctx context.Context, eventID int64) (domain.MergedEvent, error) {
	meta, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("orchestrator: event %d: %w", eventID, err)
	}
	led, err := o.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return domain.MergedEvent{}, err
	}
	return merge.Merge(led, meta, time.Now().UTC())
}

// deferMirror queues a mirror write that failed after ledger confirmation.
// The ledger fact is settled; from the caller's perspective the operation
// succeeded.
func (o *Orchestrator) deferMirror(ctx context.Context, op *Operation, task domain.MirrorTask, cause error) {
	o.logger.Error("mirror write failed after ledger confirmation, queuing retry",
		slog.String("op", op.ID),
		slog.String("kind", string(task.Kind)),
		slog.Int64("event_id", task.EventID),
		slog.Any("err", cause),
	)
	task.EnqueuedAt = time.Now().UTC()
	if err := o.queue.Enqueue(ctx, task); err != nil {
		o.logger.Error("mirror task enqueue failed",
			slog.String("op", op.ID), slog.Any("err", err))
	}
	op.Reason = cause.Error()
	o.track.transition(ctx, op, StateDoneUnmirrored)
}

// archiveSettlement writes the settlement snapshot to cold storage. Best
// effort: archive failures are logged, never surfaced.
func (o *Orchestrator) archiveSettlement(ctx context.Context, resolved domain.Event, winningOption int) {
	if o.snapshots == nil {
		return
	}

	bets, err := o.bets.ListByEvent(ctx, resolved.ID)
	if err != nil {
		o.logger.Warn("settlement archive skipped", slog.Int64("event_id", resolved.ID), slog.Any("err", err))
		return
	}

	winner, _, ok := resolved.OutcomeByID(resolved.WinningOutcomeID)
	if !ok {
		o.logger.Warn("settlement archive skipped: winner missing", slog.Int64("event_id", resolved.ID))
		return
	}

	pool := resolved.Pool
	if pool == nil {
		pool = new(big.Int)
	}
	snap := domain.SettlementSnapshot{
		EventID:          resolved.ID,
		Title:            resolved.Title,
		WinningOption:    winningOption,
		WinningOutcomeID: resolved.WinningOutcomeID,
		Pool:             pool.String(),
		FeeRateBps:       o.calc.FeeRateBps(),
		ResolvedAt:       time.Now().UTC(),
	}
	for _, b := range bets {
		sb := domain.SettledBet{
			User:      b.User,
			OutcomeID: b.OutcomeID,
			Amount:    b.Amount.String(),
			Won:       b.OutcomeID == resolved.WinningOutcomeID,
		}
		if sb.Won {
			payout, err := o.calc.Payout(b.Amount, winner.StakedAmount, pool)
			if err == nil {
				sb.Payout = payout.String()
			}
		}
		snap.Bets = append(snap.Bets, sb)
	}

	key, err := o.snapshots.WriteSettlement(ctx, snap)
	if err != nil {
		o.logger.Warn("settlement archive failed", slog.Int64("event_id", resolved.ID), slog.Any("err", err))
		return
	}
	o.logger.Info("settlement archived", slog.Int64("event_id", resolved.ID), slog.String("key", key))
}
