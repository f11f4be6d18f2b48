package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/betchain/settlementd/internal/domain"
)

// maxTasksPerPass bounds how many mirror tasks one reconcile pass processes
// so a single poisoned task cannot starve the chain sync.
const maxTasksPerPass = 100

// Reconciler is the background repair loop. Each pass drains the mirror
// retry queue against current ledger truth, then scans the ledger for
// events the mirror has never seen and creates skeleton metadata rows for
// them. The reconciler never submits ledger transactions.
type Reconciler struct {
	ledger   domain.LedgerClient
	events   domain.EventStore
	bets     domain.BetStore
	queue    domain.MirrorQueue
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler builds a reconciler running a pass every interval.
func NewReconciler(
	ledger domain.LedgerClient,
	events domain.EventStore,
	bets domain.BetStore,
	queue domain.MirrorQueue,
	interval time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		ledger:   ledger,
		events:   events,
		bets:     bets,
		queue:    queue,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run executes passes until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Pass(ctx)
		}
	}
}

// Pass runs one reconcile cycle. Exported so tests and manual triggers can
// run a cycle without the ticker.
func (r *Reconciler) Pass(ctx context.Context) {
	r.drainQueue(ctx)
	r.syncLedger(ctx)
}

// drainQueue replays queued mirror writes. A task that is already applied
// counts as done; a task that fails again goes back with a bumped retry
// count.
func (r *Reconciler) drainQueue(ctx context.Context) {
	seen := make(map[string]bool)

	for i := 0; i < maxTasksPerPass; i++ {
		task, ok, err := r.queue.Next(ctx)
		if err != nil {
			r.logger.Error("mirror queue read failed", slog.Any("err", err))
			return
		}
		if !ok || seen[task.ID] {
			return
		}
		seen[task.ID] = true

		if err := r.applyTask(ctx, task); err != nil {
			r.logger.Warn("mirror task failed again",
				slog.String("task", task.ID),
				slog.String("kind", string(task.Kind)),
				slog.Int("retries", task.RetryCount),
				slog.Any("err", err),
			)
			if err := r.queue.Requeue(ctx, task); err != nil {
				r.logger.Error("mirror task requeue failed", slog.String("task", task.ID), slog.Any("err", err))
			}
			continue
		}

		if err := r.queue.Remove(ctx, task.ID); err != nil {
			r.logger.Error("mirror task remove failed", slog.String("task", task.ID), slog.Any("err", err))
			return
		}
		r.logger.Info("mirror task replayed",
			slog.String("task", task.ID),
			slog.String("kind", string(task.Kind)),
			slog.Int64("event_id", task.EventID),
		)
	}
}

// applyTask replays one mirror write from ledger truth.
func (r *Reconciler) applyTask(ctx context.Context, task domain.MirrorTask) error {
	switch task.Kind {
	case domain.MirrorBet:
		return r.applyBet(ctx, task)
	case domain.MirrorClaim:
		return r.applyClaim(ctx, task)
	case domain.MirrorResolve:
		return r.applyResolve(ctx, task)
	default:
		return fmt.Errorf("reconciler: unknown task kind %q", task.Kind)
	}
}

func (r *Reconciler) applyBet(ctx context.Context, task domain.MirrorTask) error {
	led, ok, err := r.ledger.GetUserBet(ctx, task.EventID, task.User)
	if err != nil {
		return err
	}
	if !ok {
		// The ledger no longer reports the stake; nothing to mirror.
		r.logger.Warn("queued bet absent from ledger, dropping",
			slog.String("task", task.ID), slog.Int64("event_id", task.EventID))
		return nil
	}

	amount := led.Amount
	if amount == nil {
		amount = new(big.Int)
		if task.Amount != "" {
			amount.SetString(task.Amount, 10)
		}
	}

	_, err = r.bets.Create(ctx, domain.Bet{
		User:      task.User,
		EventID:   task.EventID,
		OutcomeID: task.OutcomeID,
		Amount:    amount,
	})
	if errors.Is(err, domain.ErrAlreadyBet) {
		// Already mirrored by an earlier replay.
		return nil
	}
	return err
}

func (r *Reconciler) applyClaim(ctx context.Context, task domain.MirrorTask) error {
	_, err := r.bets.MarkClaimed(ctx, task.BetID)
	if errors.Is(err, domain.ErrAlreadyClaimed) {
		return nil
	}
	return err
}

func (r *Reconciler) applyResolve(ctx context.Context, task domain.MirrorTask) error {
	led, err := r.ledger.GetEvent(ctx, task.EventID)
	if err != nil {
		return err
	}
	if !led.Closed {
		return fmt.Errorf("reconciler: event %d not closed on ledger: %w",
			task.EventID, domain.ErrMergeInconsistent)
	}

	_, err = r.events.Resolve(ctx, task.EventID, task.OutcomeID)
	return err
}

// syncLedger creates skeleton metadata rows for ledger events the mirror
// has never seen, so merged reads do not 404 on events created outside
// this engine.
func (r *Reconciler) syncLedger(ctx context.Context) {
	ids, err := r.ledger.ListEventIDs(ctx)
	if err != nil {
		r.logger.Warn("ledger event scan failed", slog.Any("err", err))
		return
	}

	for _, id := range ids {
		_, err := r.events.GetByID(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("metadata lookup failed during sync", slog.Int64("event_id", id), slog.Any("err", err))
			continue
		}

		led, err := r.ledger.GetEvent(ctx, id)
		if err != nil {
			r.logger.Warn("ledger event read failed during sync", slog.Int64("event_id", id), slog.Any("err", err))
			continue
		}

		_, err = r.events.Create(ctx, domain.Event{
			ID:          id,
			Title:       led.Name,
			Description: "Synced from chain",
			Category:    "uncategorized",
			CloseTime:   led.CloseTime,
			Pool:        led.Pool,
		})
		switch {
		case err == nil:
			r.logger.Info("skeleton event created from ledger", slog.Int64("event_id", id))
		case errors.Is(err, domain.ErrAlreadyExists):
			// Raced with a concurrent create.
		default:
			r.logger.Error("skeleton event create failed", slog.Int64("event_id", id), slog.Any("err", err))
		}
	}
}
