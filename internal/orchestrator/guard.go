package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/betchain/settlementd/internal/domain"
)

// ConsistencyGuard performs the pre-submission checks that keep the two
// stores from diverging. Every check consults the ledger as well as the
// mirror: the mirror alone can be stale, the ledger alone misses rows the
// mirror already holds.
type ConsistencyGuard struct {
	ledger domain.LedgerClient
	bets   domain.BetStore
}

// NewConsistencyGuard builds a guard over the given ledger and bet mirror.
func NewConsistencyGuard(ledger domain.LedgerClient, bets domain.BetStore) *ConsistencyGuard {
	return &ConsistencyGuard{ledger: ledger, bets: bets}
}

// CheckNoExistingBet fails with ErrAlreadyBet when either store already
// records a bet by user on the event.
func (g *ConsistencyGuard) CheckNoExistingBet(ctx context.Context, eventID int64, user string) error {
	_, err := g.bets.GetByUserEvent(ctx, user, eventID)
	switch {
	case err == nil:
		return domain.ErrAlreadyBet
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("orchestrator: bet lookup for %s on %d: %w", user, eventID, err)
	}

	_, ok, err := g.ledger.GetUserBet(ctx, eventID, user)
	if err != nil {
		return fmt.Errorf("orchestrator: ledger bet lookup for %s on %d: %w", user, eventID, err)
	}
	if ok {
		return domain.ErrAlreadyBet
	}
	return nil
}

// CheckClaim validates that a claim may proceed for the given merged view
// and bet. The ledger is the authority on whether the reward was already
// paid out; the mirrored claimed flag is only a hint.
func (g *ConsistencyGuard) CheckClaim(ctx context.Context, merged domain.MergedEvent, bet domain.Bet) error {
	if merged.Status != domain.EventStatusCompleted {
		return domain.ErrNothingToClaim
	}
	if bet.OutcomeID == "" || bet.OutcomeID != merged.WinningOutcomeID {
		return domain.ErrNothingToClaim
	}

	led, ok, err := g.ledger.GetUserBet(ctx, merged.ID, bet.User)
	if err != nil {
		return fmt.Errorf("orchestrator: ledger bet lookup for claim on %d: %w", merged.ID, err)
	}
	if !ok {
		return fmt.Errorf("orchestrator: bet %s mirrored but absent from ledger: %w",
			bet.ID, domain.ErrMergeInconsistent)
	}
	if led.Claimed || bet.Claimed {
		return domain.ErrAlreadyClaimed
	}
	return nil
}
