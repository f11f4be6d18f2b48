package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/merge"
	"github.com/betchain/settlementd/internal/orchestrator"
	"github.com/betchain/settlementd/internal/settlement"
)

// BetService serves bet views and fronts the orchestrator for bet writes.
type BetService struct {
	bets   domain.BetStore
	events domain.EventStore
	ledger domain.LedgerClient
	orch   *orchestrator.Orchestrator
	calc   *settlement.Calculator
	logger *slog.Logger
}

// NewBetService creates a BetService with all required dependencies.
func NewBetService(
	bets domain.BetStore,
	events domain.EventStore,
	ledger domain.LedgerClient,
	orch *orchestrator.Orchestrator,
	calc *settlement.Calculator,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		bets:   bets,
		events: events,
		ledger: ledger,
		orch:   orch,
		calc:   calc,
		logger: logger,
	}
}

// Place stakes amount on one outcome of an open event.
func (s *BetService) Place(ctx context.Context, eventID int64, user, outcomeID string, amount *big.Int) (domain.Bet, error) {
	return s.orch.PlaceBet(ctx, eventID, user, outcomeID, amount)
}

// Claim pays out a winning bet.
func (s *BetService) Claim(ctx context.Context, betID string) (domain.BetView, error) {
	return s.orch.ClaimReward(ctx, betID)
}

// ListByUser returns the user's bets across all events, each enriched with
// settlement facts from its merged event. Merged views are derived per
// call; a bet whose event cannot be merged is returned bare rather than
// dropped.
func (s *BetService) ListByUser(ctx context.Context, user string) ([]domain.BetView, error) {
	bets, err := s.bets.ListByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("bet_service: list by user %s: %w", user, err)
	}
	return s.enrich(ctx, bets), nil
}

// ListByEvent returns every mirrored bet on one event with settlement facts
// overlaid.
func (s *BetService) ListByEvent(ctx context.Context, eventID int64) ([]domain.BetView, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, fmt.Errorf("bet_service: event %d: %w", eventID, err)
	}
	bets, err := s.bets.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("bet_service: list by event %d: %w", eventID, err)
	}
	return s.enrich(ctx, bets), nil
}

// enrich overlays merged-event settlement facts onto each bet, reusing one
// merged view per event.
func (s *BetService) enrich(ctx context.Context, bets []domain.Bet) []domain.BetView {
	now := time.Now().UTC()
	mergedByEvent := make(map[int64]*domain.MergedEvent)

	views := make([]domain.BetView, 0, len(bets))
	for _, b := range bets {
		merged, ok := mergedByEvent[b.EventID]
		if !ok {
			merged = s.mergedEvent(ctx, b.EventID, now)
			mergedByEvent[b.EventID] = merged
		}
		if merged == nil {
			views = append(views, domain.BetView{Bet: b})
			continue
		}

		view, err := merge.MergeUserBet(*merged, b, s.calc)
		if err != nil {
			s.logger.WarnContext(ctx, "bet_service: settlement overlay failed",
				slog.String("bet_id", b.ID),
				slog.String("error", err.Error()),
			)
			views = append(views, domain.BetView{Bet: b, EventTitle: merged.Title, Status: merged.Status})
			continue
		}
		views = append(views, view)
	}
	return views
}

// mergedEvent builds the merged view for one event, or nil when either
// store cannot serve it.
func (s *BetService) mergedEvent(ctx context.Context, eventID int64, now time.Time) *domain.MergedEvent {
	meta, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "bet_service: metadata read failed",
			slog.Int64("event_id", eventID), slog.String("error", err.Error()))
		return nil
	}
	led, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "bet_service: ledger read failed",
			slog.Int64("event_id", eventID), slog.String("error", err.Error()))
		return nil
	}
	merged, err := merge.Merge(led, meta, now)
	if err != nil {
		s.logger.WarnContext(ctx, "bet_service: merge failed",
			slog.Int64("event_id", eventID), slog.String("error", err.Error()))
		return nil
	}
	return &merged
}
