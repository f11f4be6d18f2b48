// Package service exposes the engine's use cases to the transport layer.
// Read paths join the ledger with the metadata mirror on every call; write
// paths delegate to the orchestrator.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/merge"
	"github.com/betchain/settlementd/internal/orchestrator"
)

// EventService serves merged event views and the administrative event
// operations.
type EventService struct {
	events domain.EventStore
	ledger domain.LedgerClient
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewEventService creates an EventService with all required dependencies.
func NewEventService(
	events domain.EventStore,
	ledger domain.LedgerClient,
	orch *orchestrator.Orchestrator,
	logger *slog.Logger,
) *EventService {
	return &EventService{
		events: events,
		ledger: ledger,
		orch:   orch,
		logger: logger,
	}
}

// Create registers metadata for an event that already exists on the ledger.
// The ledger is the authority on the event's existence and close time; the
// metadata row only decorates it.
func (s *EventService) Create(ctx context.Context, ev domain.Event) (domain.MergedEvent, error) {
	led, err := s.ledger.GetEvent(ctx, ev.ID)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("event_service: ledger lookup for %d: %w", ev.ID, err)
	}

	ev.CloseTime = led.CloseTime
	created, err := s.events.Create(ctx, ev)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("event_service: create %d: %w", ev.ID, err)
	}

	s.logger.InfoContext(ctx, "event_service: event created",
		slog.Int64("event_id", created.ID),
		slog.String("title", created.Title),
	)

	return merge.Merge(led, created, time.Now().UTC())
}

// Get returns the merged view of one event.
func (s *EventService) Get(ctx context.Context, id int64) (domain.MergedEvent, error) {
	meta, err := s.events.GetByID(ctx, id)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("event_service: get %d: %w", id, err)
	}
	led, err := s.ledger.GetEvent(ctx, id)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("event_service: ledger lookup for %d: %w", id, err)
	}
	return merge.Merge(led, meta, time.Now().UTC())
}

// List returns merged views for a page of events. An event whose ledger
// read or merge fails is skipped with a warning so one bad row cannot blank
// the whole listing.
func (s *EventService) List(ctx context.Context, opts domain.ListOpts) ([]domain.MergedEvent, error) {
	metas, err := s.events.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("event_service: list: %w", err)
	}
	return s.mergeAll(ctx, metas), nil
}

// ListByCategory returns merged views for a page of events in one category.
func (s *EventService) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.MergedEvent, error) {
	metas, err := s.events.ListByCategory(ctx, category, opts)
	if err != nil {
		return nil, fmt.Errorf("event_service: list category %q: %w", category, err)
	}
	return s.mergeAll(ctx, metas), nil
}

// Count returns the number of events in the metadata store.
func (s *EventService) Count(ctx context.Context) (int64, error) {
	n, err := s.events.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("event_service: count: %w", err)
	}
	return n, nil
}

func (s *EventService) mergeAll(ctx context.Context, metas []domain.Event) []domain.MergedEvent {
	now := time.Now().UTC()
	out := make([]domain.MergedEvent, 0, len(metas))
	for _, meta := range metas {
		led, err := s.ledger.GetEvent(ctx, meta.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "event_service: ledger read failed, skipping event",
				slog.Int64("event_id", meta.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		merged, err := merge.Merge(led, meta, now)
		if err != nil {
			s.logger.WarnContext(ctx, "event_service: merge failed, skipping event",
				slog.Int64("event_id", meta.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, merged)
	}
	return out
}

// Resolve closes the event with the given winning outcome and returns the
// resulting merged view.
func (s *EventService) Resolve(ctx context.Context, id int64, winningOutcomeID string) (domain.MergedEvent, error) {
	if _, err := s.orch.ResolveEvent(ctx, id, winningOutcomeID); err != nil {
		return domain.MergedEvent{}, err
	}
	return s.Get(ctx, id)
}

// ResolveByOption resolves using the ledger option index instead of the
// outcome id. An out-of-range index fails before anything is touched.
func (s *EventService) ResolveByOption(ctx context.Context, id int64, option int) (domain.MergedEvent, error) {
	meta, err := s.events.GetByID(ctx, id)
	if err != nil {
		return domain.MergedEvent{}, fmt.Errorf("event_service: get %d: %w", id, err)
	}
	out, ok := meta.OutcomeByIndex(option)
	if !ok {
		return domain.MergedEvent{}, fmt.Errorf("event_service: option %d out of range for %d outcomes of event %d: %w",
			option, len(meta.Outcomes), id, domain.ErrMergeInconsistent)
	}
	return s.Resolve(ctx, id, out.ID)
}

// Delete removes the event's metadata, outcomes, and mirrored bets. The
// ledger record is immutable and stays; a later reconcile pass will
// recreate a skeleton row if the event is still live on the ledger.
func (s *EventService) Delete(ctx context.Context, id int64) (domain.DeleteCounts, error) {
	counts, err := s.events.Delete(ctx, id)
	if err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("event_service: delete %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "event_service: event deleted",
		slog.Int64("event_id", id),
		slog.Int64("bets", counts.Bets),
		slog.Int64("outcomes", counts.Outcomes),
	)
	return counts, nil
}
