package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betchain/settlementd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// numeric converts an amount for a NUMERIC(78,0) parameter. Amounts travel
// as decimal strings so no driver-side float conversion can touch them.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric converts a NUMERIC column scanned as text back to big.Int.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

// Create inserts the event and its outcomes in one transaction. Outcome ids
// are assigned here when the caller leaves them empty; positions follow the
// slice order, which must match the ledger's option ordering.
func (s *EventStore) Create(ctx context.Context, ev domain.Event) (domain.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: begin create event: %w", err)
	}
	defer tx.Rollback(ctx)

	pool := new(big.Int)
	for _, o := range ev.Outcomes {
		if o.StakedAmount != nil {
			pool.Add(pool, o.StakedAmount)
		}
	}
	ev.Pool = pool

	const insertEvent = `
		INSERT INTO events (
			event_id, title, description, long_description, category,
			close_time, status, pool, total_bets, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, NOW(), NOW())
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, insertEvent,
		ev.ID, ev.Title, ev.Description, ev.LongDescription, ev.Category,
		ev.CloseTime, string(ev.Status), numeric(ev.Pool), ev.TotalBets,
	).Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Event{}, fmt.Errorf("postgres: event %d: %w", ev.ID, domain.ErrAlreadyExists)
		}
		return domain.Event{}, fmt.Errorf("postgres: insert event %d: %w", ev.ID, err)
	}

	const insertOutcome = `
		INSERT INTO outcomes (id, event_id, name, position, staked_amount)
		VALUES ($1, $2, $3, $4, $5::numeric)`

	for i := range ev.Outcomes {
		o := &ev.Outcomes[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		o.EventID = ev.ID
		o.Position = i
		if o.StakedAmount == nil {
			o.StakedAmount = new(big.Int)
		}
		if _, err := tx.Exec(ctx, insertOutcome,
			o.ID, o.EventID, o.Name, o.Position, numeric(o.StakedAmount),
		); err != nil {
			return domain.Event{}, fmt.Errorf("postgres: insert outcome %d of event %d: %w", i, ev.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Event{}, fmt.Errorf("postgres: commit create event %d: %w", ev.ID, err)
	}
	return ev, nil
}

const eventCols = `event_id, title, description, long_description, category,
	close_time, status, pool::text, total_bets, COALESCE(winning_outcome_id, ''),
	created_at, updated_at`

// scanEvent scans a single event row (without outcomes).
func scanEvent(row pgx.Row) (domain.Event, error) {
	var ev domain.Event
	var status, pool string
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.LongDescription, &ev.Category,
		&ev.CloseTime, &status, &pool, &ev.TotalBets, &ev.WinningOutcomeID,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Status = domain.EventStatus(status)
	ev.Pool, err = parseNumeric(pool)
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// loadOutcomes attaches the ordered outcome list for each event.
func (s *EventStore) loadOutcomes(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]int64, len(events))
	byID := make(map[int64]*domain.Event, len(events))
	for i := range events {
		ids[i] = events[i].ID
		byID[events[i].ID] = &events[i]
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, name, position, staked_amount::text
		FROM outcomes WHERE event_id = ANY($1)
		ORDER BY event_id, position`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.Outcome
		var staked string
		if err := rows.Scan(&o.ID, &o.EventID, &o.Name, &o.Position, &staked); err != nil {
			return fmt.Errorf("postgres: scan outcome: %w", err)
		}
		if o.StakedAmount, err = parseNumeric(staked); err != nil {
			return err
		}
		if ev, ok := byID[o.EventID]; ok {
			ev.Outcomes = append(ev.Outcomes, o)
		}
	}
	return rows.Err()
}

// GetByID retrieves an event with its outcomes.
func (s *EventStore) GetByID(ctx context.Context, id int64) (domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventCols+` FROM events WHERE event_id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %d: %w", id, err)
	}

	events := []domain.Event{ev}
	if err := s.loadOutcomes(ctx, events); err != nil {
		return domain.Event{}, err
	}
	return events[0], nil
}

func (s *EventStore) list(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}

	if err := s.loadOutcomes(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// List returns events ordered by close time, newest first.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx,
		`SELECT `+eventCols+` FROM events ORDER BY close_time DESC LIMIT $1 OFFSET $2`,
		limit(opts), opts.Offset)
}

// ListByCategory returns events in one category.
func (s *EventStore) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx,
		`SELECT `+eventCols+` FROM events WHERE category = $1 ORDER BY close_time DESC LIMIT $2 OFFSET $3`,
		category, limit(opts), opts.Offset)
}

// Count returns the total number of events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return count, nil
}

// Resolve marks the event completed with the given winning outcome. The
// update is conditional so a concurrent or repeated resolve can never flip
// the winner: same winner is reported as success, a different winner fails
// with ErrAlreadyResolved.
func (s *EventStore) Resolve(ctx context.Context, eventID int64, winningOutcomeID string) (domain.Event, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events
		SET winning_outcome_id = $2, status = $3, updated_at = NOW()
		WHERE event_id = $1 AND winning_outcome_id IS NULL`,
		eventID, winningOutcomeID, string(domain.EventStatusCompleted))
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: resolve event %d: %w", eventID, err)
	}

	ev, getErr := s.GetByID(ctx, eventID)
	if getErr != nil {
		return domain.Event{}, getErr
	}

	if tag.RowsAffected() == 0 {
		if ev.WinningOutcomeID != winningOutcomeID {
			return domain.Event{}, fmt.Errorf("postgres: event %d resolved with %s: %w",
				eventID, ev.WinningOutcomeID, domain.ErrAlreadyResolved)
		}
		// Same winner: idempotent success.
	}
	return ev, nil
}

// Delete removes the event's bets, outcomes, and the event itself, in that
// order, and reports the counts.
func (s *EventStore) Delete(ctx context.Context, eventID int64) (domain.DeleteCounts, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("postgres: begin delete event: %w", err)
	}
	defer tx.Rollback(ctx)

	var counts domain.DeleteCounts

	tag, err := tx.Exec(ctx, `DELETE FROM bets WHERE event_id = $1`, eventID)
	if err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("postgres: delete bets of event %d: %w", eventID, err)
	}
	counts.Bets = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM outcomes WHERE event_id = $1`, eventID)
	if err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("postgres: delete outcomes of event %d: %w", eventID, err)
	}
	counts.Outcomes = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM events WHERE event_id = $1`, eventID)
	if err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("postgres: delete event %d: %w", eventID, err)
	}
	counts.Events = tag.RowsAffected()
	if counts.Events == 0 {
		return domain.DeleteCounts{}, domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.DeleteCounts{}, fmt.Errorf("postgres: commit delete event %d: %w", eventID, err)
	}
	return counts, nil
}

func limit(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return 50
	}
	return opts.Limit
}
