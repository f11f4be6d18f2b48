package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betchain/settlementd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// isUniqueViolation reports whether err is a postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts the bet and applies the outcome and event increments as a
// single transaction. Partial application (bet row written, pool not) is a
// correctness bug, so all three writes commit or none do. A duplicate
// (user, event) pair fails with ErrAlreadyBet before any increment.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: begin create bet: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertBet = `
		INSERT INTO bets (id, user_address, event_id, outcome_id, amount, claimed, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, FALSE, $6)`

	if _, err := tx.Exec(ctx, insertBet,
		b.ID, b.User, b.EventID, b.OutcomeID, numeric(b.Amount), b.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.Bet{}, fmt.Errorf("postgres: bet by %s on event %d: %w",
				b.User, b.EventID, domain.ErrAlreadyBet)
		}
		return domain.Bet{}, fmt.Errorf("postgres: insert bet: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE outcomes SET staked_amount = staked_amount + $2::numeric
		WHERE id = $1`, b.OutcomeID, numeric(b.Amount))
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: increment outcome %s: %w", b.OutcomeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Bet{}, fmt.Errorf("postgres: outcome %s: %w", b.OutcomeID, domain.ErrNotFound)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE events
		SET pool = pool + $2::numeric, total_bets = total_bets + 1, updated_at = NOW()
		WHERE event_id = $1`, b.EventID, numeric(b.Amount))
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: increment event %d pool: %w", b.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Bet{}, fmt.Errorf("postgres: event %d: %w", b.EventID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: commit create bet: %w", err)
	}
	return b, nil
}

const betCols = `id, user_address, event_id, outcome_id, amount::text, claimed, created_at`

func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var amount string
	err := row.Scan(&b.ID, &b.User, &b.EventID, &b.OutcomeID, &amount, &b.Claimed, &b.CreatedAt)
	if err != nil {
		return domain.Bet{}, err
	}
	if b.Amount, err = parseNumeric(amount); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

// GetByID retrieves a bet by its primary key.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// GetByUserEvent retrieves a user's bet on an event.
func (s *BetStore) GetByUserEvent(ctx context.Context, user string, eventID int64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE user_address = $1 AND event_id = $2`, user, eventID)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet by %s on event %d: %w", user, eventID, err)
	}
	return b, nil
}

func (s *BetStore) listWhere(ctx context.Context, where string, args ...any) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// ListByUser returns all bets placed by a user.
func (s *BetStore) ListByUser(ctx context.Context, user string) ([]domain.Bet, error) {
	return s.listWhere(ctx, `user_address = $1`, user)
}

// ListByEvent returns all bets on an event.
func (s *BetStore) ListByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error) {
	return s.listWhere(ctx, `event_id = $1`, eventID)
}

// MarkClaimed flips claimed to true, once. The guard in the WHERE clause
// makes the transition monotonic under concurrency: a second caller sees
// zero rows affected and gets ErrAlreadyClaimed.
func (s *BetStore) MarkClaimed(ctx context.Context, id string) (domain.Bet, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bets SET claimed = TRUE WHERE id = $1 AND claimed = FALSE`, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: mark bet %s claimed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		b, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return domain.Bet{}, getErr
		}
		return domain.Bet{}, fmt.Errorf("postgres: bet %s: %w", b.ID, domain.ErrAlreadyClaimed)
	}
	return s.GetByID(ctx, id)
}
