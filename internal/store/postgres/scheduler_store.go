package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/settlecore/internal/domain"
)

// SchedulerStore implements domain.SchedulerStore using PostgreSQL. The
// registration table is the duplicate guard and survives bucket reclamation;
// the bucket table is the scan index and is deleted day by day.
type SchedulerStore struct {
	pool *pgxpool.Pool
}

// NewSchedulerStore creates a new SchedulerStore backed by the given pool.
func NewSchedulerStore(pool *pgxpool.Pool) *SchedulerStore {
	return &SchedulerStore{pool: pool}
}

// Register records a market in its day bucket.
func (s *SchedulerStore) Register(ctx context.Context, id string, day int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: register %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO scheduler_registrations (market_id, day) VALUES ($1, $2)`, id, day)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: register %s: %w", id, domain.ErrDuplicateMarket)
		}
		return fmt.Errorf("postgres: register %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO scheduler_buckets (day, market_id) VALUES ($1, $2)`, day, id); err != nil {
		return fmt.Errorf("postgres: register %s bucket: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: register %s: %w", id, err)
	}
	return nil
}

// Bucket returns the market ids settling on the given day in registration
// order.
func (s *SchedulerStore) Bucket(ctx context.Context, day int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id FROM scheduler_buckets WHERE day = $1 ORDER BY registered_at, market_id`, day)
	if err != nil {
		return nil, fmt.Errorf("postgres: bucket %d: %w", day, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: bucket %d scan: %w", day, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bucket %d rows: %w", day, err)
	}
	return ids, nil
}

// ActiveDays returns the distinct bucket days in ascending order.
func (s *SchedulerStore) ActiveDays(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT day FROM scheduler_buckets ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active days: %w", err)
	}
	defer rows.Close()

	var days []int64
	for rows.Next() {
		var day int64
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("postgres: active days scan: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: active days rows: %w", err)
	}
	return days, nil
}

// DeleteBucket removes a day's bucket rows.
func (s *SchedulerStore) DeleteBucket(ctx context.Context, day int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM scheduler_buckets WHERE day = $1`, day); err != nil {
		return fmt.Errorf("postgres: delete bucket %d: %w", day, err)
	}
	return nil
}

// MarkResolved flags a market as fully settled.
func (s *SchedulerStore) MarkResolved(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO scheduler_resolved (market_id) VALUES ($1)
		 ON CONFLICT (market_id) DO NOTHING`, id); err != nil {
		return fmt.Errorf("postgres: mark resolved %s: %w", id, err)
	}
	return nil
}

// IsResolved reports whether a market carries the resolved flag.
func (s *SchedulerStore) IsResolved(ctx context.Context, id string) (bool, error) {
	var resolved bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM scheduler_resolved WHERE market_id = $1)`, id).Scan(&resolved)
	if err != nil {
		return false, fmt.Errorf("postgres: is resolved %s: %w", id, err)
	}
	return resolved, nil
}

// SaveSnapshot persists a market's settlement snapshot.
func (s *SchedulerStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	const query = `
		INSERT INTO snapshots (market_id, locked, round_id, price, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		snap.MarketID, snap.Locked, int64(snap.RoundID), snap.Price, snap.ObservedAt,
	); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetSnapshot retrieves a market's settlement snapshot.
func (s *SchedulerStore) GetSnapshot(ctx context.Context, marketID string) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, locked, round_id, price, observed_at
		 FROM snapshots WHERE market_id = $1`, marketID)

	var snap domain.Snapshot
	var roundID int64
	err := row.Scan(&snap.MarketID, &snap.Locked, &roundID, &snap.Price, &snap.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, fmt.Errorf("postgres: snapshot %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot %s: %w", marketID, err)
	}
	snap.RoundID = uint64(roundID)
	return snap, nil
}

// Cursor returns the round-robin cleanup cursor.
func (s *SchedulerStore) Cursor(ctx context.Context) (uint64, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM scheduler_cursor WHERE id = 1`).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("postgres: cursor: %w", err)
	}
	return uint64(cursor), nil
}

// SetCursor persists the round-robin cleanup cursor.
func (s *SchedulerStore) SetCursor(ctx context.Context, cursor uint64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE scheduler_cursor SET cursor = $1 WHERE id = 1`, int64(cursor)); err != nil {
		return fmt.Errorf("postgres: set cursor: %w", err)
	}
	return nil
}

var _ domain.SchedulerStore = (*SchedulerStore)(nil)
