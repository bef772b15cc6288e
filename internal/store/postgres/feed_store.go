package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/settlecore/internal/domain"
)

// FeedStore implements domain.FeedStore using PostgreSQL.
type FeedStore struct {
	pool *pgxpool.Pool
}

// NewFeedStore creates a new FeedStore backed by the given connection pool.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

// Append records a feed round. Replayed rounds are ignored.
func (s *FeedStore) Append(ctx context.Context, feedRef string, round domain.PriceRound) error {
	const query = `
		INSERT INTO feed_rounds (feed_ref, round_id, price, observed_at, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feed_ref, round_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		feedRef, int64(round.RoundID), round.Price, round.ObservedAt, round.StartedAt,
	); err != nil {
		return fmt.Errorf("postgres: append round %s/%d: %w", feedRef, round.RoundID, err)
	}
	return nil
}

func scanRound(row pgx.Row) (domain.PriceRound, error) {
	var round domain.PriceRound
	var roundID int64
	if err := row.Scan(&roundID, &round.Price, &round.ObservedAt, &round.StartedAt); err != nil {
		return domain.PriceRound{}, err
	}
	round.RoundID = uint64(roundID)
	return round, nil
}

// LatestRound returns the highest-sequence round for a feed.
func (s *FeedStore) LatestRound(ctx context.Context, feedRef string) (domain.PriceRound, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT round_id, price, observed_at, started_at
		 FROM feed_rounds WHERE feed_ref = $1
		 ORDER BY round_id DESC LIMIT 1`, feedRef)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceRound{}, fmt.Errorf("postgres: latest round %s: %w", feedRef, domain.ErrNotFound)
		}
		return domain.PriceRound{}, fmt.Errorf("postgres: latest round %s: %w", feedRef, err)
	}
	return round, nil
}

// RoundAt returns the round with the given sequence id.
func (s *FeedStore) RoundAt(ctx context.Context, feedRef string, roundID uint64) (domain.PriceRound, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT round_id, price, observed_at, started_at
		 FROM feed_rounds WHERE feed_ref = $1 AND round_id = $2`, feedRef, int64(roundID))
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceRound{}, fmt.Errorf("postgres: round %s/%d: %w", feedRef, roundID, domain.ErrNotFound)
		}
		return domain.PriceRound{}, fmt.Errorf("postgres: round %s/%d: %w", feedRef, roundID, err)
	}
	return round, nil
}

// Decimals returns a feed's price scale.
func (s *FeedStore) Decimals(ctx context.Context, feedRef string) (uint8, error) {
	var decimals int16
	err := s.pool.QueryRow(ctx,
		`SELECT decimals FROM feeds WHERE feed_ref = $1`, feedRef).Scan(&decimals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("postgres: decimals %s: %w", feedRef, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: decimals %s: %w", feedRef, err)
	}
	return uint8(decimals), nil
}

// Description returns a feed's description.
func (s *FeedStore) Description(ctx context.Context, feedRef string) (string, error) {
	var description string
	err := s.pool.QueryRow(ctx,
		`SELECT description FROM feeds WHERE feed_ref = $1`, feedRef).Scan(&description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("postgres: description %s: %w", feedRef, domain.ErrNotFound)
		}
		return "", fmt.Errorf("postgres: description %s: %w", feedRef, err)
	}
	return description, nil
}

var _ domain.FeedStore = (*FeedStore)(nil)
