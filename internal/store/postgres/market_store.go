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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, template_tag, creator, feed_ref, params,
	settle_time, created_at, fee_bps, creator_fee_bps,
	status, winner, reserve_yes, reserve_no, volume`

// Create inserts a new market row.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, template_tag, creator, feed_ref, params,
			settle_time, created_at, fee_bps, creator_fee_bps,
			status, winner, reserve_yes, reserve_no, volume, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.TemplateTag, m.Creator, m.FeedRef, m.Params,
		m.SettleTime, m.CreatedAt, int16(m.FeeBps), int16(m.CreatorFeeBps),
		string(m.Status), int16(m.Winner), int64(m.ReserveYes), int64(m.ReserveNo), int64(m.Volume),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrDuplicateMarket)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Get retrieves a market by its primary key.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)

	var m domain.Market
	var status string
	var feeBps, creatorFeeBps, winner int16
	var reserveYes, reserveNo, volume int64
	err := row.Scan(
		&m.ID, &m.TemplateTag, &m.Creator, &m.FeedRef, &m.Params,
		&m.SettleTime, &m.CreatedAt, &feeBps, &creatorFeeBps,
		&status, &winner, &reserveYes, &reserveNo, &volume,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	m.FeeBps = uint16(feeBps)
	m.CreatorFeeBps = uint16(creatorFeeBps)
	m.Status = domain.MarketStatus(status)
	m.Winner = domain.Outcome(winner)
	m.ReserveYes = uint64(reserveYes)
	m.ReserveNo = uint64(reserveNo)
	m.Volume = uint64(volume)
	return m, nil
}

// Update overwrites the mutable fields of an existing market row.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			status = $2, winner = $3,
			reserve_yes = $4, reserve_no = $5, volume = $6,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, string(m.Status), int16(m.Winner),
		int64(m.ReserveYes), int64(m.ReserveNo), int64(m.Volume),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
