package domain

import "context"

// MarketStore persists market records keyed by market id.
type MarketStore interface {
	// Create inserts a new market. It returns ErrDuplicateMarket when the id
	// is already in use.
	Create(ctx context.Context, market Market) error
	// Get retrieves a market by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Market, error)
	// Update overwrites an existing market record.
	Update(ctx context.Context, market Market) error
}

// SchedulerStore is the keyed state surface owned by the Scheduler: the
// day-bucket index, the active-day set, per-market resolved flags, price
// snapshots, and the cleanup cursor. All access goes through the Scheduler;
// nothing else reads or writes this state.
type SchedulerStore interface {
	// Register appends a market id to its day bucket and marks the day
	// active. It returns ErrDuplicateMarket when the id is already
	// registered.
	Register(ctx context.Context, id string, day int64) error
	// Bucket returns the market ids settling on the given day. A day with no
	// bucket yields an empty slice, not an error.
	Bucket(ctx context.Context, day int64) ([]string, error)
	// ActiveDays returns the active day numbers in ascending order.
	ActiveDays(ctx context.Context) ([]int64, error)
	// DeleteBucket removes a day's market-id list and clears its active mark.
	DeleteBucket(ctx context.Context, day int64) error

	// MarkResolved flags a market as fully settled for bucket reclamation.
	MarkResolved(ctx context.Context, id string) error
	// IsResolved reports whether a market carries the resolved flag.
	IsResolved(ctx context.Context, id string) (bool, error)

	// SaveSnapshot persists the settlement-price snapshot for a market.
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// GetSnapshot retrieves a market's snapshot, or ErrNotFound when no
	// snapshot has been locked yet.
	GetSnapshot(ctx context.Context, marketID string) (Snapshot, error)

	// Cursor returns the round-robin cleanup cursor.
	Cursor(ctx context.Context) (uint64, error)
	// SetCursor persists the round-robin cleanup cursor.
	SetCursor(ctx context.Context, cursor uint64) error
}

// PriceFeed is the read side of a price-update history.
type PriceFeed interface {
	// LatestRound returns the most recent round for a feed, or ErrNotFound.
	LatestRound(ctx context.Context, feedRef string) (PriceRound, error)
	// RoundAt returns the round with the given sequence id. Gaps in the
	// sequence yield ErrNotFound.
	RoundAt(ctx context.Context, feedRef string, roundID uint64) (PriceRound, error)
	// Decimals returns the fixed-point scale of the feed's prices.
	Decimals(ctx context.Context, feedRef string) (uint8, error)
	// Description returns a human-readable feed description.
	Description(ctx context.Context, feedRef string) (string, error)
}

// FeedStore is a price-update history that can also be appended to by an
// ingestion pipeline.
type FeedStore interface {
	PriceFeed
	// Append records a new round for a feed.
	Append(ctx context.Context, feedRef string, round PriceRound) error
}
