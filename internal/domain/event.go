package domain

import (
	"context"
	"time"
)

// Event types recorded by the engine and scheduler.
const (
	EventMarketCreated  = "market_created"
	EventTrade          = "trade"
	EventMarketLocked   = "market_locked"
	EventMarketResolved = "market_resolved"
	EventRedeemed       = "redeemed"
	EventBucketDeleted  = "bucket_deleted"
)

// Event is a single row in the append-only event log.
type Event struct {
	ID        string
	Type      string
	MarketID  string
	Actor     string
	Detail    map[string]any
	CreatedAt time.Time
}

// EventLog persists an append-only record of market lifecycle events.
type EventLog interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// SettlementArchiver writes a cold-storage copy of a day bucket's settled
// markets before the bucket is deleted.
type SettlementArchiver interface {
	ArchiveBucket(ctx context.Context, day int64, markets []Market, snaps []Snapshot) error
}
