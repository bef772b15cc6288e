package domain

import "time"

// Snapshot is the immutable settlement-price record for one market. It is
// written once during the lock phase and consumed exactly once during
// resolution.
type Snapshot struct {
	MarketID   string
	Locked     bool
	RoundID    uint64
	Price      int64
	ObservedAt time.Time
}

// PriceRound is a single update from a price feed. Rounds are identified by
// a monotonically increasing sequence id; the sequence may contain gaps and
// its timestamps are not uniformly spaced.
type PriceRound struct {
	RoundID    uint64
	Price      int64
	ObservedAt time.Time
	StartedAt  time.Time
}

// WorkKind classifies the payload of a scheduler work decision.
type WorkKind int

const (
	WorkNone WorkKind = iota
	WorkResolution
	WorkCleanup
)

// Work is the outcome of a single find-due-work pass: either a batch of
// markets to drive through lock/resolve, a batch of day buckets to reclaim,
// or nothing.
type Work struct {
	Kind      WorkKind
	MarketIDs []string
	Days      []int64
}
