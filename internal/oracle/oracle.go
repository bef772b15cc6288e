// Package oracle exposes validated latest and historical price-update
// lookups over a price feed backend.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
)

const (
	// DefaultMaxStaleness bounds the age accepted by Latest.
	DefaultMaxStaleness = 4 * time.Hour
	// DefaultMaxScanRounds bounds the backward walk in AtOrBefore. The walk
	// is linear by design: round timestamps are not uniformly distributed
	// over sequence position, so no index supports a faster range search
	// without extra infrastructure. The bound caps the cost of one lookup.
	DefaultMaxScanRounds = 500
)

// Config carries the oracle's validation bounds.
type Config struct {
	MaxStaleness  time.Duration
	MaxScanRounds int
}

// Oracle validates and serves price rounds from a feed backend.
type Oracle struct {
	feed   domain.PriceFeed
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Oracle over the given feed. Zero config fields fall back to
// the package defaults.
func New(feed domain.PriceFeed, cfg Config, logger *slog.Logger) *Oracle {
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = DefaultMaxStaleness
	}
	if cfg.MaxScanRounds <= 0 {
		cfg.MaxScanRounds = DefaultMaxScanRounds
	}
	return &Oracle{
		feed:   feed,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "oracle")),
		now:    time.Now,
	}
}

// Latest returns the most recent round for a feed after validating that it
// exists, carries a sane timestamp, is fresher than the staleness bound, and
// has a positive price.
func (o *Oracle) Latest(ctx context.Context, feedRef string) (domain.PriceRound, error) {
	round, err := o.feed.LatestRound(ctx, feedRef)
	if err != nil {
		return domain.PriceRound{}, fmt.Errorf("oracle: latest %s: %w", feedRef, err)
	}
	now := o.now().UTC()
	if round.ObservedAt.IsZero() || round.ObservedAt.After(now) {
		return domain.PriceRound{}, fmt.Errorf("oracle: latest %s: bad timestamp %v: %w", feedRef, round.ObservedAt, domain.ErrInvalidPrice)
	}
	if now.Sub(round.ObservedAt) > o.cfg.MaxStaleness {
		return domain.PriceRound{}, fmt.Errorf("oracle: latest %s: age %s: %w", feedRef, now.Sub(round.ObservedAt), domain.ErrStalePrice)
	}
	if round.Price <= 0 {
		return domain.PriceRound{}, fmt.Errorf("oracle: latest %s: price %d: %w", feedRef, round.Price, domain.ErrInvalidPrice)
	}
	return round, nil
}

// AtOrBefore returns the most recent round whose timestamp is at or before
// target. The latest round is the fast path; otherwise the oracle walks the
// sequence backward one round at a time, skipping gaps and non-positive
// prices, until a match is found or the scan budget is exhausted.
func (o *Oracle) AtOrBefore(ctx context.Context, feedRef string, target time.Time) (domain.PriceRound, error) {
	if feedRef == "" {
		return domain.PriceRound{}, fmt.Errorf("oracle: at-or-before: empty feed: %w", domain.ErrInvalidParams)
	}
	now := o.now().UTC()
	if target.IsZero() || target.After(now) {
		return domain.PriceRound{}, fmt.Errorf("oracle: at-or-before %s: bad target %v: %w", feedRef, target, domain.ErrInvalidParams)
	}

	latest, err := o.feed.LatestRound(ctx, feedRef)
	if err != nil {
		return domain.PriceRound{}, fmt.Errorf("oracle: at-or-before %s: %w", feedRef, err)
	}
	if !latest.ObservedAt.After(target) && latest.Price > 0 {
		return latest, nil
	}

	roundID := latest.RoundID
	for steps := 0; steps < o.cfg.MaxScanRounds; steps++ {
		if roundID == 0 {
			break
		}
		roundID--

		round, err := o.feed.RoundAt(ctx, feedRef, roundID)
		if errors.Is(err, domain.ErrNotFound) {
			continue // gap in the sequence
		}
		if err != nil {
			return domain.PriceRound{}, fmt.Errorf("oracle: at-or-before %s round %d: %w", feedRef, roundID, err)
		}
		if round.Price <= 0 {
			continue
		}
		if !round.ObservedAt.After(target) {
			return round, nil
		}
	}

	o.logger.WarnContext(ctx, "historical scan exhausted",
		slog.String("feed", feedRef),
		slog.Time("target", target),
		slog.Int("max_rounds", o.cfg.MaxScanRounds),
	)
	return domain.PriceRound{}, fmt.Errorf("oracle: at-or-before %s: %w", feedRef, domain.ErrScanExhausted)
}

// Decimals reports the feed's fixed-point price scale.
func (o *Oracle) Decimals(ctx context.Context, feedRef string) (uint8, error) {
	d, err := o.feed.Decimals(ctx, feedRef)
	if err != nil {
		return 0, fmt.Errorf("oracle: decimals %s: %w", feedRef, err)
	}
	return d, nil
}

// Description reports the feed's human-readable description.
func (o *Oracle) Description(ctx context.Context, feedRef string) (string, error) {
	d, err := o.feed.Description(ctx, feedRef)
	if err != nil {
		return "", fmt.Errorf("oracle: description %s: %w", feedRef, err)
	}
	return d, nil
}
