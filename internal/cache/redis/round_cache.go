package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openpredict/settlecore/internal/domain"
)

// RoundCache decorates a domain.PriceFeed with a Redis cache for the
// latest-round lookup, the hot path of every oracle staleness check. Each
// feed's latest round is stored as a hash at "round:{feedRef}" with a short
// TTL; historical RoundAt lookups and feed metadata pass through uncached.
type RoundCache struct {
	next   domain.PriceFeed
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRoundCache creates a RoundCache in front of next. ttl bounds how long a
// cached latest round is served before the backend is consulted again.
func NewRoundCache(c *Client, next domain.PriceFeed, ttl time.Duration, logger *slog.Logger) *RoundCache {
	return &RoundCache{
		next:   next,
		rdb:    c.Underlying(),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "round_cache")),
	}
}

func roundKey(feedRef string) string {
	return "round:" + feedRef
}

// LatestRound serves the cached latest round when present, falling through
// to the backend (and repopulating the cache) otherwise. Cache failures are
// logged and degrade to the backend; they never fail the lookup.
func (rc *RoundCache) LatestRound(ctx context.Context, feedRef string) (domain.PriceRound, error) {
	key := roundKey(feedRef)
	vals, err := rc.rdb.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		rc.logger.WarnContext(ctx, "cache read failed", slog.String("feed", feedRef), slog.String("error", err.Error()))
	} else if len(vals) > 0 {
		if round, ok := parseRound(vals); ok {
			return round, nil
		}
	}

	round, err := rc.next.LatestRound(ctx, feedRef)
	if err != nil {
		return domain.PriceRound{}, err
	}

	fields := map[string]interface{}{
		"round_id":    strconv.FormatUint(round.RoundID, 10),
		"price":       strconv.FormatInt(round.Price, 10),
		"observed_at": strconv.FormatInt(round.ObservedAt.UnixNano(), 10),
		"started_at":  strconv.FormatInt(round.StartedAt.UnixNano(), 10),
	}
	pipe := rc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.WarnContext(ctx, "cache write failed", slog.String("feed", feedRef), slog.String("error", err.Error()))
	}
	return round, nil
}

func parseRound(vals map[string]string) (domain.PriceRound, bool) {
	roundID, err := strconv.ParseUint(vals["round_id"], 10, 64)
	if err != nil {
		return domain.PriceRound{}, false
	}
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return domain.PriceRound{}, false
	}
	observed, err := strconv.ParseInt(vals["observed_at"], 10, 64)
	if err != nil {
		return domain.PriceRound{}, false
	}
	started, err := strconv.ParseInt(vals["started_at"], 10, 64)
	if err != nil {
		return domain.PriceRound{}, false
	}
	return domain.PriceRound{
		RoundID:    roundID,
		Price:      price,
		ObservedAt: time.Unix(0, observed).UTC(),
		StartedAt:  time.Unix(0, started).UTC(),
	}, true
}

// Invalidate drops the cached latest round for a feed, used by the ingestor
// after appending a newer round.
func (rc *RoundCache) Invalidate(ctx context.Context, feedRef string) error {
	if err := rc.rdb.Del(ctx, roundKey(feedRef)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate round %s: %w", feedRef, err)
	}
	return nil
}

// RoundAt passes through to the backend.
func (rc *RoundCache) RoundAt(ctx context.Context, feedRef string, roundID uint64) (domain.PriceRound, error) {
	return rc.next.RoundAt(ctx, feedRef, roundID)
}

// Decimals passes through to the backend.
func (rc *RoundCache) Decimals(ctx context.Context, feedRef string) (uint8, error) {
	return rc.next.Decimals(ctx, feedRef)
}

// Description passes through to the backend.
func (rc *RoundCache) Description(ctx context.Context, feedRef string) (string, error) {
	return rc.next.Description(ctx, feedRef)
}

var _ domain.PriceFeed = (*RoundCache)(nil)
