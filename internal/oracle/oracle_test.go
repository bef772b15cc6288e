package oracle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
	"github.com/openpredict/settlecore/internal/store/memory"
)

const feedRef = "btc-usd"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newOracle(t *testing.T, cfg Config) (*Oracle, *memory.FeedStore) {
	t.Helper()
	feeds := memory.NewFeedStore(map[string]memory.FeedMeta{
		feedRef: {Decimals: 8, Description: "BTC / USD"},
	})
	o := New(feeds, cfg, slog.Default())
	o.now = func() time.Time { return now }
	return o, feeds
}

func addRound(t *testing.T, feeds *memory.FeedStore, roundID uint64, price int64, observedAt time.Time) {
	t.Helper()
	err := feeds.Append(context.Background(), feedRef, domain.PriceRound{
		RoundID:    roundID,
		Price:      price,
		ObservedAt: observedAt,
		StartedAt:  observedAt,
	})
	if err != nil {
		t.Fatalf("append round %d: %v", roundID, err)
	}
}

func TestLatest(t *testing.T) {
	tests := []struct {
		name    string
		price   int64
		age     time.Duration
		wantErr error
	}{
		{"fresh round", 72_000, 10 * time.Minute, nil},
		{"at staleness bound", 72_000, 4 * time.Hour, nil},
		{"stale", 72_000, 4*time.Hour + time.Second, domain.ErrStalePrice},
		{"zero price", 0, time.Minute, domain.ErrInvalidPrice},
		{"negative price", -5, time.Minute, domain.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, feeds := newOracle(t, Config{})
			addRound(t, feeds, 1, tt.price, now.Add(-tt.age))

			round, err := o.Latest(context.Background(), feedRef)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("latest: %v", err)
			}
			if round.Price != tt.price {
				t.Errorf("price = %d, want %d", round.Price, tt.price)
			}
		})
	}
}

func TestLatestEmptyFeed(t *testing.T) {
	o, _ := newOracle(t, Config{})
	if _, err := o.Latest(context.Background(), feedRef); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestFutureTimestamp(t *testing.T) {
	o, feeds := newOracle(t, Config{})
	addRound(t, feeds, 1, 72_000, now.Add(time.Minute))
	if _, err := o.Latest(context.Background(), feedRef); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("err = %v, want ErrInvalidPrice", err)
	}
}

func TestAtOrBeforeFastPath(t *testing.T) {
	o, feeds := newOracle(t, Config{})
	addRound(t, feeds, 5, 72_000, now.Add(-10*time.Minute))

	round, err := o.AtOrBefore(context.Background(), feedRef, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("at-or-before: %v", err)
	}
	if round.RoundID != 5 {
		t.Errorf("round = %d, want 5 via fast path", round.RoundID)
	}
}

func TestAtOrBeforeBackwardWalk(t *testing.T) {
	o, feeds := newOracle(t, Config{})
	addRound(t, feeds, 1, 70_000, now.Add(-60*time.Minute))
	addRound(t, feeds, 2, 71_000, now.Add(-40*time.Minute))
	// Round 3 missing: a gap in the sequence.
	addRound(t, feeds, 4, -1, now.Add(-20*time.Minute)) // invalid price, skipped
	addRound(t, feeds, 5, 73_000, now.Add(-5*time.Minute))

	// Target sits between rounds 2 and 4; the walk must skip the gap and
	// the bad round and land on round 2.
	round, err := o.AtOrBefore(context.Background(), feedRef, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("at-or-before: %v", err)
	}
	if round.RoundID != 2 || round.Price != 71_000 {
		t.Errorf("round = %d price %d, want round 2 price 71000", round.RoundID, round.Price)
	}
}

func TestAtOrBeforeScanExhausted(t *testing.T) {
	o, feeds := newOracle(t, Config{MaxScanRounds: 3})
	// Every reachable round is after the target, and the budget runs out
	// before the walk reaches older data.
	for id := uint64(1); id <= 10; id++ {
		addRound(t, feeds, id, 72_000, now.Add(-time.Duration(11-id)*time.Minute))
	}

	_, err := o.AtOrBefore(context.Background(), feedRef, now.Add(-2*time.Hour))
	if !errors.Is(err, domain.ErrScanExhausted) {
		t.Errorf("err = %v, want ErrScanExhausted", err)
	}
}

func TestAtOrBeforeWalkStopsAtRoundZero(t *testing.T) {
	o, feeds := newOracle(t, Config{MaxScanRounds: 500})
	addRound(t, feeds, 2, 72_000, now.Add(-time.Minute))

	// No round at or before the target exists; the walk hits id 0 and
	// reports exhaustion rather than looping.
	_, err := o.AtOrBefore(context.Background(), feedRef, now.Add(-2*time.Hour))
	if !errors.Is(err, domain.ErrScanExhausted) {
		t.Errorf("err = %v, want ErrScanExhausted", err)
	}
}

func TestAtOrBeforeBadTargets(t *testing.T) {
	o, feeds := newOracle(t, Config{})
	addRound(t, feeds, 1, 72_000, now.Add(-time.Minute))

	tests := []struct {
		name   string
		feed   string
		target time.Time
	}{
		{"empty feed ref", "", now},
		{"zero target", feedRef, time.Time{}},
		{"future target", feedRef, now.Add(time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.AtOrBefore(context.Background(), tt.feed, tt.target); !errors.Is(err, domain.ErrInvalidParams) {
				t.Errorf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestAtOrBeforeEmptyFeed(t *testing.T) {
	o, _ := newOracle(t, Config{})
	if _, err := o.AtOrBefore(context.Background(), feedRef, now.Add(-time.Minute)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMetadataPassThrough(t *testing.T) {
	o, _ := newOracle(t, Config{})

	dec, err := o.Decimals(context.Background(), feedRef)
	if err != nil {
		t.Fatalf("decimals: %v", err)
	}
	if dec != 8 {
		t.Errorf("decimals = %d, want 8", dec)
	}
	desc, err := o.Description(context.Background(), feedRef)
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	if desc != "BTC / USD" {
		t.Errorf("description = %q", desc)
	}
	if _, err := o.Decimals(context.Background(), "no-such"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown feed decimals: err = %v, want ErrNotFound", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	o, _ := newOracle(t, Config{})
	if o.cfg.MaxStaleness != DefaultMaxStaleness {
		t.Errorf("MaxStaleness = %v, want default %v", o.cfg.MaxStaleness, DefaultMaxStaleness)
	}
	if o.cfg.MaxScanRounds != DefaultMaxScanRounds {
		t.Errorf("MaxScanRounds = %d, want default %d", o.cfg.MaxScanRounds, DefaultMaxScanRounds)
	}
}
