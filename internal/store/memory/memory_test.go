package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
)

func TestMarketStoreCRUD(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()
	m := domain.Market{ID: "mkt-1", Status: domain.MarketStatusActive}

	if _, err := s.Get(ctx, "mkt-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get missing: err = %v, want ErrNotFound", err)
	}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, m); !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Errorf("duplicate create: err = %v, want ErrDuplicateMarket", err)
	}

	m.Status = domain.MarketStatusLocked
	if err := s.Update(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.Get(ctx, "mkt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.MarketStatusLocked {
		t.Errorf("status = %v, want locked", got.Status)
	}

	if err := s.Update(ctx, domain.Market{ID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestSchedulerStoreRegistrationSurvivesCleanup(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()

	if err := s.Register(ctx, "mkt-1", 100); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(ctx, "mkt-1", 101); !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Errorf("re-register: err = %v, want ErrDuplicateMarket", err)
	}

	if err := s.DeleteBucket(ctx, 100); err != nil {
		t.Fatalf("delete bucket: %v", err)
	}
	ids, _ := s.Bucket(ctx, 100)
	if len(ids) != 0 {
		t.Errorf("bucket after delete = %v", ids)
	}
	// The registration record outlives the bucket.
	if err := s.Register(ctx, "mkt-1", 100); !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Errorf("register after cleanup: err = %v, want ErrDuplicateMarket", err)
	}
}

func TestSchedulerStoreActiveDaysSorted(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()
	for i, day := range []int64{300, 100, 200} {
		if err := s.Register(ctx, string(rune('a'+i)), day); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	days, err := s.ActiveDays(ctx)
	if err != nil {
		t.Fatalf("active days: %v", err)
	}
	if len(days) != 3 || days[0] != 100 || days[1] != 200 || days[2] != 300 {
		t.Errorf("days = %v, want ascending [100 200 300]", days)
	}
}

func TestSchedulerStoreSnapshotsAndFlags(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()

	if _, err := s.GetSnapshot(ctx, "mkt-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing snapshot: err = %v, want ErrNotFound", err)
	}
	snap := domain.Snapshot{MarketID: "mkt-1", Locked: true, RoundID: 3, Price: 72_000, ObservedAt: time.Now()}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetSnapshot(ctx, "mkt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RoundID != 3 || got.Price != 72_000 {
		t.Errorf("snapshot = %+v", got)
	}

	resolved, _ := s.IsResolved(ctx, "mkt-1")
	if resolved {
		t.Error("unflagged market reported resolved")
	}
	if err := s.MarkResolved(ctx, "mkt-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	resolved, _ = s.IsResolved(ctx, "mkt-1")
	if !resolved {
		t.Error("flagged market not reported resolved")
	}
}

func TestSchedulerStoreCursor(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()

	cursor, err := s.Cursor(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != 0 {
		t.Errorf("initial cursor = %d, want 0", cursor)
	}
	if err := s.SetCursor(ctx, 7); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	cursor, _ = s.Cursor(ctx)
	if cursor != 7 {
		t.Errorf("cursor = %d, want 7", cursor)
	}
}

func TestFeedStoreGapsAndLatest(t *testing.T) {
	s := NewFeedStore(nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []uint64{1, 2, 5} {
		err := s.Append(ctx, "btc-usd", domain.PriceRound{RoundID: id, Price: int64(70_000 + id), ObservedAt: base})
		if err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}

	latest, err := s.LatestRound(ctx, "btc-usd")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.RoundID != 5 {
		t.Errorf("latest = %d, want 5", latest.RoundID)
	}
	if _, err := s.RoundAt(ctx, "btc-usd", 3); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("gap round: err = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestRound(ctx, "eth-usd"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown feed: err = %v, want ErrNotFound", err)
	}
}

func TestEventLogNewestFirst(t *testing.T) {
	l := NewEventLog()
	ctx := context.Background()
	for i, typ := range []string{domain.EventMarketCreated, domain.EventTrade, domain.EventMarketLocked} {
		err := l.Append(ctx, domain.Event{ID: string(rune('a' + i)), Type: typ})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := l.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != domain.EventMarketLocked || events[1].Type != domain.EventTrade {
		t.Errorf("order = %q, %q, want newest first", events[0].Type, events[1].Type)
	}
}
