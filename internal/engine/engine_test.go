package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
	"github.com/openpredict/settlecore/internal/ledger"
	"github.com/openpredict/settlecore/internal/store/memory"
)

const (
	factoryID   = "factory"
	schedulerID = "scheduler"
	trader      = "trader-1"
	creator     = "creator-1"
)

type engineFixture struct {
	engine *Engine
	vault  *ledger.MemoryVault
	shares *ledger.MemoryLedger
	events *memory.EventLog
	now    time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		vault:  ledger.NewMemoryVault(),
		shares: ledger.NewMemoryLedger(),
		events: memory.NewEventLog(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(Config{
		FactoryID:           factoryID,
		SchedulerID:         schedulerID,
		MaxFeeBps:           500,
		MinInitialLiquidity: 100 * unit,
	}, memory.NewMarketStore(), f.shares, f.vault, f.events, slog.Default())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	if err := f.vault.Credit(context.Background(), account, amount); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (f *engineFixture) createMarket(t *testing.T, id string) domain.Market {
	t.Helper()
	f.fund(t, creator, 2*1000*unit)
	m, err := f.engine.CreateMarket(context.Background(), factoryID, CreateParams{
		ID:               id,
		TemplateTag:      "price-threshold",
		Params:           domain.EncodeThresholdParams(70_000),
		FeedRef:          "btc-usd",
		SettleTime:       f.now.Add(24 * time.Hour),
		FeeBps:           150,
		CreatorFeeBps:    50,
		Creator:          creator,
		InitialLiquidity: 1000 * unit,
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "mkt-1")

	if m.Status != domain.MarketStatusActive {
		t.Errorf("status = %v, want active", m.Status)
	}
	if m.ReserveYes != 1000*unit || m.ReserveNo != 1000*unit {
		t.Errorf("reserves = %d/%d, want equal seed", m.ReserveYes, m.ReserveNo)
	}
	if m.Winner != domain.OutcomeUnresolved {
		t.Errorf("winner = %v, want unresolved", m.Winner)
	}

	// Fresh market reports exactly even odds.
	price, err := f.engine.Price(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 5000 {
		t.Errorf("fresh price = %d bps, want 5000", price)
	}

	// Creator paid 2x seed and holds both claim sets.
	bal, _ := f.vault.Balance(context.Background(), creator)
	if bal != 0 {
		t.Errorf("creator collateral after seed = %d, want 0", bal)
	}
	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		got, _ := f.shares.BalanceOf(context.Background(), creator, domain.NewClaimKey("mkt-1", outcome))
		if got != 1000*unit {
			t.Errorf("seed %s claims = %d, want %d", outcome, got, 1000*unit)
		}
	}
}

func TestCreateMarketRejections(t *testing.T) {
	f := newFixture(t)
	base := CreateParams{
		ID:               "mkt-r",
		TemplateTag:      "price-threshold",
		FeedRef:          "btc-usd",
		SettleTime:       f.now.Add(time.Hour),
		FeeBps:           150,
		CreatorFeeBps:    50,
		Creator:          creator,
		InitialLiquidity: 1000 * unit,
	}
	f.fund(t, creator, 100_000*unit)

	tests := []struct {
		name    string
		caller  string
		mutate  func(*CreateParams)
		wantErr error
	}{
		{"wrong caller", trader, func(p *CreateParams) {}, domain.ErrUnauthorized},
		{"settle time in past", factoryID, func(p *CreateParams) { p.SettleTime = f.now.Add(-time.Minute) }, domain.ErrInvalidParams},
		{"settle time now", factoryID, func(p *CreateParams) { p.SettleTime = f.now }, domain.ErrInvalidParams},
		{"fee above cap", factoryID, func(p *CreateParams) { p.FeeBps = 501 }, domain.ErrInvalidParams},
		{"creator share above fee", factoryID, func(p *CreateParams) { p.CreatorFeeBps = 200 }, domain.ErrInvalidParams},
		{"liquidity below floor", factoryID, func(p *CreateParams) { p.InitialLiquidity = 99 * unit }, domain.ErrInsufficientLiquidity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := f.engine.CreateMarket(context.Background(), tt.caller, p)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateMarketDuplicate(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-dup")
	f.fund(t, creator, 2*1000*unit)
	_, err := f.engine.CreateMarket(context.Background(), factoryID, CreateParams{
		ID:               "mkt-dup",
		TemplateTag:      "price-threshold",
		SettleTime:       f.now.Add(time.Hour),
		Creator:          creator,
		InitialLiquidity: 1000 * unit,
	})
	if !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Errorf("err = %v, want ErrDuplicateMarket", err)
	}
}

func TestBuyWorkedExample(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 100*unit)

	shares, err := f.engine.Buy(context.Background(), trader, "mkt-1", domain.OutcomeYes, 100*unit, 0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if want := uint64(89_667_729); shares != want {
		t.Errorf("shares = %d, want %d", shares, want)
	}

	// Buying yes moves the reported price above even odds.
	price, err := f.engine.Price(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 5471 {
		t.Errorf("price after buy = %d bps, want 5471", price)
	}

	bal, _ := f.vault.Balance(context.Background(), trader)
	if bal != 0 {
		t.Errorf("trader collateral = %d, want 0 after spending all", bal)
	}
	got, _ := f.shares.BalanceOf(context.Background(), trader, domain.NewClaimKey("mkt-1", domain.OutcomeYes))
	if got != shares {
		t.Errorf("trader claim balance = %d, want %d", got, shares)
	}
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 1000*unit)

	tests := []struct {
		name       string
		id         string
		outcome    domain.Outcome
		in, minOut uint64
		wantErr    error
	}{
		{"invalid outcome", "mkt-1", domain.OutcomeUnresolved, 10 * unit, 0, domain.ErrInvalidOutcome},
		{"zero collateral", "mkt-1", domain.OutcomeYes, 0, 0, domain.ErrInvalidParams},
		{"unknown market", "nope", domain.OutcomeYes, 10 * unit, 0, domain.ErrNotFound},
		{"slippage", "mkt-1", domain.OutcomeYes, 10 * unit, 1 << 60, domain.ErrSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Buy(context.Background(), trader, tt.id, tt.outcome, tt.in, tt.minOut)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuyInsufficientCollateral(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	// Trader is never funded.
	_, err := f.engine.Buy(context.Background(), trader, "mkt-1", domain.OutcomeYes, 10*unit, 0)
	if !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Errorf("err = %v, want ErrInsufficientCollateral", err)
	}
}

func TestSellRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 100*unit)

	shares, err := f.engine.Buy(context.Background(), trader, "mkt-1", domain.OutcomeYes, 100*unit, 0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	out, err := f.engine.Sell(context.Background(), trader, "mkt-1", domain.OutcomeYes, shares, 0)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	// Fees are paid on both legs, so the round trip always loses money.
	if out >= 100*unit {
		t.Errorf("round trip returned %d, want less than %d", out, 100*unit)
	}
	// Both legs at 1.5% cost roughly 3%; allow slippage on top but the
	// trader should still recover the bulk of the stake.
	if out < 90*unit {
		t.Errorf("round trip returned %d, lost more than 10%%", out)
	}

	got, _ := f.shares.BalanceOf(context.Background(), trader, domain.NewClaimKey("mkt-1", domain.OutcomeYes))
	if got != 0 {
		t.Errorf("claims after full sell = %d, want 0", got)
	}
}

func TestSellRejections(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")

	tests := []struct {
		name     string
		outcome  domain.Outcome
		sharesIn uint64
		wantErr  error
	}{
		{"invalid outcome", domain.Outcome(7), 10 * unit, domain.ErrInvalidOutcome},
		{"zero shares", domain.OutcomeNo, 0, domain.ErrInvalidParams},
		{"no claims held", domain.OutcomeNo, 10 * unit, domain.ErrInsufficientClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Sell(context.Background(), trader, "mkt-1", tt.outcome, tt.sharesIn, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	ctx := context.Background()

	// Only the scheduler may lock.
	if err := f.engine.Lock(ctx, trader, "mkt-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("lock by trader: err = %v, want ErrUnauthorized", err)
	}
	// Cannot resolve before locking.
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeYes); !errors.Is(err, domain.ErrMarketNotLocked) {
		t.Errorf("resolve active market: err = %v, want ErrMarketNotLocked", err)
	}

	if err := f.engine.Lock(ctx, schedulerID, "mkt-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Lock is single-shot.
	if err := f.engine.Lock(ctx, schedulerID, "mkt-1"); !errors.Is(err, domain.ErrMarketNotActive) {
		t.Errorf("double lock: err = %v, want ErrMarketNotActive", err)
	}
	// Trading is frozen.
	f.fund(t, trader, 10*unit)
	if _, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 10*unit, 0); !errors.Is(err, domain.ErrMarketNotActive) {
		t.Errorf("buy on locked market: err = %v, want ErrMarketNotActive", err)
	}

	if err := f.engine.Resolve(ctx, trader, "mkt-1", domain.OutcomeYes); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("resolve by trader: err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeUnresolved); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("resolve unresolved outcome: err = %v, want ErrInvalidOutcome", err)
	}
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Resolve is single-shot.
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeNo); !errors.Is(err, domain.ErrMarketNotLocked) {
		t.Errorf("double resolve: err = %v, want ErrMarketNotLocked", err)
	}
}

func TestRedeem(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 100*unit)
	ctx := context.Background()

	shares, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 100*unit, 0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Redeem before resolution is rejected.
	if _, err := f.engine.Redeem(ctx, trader, "mkt-1"); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Errorf("early redeem: err = %v, want ErrMarketNotResolved", err)
	}

	if err := f.engine.Lock(ctx, schedulerID, "mkt-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Winning claims pay exactly one collateral unit each.
	payout, err := f.engine.Redeem(ctx, trader, "mkt-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payout != shares {
		t.Errorf("payout = %d, want %d", payout, shares)
	}
	bal, _ := f.vault.Balance(ctx, trader)
	if bal != shares {
		t.Errorf("trader collateral = %d, want %d", bal, shares)
	}

	// The balance was burned, so a second redeem finds no claims.
	if _, err := f.engine.Redeem(ctx, trader, "mkt-1"); !errors.Is(err, domain.ErrInsufficientClaims) {
		t.Errorf("second redeem: err = %v, want ErrInsufficientClaims", err)
	}
}

func TestRedeemLosingSideGetsNothing(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 50*unit)
	ctx := context.Background()

	if _, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeNo, 50*unit, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := f.engine.Lock(ctx, schedulerID, "mkt-1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.engine.Resolve(ctx, schedulerID, "mkt-1", domain.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := f.engine.Redeem(ctx, trader, "mkt-1"); !errors.Is(err, domain.ErrInsufficientClaims) {
		t.Errorf("losing redeem: err = %v, want ErrInsufficientClaims", err)
	}
}

func TestVolumeAccumulates(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 300*unit)
	ctx := context.Background()

	if _, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 100*unit, 0); err != nil {
		t.Fatalf("buy 1: %v", err)
	}
	if _, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeNo, 200*unit, 0); err != nil {
		t.Fatalf("buy 2: %v", err)
	}

	m, err := f.engine.markets.Get(ctx, "mkt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Volume != 300*unit {
		t.Errorf("volume = %d, want %d", m.Volume, 300*unit)
	}
}

func TestEventsEmitted(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t, "mkt-1")
	f.fund(t, trader, 10*unit)
	ctx := context.Background()

	if _, err := f.engine.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 10*unit, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}

	events, err := f.events.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Type != domain.EventTrade {
		t.Errorf("events[0].Type = %q, want %q", events[0].Type, domain.EventTrade)
	}
	if events[1].Type != domain.EventMarketCreated {
		t.Errorf("events[1].Type = %q, want %q", events[1].Type, domain.EventMarketCreated)
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Error("event ids must be unique and non-empty")
	}
}

// faultyMarketStore fails Update on demand to exercise the unwind paths.
type faultyMarketStore struct {
	*memory.MarketStore
	failUpdate bool
}

func (s *faultyMarketStore) Update(ctx context.Context, m domain.Market) error {
	if s.failUpdate {
		return errors.New("store offline")
	}
	return s.MarketStore.Update(ctx, m)
}

func TestTradeUnwindsOnStoreFailure(t *testing.T) {
	store := &faultyMarketStore{MarketStore: memory.NewMarketStore()}
	vault := ledger.NewMemoryVault()
	shares := ledger.NewMemoryLedger()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{
		FactoryID:           factoryID,
		SchedulerID:         schedulerID,
		MaxFeeBps:           500,
		MinInitialLiquidity: 100 * unit,
	}, store, shares, vault, memory.NewEventLog(), slog.Default())
	e.now = func() time.Time { return now }
	ctx := context.Background()

	if err := vault.Credit(ctx, creator, 2*1000*unit); err != nil {
		t.Fatalf("fund creator: %v", err)
	}
	if _, err := e.CreateMarket(ctx, factoryID, CreateParams{
		ID:               "mkt-1",
		TemplateTag:      "price-threshold",
		Params:           domain.EncodeThresholdParams(70_000),
		FeedRef:          "btc-usd",
		SettleTime:       now.Add(24 * time.Hour),
		FeeBps:           150,
		CreatorFeeBps:    50,
		Creator:          creator,
		InitialLiquidity: 1000 * unit,
	}); err != nil {
		t.Fatalf("create market: %v", err)
	}
	if err := vault.Credit(ctx, trader, 100*unit); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	// A buy against a failing store must hand the debited collateral back.
	store.failUpdate = true
	if _, err := e.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 100*unit, 0); err == nil {
		t.Fatal("expected buy to fail")
	}
	if bal, _ := vault.Balance(ctx, trader); bal != 100*unit {
		t.Errorf("trader collateral after failed buy = %d, want %d", bal, 100*unit)
	}
	if got, _ := shares.BalanceOf(ctx, trader, domain.NewClaimKey("mkt-1", domain.OutcomeYes)); got != 0 {
		t.Errorf("trader claims after failed buy = %d, want 0", got)
	}
	m, err := e.markets.Get(ctx, "mkt-1")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.ReserveYes != 1000*unit || m.ReserveNo != 1000*unit {
		t.Errorf("reserves after failed buy = %d/%d, want untouched", m.ReserveYes, m.ReserveNo)
	}

	store.failUpdate = false
	bought, err := e.Buy(ctx, trader, "mkt-1", domain.OutcomeYes, 100*unit, 0)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// A sell against a failing store must re-mint the burned claims.
	store.failUpdate = true
	if _, err := e.Sell(ctx, trader, "mkt-1", domain.OutcomeYes, bought, 0); err == nil {
		t.Fatal("expected sell to fail")
	}
	if got, _ := shares.BalanceOf(ctx, trader, domain.NewClaimKey("mkt-1", domain.OutcomeYes)); got != bought {
		t.Errorf("trader claims after failed sell = %d, want %d", got, bought)
	}
	if bal, _ := vault.Balance(ctx, trader); bal != 0 {
		t.Errorf("trader collateral after failed sell = %d, want 0", bal)
	}
}
