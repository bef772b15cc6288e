// Package engine implements the market-making engine: it owns all market
// records and reserves and is the sole mutator of market state. Trades are
// priced by a constant-product formula over the two outcome reserves, with
// fees retained in the pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/settlecore/internal/domain"
)

// FeeDenominator converts basis points to fractions.
const FeeDenominator = 10_000

// Config holds the engine's authorization and creation bounds.
type Config struct {
	// FactoryID is the sole account allowed to create markets.
	FactoryID string
	// SchedulerID is the sole account allowed to lock and resolve markets.
	SchedulerID string
	// MaxFeeBps is the hard cap on the trading fee (500 = 5%).
	MaxFeeBps uint16
	// MinInitialLiquidity is the floor on per-side seed liquidity.
	MinInitialLiquidity uint64
}

// Engine owns market records and reserves. Every operation runs to
// completion under a single mutex, so mutations are fully serialized and
// never partially visible.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	markets domain.MarketStore
	ledger  domain.ShareLedger
	vault   domain.CollateralVault
	events  domain.EventLog
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Engine with all required dependencies.
func New(
	cfg Config,
	markets domain.MarketStore,
	ledger domain.ShareLedger,
	vault domain.CollateralVault,
	events domain.EventLog,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:     cfg,
		markets: markets,
		ledger:  ledger,
		vault:   vault,
		events:  events,
		logger:  logger.With(slog.String("component", "engine")),
		now:     time.Now,
	}
}

// CreateParams carries the inputs to CreateMarket.
type CreateParams struct {
	ID               string
	TemplateTag      string
	Params           []byte
	FeedRef          string
	SettleTime       time.Time
	FeeBps           uint16
	CreatorFeeBps    uint16
	Creator          string
	InitialLiquidity uint64
}

// CreateMarket seeds a new market with equal reserves on both sides, so the
// initial reported price is exactly 5000 bps. It debits 2x the seed
// liquidity of collateral from the creator and mints that amount of both
// outcome claims back as the initial liquidity position.
func (e *Engine) CreateMarket(ctx context.Context, caller string, p CreateParams) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.FactoryID {
		return domain.Market{}, fmt.Errorf("engine: create %s: %w", p.ID, domain.ErrUnauthorized)
	}
	now := e.now().UTC()
	if !p.SettleTime.After(now) {
		return domain.Market{}, fmt.Errorf("engine: create %s: settle time not in the future: %w", p.ID, domain.ErrInvalidParams)
	}
	if p.FeeBps > e.cfg.MaxFeeBps {
		return domain.Market{}, fmt.Errorf("engine: create %s: fee %d bps above cap %d: %w", p.ID, p.FeeBps, e.cfg.MaxFeeBps, domain.ErrInvalidParams)
	}
	if p.CreatorFeeBps > p.FeeBps {
		return domain.Market{}, fmt.Errorf("engine: create %s: creator share %d exceeds fee %d: %w", p.ID, p.CreatorFeeBps, p.FeeBps, domain.ErrInvalidParams)
	}
	if p.InitialLiquidity < e.cfg.MinInitialLiquidity {
		return domain.Market{}, fmt.Errorf("engine: create %s: %w", p.ID, domain.ErrInsufficientLiquidity)
	}
	if _, err := e.markets.Get(ctx, p.ID); err == nil {
		return domain.Market{}, fmt.Errorf("engine: create %s: %w", p.ID, domain.ErrDuplicateMarket)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("engine: create %s: %w", p.ID, err)
	}

	if err := e.vault.Debit(ctx, p.Creator, 2*p.InitialLiquidity); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create %s: debit seed collateral: %w", p.ID, err)
	}
	keys := []domain.ClaimKey{
		domain.NewClaimKey(p.ID, domain.OutcomeYes),
		domain.NewClaimKey(p.ID, domain.OutcomeNo),
	}
	amounts := []uint64{p.InitialLiquidity, p.InitialLiquidity}
	if err := e.ledger.MintBatch(ctx, p.Creator, keys, amounts); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create %s: mint seed claims: %w", p.ID, err)
	}

	m := domain.Market{
		ID:            p.ID,
		TemplateTag:   p.TemplateTag,
		Creator:       p.Creator,
		FeedRef:       p.FeedRef,
		Params:        p.Params,
		SettleTime:    p.SettleTime.UTC(),
		CreatedAt:     now,
		FeeBps:        p.FeeBps,
		CreatorFeeBps: p.CreatorFeeBps,
		Status:        domain.MarketStatusActive,
		Winner:        domain.OutcomeUnresolved,
		ReserveYes:    p.InitialLiquidity,
		ReserveNo:     p.InitialLiquidity,
	}
	if err := e.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create %s: %w", p.ID, err)
	}

	e.emit(ctx, domain.EventMarketCreated, p.ID, p.Creator, map[string]any{
		"template":          p.TemplateTag,
		"settle_time":       m.SettleTime.Format(time.RFC3339),
		"fee_bps":           p.FeeBps,
		"creator_fee_bps":   p.CreatorFeeBps,
		"initial_liquidity": p.InitialLiquidity,
	})
	e.logger.InfoContext(ctx, "market created",
		slog.String("market_id", p.ID),
		slog.String("template", p.TemplateTag),
		slog.Uint64("initial_liquidity", p.InitialLiquidity),
	)
	return m, nil
}

// Buy swaps collateral for outcome claims. The fee is computed on the
// collateral input and stays in the pool; the payout is quoted against the
// after-fee input, so the retained fee grows the reserve product over time.
func (e *Engine) Buy(ctx context.Context, caller, id string, outcome domain.Outcome, collateralIn, minSharesOut uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !outcome.Valid() {
		return 0, fmt.Errorf("engine: buy %s: %w", id, domain.ErrInvalidOutcome)
	}
	if collateralIn == 0 {
		return 0, fmt.Errorf("engine: buy %s: zero collateral: %w", id, domain.ErrInvalidParams)
	}
	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("engine: buy %s: %w", id, err)
	}
	if m.Status != domain.MarketStatusActive {
		return 0, fmt.Errorf("engine: buy %s: %w", id, domain.ErrMarketNotActive)
	}

	fee := mulDiv(collateralIn, uint64(m.FeeBps), FeeDenominator)
	reserveIn := m.Reserve(outcome)
	reserveOut := m.Reserve(outcome.Other())
	sharesOut, ok := buyQuote(reserveIn, reserveOut, collateralIn, fee)
	if !ok {
		return 0, fmt.Errorf("engine: buy %s: trade would drain reserve: %w", id, domain.ErrInvalidParams)
	}
	if sharesOut < minSharesOut {
		return 0, fmt.Errorf("engine: buy %s: quoted %d below min %d: %w", id, sharesOut, minSharesOut, domain.ErrSlippageExceeded)
	}

	if err := e.vault.Debit(ctx, caller, collateralIn); err != nil {
		return 0, fmt.Errorf("engine: buy %s: %w", id, err)
	}

	m.SetReserve(outcome, reserveIn+collateralIn)
	m.SetReserve(outcome.Other(), reserveOut-sharesOut)
	m.Volume += collateralIn
	if err := e.markets.Update(ctx, m); err != nil {
		// The store is the durable step; unwind the debit so a failed
		// write does not strand the trader's collateral.
		_ = e.vault.Credit(ctx, caller, collateralIn)
		return 0, fmt.Errorf("engine: buy %s: %w", id, err)
	}
	if err := e.ledger.Mint(ctx, caller, domain.NewClaimKey(id, outcome), sharesOut); err != nil {
		return 0, fmt.Errorf("engine: buy %s: mint claims: %w", id, err)
	}

	e.emit(ctx, domain.EventTrade, id, caller, map[string]any{
		"side":          "buy",
		"outcome":       outcome.String(),
		"collateral_in": collateralIn,
		"shares_out":    sharesOut,
		"fee":           fee,
		"price_bps":     priceBps(m.ReserveYes, m.ReserveNo),
	})
	return sharesOut, nil
}

// Sell swaps outcome claims back into collateral. The fee is computed on the
// gross collateral release and stays in the pool.
func (e *Engine) Sell(ctx context.Context, caller, id string, outcome domain.Outcome, sharesIn, minCollateralOut uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !outcome.Valid() {
		return 0, fmt.Errorf("engine: sell %s: %w", id, domain.ErrInvalidOutcome)
	}
	if sharesIn == 0 {
		return 0, fmt.Errorf("engine: sell %s: zero shares: %w", id, domain.ErrInvalidParams)
	}
	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("engine: sell %s: %w", id, err)
	}
	if m.Status != domain.MarketStatusActive {
		return 0, fmt.Errorf("engine: sell %s: %w", id, domain.ErrMarketNotActive)
	}

	reserveIn := m.Reserve(outcome)
	reserveOut := m.Reserve(outcome.Other())
	gross, ok := sellQuote(reserveIn, reserveOut, sharesIn)
	if !ok {
		return 0, fmt.Errorf("engine: sell %s: trade would drain reserve: %w", id, domain.ErrInvalidParams)
	}
	fee := mulDiv(gross, uint64(m.FeeBps), FeeDenominator)
	collateralOut := gross - fee
	if collateralOut < minCollateralOut {
		return 0, fmt.Errorf("engine: sell %s: quoted %d below min %d: %w", id, collateralOut, minCollateralOut, domain.ErrSlippageExceeded)
	}

	if err := e.ledger.Burn(ctx, caller, domain.NewClaimKey(id, outcome), sharesIn); err != nil {
		return 0, fmt.Errorf("engine: sell %s: burn claims: %w", id, err)
	}

	m.SetReserve(outcome, reserveIn-collateralOut)
	m.SetReserve(outcome.Other(), reserveOut+sharesIn)
	m.Volume += collateralOut
	if err := e.markets.Update(ctx, m); err != nil {
		// Unwind the burn when the durable write fails.
		_ = e.ledger.Mint(ctx, caller, domain.NewClaimKey(id, outcome), sharesIn)
		return 0, fmt.Errorf("engine: sell %s: %w", id, err)
	}
	if err := e.vault.Credit(ctx, caller, collateralOut); err != nil {
		return 0, fmt.Errorf("engine: sell %s: credit collateral: %w", id, err)
	}

	e.emit(ctx, domain.EventTrade, id, caller, map[string]any{
		"side":           "sell",
		"outcome":        outcome.String(),
		"shares_in":      sharesIn,
		"collateral_out": collateralOut,
		"fee":            fee,
		"price_bps":      priceBps(m.ReserveYes, m.ReserveNo),
	})
	return collateralOut, nil
}

// Lock freezes trading ahead of resolution. Only the scheduler may call it,
// and only once per market.
func (e *Engine) Lock(ctx context.Context, caller, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.SchedulerID {
		return fmt.Errorf("engine: lock %s: %w", id, domain.ErrUnauthorized)
	}
	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: lock %s: %w", id, err)
	}
	if m.Status != domain.MarketStatusActive {
		return fmt.Errorf("engine: lock %s: %w", id, domain.ErrMarketNotActive)
	}
	m.Status = domain.MarketStatusLocked
	if err := e.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("engine: lock %s: %w", id, err)
	}

	e.emit(ctx, domain.EventMarketLocked, id, caller, nil)
	e.logger.InfoContext(ctx, "market locked", slog.String("market_id", id))
	return nil
}

// Resolve records the winning outcome. Only the scheduler may call it, and
// only on a locked market.
func (e *Engine) Resolve(ctx context.Context, caller, id string, outcome domain.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.SchedulerID {
		return fmt.Errorf("engine: resolve %s: %w", id, domain.ErrUnauthorized)
	}
	if !outcome.Valid() {
		return fmt.Errorf("engine: resolve %s: %w", id, domain.ErrInvalidOutcome)
	}
	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: resolve %s: %w", id, err)
	}
	if m.Status != domain.MarketStatusLocked {
		return fmt.Errorf("engine: resolve %s: %w", id, domain.ErrMarketNotLocked)
	}
	m.Status = domain.MarketStatusResolved
	m.Winner = outcome
	if err := e.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("engine: resolve %s: %w", id, err)
	}

	e.emit(ctx, domain.EventMarketResolved, id, caller, map[string]any{
		"winner": outcome.String(),
	})
	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", id),
		slog.String("winner", outcome.String()),
	)
	return nil
}

// Redeem pays out the caller's entire winning-claim balance at 1 unit of
// collateral per claim and burns the claims. Holding no winning claims is a
// hard failure, not a zero payout.
func (e *Engine) Redeem(ctx context.Context, caller, id string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("engine: redeem %s: %w", id, err)
	}
	if m.Status != domain.MarketStatusResolved {
		return 0, fmt.Errorf("engine: redeem %s: %w", id, domain.ErrMarketNotResolved)
	}

	key := domain.NewClaimKey(id, m.Winner)
	balance, err := e.ledger.BalanceOf(ctx, caller, key)
	if err != nil {
		return 0, fmt.Errorf("engine: redeem %s: %w", id, err)
	}
	if balance == 0 {
		return 0, fmt.Errorf("engine: redeem %s: no winning claims: %w", id, domain.ErrInsufficientClaims)
	}
	if err := e.ledger.Burn(ctx, caller, key, balance); err != nil {
		return 0, fmt.Errorf("engine: redeem %s: burn claims: %w", id, err)
	}
	if err := e.vault.Credit(ctx, caller, balance); err != nil {
		return 0, fmt.Errorf("engine: redeem %s: credit payout: %w", id, err)
	}

	e.emit(ctx, domain.EventRedeemed, id, caller, map[string]any{
		"winner": m.Winner.String(),
		"payout": balance,
	})
	return balance, nil
}

// Price reports the market's current yes-side price in basis points.
func (e *Engine) Price(ctx context.Context, id string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("engine: price %s: %w", id, err)
	}
	return priceBps(m.ReserveYes, m.ReserveNo), nil
}

func (e *Engine) emit(ctx context.Context, typ, marketID, actor string, detail map[string]any) {
	evt := domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		MarketID:  marketID,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: e.now().UTC(),
	}
	if err := e.events.Append(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "event append failed",
			slog.String("event", typ),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
