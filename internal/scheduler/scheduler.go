// Package scheduler owns the due-market index and drives markets through
// the two-phase snapshot-then-resolve settlement protocol. Markets are
// bucketed by settlement day so that each pass scans a bounded window
// instead of every market ever created; fully settled buckets are later
// reclaimed in bounded batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/settlecore/internal/domain"
)

// Defaults for the bounded-iteration constants. These caps are deliberate
// cost controls: every trigger invocation does a fixed amount of work no
// matter how many markets exist.
const (
	DefaultLookbackDays    = 3
	DefaultLookahead       = time.Hour
	DefaultResolveBatchCap = 25
	DefaultCleanupBatchCap = 4
	DefaultBucketMinAge    = 48 * time.Hour
)

// Config holds the scheduler's identity and scan bounds.
type Config struct {
	// SchedulerID is the account the scheduler presents to the engine when
	// locking and resolving.
	SchedulerID string
	// FactoryID is the sole account allowed to register markets.
	FactoryID string
	// LookbackDays is how many day buckets before the current one the
	// resolution scan covers.
	LookbackDays int
	// Lookahead is how far before its settle time a market becomes eligible
	// for the resolution scan.
	Lookahead time.Duration
	// ResolveBatchCap caps the markets returned by one resolution scan.
	ResolveBatchCap int
	// CleanupBatchCap caps the buckets examined and returned by one cleanup
	// scan.
	CleanupBatchCap int
	// BucketMinAge is how long after a bucket's day ends before it may be
	// reclaimed.
	BucketMinAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = DefaultLookbackDays
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.ResolveBatchCap <= 0 {
		c.ResolveBatchCap = DefaultResolveBatchCap
	}
	if c.CleanupBatchCap <= 0 {
		c.CleanupBatchCap = DefaultCleanupBatchCap
	}
	if c.BucketMinAge <= 0 {
		c.BucketMinAge = DefaultBucketMinAge
	}
	return c
}

// SettlementEngine is the slice of the market engine the scheduler drives.
type SettlementEngine interface {
	Lock(ctx context.Context, caller, id string) error
	Resolve(ctx context.Context, caller, id string, outcome domain.Outcome) error
}

// PriceLookup is the slice of the oracle the scheduler consumes.
type PriceLookup interface {
	AtOrBefore(ctx context.Context, feedRef string, target time.Time) (domain.PriceRound, error)
}

// Scheduler owns the day-bucket index and snapshot records. It never
// mutates market state directly; all transitions go through the engine.
type Scheduler struct {
	cfg      Config
	store    domain.SchedulerStore
	markets  domain.MarketStore
	engine   SettlementEngine
	oracle   PriceLookup
	archiver domain.SettlementArchiver // optional
	events   domain.EventLog
	logger   *slog.Logger
}

// New creates a Scheduler. archiver may be nil, in which case buckets are
// deleted without a cold-storage copy.
func New(
	cfg Config,
	store domain.SchedulerStore,
	markets domain.MarketStore,
	engine SettlementEngine,
	oracle PriceLookup,
	archiver domain.SettlementArchiver,
	events domain.EventLog,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		store:    store,
		markets:  markets,
		engine:   engine,
		oracle:   oracle,
		archiver: archiver,
		events:   events,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// RegisterMarket adds a market to its settlement-day bucket. Only the
// creation collaborator may call it; unknown templates and duplicate ids
// are rejected.
func (s *Scheduler) RegisterMarket(ctx context.Context, caller, id string, settleTime time.Time, templateTag string) error {
	if caller != s.cfg.FactoryID {
		return fmt.Errorf("scheduler: register %s: %w", id, domain.ErrUnauthorized)
	}
	if _, err := TemplateFor(templateTag); err != nil {
		return fmt.Errorf("scheduler: register %s: %w", id, err)
	}
	day := domain.DayBucket(settleTime)
	if err := s.store.Register(ctx, id, day); err != nil {
		return fmt.Errorf("scheduler: register %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "market registered",
		slog.String("market_id", id),
		slog.Int64("day", day),
	)
	return nil
}

// FindDueWork is the read-only decision step invoked on every external
// trigger. Resolution work takes priority; cleanup is only considered when
// no market is due.
func (s *Scheduler) FindDueWork(ctx context.Context, now time.Time) (domain.Work, error) {
	ids, err := s.findResolutionWork(ctx, now)
	if err != nil {
		return domain.Work{}, err
	}
	if len(ids) > 0 {
		return domain.Work{Kind: domain.WorkResolution, MarketIDs: ids}, nil
	}

	days, err := s.findCleanupWork(ctx, now)
	if err != nil {
		return domain.Work{}, err
	}
	if len(days) > 0 {
		return domain.Work{Kind: domain.WorkCleanup, Days: days}, nil
	}
	return domain.Work{Kind: domain.WorkNone}, nil
}

func (s *Scheduler) findResolutionWork(ctx context.Context, now time.Time) ([]string, error) {
	today := now.Unix() / domain.SecondsPerDay
	horizon := now.Add(s.cfg.Lookahead)

	var due []string
	for day := today; day >= today-int64(s.cfg.LookbackDays); day-- {
		ids, err := s.store.Bucket(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("scheduler: bucket %d: %w", day, err)
		}
		for _, id := range ids {
			resolved, err := s.store.IsResolved(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("scheduler: resolved flag %s: %w", id, err)
			}
			if resolved {
				continue
			}
			m, err := s.markets.Get(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("scheduler: market %s: %w", id, err)
			}
			if m.Status != domain.MarketStatusActive && m.Status != domain.MarketStatusLocked {
				continue
			}
			if m.SettleTime.After(horizon) {
				continue
			}
			due = append(due, id)
			if len(due) >= s.cfg.ResolveBatchCap {
				return due, nil
			}
		}
	}
	return due, nil
}

func (s *Scheduler) findCleanupWork(ctx context.Context, now time.Time) ([]int64, error) {
	active, err := s.store.ActiveDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: active days: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: cursor: %w", err)
	}

	// Examine a cursor-anchored window of at most CleanupBatchCap buckets,
	// so one pass never walks the whole active list.
	var days []int64
	for i := 0; i < s.cfg.CleanupBatchCap && i < len(active); i++ {
		day := active[(int(cursor)+i)%len(active)]
		ok, err := s.bucketReclaimable(ctx, day, now)
		if err != nil {
			return nil, err
		}
		if ok {
			days = append(days, day)
		}
	}
	return days, nil
}

// bucketReclaimable reports whether a day bucket is past its minimum age
// with every member market flagged resolved.
func (s *Scheduler) bucketReclaimable(ctx context.Context, day int64, now time.Time) (bool, error) {
	bucketEnd := time.Unix((day+1)*domain.SecondsPerDay, 0).UTC()
	if now.Sub(bucketEnd) < s.cfg.BucketMinAge {
		return false, nil
	}
	ids, err := s.store.Bucket(ctx, day)
	if err != nil {
		return false, fmt.Errorf("scheduler: bucket %d: %w", day, err)
	}
	for _, id := range ids {
		resolved, err := s.store.IsResolved(ctx, id)
		if err != nil {
			return false, fmt.Errorf("scheduler: resolved flag %s: %w", id, err)
		}
		if !resolved {
			return false, nil
		}
	}
	return true, nil
}

// PerformResolutionWork drives each candidate market one phase forward:
// snapshot-and-lock on the first visit, decide-and-resolve once a snapshot
// is held. Both phases are idempotent per call, so a candidate that cannot
// progress yet (price data not observed, crash between phases) is simply
// picked up again on a later trigger. It returns the number of markets
// locked and resolved this pass.
func (s *Scheduler) PerformResolutionWork(ctx context.Context, ids []string, now time.Time) (locked, resolved int) {
	for _, id := range ids {
		flagged, err := s.store.IsResolved(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "resolved flag lookup failed", slog.String("market_id", id), slog.String("error", err.Error()))
			continue
		}
		if flagged {
			continue
		}

		m, err := s.markets.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Dangling index entry; flag it so the bucket can be reclaimed.
				s.flagResolved(ctx, id)
			}
			continue
		}
		if m.Status == domain.MarketStatusResolved {
			s.flagResolved(ctx, id)
			continue
		}
		if m.Status != domain.MarketStatusActive && m.Status != domain.MarketStatusLocked {
			s.flagResolved(ctx, id)
			continue
		}
		if m.SettleTime.After(now) {
			continue // not yet due
		}

		snap, err := s.store.GetSnapshot(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if s.lockPhase(ctx, m) {
				locked++
			}
		case err != nil:
			s.logger.ErrorContext(ctx, "snapshot lookup failed", slog.String("market_id", id), slog.String("error", err.Error()))
		default:
			if s.resolvePhase(ctx, m, snap) {
				resolved++
			}
		}
	}
	return locked, resolved
}

// lockPhase fetches the settlement price and locks the market. A feed that
// has not yet observed the settlement instant is an expected "not yet"
// outcome, deferred silently to the next trigger.
func (s *Scheduler) lockPhase(ctx context.Context, m domain.Market) bool {
	round, err := s.oracle.AtOrBefore(ctx, m.FeedRef, m.SettleTime)
	if err != nil {
		if errors.Is(err, domain.ErrScanExhausted) {
			// Hard failure: the feed needs investigation. The market stays
			// blocked and is retried, but this should be monitored.
			s.logger.ErrorContext(ctx, "settlement price scan exhausted",
				slog.String("market_id", m.ID),
				slog.String("feed", m.FeedRef),
			)
		} else {
			s.logger.DebugContext(ctx, "settlement price not yet available",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	snap := domain.Snapshot{
		MarketID:   m.ID,
		Locked:     true,
		RoundID:    round.RoundID,
		Price:      round.Price,
		ObservedAt: round.ObservedAt,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "snapshot save failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		return false
	}
	if err := s.engine.Lock(ctx, s.cfg.SchedulerID, m.ID); err != nil {
		s.logger.ErrorContext(ctx, "lock failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		return false
	}
	s.logger.InfoContext(ctx, "snapshot locked",
		slog.String("market_id", m.ID),
		slog.Uint64("round_id", snap.RoundID),
		slog.Int64("price", snap.Price),
	)
	return true
}

// resolvePhase decides the outcome from the held snapshot and resolves the
// market. A market still Active with a snapshot on record means a previous
// pass saved the snapshot but failed to lock; the lock is retried first.
func (s *Scheduler) resolvePhase(ctx context.Context, m domain.Market, snap domain.Snapshot) bool {
	if m.Status == domain.MarketStatusActive {
		if err := s.engine.Lock(ctx, s.cfg.SchedulerID, m.ID); err != nil {
			s.logger.ErrorContext(ctx, "lock retry failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		}
		return false
	}

	tmpl, err := TemplateFor(m.TemplateTag)
	if err != nil {
		s.logger.ErrorContext(ctx, "unknown template at resolution", slog.String("market_id", m.ID), slog.String("template", m.TemplateTag))
		return false
	}
	outcome, err := tmpl.Decide(snap.Price, m.Params)
	if err != nil {
		s.logger.ErrorContext(ctx, "outcome decision failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		return false
	}
	if err := s.engine.Resolve(ctx, s.cfg.SchedulerID, m.ID, outcome); err != nil {
		s.logger.ErrorContext(ctx, "resolve failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		return false
	}
	s.flagResolved(ctx, m.ID)
	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", m.ID),
		slog.String("winner", outcome.String()),
		slog.Int64("snapshot_price", snap.Price),
	)
	return true
}

func (s *Scheduler) flagResolved(ctx context.Context, id string) {
	if err := s.store.MarkResolved(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "mark resolved failed", slog.String("market_id", id), slog.String("error", err.Error()))
	}
}

// PerformCleanupWork reclaims the given day buckets. Each candidate is
// re-verified against its age and member flags first, guarding against a
// late registration landing in the bucket between the find and perform
// steps. The cleanup cursor advances by the batch size, wrapping modulo the
// active-day count.
func (s *Scheduler) PerformCleanupWork(ctx context.Context, days []int64, now time.Time) (deleted int) {
	for _, day := range days {
		ok, err := s.bucketReclaimable(ctx, day, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "cleanup re-check failed", slog.Int64("day", day), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		if err := s.archiveBucket(ctx, day); err != nil {
			s.logger.ErrorContext(ctx, "bucket archive failed, keeping bucket", slog.Int64("day", day), slog.String("error", err.Error()))
			continue
		}
		if err := s.store.DeleteBucket(ctx, day); err != nil {
			s.logger.ErrorContext(ctx, "bucket delete failed", slog.Int64("day", day), slog.String("error", err.Error()))
			continue
		}
		deleted++
		s.emitBucketDeleted(ctx, day)
		s.logger.InfoContext(ctx, "bucket reclaimed", slog.Int64("day", day))
	}

	s.advanceCursor(ctx)
	return deleted
}

// archiveBucket writes the bucket's markets and snapshots to cold storage
// when an archiver is wired; without one, deletion proceeds directly.
func (s *Scheduler) archiveBucket(ctx context.Context, day int64) error {
	if s.archiver == nil {
		return nil
	}
	ids, err := s.store.Bucket(ctx, day)
	if err != nil {
		return err
	}
	markets := make([]domain.Market, 0, len(ids))
	snaps := make([]domain.Snapshot, 0, len(ids))
	for _, id := range ids {
		m, err := s.markets.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}
		markets = append(markets, m)
		snap, err := s.store.GetSnapshot(ctx, id)
		if err == nil {
			snaps = append(snaps, snap)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return s.archiver.ArchiveBucket(ctx, day, markets, snaps)
}

func (s *Scheduler) advanceCursor(ctx context.Context) {
	active, err := s.store.ActiveDays(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "active days lookup failed", slog.String("error", err.Error()))
		return
	}
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "cursor lookup failed", slog.String("error", err.Error()))
		return
	}
	next := cursor + uint64(s.cfg.CleanupBatchCap)
	if len(active) > 0 {
		next %= uint64(len(active))
	} else {
		next = 0
	}
	if err := s.store.SetCursor(ctx, next); err != nil {
		s.logger.ErrorContext(ctx, "cursor save failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) emitBucketDeleted(ctx context.Context, day int64) {
	evt := domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventBucketDeleted,
		Actor:     s.cfg.SchedulerID,
		Detail:    map[string]any{"day": day},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.Append(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "event append failed", slog.Int64("day", day), slog.String("error", err.Error()))
	}
}
