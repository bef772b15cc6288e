package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
)

// Runner is the external periodic trigger for deployed operation: on every
// tick it asks the scheduler for work and performs exactly the returned
// payload. The tick interval must be short relative to the lookahead window
// or settlements can be missed.
type Runner struct {
	sched    *Scheduler
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner driving sched every interval.
func NewRunner(sched *Scheduler, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		sched:    sched,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler_runner")),
	}
}

// Run ticks until ctx is cancelled. The first pass fires immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scheduler runner starting", slog.Duration("interval", r.interval))

	r.pass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	now := time.Now().UTC()
	work, err := r.sched.FindDueWork(ctx, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "find due work failed", slog.String("error", err.Error()))
		return
	}

	switch work.Kind {
	case domain.WorkResolution:
		locked, resolved := r.sched.PerformResolutionWork(ctx, work.MarketIDs, now)
		r.logger.InfoContext(ctx, "resolution pass",
			slog.Int("candidates", len(work.MarketIDs)),
			slog.Int("locked", locked),
			slog.Int("resolved", resolved),
		)
	case domain.WorkCleanup:
		deleted := r.sched.PerformCleanupWork(ctx, work.Days, now)
		r.logger.InfoContext(ctx, "cleanup pass",
			slog.Int("candidates", len(work.Days)),
			slog.Int("deleted", deleted),
		)
	case domain.WorkNone:
		// nothing due this tick
	}
}
