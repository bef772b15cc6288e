package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openpredict/settlecore/internal/feed"
	"github.com/openpredict/settlecore/internal/scheduler"
)

// EngineMode runs the full persistent deployment: the settlement trigger
// loop plus, when configured, the websocket feed ingestor keeping the round
// store current.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := scheduler.NewRunner(deps.Scheduler, a.cfg.SchedulerTick(), a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if a.cfg.Feed.WSURL != "" && len(a.cfg.Feed.Refs) > 0 {
		ingestor := feed.NewWSIngestor(a.cfg.Feed.WSURL, a.cfg.Feed.Refs, deps.FeedStore, deps.Invalidator, a.logger)
		g.Go(func() error {
			defer ingestor.Close()
			return ingestor.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "feed.ws_url not set, skipping websocket round ingestion")
	}

	return g.Wait()
}

// StandaloneMode runs the trigger loop against in-memory stores. Useful for
// local development and simulation; nothing survives a restart.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode",
		slog.String("factory_id", a.cfg.Engine.FactoryID),
	)

	g, ctx := errgroup.WithContext(ctx)

	runner := scheduler.NewRunner(deps.Scheduler, a.cfg.SchedulerTick(), a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if a.cfg.Feed.WSURL != "" && len(a.cfg.Feed.Refs) > 0 {
		ingestor := feed.NewWSIngestor(a.cfg.Feed.WSURL, a.cfg.Feed.Refs, deps.FeedStore, deps.Invalidator, a.logger)
		g.Go(func() error {
			defer ingestor.Close()
			return ingestor.Run(ctx)
		})
	}

	return g.Wait()
}
