// Package feed ingests price rounds from an upstream websocket feed into
// the feed store consumed by the oracle.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openpredict/settlecore/internal/domain"
)

// Invalidator drops a cached latest round after a newer one lands. Optional.
type Invalidator interface {
	Invalidate(ctx context.Context, feedRef string) error
}

// roundMessage is the upstream wire format for one price round.
type roundMessage struct {
	Feed       string `json:"feed"`
	RoundID    uint64 `json:"round_id"`
	Price      int64  `json:"price"`
	ObservedAt int64  `json:"observed_at"` // unix seconds
	StartedAt  int64  `json:"started_at"`  // unix seconds
}

type subscribeMessage struct {
	Op    string   `json:"op"`
	Feeds []string `json:"feeds"`
}

// WSIngestor connects to the feed websocket, subscribes to the configured
// feed refs, and appends every round to the store. It reconnects with
// backoff on disconnect.
type WSIngestor struct {
	wsURL       string
	feedRefs    []string
	store       domain.FeedStore
	invalidator Invalidator
	logger      *slog.Logger
	closeOnce   sync.Once
	done        chan struct{}
}

// NewWSIngestor creates an ingestor for the given feeds. invalidator may be
// nil.
func NewWSIngestor(wsURL string, feedRefs []string, store domain.FeedStore, invalidator Invalidator, logger *slog.Logger) *WSIngestor {
	return &WSIngestor{
		wsURL:       wsURL,
		feedRefs:    feedRefs,
		store:       store,
		invalidator: invalidator,
		logger:      logger.With(slog.String("component", "feed_ws")),
		done:        make(chan struct{}),
	}
}

// Run connects and ingests until ctx is cancelled or Close is called.
func (f *WSIngestor) Run(ctx context.Context) error {
	if len(f.feedRefs) == 0 {
		f.logger.InfoContext(ctx, "no feeds to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "feed ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *WSIngestor) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := subscribeMessage{Op: "subscribe", Feeds: f.feedRefs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "feed ws subscribed", slog.Int("feeds", len(f.feedRefs)))

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *WSIngestor) handleMessage(ctx context.Context, data []byte) {
	var msg roundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.WarnContext(ctx, "unparseable feed message", slog.String("error", err.Error()))
		return
	}
	if msg.Feed == "" || msg.ObservedAt == 0 {
		return
	}

	round := domain.PriceRound{
		RoundID:    msg.RoundID,
		Price:      msg.Price,
		ObservedAt: time.Unix(msg.ObservedAt, 0).UTC(),
		StartedAt:  time.Unix(msg.StartedAt, 0).UTC(),
	}
	if err := f.store.Append(ctx, msg.Feed, round); err != nil {
		f.logger.ErrorContext(ctx, "round append failed",
			slog.String("feed", msg.Feed),
			slog.Uint64("round_id", round.RoundID),
			slog.String("error", err.Error()),
		)
		return
	}
	if f.invalidator != nil {
		if err := f.invalidator.Invalidate(ctx, msg.Feed); err != nil {
			f.logger.WarnContext(ctx, "round cache invalidate failed",
				slog.String("feed", msg.Feed),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops the ingestor.
func (f *WSIngestor) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
