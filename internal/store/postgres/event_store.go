package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/settlecore/internal/domain"
)

// EventLog implements domain.EventLog using PostgreSQL.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates a new EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts one event row.
func (l *EventLog) Append(ctx context.Context, event domain.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `
		INSERT INTO events (id, type, market_id, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := l.pool.Exec(ctx, query,
		event.ID, event.Type, event.MarketID, event.Actor, detail, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", event.Type, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (l *EventLog) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, type, market_id, actor, detail, created_at
		 FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.MarketID, &e.Actor, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventLog = (*EventLog)(nil)
