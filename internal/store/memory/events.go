package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/openpredict/settlecore/internal/domain"
)

// EventLog implements domain.EventLog with an in-memory append-only slice.
type EventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Append(ctx context.Context, event domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// ListRecent returns up to limit events, newest first.
func (l *EventLog) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := slices.Clone(l.events[n-limit:])
	slices.Reverse(out)
	return out, nil
}

var _ domain.EventLog = (*EventLog)(nil)
