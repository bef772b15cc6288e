// Package memory implements the domain store interfaces with in-process
// maps. It backs standalone mode and the test suites; persistent
// deployments use the postgres implementations instead.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/openpredict/settlecore/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

// NewMarketStore returns an empty market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrDuplicateMarket)
	}
	s.markets[m.ID] = m
	return nil
}

func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("memory: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	s.markets[m.ID] = m
	return nil
}

var _ domain.MarketStore = (*MarketStore)(nil)

// SchedulerStore implements domain.SchedulerStore.
type SchedulerStore struct {
	mu         sync.Mutex
	buckets    map[int64][]string
	registered map[string]struct{}
	resolved   map[string]struct{}
	snapshots  map[string]domain.Snapshot
	cursor     uint64
}

// NewSchedulerStore returns an empty scheduler store.
func NewSchedulerStore() *SchedulerStore {
	return &SchedulerStore{
		buckets:    make(map[int64][]string),
		registered: make(map[string]struct{}),
		resolved:   make(map[string]struct{}),
		snapshots:  make(map[string]domain.Snapshot),
	}
}

func (s *SchedulerStore) Register(ctx context.Context, id string, day int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[id]; ok {
		return fmt.Errorf("memory: register %s: %w", id, domain.ErrDuplicateMarket)
	}
	s.registered[id] = struct{}{}
	s.buckets[day] = append(s.buckets[day], id)
	return nil
}

func (s *SchedulerStore) Bucket(ctx context.Context, day int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.buckets[day]), nil
}

func (s *SchedulerStore) ActiveDays(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := make([]int64, 0, len(s.buckets))
	for day := range s.buckets {
		days = append(days, day)
	}
	slices.Sort(days)
	return days, nil
}

func (s *SchedulerStore) DeleteBucket(ctx context.Context, day int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, day)
	return nil
}

func (s *SchedulerStore) MarkResolved(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[id] = struct{}{}
	return nil
}

func (s *SchedulerStore) IsResolved(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.resolved[id]
	return ok, nil
}

func (s *SchedulerStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.MarketID] = snap
	return nil
}

func (s *SchedulerStore) GetSnapshot(ctx context.Context, marketID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[marketID]
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("memory: snapshot %s: %w", marketID, domain.ErrNotFound)
	}
	return snap, nil
}

func (s *SchedulerStore) Cursor(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *SchedulerStore) SetCursor(ctx context.Context, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

var _ domain.SchedulerStore = (*SchedulerStore)(nil)
