package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/openpredict/settlecore/internal/domain"
)

// FeedMeta describes one configured price feed.
type FeedMeta struct {
	Decimals    uint8
	Description string
}

type feedHistory struct {
	rounds   map[uint64]domain.PriceRound
	latestID uint64
	hasData  bool
}

// FeedStore implements domain.FeedStore with in-memory round histories.
type FeedStore struct {
	mu    sync.Mutex
	meta  map[string]FeedMeta
	feeds map[string]*feedHistory
}

// NewFeedStore returns a feed store serving the given feeds. Appending to an
// unconfigured feed creates it with default metadata.
func NewFeedStore(meta map[string]FeedMeta) *FeedStore {
	if meta == nil {
		meta = make(map[string]FeedMeta)
	}
	return &FeedStore{
		meta:  meta,
		feeds: make(map[string]*feedHistory),
	}
}

// Append records a round. Rounds may arrive with gaps in the id sequence;
// the highest id seen becomes the latest.
func (s *FeedStore) Append(ctx context.Context, feedRef string, round domain.PriceRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.feeds[feedRef]
	if !ok {
		h = &feedHistory{rounds: make(map[uint64]domain.PriceRound)}
		s.feeds[feedRef] = h
	}
	h.rounds[round.RoundID] = round
	if !h.hasData || round.RoundID > h.latestID {
		h.latestID = round.RoundID
		h.hasData = true
	}
	return nil
}

func (s *FeedStore) LatestRound(ctx context.Context, feedRef string) (domain.PriceRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.feeds[feedRef]
	if !ok || !h.hasData {
		return domain.PriceRound{}, fmt.Errorf("memory: latest round %s: %w", feedRef, domain.ErrNotFound)
	}
	return h.rounds[h.latestID], nil
}

func (s *FeedStore) RoundAt(ctx context.Context, feedRef string, roundID uint64) (domain.PriceRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.feeds[feedRef]
	if !ok {
		return domain.PriceRound{}, fmt.Errorf("memory: round %s/%d: %w", feedRef, roundID, domain.ErrNotFound)
	}
	round, ok := h.rounds[roundID]
	if !ok {
		return domain.PriceRound{}, fmt.Errorf("memory: round %s/%d: %w", feedRef, roundID, domain.ErrNotFound)
	}
	return round, nil
}

func (s *FeedStore) Decimals(ctx context.Context, feedRef string) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meta[feedRef]; ok {
		return m.Decimals, nil
	}
	return 0, fmt.Errorf("memory: decimals %s: %w", feedRef, domain.ErrNotFound)
}

func (s *FeedStore) Description(ctx context.Context, feedRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meta[feedRef]; ok {
		return m.Description, nil
	}
	return "", fmt.Errorf("memory: description %s: %w", feedRef, domain.ErrNotFound)
}

var _ domain.FeedStore = (*FeedStore)(nil)
