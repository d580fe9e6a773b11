package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

// Store keeps everything in process memory. Used in tests and as the
// fallback when no durable store is configured.
type Store struct {
	mu sync.RWMutex

	snapshot    domain.Snapshot
	hasSnapshot bool
	events      []domain.Event
}

func NewStore() *Store {
	return &Store{events: make([]domain.Event, 0, 64)}
}

func (s *Store) Load() (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSnapshot {
		return domain.DefaultSnapshot(), nil
	}
	return s.snapshot, nil
}

func (s *Store) Save(snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.hasSnapshot = true
	return nil
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}
