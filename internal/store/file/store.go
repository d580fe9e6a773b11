package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/security/secretbox"
	"github.com/korzewarrior/discord-countingbot/internal/store"
)

// Store persists snapshots as a single JSON file, written atomically via
// rename. Events are kept in memory only; a process restart starts the log
// fresh, which is acceptable for an operator-facing recent-activity view.
type Store struct {
	path string
	box  *secretbox.Box

	mu     sync.Mutex
	events []domain.Event
}

func NewStore(path string, box *secretbox.Box) *Store {
	return &Store{path: path, box: box}
}

func (s *Store) Load() (domain.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return domain.DefaultSnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	snap.Identities, err = store.OpenIdentities(s.box, snap.Identities)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) Save(snap domain.Snapshot) error {
	sealed, err := store.SealIdentities(s.box, snap.Identities)
	if err != nil {
		return err
	}
	snap.Identities = sealed

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
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
	if len(s.events) > 256 {
		s.events = s.events[len(s.events)-256:]
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
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
