package store

import (
	"errors"
	"fmt"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/security/secretbox"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract: snapshots of counter state, identity
// metadata and settings, plus a run-event log. Saves are best-effort from the
// engine's point of view; failures are logged by the caller, never fatal.
type Store interface {
	Load() (domain.Snapshot, error)
	Save(domain.Snapshot) error

	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event
}

// SealIdentities returns a copy of the records with tokens encrypted. A nil
// box means tokens are stored in the clear.
func SealIdentities(box *secretbox.Box, records []domain.IdentityRecord) ([]domain.IdentityRecord, error) {
	out := make([]domain.IdentityRecord, len(records))
	copy(out, records)
	if box == nil {
		return out, nil
	}
	for i := range out {
		sealed, err := box.Seal(out[i].Token)
		if err != nil {
			return nil, fmt.Errorf("seal token for %s: %w", out[i].DisplayName, err)
		}
		out[i].Token = sealed
	}
	return out, nil
}

// OpenIdentities reverses SealIdentities.
func OpenIdentities(box *secretbox.Box, records []domain.IdentityRecord) ([]domain.IdentityRecord, error) {
	out := make([]domain.IdentityRecord, len(records))
	copy(out, records)
	if box == nil {
		return out, nil
	}
	for i := range out {
		opened, err := box.Open(out[i].Token)
		if err != nil {
			return nil, fmt.Errorf("open token for %s: %w", out[i].DisplayName, err)
		}
		out[i].Token = opened
	}
	return out, nil
}
