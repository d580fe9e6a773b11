package file

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/security/secretbox"
)

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	box, err := secretbox.New(key)
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	return box
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.State.LastPosterIndex != -1 {
		t.Fatalf("default LastPosterIndex = %d, want -1", snap.State.LastPosterIndex)
	}
	if snap.Settings.MinDelay != 1.0 || snap.Settings.MaxDelay != 2.0 {
		t.Fatalf("default settings not applied: %+v", snap.Settings)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, nil)

	snap := domain.DefaultSnapshot()
	snap.State.CurrentCount = 42
	snap.State.LastPosterIndex = 1
	snap.Settings.ChannelID = "chan-1"
	snap.Identities = []domain.IdentityRecord{{DisplayName: "alpha", Token: "tok-a", SendCount: 7}}

	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := NewStore(path, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State.CurrentCount != 42 || got.Settings.ChannelID != "chan-1" {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if len(got.Identities) != 1 || got.Identities[0].SendCount != 7 {
		t.Fatalf("identities lost: %+v", got.Identities)
	}
}

func TestTokensAreEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	box := testBox(t)
	s := NewStore(path, box)

	snap := domain.DefaultSnapshot()
	snap.Identities = []domain.IdentityRecord{{DisplayName: "alpha", Token: "super-secret-token"}}
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-token") {
		t.Fatal("plaintext token written to disk")
	}

	got, err := NewStore(path, box).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Identities[0].Token != "super-secret-token" {
		t.Fatalf("token = %q after round trip", got.Identities[0].Token)
	}
}

func TestLoadWithWrongKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, testBox(t))
	snap := domain.DefaultSnapshot()
	snap.Identities = []domain.IdentityRecord{{DisplayName: "alpha", Token: "tok"}}
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	otherKey := base64.StdEncoding.EncodeToString([]byte("ffffffffffffffffffffffffffffffff"))
	other, err := secretbox.New(otherKey)
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	if _, err := NewStore(path, other).Load(); err == nil {
		t.Fatal("Load with the wrong key should fail")
	}
}

func TestEventsNewestFirstAndBounded(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	s.AppendEvent(domain.EventCountingStarted, nil)
	s.AppendEvent(domain.EventResetDetected, map[string]interface{}{"reset_at": "x"})
	s.AppendEvent(domain.EventCountingStopped, nil)

	events := s.ListEvents(2)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Type != domain.EventCountingStopped || events[1].Type != domain.EventResetDetected {
		t.Fatalf("wrong order: %v, %v", events[0].Type, events[1].Type)
	}
}
