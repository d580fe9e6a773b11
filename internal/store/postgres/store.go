package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/security/secretbox"
	"github.com/korzewarrior/discord-countingbot/internal/store"
)

// Store keeps the single live snapshot plus the event log in Postgres.
type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

func NewStore(databaseURL string, box *secretbox.Box) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db, box: box}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS counter_snapshots (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counter_events (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load() (domain.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT snapshot FROM counter_snapshots WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
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

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO counter_snapshots (id, snapshot, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET snapshot = $1, updated_at = $2`,
		raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	if _, err := s.db.Exec(`
		INSERT INTO counter_events (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		event.ID, string(event.Type), raw, event.CreatedAt); err != nil {
		log.Printf("store: append event %s failed: %v", event.Type, err)
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, event_type, payload, created_at
		FROM counter_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		log.Printf("store: list events failed: %v", err)
		return []domain.Event{}
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		var (
			event domain.Event
			raw   []byte
		)
		if err := rows.Scan(&event.ID, &event.Type, &raw, &event.CreatedAt); err != nil {
			log.Printf("store: scan event row failed: %v", err)
			continue
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &event.Payload)
		}
		out = append(out, event)
	}
	return out
}
