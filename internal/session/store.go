// Package session maps an owner identity to its long-lived provider
// assistant and its short-lived chat thread. Only identifiers and an
// expiry timestamp are persisted; message content and memories live on
// the provider side.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists assistant and thread identifiers per owner.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assistants (
		owner TEXT PRIMARY KEY,
		assistant_id TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		owner TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AssistantID returns the stored assistant for an owner, or "" when
// none has been registered.
func (s *Store) AssistantID(owner string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT assistant_id FROM assistants WHERE owner = ?`, owner).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// SetAssistantID records the assistant for an owner, replacing any
// previous value.
func (s *Store) SetAssistantID(owner, assistantID string) error {
	_, err := s.db.Exec(`
		INSERT INTO assistants (owner, assistant_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET assistant_id = excluded.assistant_id, updated_at = excluded.updated_at
	`, owner, assistantID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ActiveThread returns the stored thread and its expiry for an owner.
// A zero thread id means no record exists; expiry checking is the
// manager's job.
func (s *Store) ActiveThread(owner string) (string, time.Time, error) {
	var threadID, expires string
	err := s.db.QueryRow(`SELECT thread_id, expires_at FROM sessions WHERE owner = ?`, owner).
		Scan(&threadID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}

	exp, err := time.Parse(time.RFC3339Nano, expires)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse expires_at %q: %w", expires, err)
	}
	return threadID, exp, nil
}

// SetActiveThread records the thread for an owner, replacing any
// previous value.
func (s *Store) SetActiveThread(owner, threadID string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (owner, thread_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET thread_id = excluded.thread_id, expires_at = excluded.expires_at
	`, owner, threadID, expiresAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ClearActiveThread removes the owner's thread record. Clearing an
// absent record is a no-op.
func (s *Store) ClearActiveThread(owner string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE owner = ?`, owner)
	return err
}
