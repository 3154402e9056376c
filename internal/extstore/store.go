// Package extstore persists orchestrator state that must survive a restart:
// EXACTLY_ONCE idempotency records (spec §5). It is deliberately narrow —
// get/put/delete on opaque byte values — so the executor's IdempotencyStore
// interface is the only thing that depends on it directly.
package extstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cartrita/mcp/internal/mcperr"
)

// Store is a SQLite-backed key/value store scoped to idempotency records,
// adapted from the upstream persistence.Store's connection setup.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "open sqlite store", err)
	}
	db.SetMaxOpenConns(1) // SQLite does not benefit from concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key         TEXT PRIMARY KEY,
			response    BLOB,
			expires_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys(expires_at);
	`)
	if err != nil {
		return mcperr.Wrap(mcperr.Internal, "migrate idempotency schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seen records key as delivered, returning true if it was already recorded
// (and not yet expired). Implements executor.IdempotencyStore.
func (s *Store) Seen(key string, ttl time.Duration) bool {
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT expires_at FROM idempotency_keys WHERE key = ?`, key).Scan(&expiresAt)
	if err == nil && time.Now().Before(expiresAt) {
		return true
	}
	_, _ = s.db.Exec(`
		INSERT INTO idempotency_keys (key, response, expires_at) VALUES (?, NULL, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, time.Now().Add(ttl))
	return false
}

// Put caches response under key with the given TTL.
func (s *Store) Put(key string, response []byte, ttl time.Duration) {
	_, _ = s.db.Exec(`
		INSERT INTO idempotency_keys (key, response, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET response = excluded.response, expires_at = excluded.expires_at
	`, key, response, time.Now().Add(ttl))
}

// Get retrieves a cached response for key, if present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	var response []byte
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT response, expires_at FROM idempotency_keys WHERE key = ?`, key).Scan(&response, &expiresAt)
	if err != nil || response == nil || time.Now().After(expiresAt) {
		return nil, false
	}
	return response, true
}

// Sweep removes expired records, returning the count deleted. Intended to
// run on a ticker alongside the registry's health sweep.
func (s *Store) Sweep() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM idempotency_keys WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, mcperr.Wrap(mcperr.Internal, "sweep expired idempotency keys", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
