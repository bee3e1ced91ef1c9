// Package cache is the sqlite-backed quote cache. Entries are keyed by the
// command path and its normalized request, and expire after a per-command TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ggonzalez94/xswap-cli/internal/metrics"
)

const lockTimeout = 5 * time.Second

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// QuoteKey hashes a command path and its request into a cache key. Requests
// that marshal to the same JSON share an entry.
func QuoteKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}

	// Schema changes from concurrent openers serialize on the file lock.
	unlock, err := store.acquire()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS quote_entries (key TEXT PRIMARY KEY, command TEXT NOT NULL DEFAULT '', value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_quote_entries_command ON quote_entries(command);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			unlock()
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	unlock()

	_ = store.Prune()
	return store, nil
}

// sqliteDSN sets busy_timeout on every pooled connection so readers wait out
// a writer instead of failing with SQLITE_BUSY.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries whose TTL has fully expired.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("DELETE FROM quote_entries WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get reads key. A stale entry is still returned so callers can fall back to
// it when a fresh fetch fails; TooStale marks entries beyond maxStale.
func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var value []byte
	var createdUnix, ttlSeconds int64
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM quote_entries WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := s.now().Sub(time.Unix(createdUnix, 0))
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	tooStale := stale && maxStale >= 0 && age > ttl+maxStale
	if stale {
		metrics.CacheLookups.WithLabelValues("stale").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	}

	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: tooStale,
	}, nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	return s.SetFor("", key, value, ttl)
}

// SetFor writes key and records the command it belongs to so Invalidate can
// drop a whole command's entries.
func (s *Store) SetFor(command, key string, value []byte, ttl time.Duration) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO quote_entries (key, command, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			command=excluded.command,
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, command, value, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Invalidate removes every entry written for command and reports how many
// were dropped.
func (s *Store) Invalidate(command string) (int64, error) {
	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()
	res, err := s.db.Exec("DELETE FROM quote_entries WHERE command = ?", command)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) acquire() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock cache: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}
