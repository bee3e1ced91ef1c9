package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const storeLockTimeout = 5 * time.Second

// Store journals actions in sqlite so a submitted step can be resumed or
// inspected after the process exits. Writers serialize on a file lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create action store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open action sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS actions (
			action_id TEXT PRIMARY KEY,
			intent_type TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_actions_status_updated ON actions(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_actions_intent_updated ON actions(intent_type, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init action schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(action Action) error {
	if strings.TrimSpace(action.ActionID) == "" {
		return fmt.Errorf("save action: missing action id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeLockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock action store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock action store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	now := time.Now().UTC().Unix()
	createdUnix := unixOr(action.CreatedAt, now)
	updatedUnix := unixOr(action.UpdatedAt, now)

	_, err = s.db.Exec(`
		INSERT INTO actions (action_id, intent_type, status, chain_id, provider, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			intent_type=excluded.intent_type,
			status=excluded.status,
			chain_id=excluded.chain_id,
			provider=excluded.provider,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, action.ActionID, action.IntentType, action.Status, action.ChainID, action.Provider, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// ErrActionNotFound is returned by Get for unknown IDs.
var ErrActionNotFound = errors.New("action not found")

func (s *Store) Get(actionID string) (Action, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM actions WHERE action_id = ?", actionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		return Action{}, fmt.Errorf("read action: %w", err)
	}
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return Action{}, fmt.Errorf("decode action payload: %w", err)
	}
	return action, nil
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Status string
	Intent string
	Limit  int
}

func (s *Store) List(filter ListFilter) ([]Action, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM actions"
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.Status); v != "" {
		where = append(where, "status = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Intent); v != "" {
		where = append(where, "intent_type = ?")
		args = append(args, v)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		var action Action
		if err := json.Unmarshal(payload, &action); err != nil {
			return nil, fmt.Errorf("decode action row: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return actions, nil
}

func unixOr(v string, fallback int64) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t.UTC().Unix()
}
