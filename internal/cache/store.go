// Package cache persists fetched snapshots so development iterations can
// skip live fetches. It sits outside the fetch core: the orchestrator never
// consults it, callers wire it in explicitly.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emailpilot/accountfetch/internal/fetch"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	cache_key  TEXT PRIMARY KEY,
	account    TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
`

// Store is a sqlite-backed snapshot cache keyed by account and date range.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores one snapshot, replacing any previous entry for the same key.
func (s *Store) Put(ctx context.Context, account, startDate, endDate string, result *fetch.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (cache_key, account, start_date, end_date, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cacheKey(account, startDate, endDate), account, startDate, endDate,
		payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot if one exists and is younger than ttl.
func (s *Store) Get(ctx context.Context, account, startDate, endDate string, ttl time.Duration) (*fetch.Result, bool, error) {
	var (
		payload   []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM snapshots WHERE cache_key = ?`,
		cacheKey(account, startDate, endDate)).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if ttl > 0 && time.Since(time.Unix(createdAt, 0)) > ttl {
		return nil, false, nil
	}

	var result fetch.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &result, true, nil
}

// Purge deletes snapshots older than the given age and reports how many
// rows were removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE created_at < ?`,
		time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func cacheKey(account, startDate, endDate string) string {
	sum := sha256.Sum256([]byte(account + "|" + startDate + "|" + endDate))
	return hex.EncodeToString(sum[:])
}
