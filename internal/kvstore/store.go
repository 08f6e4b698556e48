package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Store implements a path-keyed JSON store on top of SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Listeners are invoked
//     synchronously on the writing goroutine after the lock is released.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	listeners map[int]func(path string)
	nextID    int

	now func() time.Time
}

// New creates a Store over an open database whose kv_store table exists.
//
// Parameters:
//   - db: Open SQLite connection (migrations already applied)
//
// Returns:
//   - *Store: Store ready for use
func New(db *sql.DB) *Store {
	return &Store{
		db:        db,
		listeners: make(map[int]func(string)),
		now:       time.Now,
	}
}

// NormalizePath trims whitespace and surrounding slashes and drops empty segments.
func NormalizePath(path string) (string, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return strings.Join(kept, "/"), nil
}

// Get decodes the value stored at path into out.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - path: Slash-separated key
//   - out: Pointer to decode the JSON value into
//
// Returns:
//   - bool: false when nothing is stored at path (out is left untouched)
//   - error: Path, query or decode failure
func (s *Store) Get(ctx context.Context, path string, out any) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}

	var raw string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE path = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at path as JSON, replacing the path and everything below it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	key, err := NormalizePath(path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := deleteChildren(ctx, tx, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_store (path, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}

	s.notify(key)
	return nil
}

// Delete removes path and every nested path below it. Deleting a missing
// path is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	key, err := NormalizePath(path)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM kv_store WHERE path = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if err := deleteChildren(ctx, tx, key); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete of %s: %w", key, err)
	}

	s.notify(key)
	return nil
}

// Keys lists stored paths equal to or below prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	key, err := NormalizePath(prefix)
	if err != nil {
		return nil, err
	}

	child := key + "/"
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM kv_store
		 WHERE path = ? OR substr(path, 1, ?) = ?
		 ORDER BY path`,
		key, utf8.RuneCountInString(child), child,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// OnChange registers fn to be called with the normalised path after every
// successful Set or Delete. The returned function removes the listener.
func (s *Store) OnChange(fn func(path string)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(path string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(path)
	}
}

// deleteChildren removes every key strictly below key.
// substr counts characters, so the prefix length is a rune count. It also
// avoids LIKE wildcard escaping for paths containing % or _.
func deleteChildren(ctx context.Context, tx *sql.Tx, key string) error {
	child := key + "/"
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM kv_store WHERE substr(path, 1, ?) = ?",
		utf8.RuneCountInString(child), child,
	); err != nil {
		return fmt.Errorf("deleting children of %s: %w", key, err)
	}
	return nil
}
