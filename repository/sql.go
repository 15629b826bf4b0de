package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/centraunit/modkit"
)

var _ modkit.Store[string, int] = (*SQLStore[int])(nil)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// SQLStore keeps JSON-encoded values in a two-column key/value table.
// Queries are written with ? placeholders and rebound for the driver, so
// the same store runs on postgres ($1) and sqlite-style (?) drivers.
type SQLStore[V any] struct {
	db    *sqlx.DB
	table string
	now   func() time.Time
}

// NewSQLStore creates a store over table. The table name is validated since
// it cannot be passed as a bind parameter.
func NewSQLStore[V any](db *sqlx.DB, table string) (*SQLStore[V], error) {
	if db == nil {
		return nil, errors.New("sql store: nil db")
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sql store: invalid table name %q", table)
	}
	return &SQLStore[V]{db: db, table: table, now: time.Now}, nil
}

// EnsureSchema creates the backing table if it does not exist.
func (s *SQLStore[V]) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("sql store: create table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	var raw string
	query := s.db.Rebind(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.table))
	if err := s.db.GetContext(ctx, &raw, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("sql store: key %q: %w", key, modkit.ErrNotFound)
		}
		return zero, fmt.Errorf("sql store: get %q: %w", key, err)
	}
	var v V
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, fmt.Errorf("sql store: decode %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLStore[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sql store: encode %q: %w", key, err)
	}
	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table))
	if _, err := s.db.ExecContext(ctx, query, key, string(raw), s.now().UTC()); err != nil {
		return fmt.Errorf("sql store: put %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *SQLStore[V]) Remove(ctx context.Context, key string) error {
	query := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("sql store: remove %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in ascending order.
func (s *SQLStore[V]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, s.table)); err != nil {
		return nil, fmt.Errorf("sql store: list keys: %w", err)
	}
	return keys, nil
}
