package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetFlag reads a persisted boolean. A missing key reads as false.
func (s *Store) GetFlag(ctx context.Context, key string) (bool, error) {
	var value int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get flag %s: %w", key, err)
	}
	return value == 1, nil
}

// SetFlag persists a boolean. Writing the value already stored is a no-op
// in effect.
func (s *Store) SetFlag(ctx context.Context, key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flags (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, v)
	if err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}
