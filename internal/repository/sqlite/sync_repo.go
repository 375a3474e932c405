package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/repository"
)

// SyncRepo is the listener's key-value cursor store.
type SyncRepo struct {
	db *sql.DB
}

// Get returns the stored value for key.
func (r *SyncRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sync get: %w", err)
	}
	return value, nil
}

// Set upserts key to value.
func (r *SyncRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?,?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("sync set: %w", err)
	}
	return nil
}
