package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/phonebook/pkg/plugin"
)

// Well-known metadata keys.
const (
	MetaSeedVersion   = "seed.version"
	MetaSeedAppliedAt = "seed.applied_at"
)

// MetaEntry is one key/value pair of installation metadata.
type MetaEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MetaRepository stores installation metadata such as which seed data set
// has been applied.
type MetaRepository interface {
	Get(ctx context.Context, key string) (*MetaEntry, error)
	All(ctx context.Context) ([]MetaEntry, error)
	// Set creates or overwrites key.
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

var _ MetaRepository = (*SQLiteMetaRepository)(nil)

// SQLiteMetaRepository implements MetaRepository using SQLite.
type SQLiteMetaRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteMetaRepository creates a MetaRepository and runs its migrations.
func NewSQLiteMetaRepository(ctx context.Context, store plugin.Store) (*SQLiteMetaRepository, error) {
	if err := store.Migrate(ctx, "meta", metaMigrations); err != nil {
		return nil, fmt.Errorf("meta migrations: %w", err)
	}
	return &SQLiteMetaRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteMetaRepository) Get(ctx context.Context, key string) (*MetaEntry, error) {
	var e MetaEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM app_meta WHERE key = ?`, key,
	).Scan(&e.Key, &e.Value, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get meta %q: %w", key, err)
	}
	return &e, nil
}

func (r *SQLiteMetaRepository) All(ctx context.Context) ([]MetaEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM app_meta ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	defer rows.Close()

	var entries []MetaEntry
	for rows.Next() {
		var e MetaEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meta row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteMetaRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_meta (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now(),
	)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteMetaRepository) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM app_meta WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete meta %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var metaMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create app_meta table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE app_meta (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
}
