// Package store opens the phonebook SQLite database and applies the schema
// migrations each plugin owns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/phonebook/pkg/plugin"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var _ plugin.Store = (*SQLiteStore)(nil)

// DefaultBusyTimeout is how long a write waits for a competing lock.
const DefaultBusyTimeout = 5 * time.Second

// SQLiteStore implements plugin.Store on modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	// migrateMu serializes Migrate calls from plugins initializing in parallel.
	migrateMu sync.Mutex
	initOnce  sync.Once
	initErr   error
}

// Option configures New.
type Option func(*config)

type config struct {
	logger      *zap.Logger
	busyTimeout time.Duration
}

// WithLogger logs applied migrations to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithBusyTimeout sets the SQLite busy timeout. Non-positive values keep the
// default.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// New opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func New(path string, opts ...Option) (*SQLiteStore, error) {
	cfg := config{logger: zap.NewNop(), busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: writes never contend inside the process, and an
	// in-memory database is not split across connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db, logger: cfg.logger}, nil
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Migrate applies the migrations of owner that are not yet recorded, in
// the order given. Each runs in its own transaction together with its
// record, so a failed migration leaves no trace.
func (s *SQLiteStore) Migrate(ctx context.Context, owner string, migrations []plugin.Migration) error {
	if err := s.ensureLedger(ctx); err != nil {
		return err
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	current, err := s.SchemaVersion(ctx, owner)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)`,
				owner, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", owner, m.Version, m.Description, err)
		}
		current = m.Version
		s.logger.Info("migration applied",
			zap.String("owner", owner),
			zap.Int("version", m.Version),
			zap.String("description", m.Description),
		)
	}
	return nil
}

// SchemaVersion returns the highest migration version recorded for owner,
// zero when none has been applied.
func (s *SQLiteStore) SchemaVersion(ctx context.Context, owner string) (int, error) {
	if err := s.ensureLedger(ctx); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM _migrations WHERE plugin_name = ?`, owner,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version of %s: %w", owner, err)
	}
	return int(v.Int64), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureLedger(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, s.initErr = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				plugin_name TEXT     NOT NULL,
				version     INTEGER  NOT NULL,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (plugin_name, version)
			)`)
	})
	if s.initErr != nil {
		return fmt.Errorf("create migrations table: %w", s.initErr)
	}
	return nil
}
