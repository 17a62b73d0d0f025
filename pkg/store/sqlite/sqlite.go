package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Config controls SQLite initialization.
type Config struct {
	// Name identifies the shared in-memory database. Stores opened with the
	// same name in one process see the same data.
	Name   string
	Logger *slog.Logger
}

// Database wraps an in-memory sql.DB. Its contents live exactly as long as
// the process keeps the connection open.
type Database struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the in-memory database and ensures schema.
func New(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Name == "" {
		return nil, errors.New("database name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", url.PathEscape(cfg.Name))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A shared in-memory database is dropped when its last connection
	// closes, so the single connection must never be recycled.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	wrapper := &Database{db: db, logger: cfg.Logger}
	if err := wrapper.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	cfg.Logger.Info("sqlite session store ready", "name", cfg.Name)
	return wrapper, nil
}

func (d *Database) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            state JSON NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database and with it every stored session.
func (d *Database) Close() error {
	return d.db.Close()
}
