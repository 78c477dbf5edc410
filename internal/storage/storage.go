package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ignite/notification-dispatch/internal/config"
)

// ErrNotFound is returned when a lookup matches no row. Callers treat a
// missing user or email as dead-letter material, not a transient fault.
var ErrNotFound = errors.New("not found")

// Store wraps the PostgreSQL-backed state: users and their preferences,
// pending batch rows, and the agent activity used for summaries.
// Individual operations are atomic; no cross-operation transactions are
// held across network calls.
type Store struct {
	db *sql.DB
}

// New wraps an established database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and applies the pool limits.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle for advisory locking.
func (s *Store) DB() *sql.DB {
	return s.db
}
