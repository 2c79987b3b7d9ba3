// Package registry implements the Document Registry: the persistent
// catalog of documents, relationships, state transitions, and reviews
// backed by SQLite through the pure-Go driver.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gao-dev/lifecycle/internal/registry/migrations"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// Store is the SQLite-backed implementation of the registry. It is
// safe for concurrent use: database/sql pools connections internally
// and every logical operation below runs in its own transaction.
type Store struct {
	db *sql.DB
}

// Open creates or connects to the registry database at path, applying
// any unapplied migrations before returning.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: opening %s: %w", path, err)
	}
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory, non-shared registry database. Intended
// for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("registry: opening in-memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // a private in-memory db only exists on one connection
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for components (search) that must
// issue their own queries against tables the registry owns.
func (s *Store) DB() *sql.DB { return s.db }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// withRetry runs fn, retrying with exponential backoff when the
// underlying store reports a transient busy/locked condition.
func withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if attempts > 1 {
		telemetry.IncCounter(ctx, telemetry.Instruments.RegistryRetries, int64(attempts-1))
	}
	return err
}

// withTx runs fn inside a transaction, committing on success and
// rolling back on any error (including a panic, which it re-raises
// after rollback).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	return withRetry(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}
