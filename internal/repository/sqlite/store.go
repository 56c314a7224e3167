// Package sqlite is the embedded replica: a single file database for local
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repository.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug("sqlite store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) Cursor(ctx context.Context, scope string) (model.SyncCursor, error) {
	return cursor(ctx, s.db, scope)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func cursor(ctx context.Context, q queryer, scope string) (model.SyncCursor, error) {
	c := model.SyncCursor{Scope: scope}
	var (
		block    int64
		syncedAt string
	)
	err := q.QueryRowContext(ctx, `SELECT last_synced_block, synced_at FROM sync_cursors WHERE scope = ?`, scope).Scan(&block, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read cursor %s: %w", scope, err)
	}
	c.LastSyncedBlock = uint64(block)
	c.SyncedAt = parseTime(syncedAt)
	return c, nil
}

func (s *Store) ListCursors(ctx context.Context) ([]model.SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, last_synced_block, synced_at FROM sync_cursors ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []model.SyncCursor
	for rows.Next() {
		var (
			c        model.SyncCursor
			block    int64
			syncedAt string
		)
		if err := rows.Scan(&c.Scope, &block, &syncedAt); err != nil {
			return nil, fmt.Errorf("list cursors: %w", err)
		}
		c.LastSyncedBlock = uint64(block)
		c.SyncedAt = parseTime(syncedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceCursor(ctx context.Context, scope string, block uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := cursor(ctx, tx, scope)
		if err != nil {
			return err
		}
		if err := repository.CheckCursorAdvance(current, block); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_cursors (scope, last_synced_block, synced_at)
			VALUES (?, ?, ?)
			ON CONFLICT(scope) DO UPDATE SET
				last_synced_block = excluded.last_synced_block,
				synced_at = excluded.synced_at
		`, scope, int64(block), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("advance cursor %s: %w", scope, err)
		}
		return nil
	})
}
