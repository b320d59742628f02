// Package sqlite is the durable session store: rooms, memberships, user
// profiles and subscription plans.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"cinewave/internal/core/ports"
	"cinewave/internal/infrastructure/repositories/sqlite/migrations"
	"cinewave/pkg/tracing"
)

type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ ports.RoomRepository         = (*Store)(nil)
	_ ports.MembershipRepository   = (*Store)(nil)
	_ ports.UserDirectory          = (*Store)(nil)
	_ ports.SubscriptionRepository = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	sqlDB, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := ApplyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Migrate applies pending migrations to the database at path and returns
// the names of those it applied.
func Migrate(ctx context.Context, path string) ([]string, error) {
	sqlDB, err := openDB(path)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()
	return ApplyMigrations(ctx, sqlDB, migrations.FS)
}

func openDB(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; WAL still lets readers proceed.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return sqlDB, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) trace(ctx context.Context, operation, table string) (context.Context, func(*error)) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, operation, table)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			tracing.RecordError(ctx, *errp)
		}
		span.End()
	}
}

func sqliteCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY ||
		strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
