// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. File databases are opened with:
//   - WAL journaling, so readers do not block the single writer
//   - _txlock=immediate, so every transaction takes the write lock at BEGIN
//     and the capacity check and the increment can never interleave
//   - a bounded busy_timeout, so a writer waiting for the lock fails fast
//     with an error instead of hanging
//
// ":memory:" databases are pinned to a single connection: every pooled
// connection would otherwise get its own empty database.
//
// HOW IS CAPACITY KEPT HONEST?
// The check and the increment are one statement:
//
//	UPDATE providers SET current_users = current_users + 1
//	WHERE id = ? AND current_users < max_users
//
// Zero rows affected means the provider is missing or full. There is never a
// separate SELECT followed by an UPDATE that another writer could slip between.
//
// WHAT THE SCHEMA ENFORCES:
//   - CHECK (current_users BETWEEN 0 AND max_users) on providers
//   - a partial unique index on assignments(user_id) WHERE status = 'active',
//     so a second active assignment for one user is a UNIQUE violation
//   - triggers that abort UPDATE and DELETE on assignment_history
//
// The service layer checks these rules first to give good error messages;
// the schema is the backstop if two requests race.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/care-assign/internal/repository"
)

// DefaultBusyTimeout bounds how long a transaction waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// querier is satisfied by both *sql.DB and *sql.Tx so the same scan helpers
// serve plain reads and transactional reads.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

var (
	_ repository.UserRepository     = (*DB)(nil)
	_ repository.ProviderRepository = (*DB)(nil)
	_ repository.OperatorRepository = (*DB)(nil)
	_ repository.AssignmentStore    = (*DB)(nil)
)

// Option tunes how the database is opened.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/care.db" → file-based database (persistent)
//   - ":memory:"     → in-memory database (tests)
func New(dbPath string, opts ...Option) (*DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	memory := dbPath == ":memory:"

	dsn := dbPath
	if !memory {
		q := url.Values{}
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()))
		q.Add("_pragma", "foreign_keys(1)")
		q.Set("_txlock", "immediate")
		dsn = dbPath + "?" + q.Encode()
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if memory {
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// RunInTx runs fn inside one transaction and commits only if fn succeeds.
// A panic inside fn rolls back and re-panics.
func (db *DB) RunInTx(ctx context.Context, fn func(tx repository.AssignmentTx) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL DEFAULT '',
			lat                   REAL,
			lng                   REAL,
			specialties           TEXT NOT NULL DEFAULT '[]',
			current_assignment_id TEXT,
			status                TEXT NOT NULL DEFAULT 'unassigned'
			                      CHECK (status IN ('unassigned', 'assigned', 'in_service')),
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// current_users is bounded by a CHECK so even a buggy caller cannot
	// commit an oversold provider.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS providers (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL DEFAULT '',
			profession         TEXT NOT NULL DEFAULT '',
			service_center_lat REAL NOT NULL,
			service_center_lng REAL NOT NULL,
			service_radius     REAL NOT NULL CHECK (service_radius >= 0),
			max_users          INTEGER NOT NULL CHECK (max_users >= 0),
			current_users      INTEGER NOT NULL DEFAULT 0
			                   CHECK (current_users >= 0 AND current_users <= max_users),
			specialties        TEXT NOT NULL DEFAULT '[]',
			work_schedule      TEXT NOT NULL DEFAULT '[]',
			status             TEXT NOT NULL DEFAULT 'active'
			                   CHECK (status IN ('active', 'inactive', 'suspended')),
			rating             REAL NOT NULL DEFAULT 0,
			created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(status);
	`)
	if err != nil {
		return fmt.Errorf("creating providers table: %w", err)
	}

	// The partial unique index is the storage-level guarantee of at most one
	// active assignment per user.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS assignments (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL REFERENCES users(id),
			provider_id     TEXT NOT NULL REFERENCES providers(id),
			type            TEXT NOT NULL CHECK (type IN ('manual', 'automatic')),
			assigned_by     TEXT NOT NULL DEFAULT '',
			reason          TEXT NOT NULL DEFAULT '',
			distance        REAL NOT NULL DEFAULT 0,
			match_score     REAL,
			algorithm       TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL CHECK (status IN ('active', 'cancelled', 'completed')),
			assigned_at     DATETIME NOT NULL,
			cancelled_at    DATETIME,
			completed_at    DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_assignments_user_id ON assignments(user_id);
		CREATE INDEX IF NOT EXISTS idx_assignments_provider_id ON assignments(provider_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_one_active
			ON assignments(user_id) WHERE status = 'active';
	`)
	if err != nil {
		return fmt.Errorf("creating assignments table: %w", err)
	}

	if err := db.addColumnIfNotExists("assignments", "reassigned_from",
		"TEXT REFERENCES assignments(id)"); err != nil {
		return fmt.Errorf("adding reassigned_from to assignments: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS assignment_history (
			id            TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL REFERENCES assignments(id),
			action        TEXT NOT NULL CHECK (action IN ('created', 'cancelled', 'completed', 'reassigned')),
			reason        TEXT NOT NULL DEFAULT '',
			operator      TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_assignment_history_assignment_id
			ON assignment_history(assignment_id);
		CREATE TRIGGER IF NOT EXISTS trg_assignment_history_no_update
			BEFORE UPDATE ON assignment_history
			BEGIN SELECT RAISE(ABORT, 'assignment_history is append-only'); END;
		CREATE TRIGGER IF NOT EXISTS trg_assignment_history_no_delete
			BEFORE DELETE ON assignment_history
			BEGIN SELECT RAISE(ABORT, 'assignment_history is append-only'); END;
	`)
	if err != nil {
		return fmt.Errorf("creating assignment_history table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS operators (
			id            TEXT PRIMARY KEY,
			login         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			permissions   TEXT NOT NULL DEFAULT '[]',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating operators table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the given index or column list.
func isUniqueViolation(err error, target string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// The primary code sits in the low byte of the extended one.
	if se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := se.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return target == "" || strings.Contains(msg, target)
}

func clampList(opts repository.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
