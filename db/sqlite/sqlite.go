// Package sqlite implements db.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"chatd/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timeLayout = time.RFC3339Nano

type DB struct {
	conn *sql.DB
}

// Open opens the database file at path and applies pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return New(conn), nil
}

// New wraps an already migrated connection pool.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Acquire pins one pooled connection for the duration of a request.
func (d *DB) Acquire(ctx context.Context) (db.Handle, error) {
	c, err := d.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return &handle{repo: repo{q: c, tx: c}, conn: c}, nil
}

// Store returns an unscoped store over the whole pool, for callers outside request processing.
func (d *DB) Store() db.Store {
	return &repo{q: d.conn, tx: d.conn}
}

// Migrate applies every pending migration embedded in the binary.
func Migrate(conn *sql.DB) error {
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite3 migration driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting migration version: %w", err)
	}
	if dirty {
		log.Warn().Uint("version", version).Msg("database migration state is dirty")
	} else {
		log.Info().Uint("version", version).Msg("database migrations complete")
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// repo runs queries against q. tx is nil once inside a transaction.
type repo struct {
	q  querier
	tx beginner
}

type handle struct {
	repo
	conn *sql.Conn
}

func (h *handle) Release() {
	if err := h.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		log.Warn().Err(err).Msg("releasing store connection")
	}
}

func (r *repo) InTx(ctx context.Context, fn func(db.Store) error) (err error) {
	if r.tx == nil {
		return fn(r)
	}

	tx, err := r.tx.BeginTx(ctx, nil)
	if err != nil {
		return handleError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = handleError(tx.Commit())
		}
	}()

	err = fn(&repo{q: tx})
	return
}

// handleError maps driver errors onto the db package's sentinels.
func handleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", db.ErrDuplicate, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
