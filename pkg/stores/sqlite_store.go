package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// localPragmas are applied to every pooled connection of a local database.
const localPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// SQLiteDatabase is a local on-disk database opened with modernc.org/sqlite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file at path in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*SQLiteDatabase, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", path+"?"+localPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// Mode implements Database.
func (s *SQLiteDatabase) Mode() Mode { return ModeLocal }

// Path implements Database.
func (s *SQLiteDatabase) Path() string { return s.path }

// DB implements Database.
func (s *SQLiteDatabase) DB() *sql.DB { return s.db }

// Connect implements Database.
func (s *SQLiteDatabase) Connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

// Sync always fails for a local database.
func (s *SQLiteDatabase) Sync(context.Context) (SyncReport, error) {
	return SyncReport{}, ErrNotReplica
}

// Close closes the connection pool.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SQLDriver is the production Driver: modernc.org/sqlite for local
// databases, go-libsql for embedded replicas when built with -tags libsql.
type SQLDriver struct{}

// OpenLocal implements Driver.
func (SQLDriver) OpenLocal(ctx context.Context, path string) (Database, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenReplica implements Driver.
func (SQLDriver) OpenReplica(ctx context.Context, path, url, authToken string) (Database, error) {
	return openReplica(ctx, path, url, authToken)
}

// Migrate applies the embedded schema migrations to db and returns the
// resulting schema version. The pool is left open.
func Migrate(_ context.Context, db *sql.DB) (uint, error) {
	if db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create database driver: %w", err)
	}

	// m.Close would also close db, which belongs to the caller
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
