// Package database provides SQL persistence for apisentry workspaces, assets and findings.
//
// SQLite is the default backend; PostgreSQL and MySQL are selected by driver name.
package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/joshsymonds/apisentry/pkg/logger"
)

// Dialect names a supported SQL backend. Values are database/sql driver names.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a configured driver name onto a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DB represents a database connection with additional functionality.
type DB struct {
	conn        *sqlx.DB
	logger      logger.Logger
	dialect     Dialect
	dsn         string
	mu          sync.RWMutex
	maxConns    int
	busyTimeout time.Duration
}

// Option represents a functional option for configuring the database.
type Option func(*DB)

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(db *DB) {
		db.maxConns = n
	}
}

// WithBusyTimeout sets the busy timeout for SQLite.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(db *DB) {
		db.busyTimeout = timeout
	}
}

// WithLogger sets the logger used for database diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(db *DB) {
		db.logger = log
	}
}

// New opens a SQLite database at path.
func New(path string, opts ...Option) (*DB, error) {
	return Open(DialectSQLite, path, opts...)
}

// Open connects to the given dialect and runs pending migrations.
func Open(dialect Dialect, dsn string, opts ...Option) (*DB, error) {
	db := &DB{
		dialect:     dialect,
		maxConns:    10,
		busyTimeout: 5 * time.Second,
		logger:      logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.maxConns < 1 {
		db.maxConns = 1
	}

	connStr, err := db.connString(dsn)
	if err != nil {
		return nil, err
	}
	db.dsn = connStr

	conn, err := sqlx.Open(string(dialect), connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// At least one idle connection keeps shared in-memory SQLite databases alive.
	conn.SetMaxOpenConns(db.maxConns)
	conn.SetMaxIdleConns(max(1, db.maxConns/2))
	conn.SetConnMaxLifetime(time.Hour)

	if dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		}
		for _, pragma := range pragmas {
			if _, err := conn.Exec(pragma); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("setting %s: %w", pragma, err)
			}
		}
	}

	db.conn = conn

	if err := db.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.logger.Debug("Database ready", "dialect", string(dialect), "max_connections", db.maxConns)
	return db, nil
}

// connString adds the driver parameters apisentry depends on.
func (db *DB) connString(dsn string) (string, error) {
	switch db.dialect {
	case DialectSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%s_busy_timeout=%d&_foreign_keys=on", dsn, sep, db.busyTimeout.Milliseconds()), nil
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parsing mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.ClientFoundRows = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN(), nil
	case DialectPostgres:
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", db.dialect)
	}
}

// Dialect returns the backend in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sqlx.DB {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InTransaction executes a function within a database transaction.
func (db *DB) InTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// NewMemoryDB creates a private in-memory SQLite database for testing.
func NewMemoryDB(opts ...Option) (*DB, error) {
	name := fmt.Sprintf("file:apisentry-%s?mode=memory&cache=shared", uuid.NewString())
	return New(name, append([]Option{WithMaxConnections(1)}, opts...)...)
}
