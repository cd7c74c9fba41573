// Package database provides FuseVault's Postgres connection pool, schema
// migrations, and transaction helpers. It follows the teacher's
// pkg/database/client.go closely: a pooled *sql.DB wrapper with embedded
// migrations and a thin Tx type, generalized from proof-artifact storage to
// the asset, transaction-log, delegation, and API-key tables this system
// needs (spec.md §3).
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled Postgres connection.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Params bundles the pool tuning knobs NewClient needs, mirroring the
// subset of config.Config the teacher's NewClient reads.
type Params struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// NewClient opens and pings a connection pool against params.URL.
func NewClient(params Params, opts ...ClientOption) (*Client, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	client := &Client{
		logger: log.New(log.Writer(), "[Database] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", params.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(params.MaxConns)
	db.SetMaxIdleConns(params.MinConns)
	db.SetConnMaxIdleTime(params.MaxIdleTime)
	db.SetConnMaxLifetime(params.MaxLifetime)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Printf("connected to database (max_conns=%d, min_conns=%d)", params.MaxConns, params.MinConns)
	return client, nil
}

// DB returns the underlying *sql.DB for direct access.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	c.logger.Println("closing database connection")
	return c.db.Close()
}

// Ping verifies the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthStatus reports connection-pool health.
type HealthStatus struct {
	Healthy         bool
	Error           string
	OpenConnections int
	InUse           int
	Idle            int
}

// Health reports the current pool state.
func (c *Client) Health(ctx context.Context) HealthStatus {
	if err := c.db.PingContext(ctx); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	stats := c.db.Stats()
	return HealthStatus{
		Healthy:         true,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}
}

// ExecContext runs a query that doesn't return rows.
func (c *Client) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query that returns rows.
func (c *Client) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query that returns at most one row.
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Tx wraps a live transaction.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction.
func (c *Client) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
func (t *Tx) Tx() *sql.Tx     { return t.tx }

// Migration is one embedded schema migration.
type Migration struct {
	Version string
	SQL     string
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in version order.
func (c *Client) MigrateUp(ctx context.Context) error {
	c.logger.Println("running database migrations...")

	migrations, err := c.getMigrations()
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("failed to get applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			c.logger.Printf("  skipping %s (already applied)", m.Version)
			continue
		}
		c.logger.Printf("  applying %s...", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		c.logger.Printf("  applied %s", m.Version)
	}

	c.logger.Println("migrations complete")
	return nil
}

func (c *Client) getMigrations() ([]Migration, error) {
	var migrations []Migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(d.Name(), ".sql"),
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *Client) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyMigration(ctx context.Context, m Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration sql: %w", err)
	}
	return tx.Commit()
}
