package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Migration is one forward schema step with its inverse.
type Migration struct {
	Version     string
	Description string
	Up          []string
	Down        []string
}

// MigrationState describes a registered migration and whether it is applied.
type MigrationState struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Migrations is the ordered list of schema versions.
var Migrations = []Migration{
	{
		Version:     "001",
		Description: "create sessions and payments",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				images TEXT NOT NULL,
				prompt TEXT NOT NULL,
				status TEXT NOT NULL,
				payment_charge_id TEXT,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS payments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				user_id INTEGER NOT NULL,
				payment_charge_id TEXT UNIQUE NOT NULL,
				amount INTEGER NOT NULL,
				status TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				refunded_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id, created_at)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_payments_user_id`,
			`DROP INDEX IF EXISTS idx_sessions_status_created`,
			`DROP INDEX IF EXISTS idx_sessions_user_id`,
			`DROP TABLE IF EXISTS payments`,
			`DROP TABLE IF EXISTS sessions`,
		},
	},
	{
		Version:     "002",
		Description: "create user_balances",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS user_balances (
				user_id INTEGER PRIMARY KEY,
				balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS user_balances`,
		},
	},
	{
		Version:     "003",
		Description: "create generation_queue",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS generation_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL UNIQUE,
				user_id INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				priority INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				started_at DATETIME,
				completed_at DATETIME,
				error_message TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_status ON generation_queue(status)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_user_id ON generation_queue(user_id)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_queue_user_id`,
			`DROP INDEX IF EXISTS idx_queue_status`,
			`DROP TABLE IF EXISTS generation_queue`,
		},
	},
	{
		Version:     "004",
		Description: "optimize generation_queue indices",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS idx_queue_pending_priority_created
				ON generation_queue(status, priority DESC, created_at ASC)
				WHERE status = 'pending'`,
			`CREATE INDEX IF NOT EXISTS idx_queue_session_id ON generation_queue(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_queue_processing_started
				ON generation_queue(started_at)
				WHERE status = 'processing'`,
			`CREATE INDEX IF NOT EXISTS idx_queue_completed_at
				ON generation_queue(completed_at)
				WHERE status IN ('completed', 'failed')`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_queue_completed_at`,
			`DROP INDEX IF EXISTS idx_queue_processing_started`,
			`DROP INDEX IF EXISTS idx_queue_session_id`,
			`DROP INDEX IF EXISTS idx_queue_pending_priority_created`,
		},
	},
}

// Migrator applies and reverts the registered migrations.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a migrator over the given migrations, sorted by version.
func NewMigrator(db *sql.DB, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{db: db, migrations: sorted}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		version TEXT PRIMARY KEY,
		description TEXT,
		applied_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status lists every registered migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]MigrationState, 0, len(m.migrations))
	for _, mig := range m.migrations {
		state := MigrationState{Version: mig.Version, Description: mig.Description}
		if at, ok := applied[mig.Version]; ok {
			at := at
			state.Applied = true
			state.AppliedAt = &at
		}
		states = append(states, state)
	}
	return states, nil
}

// Migrate applies every pending migration in version order and returns how many ran.
// A failing migration is rolled back and stops the run.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, err
		}
		slog.Info("migration applied", "version", mig.Version, "description", mig.Description)
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", mig.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range mig.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s failed: %w\n%s", mig.Version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		mig.Version, mig.Description, time.Now().UTC()); err != nil {
		return fmt.Errorf("migration %s: record: %w", mig.Version, err)
	}
	return tx.Commit()
}

// Rollback reverts applied migrations newer than target, newest first.
// An empty target reverts only the latest applied migration.
func (m *Migrator) Rollback(ctx context.Context, target string) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if _, ok := applied[mig.Version]; !ok {
			continue
		}
		if target != "" && mig.Version <= target {
			break
		}
		if err := m.revert(ctx, mig); err != nil {
			return count, err
		}
		slog.Info("migration reverted", "version", mig.Version)
		count++
		if target == "" {
			break
		}
	}
	return count, nil
}

func (m *Migrator) revert(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rollback %s: begin: %w", mig.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range mig.Down {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rollback %s failed: %w\n%s", mig.Version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM migrations WHERE version = ?`, mig.Version); err != nil {
		return fmt.Errorf("rollback %s: unrecord: %w", mig.Version, err)
	}
	return tx.Commit()
}
