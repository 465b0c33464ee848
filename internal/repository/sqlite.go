package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenDB opens a SQLite database with the connection settings the store relies on.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", withImmediateTxLock(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// withImmediateTxLock makes transactions on file databases start with
// BEGIN IMMEDIATE unless the DSN already picks a lock mode. Deferred
// transactions that read and then write can deadlock on the lock upgrade.
func withImmediateTxLock(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

// NewSQLiteStore opens the database and applies pending migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}

	if _, err := NewMigrator(db, Migrations).Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for tooling such as the migrator.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	images, err := json.Marshal(session.Images)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, images, prompt, status, payment_charge_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, string(images), session.Prompt, session.Status,
		nullString(session.PaymentChargeID), session.CreatedAt.UTC())
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var images string
	var chargeID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, images, prompt, status, payment_charge_id, created_at FROM sessions WHERE id = ?`,
		sessionID).Scan(&session.ID, &session.UserID, &images, &session.Prompt, &session.Status, &chargeID, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &session.Images); err != nil {
		return nil, fmt.Errorf("decode images for session %s: %w", sessionID, err)
	}
	if session.Images == nil {
		session.Images = []string{}
	}
	session.PaymentChargeID = chargeID.String
	session.CreatedAt = session.CreatedAt.UTC()
	return &session, nil
}

// UpdateSession applies the non-nil fields of update. Reports whether a row changed.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (bool, error) {
	var sets []string
	var args []interface{}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.PaymentChargeID != nil {
		sets = append(sets, "payment_charge_id = ?")
		args = append(args, nullString(*update.PaymentChargeID))
	}
	if len(sets) == 0 {
		return false, nil
	}
	args = append(args, sessionID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// DeleteExpiredSessions removes pending sessions created before the cutoff.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = ? AND created_at < ?`,
		domain.SessionStatusPending, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
