package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetBalance returns the user's credits, 0 when the user has no row.
func (s *SQLiteStore) GetBalance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM user_balances WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// EnsureBalance creates an empty balance row if missing and returns the current balance.
func (s *SQLiteStore) EnsureBalance(ctx context.Context, userID int64) (int, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_balances (user_id, balance, created_at, updated_at) VALUES (?, 0, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, now, now); err != nil {
		return 0, err
	}
	return s.GetBalance(ctx, userID)
}

// AddBalance credits amount to the user and returns the new balance.
func (s *SQLiteStore) AddBalance(ctx context.Context, userID int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add balance: amount must be positive, got %d", amount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_balances (user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		userID, amount, now, now); err != nil {
		return 0, err
	}

	var balance int
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM user_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// DeductBalance debits amount only if the balance covers it.
// It reports false, leaving the row untouched, when funds are insufficient.
func (s *SQLiteStore) DeductBalance(ctx context.Context, userID int64, amount int) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct balance: amount must be positive, got %d", amount)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_balances SET balance = balance - ?, updated_at = ? WHERE user_id = ? AND balance >= ?`,
		amount, time.Now().UTC(), userID, amount)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}
