package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const paymentColumns = `id, session_id, user_id, payment_charge_id, amount, status, created_at, refunded_at`

// CreatePayment records a payment and returns its id.
// A charge id that is already recorded yields domain.ErrDuplicatePayment.
func (s *SQLiteStore) CreatePayment(ctx context.Context, payment *domain.Payment) (int64, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusSuccess
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (session_id, user_id, payment_charge_id, amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		payment.SessionID, payment.UserID, payment.ChargeID, payment.Amount, payment.Status, payment.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicatePayment
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	payment.ID = id
	return id, nil
}

func scanPayment(row interface{ Scan(...interface{}) error }) (*domain.Payment, error) {
	var p domain.Payment
	var refundedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.ChargeID, &p.Amount, &p.Status, &p.CreatedAt, &refundedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.RefundedAt = timePtr(refundedAt)
	return &p, nil
}

// GetPayment retrieves a payment by ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, paymentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetPaymentByChargeID retrieves a payment by its provider charge id.
func (s *SQLiteStore) GetPaymentByChargeID(ctx context.Context, chargeID string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_charge_id = ?`, chargeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// MarkPaymentRefunded moves a payment out of success. It reports false when
// the payment was not in success any more.
func (s *SQLiteStore) MarkPaymentRefunded(ctx context.Context, paymentID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, refunded_at = ? WHERE id = ? AND status = ?`,
		domain.PaymentStatusRefunded, time.Now().UTC(), paymentID, domain.PaymentStatusSuccess)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// ListUserPayments returns the most recent payments of a user.
func (s *SQLiteStore) ListUserPayments(ctx context.Context, userID int64, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
