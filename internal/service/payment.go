package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

type paymentInput struct {
	SessionID string `validate:"required"`
	UserID    int64  `validate:"gt=0"`
	ChargeID  string `validate:"required,max=255"`
	Amount    int    `validate:"gt=0"`
}

type packageInput struct {
	UserID   int64  `validate:"gt=0"`
	Size     int    `validate:"gt=0"`
	ChargeID string `validate:"required,max=255"`
	Amount   int    `validate:"gt=0"`
}

// RefundResult describes the outcome of a refund request.
type RefundResult struct {
	Payment         *domain.Payment
	AlreadyRefunded bool
}

func (s *Service) validatePayment(in paymentInput) error {
	if err := s.validate.Struct(in); err != nil {
		return &domain.ValidationError{Field: "payment", Message: err.Error()}
	}
	return nil
}

// SavePayment records a successful invoice payment and marks the session paid.
// The payment row is written even when the session is gone, in which case
// the returned error wraps domain.ErrNotFound.
func (s *Service) SavePayment(ctx context.Context, sessionID string, userID int64, chargeID string, amount int) (int64, error) {
	if err := s.validatePayment(paymentInput{SessionID: sessionID, UserID: userID, ChargeID: chargeID, Amount: amount}); err != nil {
		return 0, err
	}

	id, err := s.store.CreatePayment(ctx, &domain.Payment{
		SessionID: sessionID,
		UserID:    userID,
		ChargeID:  chargeID,
		Amount:    amount,
		Status:    domain.PaymentStatusSuccess,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			slog.Warn("duplicate payment ignored", "charge_id", chargeID, "user_id", userID)
			return 0, err
		}
		return 0, &domain.PersistenceError{Op: "create payment", Err: err}
	}
	s.paymentLog.Info("PAYMENT_COMPLETED",
		"user_id", userID, "session_id", sessionID, "charge_id", chargeID, "amount", amount, "payment_id", id)

	charge := chargeID
	if err := s.UpdateSession(ctx, sessionID, domain.SessionUpdate{
		Status:          statusPtr(domain.SessionStatusPaid),
		PaymentChargeID: &charge,
	}); err != nil {
		return id, err
	}
	return id, nil
}

// StartPaid records an invoice payment and queues the session.
// If the session vanished or could not be queued the charge is refunded.
func (s *Service) StartPaid(ctx context.Context, sessionID string, userID int64, chargeID string, amount int) (int64, error) {
	if _, err := s.SavePayment(ctx, sessionID, userID, chargeID, amount); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.refundUnusable(ctx, userID, chargeID, err)
		}
		return 0, err
	}
	queueID, err := s.Enqueue(ctx, sessionID, userID, 0)
	if err != nil && !errors.Is(err, domain.ErrAlreadyQueued) {
		s.refundUnusable(ctx, userID, chargeID, err)
	}
	return queueID, err
}

func (s *Service) refundUnusable(ctx context.Context, userID int64, chargeID string, cause error) {
	slog.Warn("refunding payment that cannot be served", "user_id", userID, "charge_id", chargeID, "error", cause)
	if _, err := s.Refund(ctx, userID, chargeID); err != nil {
		slog.Error("refund of unusable payment failed", "user_id", userID, "charge_id", chargeID, "error", err)
	}
}

// StartFromBalance spends one prepaid generation on the session and queues it.
func (s *Service) StartFromBalance(ctx context.Context, sessionID string) (int64, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session == nil {
		return 0, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if session.Status != domain.SessionStatusPending {
		return 0, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, domain.ErrAlreadyQueued)
	}

	ok, err := s.DeductBalance(ctx, session.UserID, 1)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.ErrInsufficientBalance
	}

	if err := s.UpdateSession(ctx, sessionID, domain.SessionUpdate{Status: statusPtr(domain.SessionStatusPaid)}); err != nil {
		s.returnCredit(ctx, session.UserID, "session update failed")
		return 0, err
	}
	queueID, err := s.Enqueue(ctx, sessionID, session.UserID, 0)
	if err != nil {
		// An existing entry still owns the paid session.
		if !errors.Is(err, domain.ErrAlreadyQueued) {
			_ = s.UpdateSession(ctx, sessionID, domain.SessionUpdate{Status: statusPtr(domain.SessionStatusPending)})
		}
		s.returnCredit(ctx, session.UserID, "enqueue failed")
		return 0, err
	}
	return queueID, nil
}

func (s *Service) returnCredit(ctx context.Context, userID int64, reason string) {
	if _, err := s.AddBalance(ctx, userID, 1, reason); err != nil {
		slog.Error("failed to return balance credit", "user_id", userID, "reason", reason, "error", err)
	}
}

// PurchasePackage records a package payment, credits its generations and
// spends one of them on the session that triggered the purchase, if any.
// The credit stays on the balance when the session can no longer be started.
func (s *Service) PurchasePackage(ctx context.Context, userID int64, sessionID string, size int, chargeID string, amount int) (int64, error) {
	if err := s.validate.Struct(packageInput{UserID: userID, Size: size, ChargeID: chargeID, Amount: amount}); err != nil {
		return 0, &domain.ValidationError{Field: "package", Message: err.Error()}
	}
	if _, ok := s.config.Package(size); !ok {
		return 0, &domain.ValidationError{Field: "package", Message: fmt.Sprintf("unknown package size %d", size)}
	}

	id, err := s.store.CreatePayment(ctx, &domain.Payment{
		SessionID: sessionID,
		UserID:    userID,
		ChargeID:  chargeID,
		Amount:    amount,
		Status:    domain.PaymentStatusSuccess,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			return 0, err
		}
		return 0, &domain.PersistenceError{Op: "create payment", Err: err}
	}
	s.paymentLog.Info("PACKAGE_PURCHASED",
		"user_id", userID, "session_id", sessionID, "charge_id", chargeID, "amount", amount, "size", size, "payment_id", id)

	if _, err := s.AddBalance(ctx, userID, size, fmt.Sprintf("package %d", size)); err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, nil
	}
	return s.StartFromBalance(ctx, sessionID)
}

// Refund returns a provider charge to the user at most once.
// A charge already marked refunded is reported without contacting the provider.
// Provider failures come back as *domain.RefundError and leave the payment untouched.
func (s *Service) Refund(ctx context.Context, userID int64, chargeID string) (*RefundResult, error) {
	if chargeID == "" {
		return nil, &domain.ValidationError{Field: "charge_id", Message: "required"}
	}
	unlock := s.refunds.lock(chargeID)
	defer unlock()

	payment, err := s.store.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get payment", Err: err}
	}
	if payment != nil {
		if payment.UserID != userID {
			return nil, &domain.ValidationError{Field: "user_id", Message: "charge belongs to another user"}
		}
		if payment.Status == domain.PaymentStatusRefunded {
			return &RefundResult{Payment: payment, AlreadyRefunded: true}, nil
		}
	}

	if err := s.payments.Refund(ctx, userID, chargeID); err != nil {
		s.paymentLog.Error("PAYMENT_REFUND_FAILED", "user_id", userID, "charge_id", chargeID, "error", err)
		return nil, &domain.RefundError{UserID: userID, ChargeID: chargeID, Err: err}
	}

	if payment == nil {
		s.paymentLog.Warn("PAYMENT_REFUNDED", "user_id", userID, "charge_id", chargeID, "payment_id", "unknown")
		return &RefundResult{}, nil
	}
	if _, err := s.store.MarkPaymentRefunded(ctx, payment.ID); err != nil {
		slog.Error("refund succeeded but status update failed", "charge_id", chargeID, "error", err)
		return nil, &domain.PersistenceError{Op: "mark payment refunded", Err: err}
	}
	s.paymentLog.Info("PAYMENT_REFUNDED", "user_id", userID, "charge_id", chargeID, "payment_id", payment.ID)

	updated, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil || updated == nil {
		return &RefundResult{Payment: payment}, nil
	}
	return &RefundResult{Payment: updated}, nil
}

// UserPayments lists the user's recent payments.
func (s *Service) UserPayments(ctx context.Context, userID int64, limit int) ([]domain.Payment, error) {
	payments, err := s.store.ListUserPayments(ctx, userID, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list payments", Err: err}
	}
	return payments, nil
}

// chargeLocks serializes refunds per charge id. Entries are dropped once no caller holds or waits on them.
type chargeLocks struct {
	mu    sync.Mutex
	locks map[string]*chargeLock
}

type chargeLock struct {
	mu   sync.Mutex
	refs int
}

func (c *chargeLocks) lock(chargeID string) (unlock func()) {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*chargeLock)
	}
	l, ok := c.locks[chargeID]
	if !ok {
		l = &chargeLock{}
		c.locks[chargeID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, chargeID)
		}
		c.mu.Unlock()
	}
}
