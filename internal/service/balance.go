package service

import (
	"context"
	"log/slog"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// GetBalance returns the user's prepaid generations.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int, error) {
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "get balance", Err: err}
	}
	return balance, nil
}

// HasBalance reports whether the user can pay for amount generations from balance.
func (s *Service) HasBalance(ctx context.Context, userID int64, amount int) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// EnsureBalance makes sure the user has a balance row and returns the balance.
func (s *Service) EnsureBalance(ctx context.Context, userID int64) (int, error) {
	balance, err := s.store.EnsureBalance(ctx, userID)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "ensure balance", Err: err}
	}
	return balance, nil
}

// AddBalance credits amount generations and returns the new balance.
func (s *Service) AddBalance(ctx context.Context, userID int64, amount int, reason string) (int, error) {
	if err := s.validate.Var(amount, "gt=0"); err != nil {
		return 0, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	balance, err := s.store.AddBalance(ctx, userID, amount)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "add balance", Err: err}
	}
	s.paymentLog.Info("BALANCE_ADDED",
		"user_id", userID, "amount", amount, "reason", reason, "balance", balance)
	return balance, nil
}

// DeductBalance debits amount generations. It reports false, changing
// nothing, when the balance does not cover the amount.
func (s *Service) DeductBalance(ctx context.Context, userID int64, amount int) (bool, error) {
	if err := s.validate.Var(amount, "gt=0"); err != nil {
		return false, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	ok, err := s.store.DeductBalance(ctx, userID, amount)
	if err != nil {
		return false, &domain.PersistenceError{Op: "deduct balance", Err: err}
	}
	if !ok {
		slog.Info("balance deduction refused", "user_id", userID, "amount", amount)
		return false, nil
	}
	s.paymentLog.Info("BALANCE_DEDUCTED", "user_id", userID, "amount", amount)
	return true, nil
}
