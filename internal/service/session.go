package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const sessionIDBytes = 32

func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateSession validates the request and stores a pending session.
// Pending sessions older than the configured expiry are swept first.
func (s *Service) CreateSession(ctx context.Context, userID int64, images []string, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if images == nil {
		images = []string{}
	}
	if err := s.validateSession(userID, images, prompt); err != nil {
		return "", err
	}

	if s.config.SessionExpire > 0 {
		n, err := s.store.DeleteExpiredSessions(ctx, time.Now().Add(-s.config.SessionExpire))
		if err != nil {
			slog.Warn("expired session sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("expired sessions removed", "count", n)
		}
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	session := &domain.Session{
		ID:        id,
		UserID:    userID,
		Images:    images,
		Prompt:    prompt,
		Status:    domain.SessionStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", &domain.PersistenceError{Op: "create session", Err: err}
	}
	slog.Debug("session created", "session_id", id, "user_id", userID, "images", len(images))
	return id, nil
}

func (s *Service) validateSession(userID int64, images []string, prompt string) error {
	if err := s.validate.Var(userID, "gt=0"); err != nil {
		return &domain.ValidationError{Field: "user_id", Message: "must be positive"}
	}
	rule := fmt.Sprintf("min=%d,max=%d", s.config.MinPromptLength, s.config.MaxPromptLength)
	if err := s.validate.Var(prompt, rule); err != nil {
		return &domain.ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("length must be between %d and %d characters", s.config.MinPromptLength, s.config.MaxPromptLength),
		}
	}
	if err := s.validate.Var(images, fmt.Sprintf("max=%d,dive,required", s.config.MaxImages)); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			return &domain.ValidationError{Field: "images", Message: "empty image reference"}
		}
		return &domain.ValidationError{
			Field:   "images",
			Message: fmt.Sprintf("at most %d images are allowed", s.config.MaxImages),
		}
	}
	return nil
}

// GetSession returns the session or nil when it does not exist.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get session", Err: err}
	}
	return session, nil
}

// UpdateSession changes the mutable fields of a session.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error {
	ok, err := s.store.UpdateSession(ctx, sessionID, update)
	if err != nil {
		return &domain.PersistenceError{Op: "update session", Err: err}
	}
	if !ok && (update.Status != nil || update.PaymentChargeID != nil) {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session. Queue entries and payments are kept.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return &domain.PersistenceError{Op: "delete session", Err: err}
	}
	return nil
}

// SessionExpired reports whether a pending session is past its expiry or gone.
func (s *Service) SessionExpired(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil {
		return true, nil
	}
	if s.config.SessionExpire <= 0 || session.Status != domain.SessionStatusPending {
		return false, nil
	}
	return time.Since(session.CreatedAt) > s.config.SessionExpire, nil
}

func statusPtr(s domain.SessionStatus) *domain.SessionStatus { return &s }
