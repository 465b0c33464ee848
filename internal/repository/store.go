// Package store defines the storage interface and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Payment operations
	CreatePayment(ctx context.Context, payment *domain.Payment) (int64, error)
	GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error)
	GetPaymentByChargeID(ctx context.Context, chargeID string) (*domain.Payment, error)
	MarkPaymentRefunded(ctx context.Context, paymentID int64) (bool, error)
	ListUserPayments(ctx context.Context, userID int64, limit int) ([]domain.Payment, error)

	// Balance operations
	GetBalance(ctx context.Context, userID int64) (int, error)
	EnsureBalance(ctx context.Context, userID int64) (int, error)
	AddBalance(ctx context.Context, userID int64, amount int) (int, error)
	DeductBalance(ctx context.Context, userID int64, amount int) (bool, error)

	// Queue operations
	Enqueue(ctx context.Context, sessionID string, userID int64, priority int) (int64, error)
	GetQueueEntry(ctx context.Context, queueID int64) (*domain.QueueEntry, error)
	GetQueueEntryBySession(ctx context.Context, sessionID string) (*domain.QueueEntry, error)
	ClaimNext(ctx context.Context) (*domain.QueueEntry, error)
	UpdateQueueStatus(ctx context.Context, queueID int64, status domain.QueueStatus, errMsg string) (bool, error)
	QueuePosition(ctx context.Context, sessionID string) (int, bool, error)
	CountQueue(ctx context.Context) (map[domain.QueueStatus]int, error)
	ListUserQueueEntries(ctx context.Context, userID int64) ([]domain.QueueEntry, error)
	ReclaimStale(ctx context.Context, startedBefore time.Time, reason string) ([]domain.QueueEntry, error)
	PurgeFinished(ctx context.Context, completedBefore time.Time) (int64, error)

	// Lifecycle
	Close() error
}
