// Package domain defines the core domain models for the generation bot.
package domain

// SessionStatus represents the status of a generation session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusPaid      SessionStatus = "paid"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// PaymentStatus represents the status of a recorded payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// QueueStatus represents the status of a generation queue entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// BackendErrorKind classifies failures of the image generation backend.
type BackendErrorKind string

const (
	BackendRateLimited      BackendErrorKind = "rate_limited"
	BackendAuthFailed       BackendErrorKind = "auth_failed"
	BackendModelUnavailable BackendErrorKind = "model_unavailable"
	BackendTimeout          BackendErrorKind = "timeout"
	BackendQuotaExceeded    BackendErrorKind = "quota_exceeded"
	BackendGeneric          BackendErrorKind = "generic"
)
