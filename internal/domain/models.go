package domain

import "time"

// Session is one user's in-flight generation request prior to delivery.
type Session struct {
	ID              string        `json:"id"`
	UserID          int64         `json:"user_id"`
	Images          []string      `json:"images"`
	Prompt          string        `json:"prompt"`
	Status          SessionStatus `json:"status"`
	PaymentChargeID string        `json:"payment_charge_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// IsPaid reports whether the session was funded by an invoice payment or a balance credit.
func (s *Session) IsPaid() bool {
	return s.Status == SessionStatusPaid
}

// SessionUpdate lists the mutable session fields. Nil fields are left untouched.
type SessionUpdate struct {
	Status          *SessionStatus
	PaymentChargeID *string
}

// Payment is the audit record of a completed provider transaction.
type Payment struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"session_id"`
	UserID     int64         `json:"user_id"`
	ChargeID   string        `json:"payment_charge_id"`
	Amount     int           `json:"amount"`
	Status     PaymentStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	RefundedAt *time.Time    `json:"refunded_at,omitempty"`
}

// UserBalance holds the prepaid generation credits of a user.
type UserBalance struct {
	UserID    int64     `json:"user_id"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueEntry is the durable unit of scheduled generation work.
type QueueEntry struct {
	ID           int64       `json:"id"`
	SessionID    string      `json:"session_id"`
	UserID       int64       `json:"user_id"`
	Status       QueueStatus `json:"status"`
	Priority     int         `json:"priority"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// QueueStats counts queue entries per status.
type QueueStats struct {
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Active     int  `json:"active"`
	Paused     bool `json:"paused"`
}

// Package is a prepaid bundle of generations sold for Telegram Stars.
type Package struct {
	Size  int `json:"size" yaml:"size"`
	Price int `json:"price" yaml:"price"`
}
