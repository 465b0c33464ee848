package service

import (
	"errors"
	"fmt"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// User-facing texts.
const (
	MsgImageReady       = "Your image is ready."
	MsgRefunded         = "Generation failed, your payment has been refunded."
	MsgCreditReturned   = "Generation failed, the generation credit was returned to your balance."
	MsgAlreadyQueued    = "This request is already in the queue."
	MsgDuplicatePayment = "This payment was already processed."
	MsgNoBalance        = "You have no prepaid generations left."
	MsgSessionExpired   = "This request has expired. Please start a new one with /generate."
	MsgGenericError     = "Something went wrong while generating your image. Please try again later."
	MsgStorageError     = "A temporary storage error occurred. Please try again later."
)

var backendMessages = map[domain.BackendErrorKind]string{
	domain.BackendRateLimited:      "The image service is overloaded right now. Please try again in a few minutes.",
	domain.BackendAuthFailed:       "The image service rejected our credentials. The administrator has been notified.",
	domain.BackendModelUnavailable: "The image model is temporarily unavailable. Please try again later.",
	domain.BackendTimeout:          "Image generation took too long and was cancelled.",
	domain.BackendQuotaExceeded:    "The image service quota is exhausted. Please try again later.",
	domain.BackendGeneric:          MsgGenericError,
}

// UserMessage maps an error to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *domain.ValidationError
	var berr *domain.BackendError
	var rerr *domain.RefundError
	var perr *domain.PersistenceError

	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("Invalid request: %s.", verr.Error())
	case errors.As(err, &rerr):
		return fmt.Sprintf("Generation failed and the automatic refund did not go through. "+
			"Please contact /paysupport with payment id %s.", rerr.ChargeID)
	case errors.As(err, &berr):
		if msg, ok := backendMessages[berr.Kind]; ok {
			return msg
		}
		return MsgGenericError
	case errors.Is(err, domain.ErrNotFound):
		return MsgSessionExpired
	case errors.Is(err, domain.ErrAlreadyQueued):
		return MsgAlreadyQueued
	case errors.Is(err, domain.ErrDuplicatePayment):
		return MsgDuplicatePayment
	case errors.Is(err, domain.ErrInsufficientBalance):
		return MsgNoBalance
	case errors.As(err, &perr):
		return MsgStorageError
	default:
		return MsgGenericError
	}
}
