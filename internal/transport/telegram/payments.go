package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	tgclient "github.com/RuKapSan/OpenAITGBot/internal/adapter/telegram"
	"github.com/RuKapSan/OpenAITGBot/internal/domain"
	"github.com/RuKapSan/OpenAITGBot/internal/service"
)

// handleCallback turns a package button into an invoice.
func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	sessionID, size, ok := tgclient.ParsePackagePayload(q.Data)
	pkg, known := h.cfg.Package(size)
	if !ok || !known {
		_ = h.client.AnswerCallback(q.ID, textUnknownPackage)
		return
	}
	if sessionID != "" {
		if expired, err := h.svc.SessionExpired(ctx, sessionID); err == nil && expired {
			_ = h.client.AnswerCallback(q.ID, service.MsgSessionExpired)
			return
		}
	}
	if err := h.client.AnswerCallback(q.ID, ""); err != nil {
		slog.Warn("failed to answer callback", "error", err)
	}

	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	if err := h.client.SendInvoice(chatID,
		fmt.Sprintf(textPackageTitle, pkg.Size),
		fmt.Sprintf(textPackageDescription, pkg.Size),
		q.Data, textInvoiceLabel, pkg.Price); err != nil {
		slog.Error("failed to send package invoice", "user_id", q.From.ID, "error", err)
		h.reply(ctx, chatID, service.MsgGenericError)
	}
}

// expectedAmount returns what an invoice payload should cost.
// Package purchases are accepted without a session.
func (h *Handler) expectedAmount(ctx context.Context, payload string) (int, error) {
	sessionID, price := payload, h.cfg.GenerationPrice
	if id, size, ok := tgclient.ParsePackagePayload(payload); ok {
		pkg, known := h.cfg.Package(size)
		if !known {
			return 0, errors.New(textUnknownPackage)
		}
		if id == "" {
			return pkg.Price, nil
		}
		sessionID, price = id, pkg.Price
	}
	expired, err := h.svc.SessionExpired(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if expired {
		return 0, errors.New(service.MsgSessionExpired)
	}
	return price, nil
}

func (h *Handler) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	reject := func(reason string) {
		slog.Info("pre-checkout rejected", "user_id", q.From.ID, "payload", q.InvoicePayload, "reason", reason)
		if err := h.client.AnswerPreCheckout(q.ID, false, reason); err != nil {
			slog.Warn("failed to answer pre-checkout", "error", err)
		}
	}

	if q.Currency != tgclient.Currency {
		reject("unsupported currency")
		return
	}
	amount, err := h.expectedAmount(ctx, q.InvoicePayload)
	if err != nil {
		var perr *domain.PersistenceError
		if errors.As(err, &perr) {
			reject(service.MsgStorageError)
			return
		}
		reject(err.Error())
		return
	}
	if q.TotalAmount != amount {
		reject("price changed, please request a new invoice")
		return
	}
	if err := h.client.AnswerPreCheckout(q.ID, true, ""); err != nil {
		slog.Warn("failed to answer pre-checkout", "error", err)
	}
}

func (h *Handler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	p := msg.SuccessfulPayment
	userID, chatID := msg.From.ID, msg.Chat.ID
	slog.Info("successful payment received",
		"user_id", userID, "charge_id", p.TelegramPaymentChargeID, "amount", p.TotalAmount, "payload", p.InvoicePayload)

	if sessionID, size, ok := tgclient.ParsePackagePayload(p.InvoicePayload); ok {
		_, err := h.svc.PurchasePackage(ctx, userID, sessionID, size, p.TelegramPaymentChargeID, p.TotalAmount)
		balance, _ := h.svc.GetBalance(ctx, userID)
		switch {
		case err == nil:
			h.reply(ctx, chatID, fmt.Sprintf(textPackageAdded, size, balance))
			if sessionID != "" {
				h.replyQueued(ctx, chatID, sessionID)
			}
		case errors.Is(err, domain.ErrNotFound):
			h.reply(ctx, chatID, fmt.Sprintf(textPackageExpired, size, balance))
		default:
			h.reply(ctx, chatID, service.UserMessage(err))
		}
		return
	}

	sessionID := p.InvoicePayload
	if _, err := h.svc.StartPaid(ctx, sessionID, userID, p.TelegramPaymentChargeID, p.TotalAmount); err != nil {
		h.reply(ctx, chatID, service.UserMessage(err))
		return
	}
	h.replyQueued(ctx, chatID, sessionID)
}
