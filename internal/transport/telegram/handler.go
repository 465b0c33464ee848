// Package telegram routes Telegram updates to the bot service.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	tgclient "github.com/RuKapSan/OpenAITGBot/internal/adapter/telegram"
	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/service"
	"github.com/RuKapSan/OpenAITGBot/policy"
)

const pollTimeout = 30

// draft is what a user has sent since /generate.
type draft struct {
	images []string
}

// Handler consumes Telegram updates.
type Handler struct {
	svc    *service.Service
	client *tgclient.Client
	policy *policy.Engine
	cfg    *config.Config

	mu     sync.Mutex
	drafts map[int64]*draft
}

// NewHandler creates a new update handler. A nil policy engine denies every admin command.
func NewHandler(svc *service.Service, client *tgclient.Client, engine *policy.Engine) *Handler {
	return &Handler{
		svc:    svc,
		client: client,
		policy: engine,
		cfg:    svc.Config(),
		drafts: make(map[int64]*draft),
	}
}

// Run long-polls for updates until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	api := h.client.API()
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}
	updates := api.GetUpdatesChan(u)
	slog.Info("telegram update loop started")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			slog.Info("telegram update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. Panics are logged and swallowed so
// a single bad update cannot stop the loop.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling update", "update_id", update.UpdateID, "panic", fmt.Sprint(r))
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		h.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		switch {
		case msg.SuccessfulPayment != nil:
			h.handleSuccessfulPayment(ctx, msg)
		case msg.IsCommand():
			h.handleCommand(ctx, msg)
		case len(msg.Photo) > 0:
			h.handlePhoto(ctx, msg)
		case msg.Text != "":
			h.handlePrompt(ctx, msg.From.ID, msg.Chat.ID, msg.Text)
		}
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.client.SendText(ctx, chatID, text); err != nil {
		slog.Warn("failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) startDraft(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drafts[userID] = &draft{}
}

// takeDraft removes and returns the user's collected images.
func (h *Handler) takeDraft(userID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.drafts[userID]
	if !ok {
		return nil
	}
	delete(h.drafts, userID)
	return d.images
}

// addImage appends an image to the user's draft, opening one if needed.
// It returns the new count, or false when the draft is full.
func (h *Handler) addImage(userID int64, fileID string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.drafts[userID]
	if !ok {
		d = &draft{}
		h.drafts[userID] = d
	}
	if len(d.images) >= h.cfg.MaxImages {
		return len(d.images), false
	}
	d.images = append(d.images, fileID)
	return len(d.images), true
}

func (h *Handler) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	n, ok := h.addImage(userID, largestPhoto(msg.Photo))
	if !ok {
		h.reply(ctx, msg.Chat.ID, fmt.Sprintf(textTooManyImages, h.cfg.MaxImages))
		return
	}
	if msg.Caption != "" {
		h.handlePrompt(ctx, userID, msg.Chat.ID, msg.Caption)
		return
	}
	h.reply(ctx, msg.Chat.ID, fmt.Sprintf(textImageAdded, n, h.cfg.MaxImages))
}

func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best.FileID
}

// handlePrompt turns the user's draft and prompt into a session and starts
// it the cheapest way available: free in test mode, from the balance, or
// through an invoice.
func (h *Handler) handlePrompt(ctx context.Context, userID, chatID int64, prompt string) {
	images := h.takeDraft(userID)
	sessionID, err := h.svc.CreateSession(ctx, userID, images, prompt)
	if err != nil {
		h.reply(ctx, chatID, service.UserMessage(err))
		return
	}

	if h.cfg.TestMode {
		h.reply(ctx, chatID, textTestMode)
		go func() {
			if err := h.svc.GenerateDirect(ctx, sessionID); err != nil {
				slog.Warn("test mode generation failed", "session_id", sessionID, "error", err)
			}
		}()
		return
	}

	hasBalance, err := h.svc.HasBalance(ctx, userID, 1)
	if err != nil {
		h.reply(ctx, chatID, service.UserMessage(err))
		return
	}
	if hasBalance {
		if _, err := h.svc.StartFromBalance(ctx, sessionID); err != nil {
			h.reply(ctx, chatID, service.UserMessage(err))
			return
		}
		balance, _ := h.svc.GetBalance(ctx, userID)
		h.reply(ctx, chatID, fmt.Sprintf(textPaidFromBalance, balance))
		h.replyQueued(ctx, chatID, sessionID)
		return
	}

	if err := h.client.SendInvoice(chatID, textInvoiceTitle, textInvoiceDescription, sessionID,
		textInvoiceLabel, h.cfg.GenerationPrice); err != nil {
		slog.Error("failed to send invoice", "session_id", sessionID, "error", err)
		h.reply(ctx, chatID, service.MsgGenericError)
		return
	}
	h.sendPackageOffer(chatID, sessionID, textPackageOffer)
}

func (h *Handler) sendPackageOffer(chatID int64, sessionID, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgclient.PackageKeyboard(sessionID, h.cfg.Packages)
	if err := h.client.SendMessage(msg); err != nil {
		slog.Warn("failed to send package offer", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) replyQueued(ctx context.Context, chatID int64, sessionID string) {
	pos, ok, err := h.svc.Position(ctx, sessionID)
	if err != nil || !ok {
		h.reply(ctx, chatID, textProcessing)
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf(textQueued, pos))
}
