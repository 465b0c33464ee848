package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
	"github.com/RuKapSan/OpenAITGBot/internal/service"
	"github.com/RuKapSan/OpenAITGBot/policy"
)

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		if _, err := h.svc.EnsureBalance(ctx, userID); err != nil {
			h.reply(ctx, chatID, service.UserMessage(err))
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf(textHelp, h.cfg.MaxImages, h.cfg.GenerationPrice))
	case "generate":
		h.startDraft(userID)
		h.reply(ctx, chatID, fmt.Sprintf(textGenerate, h.cfg.MaxImages))
	case "cancel":
		h.takeDraft(userID)
		h.reply(ctx, chatID, textCancelled)
	case "balance":
		balance, err := h.svc.GetBalance(ctx, userID)
		if err != nil {
			h.reply(ctx, chatID, service.UserMessage(err))
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf(textBalance, balance))
	case "buy":
		h.sendPackageOffer(chatID, "", textBuy)
	case "status":
		h.handleStatus(ctx, userID, chatID)
	case "paysupport":
		h.handlePaySupport(ctx, userID, chatID)
	case "refund", "pause", "resume", "queue", "addbalance":
		h.handleAdmin(ctx, msg.Command(), userID, chatID, args)
	default:
		h.reply(ctx, chatID, textUnknown)
	}
}

func (h *Handler) handleStatus(ctx context.Context, userID, chatID int64) {
	entries, err := h.svc.UserQueueEntries(ctx, userID)
	if err != nil {
		h.reply(ctx, chatID, service.UserMessage(err))
		return
	}
	if len(entries) == 0 {
		h.reply(ctx, chatID, textStatusEmpty)
		return
	}
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		line := textStatusRunning
		if e.Status == domain.QueueStatusPending {
			if pos, ok, err := h.svc.Position(ctx, e.SessionID); err == nil && ok {
				line = fmt.Sprintf(textStatusPending, pos)
			}
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, line))
	}
	h.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (h *Handler) handlePaySupport(ctx context.Context, userID, chatID int64) {
	payments, err := h.svc.UserPayments(ctx, userID, 5)
	if err != nil {
		h.reply(ctx, chatID, service.UserMessage(err))
		return
	}
	if len(payments) == 0 {
		h.reply(ctx, chatID, textPaySupport+"\n\n"+textNoPayments)
		return
	}
	var b strings.Builder
	b.WriteString(textPaySupport)
	b.WriteString("\n")
	for _, p := range payments {
		fmt.Fprintf(&b, "\n%s  %d ⭐  %s  %s", p.CreatedAt.Format("2006-01-02 15:04"), p.Amount, p.Status, p.ChargeID)
	}
	h.reply(ctx, chatID, b.String())
}

// handleAdmin runs an administrative command after the policy allows it.
func (h *Handler) handleAdmin(ctx context.Context, command string, userID, chatID int64, args []string) {
	req := policy.Request{Command: command, UserID: userID, AdminID: h.cfg.AdminID}
	if command == "addbalance" && len(args) == 2 {
		req.Amount, _ = strconv.Atoi(args[1])
	}
	if !h.authorize(ctx, chatID, req) {
		return
	}

	switch command {
	case "pause":
		h.svc.Pause()
		h.reply(ctx, chatID, textPaused)
	case "resume":
		h.svc.Resume()
		h.reply(ctx, chatID, textResumed)
	case "queue":
		stats, err := h.svc.QueueStats(ctx)
		if err != nil {
			h.reply(ctx, chatID, service.UserMessage(err))
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf(textQueueStats,
			stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.Active, stats.Paused))
	case "refund":
		target, ok := parseUserID(args, 2)
		if !ok {
			h.reply(ctx, chatID, fmt.Sprintf(textUsage, "/refund <user_id> <charge_id>"))
			return
		}
		result, err := h.svc.Refund(ctx, target, args[1])
		if err != nil {
			h.reply(ctx, chatID, err.Error())
			return
		}
		if result.AlreadyRefunded {
			h.reply(ctx, chatID, fmt.Sprintf(textRefundAgain, args[1]))
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf(textRefundDone, args[1]))
	case "addbalance":
		target, ok := parseUserID(args, 2)
		if !ok || req.Amount <= 0 {
			h.reply(ctx, chatID, fmt.Sprintf(textUsage, "/addbalance <user_id> <amount>"))
			return
		}
		balance, err := h.svc.AddBalance(ctx, target, req.Amount, fmt.Sprintf("admin %d", userID))
		if err != nil {
			h.reply(ctx, chatID, err.Error())
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf(textGranted, target, balance))
	}
}

func (h *Handler) authorize(ctx context.Context, chatID int64, req policy.Request) bool {
	if h.policy == nil {
		h.reply(ctx, chatID, fmt.Sprintf(textDenied, "no policy"))
		return false
	}
	decision, err := h.policy.Authorize(ctx, req)
	if err != nil {
		h.reply(ctx, chatID, service.MsgGenericError)
		return false
	}
	if !decision.Allow {
		h.reply(ctx, chatID, fmt.Sprintf(textDenied, decision.Reason))
		return false
	}
	return true
}

func parseUserID(args []string, want int) (int64, bool) {
	if len(args) != want {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
