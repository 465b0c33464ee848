// Package telegram adapts the Telegram Bot API to the bot's messaging and payment ports.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// Currency is the Telegram Stars currency code.
const Currency = "XTR"

const maxDownloadBytes = 20 << 20

// BotAPI is the subset of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ BotAPI = (*tgbotapi.BotAPI)(nil)

// Client sends messages, invoices and refunds through the Bot API.
type Client struct {
	api             BotAPI
	httpClient      *http.Client
	invoicePhotoURL string
}

// NewClient wraps a Bot API handle.
func NewClient(api BotAPI, invoicePhotoURL string) *Client {
	return &Client{
		api:             api,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		invoicePhotoURL: invoicePhotoURL,
	}
}

// API returns the wrapped Bot API handle.
func (c *Client) API() BotAPI {
	return c.api
}

// SendText sends a plain text message to the user's private chat.
func (c *Client) SendText(ctx context.Context, userID int64, text string) error {
	_, err := c.api.Send(tgbotapi.NewMessage(userID, text))
	if err != nil {
		return fmt.Errorf("send message to %d: %w", userID, err)
	}
	return nil
}

// SendMessage sends a prepared message config.
func (c *Client) SendMessage(msg tgbotapi.MessageConfig) error {
	_, err := c.api.Send(msg)
	return err
}

// SendImage uploads a PNG with a caption.
func (c *Client) SendImage(ctx context.Context, userID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhoto(userID, tgbotapi.FileBytes{Name: "generated.png", Bytes: image})
	photo.Caption = caption
	if _, err := c.api.Send(photo); err != nil {
		return fmt.Errorf("send image to %d: %w", userID, err)
	}
	return nil
}

// DownloadImage fetches an uploaded file by its Telegram file id.
func (c *Client) DownloadImage(ctx context.Context, fileRef string) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileRef)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileRef, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileRef, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: %s", fileRef, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// Refund returns a Stars payment to the user.
func (c *Client) Refund(ctx context.Context, userID int64, chargeID string) error {
	params := tgbotapi.Params{
		"user_id":                    strconv.FormatInt(userID, 10),
		"telegram_payment_charge_id": chargeID,
	}
	if _, err := c.api.MakeRequest("refundStarPayment", params); err != nil {
		return fmt.Errorf("refundStarPayment: %w", err)
	}
	return nil
}

// SendInvoice sends a Stars invoice whose payload comes back with the payment.
func (c *Client) SendInvoice(chatID int64, title, description, payload, label string, amount int) error {
	invoice := tgbotapi.NewInvoice(chatID, title, description, payload, "", "", Currency,
		[]tgbotapi.LabeledPrice{{Label: label, Amount: amount}})
	invoice.SuggestedTipAmounts = []int{}
	if c.invoicePhotoURL != "" {
		invoice.PhotoURL = c.invoicePhotoURL
		invoice.PhotoWidth = 512
		invoice.PhotoHeight = 512
	}
	if _, err := c.api.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

// AnswerPreCheckout confirms or rejects a pending checkout.
func (c *Client) AnswerPreCheckout(queryID string, ok bool, errorMessage string) error {
	_, err := c.api.Request(tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	})
	return err
}

// AnswerCallback acknowledges an inline button press.
func (c *Client) AnswerCallback(queryID, text string) error {
	_, err := c.api.Request(tgbotapi.NewCallback(queryID, text))
	return err
}

// PackageKeyboard lists the prepaid bundles as inline buttons tied to a session.
func PackageKeyboard(sessionID string, packages []domain.Package) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(packages))
	for _, p := range packages {
		text := fmt.Sprintf("%d generations for %d ⭐", p.Size, p.Price)
		if p.Size == 1 {
			text = fmt.Sprintf("1 generation for %d ⭐", p.Price)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(text, PackagePayload(sessionID, p.Size)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
