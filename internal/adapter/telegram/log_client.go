package telegram

import (
	"context"
	"errors"
	"log/slog"
)

// LogClient stands in for Telegram when the bot runs without a token in mock mode.
// Messages are logged and refunds always succeed.
type LogClient struct{}

func (LogClient) SendText(ctx context.Context, userID int64, text string) error {
	slog.Info("mock message", "user_id", userID, "text", text)
	return nil
}

func (LogClient) SendImage(ctx context.Context, userID int64, image []byte, caption string) error {
	slog.Info("mock image", "user_id", userID, "bytes", len(image), "caption", caption)
	return nil
}

func (LogClient) DownloadImage(ctx context.Context, fileRef string) ([]byte, error) {
	return nil, errors.New("mock client cannot download files")
}

func (LogClient) Refund(ctx context.Context, userID int64, chargeID string) error {
	slog.Info("mock refund", "user_id", userID, "charge_id", chargeID)
	return nil
}
