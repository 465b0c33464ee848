package imagegen

import (
	"log/slog"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/config"
)

// NewImageGenerator creates an image client based on the configured mode.
// In mock mode it returns a MockClient; otherwise a real Client.
func NewImageGenerator(cfg *config.Config) ImageGenerator {
	if cfg.MockMode() {
		slog.Info("BOT_MODE=MOCK detected, using mock image client")
		return NewMockClient(500 * time.Millisecond)
	}
	return NewClient(cfg.ImageAPIURL, cfg.ImageAPIKey, cfg.ImageModel, cfg.ImageSize, cfg.GenerationTimeout)
}
