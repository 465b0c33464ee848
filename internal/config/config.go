// Package config provides configuration for the generation bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const (
	// EnvBotMode selects the backend mode.
	EnvBotMode = "BOT_MODE"
	// ModeMock swaps real backends for in-process fakes.
	ModeMock = "MOCK"
)

// Config holds the bot configuration.
type Config struct {
	// Telegram
	BotToken        string `yaml:"bot_token"`
	AdminID         int64  `yaml:"admin_id"`
	TestMode        bool   `yaml:"test_mode"`
	InvoicePhotoURL string `yaml:"invoice_photo_url"`

	// Pricing, in Telegram Stars
	GenerationPrice int              `yaml:"generation_price"`
	Packages        []domain.Package `yaml:"-"`

	// Request limits
	MaxImages       int `yaml:"max_images"`
	MinPromptLength int `yaml:"min_prompt_length"`
	MaxPromptLength int `yaml:"max_prompt_length"`

	// Queue
	ConcurrentLimit    int           `yaml:"concurrent_limit"`
	SessionExpire      time.Duration `yaml:"session_expire"`
	StaleTimeout       time.Duration `yaml:"stale_timeout"`
	StaleSweepInterval time.Duration `yaml:"stale_sweep_interval"`
	FinishedRetention  time.Duration `yaml:"finished_retention"`
	QueuePollInterval  time.Duration `yaml:"queue_poll_interval"`
	GenerationTimeout  time.Duration `yaml:"generation_timeout"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Image backend
	ImageAPIURL string `yaml:"image_api_url"`
	ImageAPIKey string `yaml:"image_api_key"`
	ImageModel  string `yaml:"image_model"`
	ImageSize   string `yaml:"image_size"`

	// Admin API
	HTTPPort      int    `yaml:"http_port"`
	AdminAPIToken string `yaml:"admin_api_token"`

	// Logging
	LogLevel       string `yaml:"log_level"`
	PaymentLogPath string `yaml:"payment_log_path"`

	Mode string `yaml:"mode"`
}

// DefaultPackages is the static table of prepaid bundles.
var DefaultPackages = []domain.Package{
	{Size: 1, Price: 20},
	{Size: 5, Price: 90},
	{Size: 10, Price: 160},
	{Size: 20, Price: 280},
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		GenerationPrice:    20,
		Packages:           DefaultPackages,
		MaxImages:          3,
		MinPromptLength:    3,
		MaxPromptLength:    1000,
		ConcurrentLimit:    5,
		SessionExpire:      60 * time.Minute,
		StaleTimeout:       30 * time.Minute,
		StaleSweepInterval: 5 * time.Minute,
		FinishedRetention:  7 * 24 * time.Hour,
		QueuePollInterval:  time.Second,
		GenerationTimeout:  180 * time.Second,
		DatabaseURL:        "file:bot.db?_busy_timeout=5000&_txlock=immediate",
		ImageAPIURL:        "https://api.openai.com/v1",
		ImageModel:         "gpt-image-1",
		ImageSize:          "1024x1024",
		HTTPPort:           8080,
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BotToken = getEnv("BOT_TOKEN", c.BotToken)
	c.AdminID = getEnvInt64("ADMIN_ID", c.AdminID)
	c.TestMode = getEnvBool("TEST_MODE", c.TestMode)
	c.InvoicePhotoURL = getEnv("INVOICE_PHOTO_URL", c.InvoicePhotoURL)
	c.GenerationPrice = getEnvInt("GENERATION_PRICE", c.GenerationPrice)
	c.MaxImages = getEnvInt("MAX_IMAGES_PER_REQUEST", c.MaxImages)
	c.MinPromptLength = getEnvInt("MIN_PROMPT_LENGTH", c.MinPromptLength)
	c.MaxPromptLength = getEnvInt("MAX_PROMPT_LENGTH", c.MaxPromptLength)
	c.ConcurrentLimit = getEnvInt("IMAGE_CONCURRENT_LIMIT", c.ConcurrentLimit)
	c.SessionExpire = getEnvDuration("SESSION_EXPIRE_MINUTES", time.Minute, c.SessionExpire)
	c.StaleTimeout = getEnvDuration("STALE_TIMEOUT_MINUTES", time.Minute, c.StaleTimeout)
	c.StaleSweepInterval = getEnvDuration("STALE_SWEEP_INTERVAL_SECONDS", time.Second, c.StaleSweepInterval)
	c.FinishedRetention = getEnvDuration("FINISHED_RETENTION_HOURS", time.Hour, c.FinishedRetention)
	c.QueuePollInterval = getEnvDuration("QUEUE_POLL_INTERVAL_MS", time.Millisecond, c.QueuePollInterval)
	c.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT_SECONDS", time.Second, c.GenerationTimeout)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.ImageAPIURL = getEnv("IMAGE_API_URL", c.ImageAPIURL)
	c.ImageAPIKey = getEnv("IMAGE_API_KEY", c.ImageAPIKey)
	c.ImageModel = getEnv("IMAGE_MODEL", c.ImageModel)
	c.ImageSize = getEnv("IMAGE_SIZE", c.ImageSize)
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.AdminAPIToken = getEnv("ADMIN_API_TOKEN", c.AdminAPIToken)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PaymentLogPath = getEnv("PAYMENT_LOG_PATH", c.PaymentLogPath)
	c.Mode = strings.ToUpper(getEnv(EnvBotMode, c.Mode))
}

// MockMode reports whether in-process fakes replace Telegram and the image API.
func (c *Config) MockMode() bool {
	return c.Mode == ModeMock
}

// Package returns the bundle with the given size.
func (c *Config) Package(size int) (domain.Package, bool) {
	for _, p := range c.Packages {
		if p.Size == size {
			return p, true
		}
	}
	return domain.Package{}, false
}

// Validate rejects configurations the bot cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" && !c.MockMode() {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.GenerationPrice <= 0 {
		errs = append(errs, errors.New("GENERATION_PRICE must be positive"))
	}
	if c.MaxImages < 0 {
		errs = append(errs, errors.New("MAX_IMAGES_PER_REQUEST must not be negative"))
	}
	if c.MinPromptLength < 1 || c.MaxPromptLength < c.MinPromptLength {
		errs = append(errs, fmt.Errorf("invalid prompt length bounds [%d, %d]", c.MinPromptLength, c.MaxPromptLength))
	}
	if c.ConcurrentLimit < 1 {
		errs = append(errs, errors.New("IMAGE_CONCURRENT_LIMIT must be at least 1"))
	}
	if c.QueuePollInterval <= 0 {
		errs = append(errs, errors.New("QUEUE_POLL_INTERVAL_MS must be positive"))
	}
	if c.StaleTimeout <= 0 {
		errs = append(errs, errors.New("STALE_TIMEOUT_MINUTES must be positive"))
	} else if c.StaleTimeout <= c.GenerationTimeout {
		errs = append(errs, fmt.Errorf("STALE_TIMEOUT_MINUTES (%s) must exceed GENERATION_TIMEOUT_SECONDS (%s)",
			c.StaleTimeout, c.GenerationTimeout))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, unit time.Duration, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return time.Duration(intVal) * unit
		}
	}
	return defaultVal
}
