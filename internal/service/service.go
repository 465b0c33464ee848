package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/repository"
)

// Messenger delivers text and images to users and fetches their uploads.
type Messenger interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendImage(ctx context.Context, userID int64, image []byte, caption string) error
	DownloadImage(ctx context.Context, fileRef string) ([]byte, error)
}

// Generator produces an image from a prompt and optional reference images.
// Failures are *domain.BackendError values.
type Generator interface {
	Generate(ctx context.Context, prompt string, images [][]byte) ([]byte, error)
}

// PaymentProvider returns money for a provider charge.
type PaymentProvider interface {
	Refund(ctx context.Context, userID int64, chargeID string) error
}

type Service struct {
	store      store.Store
	messenger  Messenger
	generator  Generator
	payments   PaymentProvider
	config     *config.Config
	validate   *validator.Validate
	paymentLog *slog.Logger

	limiter *semaphore.Weighted
	refunds chargeLocks

	// queue runtime state
	mu           sync.Mutex
	rootCtx      context.Context
	rootCancel   context.CancelFunc
	workerCancel context.CancelFunc
	workerDone   chan struct{}
	active       map[string]context.CancelFunc
	tasks        sync.WaitGroup
	paused       atomic.Bool
	closed       bool
}

func New(store store.Store, messenger Messenger, generator Generator, payments PaymentProvider, cfg *config.Config, paymentLog *slog.Logger) *Service {
	if paymentLog == nil {
		paymentLog = slog.Default()
	}
	limit := cfg.ConcurrentLimit
	if limit < 1 {
		limit = 1
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		messenger:  messenger,
		generator:  generator,
		payments:   payments,
		config:     cfg,
		validate:   validator.New(),
		paymentLog: paymentLog,
		limiter:    semaphore.NewWeighted(int64(limit)),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		active:     make(map[string]context.CancelFunc),
	}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config {
	return s.config
}
