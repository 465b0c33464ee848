package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/RuKapSan/OpenAITGBot/internal/adapter/imagegen"
	tgclient "github.com/RuKapSan/OpenAITGBot/internal/adapter/telegram"
	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/logging"
	"github.com/RuKapSan/OpenAITGBot/internal/repository"
	"github.com/RuKapSan/OpenAITGBot/internal/service"
	httptransport "github.com/RuKapSan/OpenAITGBot/internal/transport/http"
	"github.com/RuKapSan/OpenAITGBot/internal/transport/telegram"
	"github.com/RuKapSan/OpenAITGBot/policy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("starting bot",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"test_mode", cfg.TestMode,
		"mock_mode", cfg.MockMode(),
		"concurrency", cfg.ConcurrentLimit)

	paymentLog, paymentLogCloser := logging.NewPaymentLogger(cfg.PaymentLogPath)
	defer paymentLogCloser.Close()

	// Migrations run here; a failure is fatal.
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	var (
		messenger service.Messenger
		provider  service.PaymentProvider
		client    *tgclient.Client
	)
	if cfg.BotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("connect to telegram: %w", err)
		}
		slog.Info("authorized on telegram", "username", api.Self.UserName)
		client = tgclient.NewClient(api, cfg.InvoicePhotoURL)
		messenger, provider = client, client
	} else {
		slog.Warn("no bot token in mock mode, messages and refunds are only logged")
		messenger, provider = tgclient.LogClient{}, tgclient.LogClient{}
	}

	svc := service.New(db, messenger, imagegen.NewImageGenerator(cfg), provider, cfg, paymentLog)
	if err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	go svc.RunStaleMonitor(ctx)

	if client != nil {
		go telegram.NewHandler(svc, client, policyEngine).Run(ctx)
	}

	server := httptransport.NewAdminServer(svc, cfg.AdminAPIToken)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin API stopped", "error", err)
			stop()
		}
	}()
	slog.Info("admin API started", "port", cfg.HTTPPort)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to shut down admin API gracefully", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("generation queue did not stop cleanly", "error", err)
	}

	slog.Info("bot stopped")
	return nil
}
