package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/logging"
	"github.com/RuKapSan/OpenAITGBot/internal/repository"
	"github.com/RuKapSan/OpenAITGBot/tests/helpers"
)

type fakeMessenger struct {
	mu          sync.Mutex
	texts       map[int64][]string
	images      map[int64]int
	downloadErr error
	sendErr     error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{texts: make(map[int64][]string), images: make(map[int64]int)}
}

func (m *fakeMessenger) SendText(ctx context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[userID] = append(m.texts[userID], text)
	return nil
}

func (m *fakeMessenger) SendImage(ctx context.Context, userID int64, image []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.images[userID]++
	return nil
}

func (m *fakeMessenger) DownloadImage(ctx context.Context, fileRef string) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	return []byte("img:" + fileRef), nil
}

func (m *fakeMessenger) Texts(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts[userID]...)
}

func (m *fakeMessenger) Images(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[userID]
}

func (m *fakeMessenger) HasText(userID int64, substr string) bool {
	for _, t := range m.Texts(userID) {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

type fakeGenerator struct {
	fn func(ctx context.Context, prompt string, images [][]byte) ([]byte, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
	if g.fn == nil {
		return []byte("png"), nil
	}
	return g.fn(ctx, prompt, images)
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration

	// Refunds of holdCharge close entered and wait for release.
	holdCharge string
	entered    chan struct{}
	release    chan struct{}
}

func (p *fakeProvider) Refund(ctx context.Context, userID int64, chargeID string) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.holdCharge != "" && chargeID == p.holdCharge {
		close(p.entered)
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var errProviderDown = errors.New("provider unavailable")

type testEnv struct {
	svc       *Service
	store     *store.SQLiteStore
	messenger *fakeMessenger
	generator *fakeGenerator
	provider  *fakeProvider
	cfg       *config.Config
}

func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.ConcurrentLimit = 2
	cfg.QueuePollInterval = 10 * time.Millisecond
	cfg.GenerationTimeout = 2 * time.Second
	cfg.StaleSweepInterval = 0
	return cfg
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := newTestConfig()
	for _, f := range tweak {
		f(cfg)
	}
	env := &testEnv{
		store:     helpers.NewTestSQLiteStore(t),
		messenger: newFakeMessenger(),
		generator: &fakeGenerator{},
		provider:  &fakeProvider{},
		cfg:       cfg,
	}
	env.svc = New(env.store, env.messenger, env.generator, env.provider, cfg, logging.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.svc.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) newSession(t *testing.T, userID int64) string {
	t.Helper()
	id, err := e.svc.CreateSession(context.Background(), userID, []string{"file-1"}, "a lighthouse at dusk")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return id
}
