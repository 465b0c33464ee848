package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

func entryStatus(t *testing.T, env *testEnv, sessionID string) domain.QueueStatus {
	t.Helper()
	entry, err := env.store.GetQueueEntryBySession(context.Background(), sessionID)
	require.NoError(t, err)
	if entry == nil {
		return ""
	}
	return entry.Status
}

func TestWorkerDeliversAndDeletesSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sessionID := env.newSession(t, 21)
	_, err := env.svc.AddBalance(ctx, 21, 1, "test")
	require.NoError(t, err)

	_, err = env.svc.StartFromBalance(ctx, sessionID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return entryStatus(t, env, sessionID) == domain.QueueStatusCompleted
	}, waitFor, tick)

	assert.Equal(t, 1, env.messenger.Images(21))
	require.Eventually(t, func() bool {
		session, err := env.svc.GetSession(ctx, sessionID)
		return err == nil && session == nil
	}, waitFor, tick)

	entry, _ := env.store.GetQueueEntryBySession(ctx, sessionID)
	assert.NotNil(t, entry.StartedAt)
	assert.NotNil(t, entry.CompletedAt)
}

func TestWorkerFailureWithFailingRefundKeepsPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.provider.err = errProviderDown
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		return nil, domain.NewBackendError(domain.BackendTimeout, context.DeadlineExceeded)
	}
	sessionID := env.newSession(t, 22)

	_, err := env.svc.StartPaid(ctx, sessionID, 22, "ch_t", 20)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.messenger.HasText(22, "ch_t")
	}, waitFor, tick)

	assert.Equal(t, domain.QueueStatusFailed, entryStatus(t, env, sessionID))
	assert.True(t, env.messenger.HasText(22, "took too long"))

	payment, err := env.store.GetPaymentByChargeID(ctx, "ch_t")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, payment.Status)

	session, _ := env.svc.GetSession(ctx, sessionID)
	require.NotNil(t, session)
	assert.Equal(t, domain.SessionStatusFailed, session.Status)
}

func TestWorkerFailureRefundsPaidSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		return nil, domain.NewBackendError(domain.BackendRateLimited, errors.New("429"))
	}
	sessionID := env.newSession(t, 23)

	_, err := env.svc.StartPaid(ctx, sessionID, 23, "ch_ok", 20)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.messenger.HasText(23, MsgRefunded)
	}, waitFor, tick)
	assert.Equal(t, 1, env.provider.Calls())

	payment, _ := env.store.GetPaymentByChargeID(ctx, "ch_ok")
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
}

func TestWorkerFailureReturnsBalanceCredit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.messenger.downloadErr = errors.New("telegram file expired")
	sessionID := env.newSession(t, 24)
	_, err := env.svc.AddBalance(ctx, 24, 1, "test")
	require.NoError(t, err)

	_, err = env.svc.StartFromBalance(ctx, sessionID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.messenger.HasText(24, MsgCreditReturned)
	}, waitFor, tick)

	balance, _ := env.svc.GetBalance(ctx, 24)
	assert.Equal(t, 1, balance)
	assert.Zero(t, env.provider.Calls())
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		panic("backend exploded")
	}
	sessionID := env.newSession(t, 25)
	_, err := env.svc.AddBalance(ctx, 25, 1, "test")
	require.NoError(t, err)
	_, err = env.svc.StartFromBalance(ctx, sessionID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return entryStatus(t, env, sessionID) == domain.QueueStatusFailed
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return env.messenger.HasText(25, MsgGenericError)
	}, waitFor, tick)

	// The slot must have been released for later work.
	next := env.newSession(t, 25)
	env.generator.fn = nil
	_, err = env.svc.AddBalance(ctx, 25, 1, "test")
	require.NoError(t, err)
	_, err = env.svc.StartFromBalance(ctx, next)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return entryStatus(t, env, next) == domain.QueueStatusCompleted
	}, waitFor, tick)
}

func TestWorkerRespectsConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *config.Config) { c.ConcurrentLimit = 2 })

	var running, peak atomic.Int32
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return []byte("png"), nil
	}

	_, err := env.svc.AddBalance(ctx, 26, 6, "test")
	require.NoError(t, err)
	var sessions []string
	for i := 0; i < 6; i++ {
		id := env.newSession(t, 26)
		_, err := env.svc.StartFromBalance(ctx, id)
		require.NoError(t, err)
		sessions = append(sessions, id)
	}

	require.Eventually(t, func() bool {
		for _, id := range sessions {
			if entryStatus(t, env, id) != domain.QueueStatusCompleted {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, env.messenger.Images(26))
}

func TestPausedQueueDoesNotClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 27)
	_, err := env.svc.AddBalance(ctx, 27, 1, "test")
	require.NoError(t, err)
	_, err = env.svc.StartFromBalance(ctx, sessionID)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.QueueStatusPending, entryStatus(t, env, sessionID))

	stats, err := env.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Paused)
	assert.Equal(t, 1, stats.Pending)

	env.svc.Resume()
	require.Eventually(t, func() bool {
		return entryStatus(t, env, sessionID) == domain.QueueStatusCompleted
	}, waitFor, tick)
}

func TestShutdownLeavesInterruptedEntryProcessing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	started := make(chan struct{})
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sessionID := env.newSession(t, 28)
	_, err := env.svc.StartPaid(ctx, sessionID, 28, "ch_sd", 20)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("generation never started")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, env.svc.Shutdown(shutdownCtx))

	assert.Equal(t, domain.QueueStatusProcessing, entryStatus(t, env, sessionID))
	assert.Empty(t, env.messenger.Texts(28))
	assert.Zero(t, env.provider.Calls())

	stats, err := env.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Active)
}

func TestCleanupStaleCompensatesOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 29)
	_, err := env.svc.StartPaid(ctx, sessionID, 29, "ch_stale", 20)
	require.NoError(t, err)

	claimed, err := env.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	time.Sleep(20 * time.Millisecond)

	n, err := env.svc.CleanupStale(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.svc.CleanupStale(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, env.provider.Calls())
	assert.Equal(t, domain.QueueStatusFailed, entryStatus(t, env, sessionID))
	assert.True(t, env.messenger.HasText(29, "took too long"))
}

func TestReclaimedEntryIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		close(started)
		<-release
		return []byte("png"), nil
	}
	sessionID := env.newSession(t, 33)
	_, err := env.svc.StartPaid(ctx, sessionID, 33, "ch_late", 20)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("generation never started")
	}
	time.Sleep(20 * time.Millisecond)

	n, err := env.svc.CleanupStale(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	close(release)

	require.Eventually(t, func() bool {
		stats, err := env.svc.QueueStats(ctx)
		return err == nil && stats.Active == 0
	}, waitFor, tick)

	assert.Zero(t, env.messenger.Images(33), "no image after the user was refunded")
	assert.Equal(t, 1, env.provider.Calls())
	assert.Equal(t, domain.QueueStatusFailed, entryStatus(t, env, sessionID))
	payment, err := env.store.GetPaymentByChargeID(ctx, "ch_late")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
}

func TestDispatchEndsBeforeStaleTimeout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *config.Config) { c.StaleTimeout = 100 * time.Millisecond })
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sessionID := env.newSession(t, 34)
	_, err := env.svc.StartPaid(ctx, sessionID, 34, "ch_budget", 20)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return entryStatus(t, env, sessionID) == domain.QueueStatusFailed
	}, waitFor, tick)
	require.Eventually(t, func() bool { return env.provider.Calls() == 1 }, waitFor, tick)
	assert.True(t, env.messenger.HasText(34, "took too long"))

	n, err := env.svc.CleanupStale(ctx, env.cfg.StaleTimeout)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.provider.Calls())
}

func TestRestoreReclaimsAndResumes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *config.Config) { c.StaleTimeout = 200 * time.Millisecond })
	env.svc.Pause()

	stuck := env.newSession(t, 30)
	_, err := env.svc.AddBalance(ctx, 30, 2, "test")
	require.NoError(t, err)
	_, err = env.svc.StartFromBalance(ctx, stuck)
	require.NoError(t, err)
	_, err = env.store.ClaimNext(ctx)
	require.NoError(t, err)

	waiting := env.newSession(t, 30)
	_, err = env.svc.StartFromBalance(ctx, waiting)
	require.NoError(t, err)
	time.Sleep(250 * time.Millisecond)

	require.NoError(t, env.svc.Restore(ctx))
	env.svc.Resume()

	assert.Equal(t, domain.QueueStatusFailed, entryStatus(t, env, stuck))
	require.Eventually(t, func() bool {
		return entryStatus(t, env, waiting) == domain.QueueStatusCompleted
	}, waitFor, tick)
	balance, _ := env.svc.GetBalance(ctx, 30)
	assert.Equal(t, 1, balance, "credit of the reclaimed entry is returned")
}

func TestGenerateDirectBypassesQueue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *config.Config) { c.TestMode = true })
	sessionID := env.newSession(t, 31)

	require.NoError(t, env.svc.GenerateDirect(ctx, sessionID))
	assert.Equal(t, 1, env.messenger.Images(31))
	assert.Equal(t, domain.QueueStatus(""), entryStatus(t, env, sessionID))

	failing := env.newSession(t, 31)
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		return nil, domain.NewBackendError(domain.BackendAuthFailed, errors.New("401"))
	}
	err := env.svc.GenerateDirect(ctx, failing)
	var berr *domain.BackendError
	require.ErrorAs(t, err, &berr)
	assert.True(t, env.messenger.HasText(31, "credentials"))
	assert.Zero(t, env.provider.Calls())
}

func TestGenerationTimeoutIsClassified(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.GenerationTimeout = 20 * time.Millisecond })
	env.generator.fn = func(ctx context.Context, prompt string, images [][]byte) ([]byte, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("request aborted: %w", ctx.Err())
	}
	sessionID := env.newSession(t, 32)

	err := env.svc.GenerateDirect(context.Background(), sessionID)
	var berr *domain.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, domain.BackendTimeout, berr.Kind)
}

func TestUserQueueEntries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	_, err := env.svc.AddBalance(ctx, 33, 2, "test")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := env.svc.StartFromBalance(ctx, env.newSession(t, 33))
		require.NoError(t, err)
	}

	entries, err := env.svc.UserQueueEntries(ctx, 33)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUserMessageMapping(t *testing.T) {
	assert.Contains(t, UserMessage(&domain.RefundError{ChargeID: "ch_9", Err: errProviderDown}), "ch_9")
	assert.Equal(t, MsgNoBalance, UserMessage(domain.ErrInsufficientBalance))
	assert.Equal(t, MsgSessionExpired, UserMessage(fmt.Errorf("load: %w", domain.ErrNotFound)))
	assert.Equal(t, MsgStorageError, UserMessage(&domain.PersistenceError{Op: "x", Err: errors.New("disk")}))
	assert.Contains(t, UserMessage(domain.NewBackendError(domain.BackendQuotaExceeded, nil)), "quota")
	assert.Equal(t, MsgGenericError, UserMessage(errors.New("mystery")))
	assert.Empty(t, UserMessage(nil))
}
