package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.CreateSession(ctx, 1, nil, "  hi  ")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "prompt", verr.Field)

	_, err = env.svc.CreateSession(ctx, 1, []string{"a", "b", "c", "d"}, "four images")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "images", verr.Field)

	id, err := env.svc.CreateSession(ctx, 1, nil, "   a quiet harbor   ")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(id), 43)

	session, err := env.svc.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a quiet harbor", session.Prompt)
	assert.Equal(t, domain.SessionStatusPending, session.Status)
	assert.Empty(t, session.Images)
}

func TestSavePaymentMarksSessionPaid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sessionID := env.newSession(t, 7)

	_, err := env.svc.SavePayment(ctx, sessionID, 7, "ch_1", 20)
	require.NoError(t, err)

	session, err := env.svc.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaid, session.Status)
	assert.Equal(t, "ch_1", session.PaymentChargeID)

	_, err = env.svc.SavePayment(ctx, sessionID, 7, "ch_1", 20)
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)

	_, err = env.svc.SavePayment(ctx, sessionID, 7, "", 20)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPurchasePackageCreditsAndQueues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 9)

	queueID, err := env.svc.PurchasePackage(ctx, 9, sessionID, 5, "ch_pkg", 90)
	require.NoError(t, err)
	assert.NotZero(t, queueID)

	balance, err := env.svc.GetBalance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	pos, ok, err := env.svc.Position(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)

	session, _ := env.svc.GetSession(ctx, sessionID)
	assert.Equal(t, domain.SessionStatusPaid, session.Status)
	assert.Empty(t, session.PaymentChargeID, "package charge must not be tied to the session")

	payment, err := env.store.GetPaymentByChargeID(ctx, "ch_pkg")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, 90, payment.Amount)

	_, err = env.svc.PurchasePackage(ctx, 9, sessionID, 7, "ch_other", 100)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStartFromBalanceInsufficient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 3)

	_, err := env.svc.StartFromBalance(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	entry, err := env.store.GetQueueEntryBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	session, _ := env.svc.GetSession(ctx, sessionID)
	assert.Equal(t, domain.SessionStatusPending, session.Status)
}

func TestStartFromBalanceTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 3)
	_, err := env.svc.AddBalance(ctx, 3, 2, "test")
	require.NoError(t, err)

	_, err = env.svc.StartFromBalance(ctx, sessionID)
	require.NoError(t, err)
	_, err = env.svc.StartFromBalance(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)

	balance, _ := env.svc.GetBalance(ctx, 3)
	assert.Equal(t, 1, balance)
}

func TestStartFromBalanceKeepsSessionOfExistingEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()
	sessionID := env.newSession(t, 4)
	_, err := env.svc.AddBalance(ctx, 4, 1, "test")
	require.NoError(t, err)
	queueID, err := env.store.Enqueue(ctx, sessionID, 4, 0)
	require.NoError(t, err)

	_, err = env.svc.StartFromBalance(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)

	session, _ := env.svc.GetSession(ctx, sessionID)
	assert.Equal(t, domain.SessionStatusPaid, session.Status)
	balance, _ := env.svc.GetBalance(ctx, 4)
	assert.Equal(t, 1, balance)
	entry, err := env.store.GetQueueEntryBySession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, queueID, entry.ID)
	assert.Equal(t, domain.QueueStatusPending, entry.Status)
}

func TestStartPaidRefundsWhenSessionGone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.svc.Pause()

	_, err := env.svc.StartPaid(ctx, "vanished", 5, "ch_gone", 20)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, env.provider.Calls())

	payment, err := env.store.GetPaymentByChargeID(ctx, "ch_gone")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
}

func TestRefundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sessionID := env.newSession(t, 11)
	_, err := env.svc.SavePayment(ctx, sessionID, 11, "ch_r", 20)
	require.NoError(t, err)

	first, err := env.svc.Refund(ctx, 11, "ch_r")
	require.NoError(t, err)
	assert.False(t, first.AlreadyRefunded)
	require.NotNil(t, first.Payment)
	assert.Equal(t, domain.PaymentStatusRefunded, first.Payment.Status)
	assert.NotNil(t, first.Payment.RefundedAt)

	second, err := env.svc.Refund(ctx, 11, "ch_r")
	require.NoError(t, err)
	assert.True(t, second.AlreadyRefunded)
	assert.Equal(t, 1, env.provider.Calls())
}

func TestConcurrentRefundsCallProviderOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sessionID := env.newSession(t, 12)
	_, err := env.svc.SavePayment(ctx, sessionID, 12, "ch_c", 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Refund(ctx, 12, "ch_c")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, env.provider.Calls())
}

func TestRefundOfOneChargeDoesNotWaitForAnother(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	slow := env.newSession(t, 14)
	fast := env.newSession(t, 15)
	_, err := env.svc.SavePayment(ctx, slow, 14, "ch_slow", 20)
	require.NoError(t, err)
	_, err = env.svc.SavePayment(ctx, fast, 15, "ch_fast", 20)
	require.NoError(t, err)

	env.provider.holdCharge = "ch_slow"
	env.provider.entered = make(chan struct{})
	env.provider.release = make(chan struct{})

	slowDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Refund(ctx, 14, "ch_slow")
		slowDone <- err
	}()
	<-env.provider.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Refund(ctx, 15, "ch_fast")
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refund of ch_fast blocked behind ch_slow")
	}

	close(env.provider.release)
	require.NoError(t, <-slowDone)
	assert.Equal(t, 2, env.provider.Calls())
}

func TestRefundProviderFailureKeepsPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.provider.err = errProviderDown
	sessionID := env.newSession(t, 13)
	_, err := env.svc.SavePayment(ctx, sessionID, 13, "ch_f", 20)
	require.NoError(t, err)

	_, err = env.svc.Refund(ctx, 13, "ch_f")
	var rerr *domain.RefundError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ch_f", rerr.ChargeID)
	assert.True(t, errors.Is(err, errProviderDown))

	payment, _ := env.store.GetPaymentByChargeID(ctx, "ch_f")
	assert.Equal(t, domain.PaymentStatusSuccess, payment.Status)
	assert.Nil(t, payment.RefundedAt)
}

func TestRefundRejectsForeignCharge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sessionID := env.newSession(t, 14)
	_, err := env.svc.SavePayment(ctx, sessionID, 14, "ch_x", 20)
	require.NoError(t, err)

	_, err = env.svc.Refund(ctx, 99, "ch_x")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Zero(t, env.provider.Calls())
}

func TestBalanceLedger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	b, err := env.svc.EnsureBalance(ctx, 20)
	require.NoError(t, err)
	assert.Zero(t, b)

	ok, err := env.svc.HasBalance(ctx, 20, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err = env.svc.AddBalance(ctx, 20, 2, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, b)

	ok, err = env.svc.DeductBalance(ctx, 20, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.svc.AddBalance(ctx, 20, 0, "admin")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}
