package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// fakeAPI records everything sent through it.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	calls    []string
	params   []tgbotapi.Params
	fileURL  string
	err      error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: f.err == nil}, f.err
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	f.params = append(f.params, params)
	return &tgbotapi.APIResponse{Ok: f.err == nil}, f.err
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func TestClientRefundCallsStarRefund(t *testing.T) {
	api := &fakeAPI{}
	c := NewClient(api, "")

	require.NoError(t, c.Refund(context.Background(), 42, "ch_1"))
	require.Len(t, api.calls, 1)
	assert.Equal(t, "refundStarPayment", api.calls[0])
	assert.Equal(t, "42", api.params[0]["user_id"])
	assert.Equal(t, "ch_1", api.params[0]["telegram_payment_charge_id"])

	api.err = errors.New("CHARGE_ALREADY_REFUNDED")
	assert.Error(t, c.Refund(context.Background(), 42, "ch_1"))
}

func TestClientSendInvoiceUsesStars(t *testing.T) {
	api := &fakeAPI{}
	c := NewClient(api, "https://example.com/p.png")

	require.NoError(t, c.SendInvoice(7, "Image generation", "desc", "session-1", "Generation", 20))
	require.Len(t, api.sent, 1)
	invoice, ok := api.sent[0].(tgbotapi.InvoiceConfig)
	require.True(t, ok)
	assert.Equal(t, Currency, invoice.Currency)
	assert.Equal(t, "session-1", invoice.Payload)
	assert.Equal(t, 20, invoice.Prices[0].Amount)
	assert.NotNil(t, invoice.SuggestedTipAmounts)
	assert.Equal(t, "https://example.com/p.png", invoice.PhotoURL)
}

func TestClientDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := NewClient(&fakeAPI{fileURL: srv.URL}, "")
	data, err := c.DownloadImage(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	_, err = c.DownloadImage(context.Background(), "missing")
	assert.Error(t, err)
}

func TestPackagePayloadRoundTrip(t *testing.T) {
	sessionID, size, ok := ParsePackagePayload(PackagePayload("abc_-1", 10))
	require.True(t, ok)
	assert.Equal(t, "abc_-1", sessionID)
	assert.Equal(t, 10, size)

	sessionID, size, ok = ParsePackagePayload(PackagePayload("", 5))
	require.True(t, ok)
	assert.Empty(t, sessionID)
	assert.Equal(t, 5, size)

	for _, bad := range []string{"session-1", "package:abc", "package:abc:x", "package:abc:-2"} {
		_, _, ok := ParsePackagePayload(bad)
		assert.False(t, ok, bad)
	}
}

func TestPackageKeyboard(t *testing.T) {
	kb := PackageKeyboard("s1", []domain.Package{{Size: 1, Price: 20}, {Size: 5, Price: 90}})
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "package:s1:5", *kb.InlineKeyboard[1][0].CallbackData)
}
