package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"smsrelay/internal/channels/salesforce"
	"smsrelay/internal/channels/twilio"
	"smsrelay/internal/config"
	"smsrelay/internal/infra/storage/local"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.RuntimeConfig {
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.Storage.Driver = config.StorageMemory
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Relay.ReconcileSchedule = ""
	return cfg
}

func TestBuildContainerWithMocks(t *testing.T) {
	c, err := BuildContainer(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Cleanup(context.Background()) })

	assert.IsType(t, &twilio.MockCarrier{}, c.Carrier)
	assert.IsType(t, &salesforce.MockCaseLogger{}, c.Cases)
	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Ingress)
	assert.Nil(t, c.Worker)
	assert.Nil(t, c.Socket)
	assert.Nil(t, c.Reconciler)
	assert.Len(t, c.Mux.Types(), 8)

	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInboundWebhookReachesStore(t *testing.T) {
	store := local.NewMemoryStore()
	c, err := BuildContainer(context.Background(), testConfig(), WithStore(store), WithChatAPIURL("http://127.0.0.1:1/"))
	require.NoError(t, err)

	form := url.Values{"From": {"+15551234567"}, "Body": {"Hi"}, "MessageSid": {"SM1"}}
	req := httptest.NewRequest(http.MethodPost, "/sms/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cleanup drains the inline queue.
	require.NoError(t, c.Cleanup(context.Background()))

	recent, err := store.ListRecentConversations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "+15551234567", recent[0].Phone)
	require.Len(t, recent[0].Messages, 1)
	assert.Equal(t, "Hi", recent[0].Messages[0].Content)
}

func TestBuildContainerWithReconciler(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.ReconcileSchedule = "@every 1h"
	c, err := BuildContainer(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, c.Reconciler)
	require.NoError(t, c.Cleanup(context.Background()))
}

func TestBuildContainerRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.ReconcileSchedule = "whenever"
	_, err := BuildContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildContainerRequiresBotToken(t *testing.T) {
	cfg := testConfig()
	cfg.Slack.BotToken = ""
	_, err := BuildContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dir := t.TempDir()

	for _, storage := range []config.StorageConfig{
		{Driver: config.StorageMemory},
		{Driver: config.StorageFile, Path: filepath.Join(dir, "conversations.json")},
		{Driver: config.StorageSQLite, Path: filepath.Join(dir, "conversations.db")},
	} {
		t.Run(storage.Driver, func(t *testing.T) {
			handle, err := OpenStore(ctx, storage)
			require.NoError(t, err)
			defer handle.Close()

			conv, err := handle.Store.GetOrCreateConversation(ctx, "+15551234567")
			require.NoError(t, err)
			assert.NotEmpty(t, conv.ID)
		})
	}

	_, err := OpenStore(ctx, config.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}
