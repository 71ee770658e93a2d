package main

import (
	"context"
	"errors"
	"testing"

	"smsrelay/internal/config"
	"smsrelay/internal/di"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/infra/storage/local"
	"smsrelay/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreadableStore fails the threaded-conversation scan.
type unreadableStore struct {
	*local.Store
}

func (unreadableStore) ListThreadedConversations(context.Context) ([]conversation.Conversation, error) {
	return nil, conversation.StorageError("list threaded conversations", errors.New("connection refused"))
}

func TestServeFailsWhenInitialRebuildFails(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = config.StorageMemory
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Relay.ReconcileSchedule = ""

	c, err := di.BuildContainer(context.Background(), cfg, di.WithStore(unreadableStore{local.NewMemoryStore()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Cleanup(context.Background()) })

	err = serve(context.Background(), c, cfg, logging.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrStorageUnavailable)
}
