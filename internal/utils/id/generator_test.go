package id

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixedIdentifiers(t *testing.T) {
	t.Cleanup(func() { SetStrategy(StrategyKSUID) })

	assert.True(t, strings.HasPrefix(NewConversationID(), "conv-"))
	assert.True(t, strings.HasPrefix(NewMessageID(), "msg-"))
	assert.NotEqual(t, NewMessageID(), NewMessageID())

	SetStrategy(ParseStrategy("uuidv7"))
	got := NewConversationID()
	assert.True(t, strings.HasPrefix(got, "conv-"))
	assert.Len(t, strings.TrimPrefix(got, "conv-"), 36)
}

func TestEnsureLogID(t *testing.T) {
	ctx, logID := EnsureLogID(context.Background())
	assert.NotEmpty(t, logID)
	assert.Equal(t, logID, LogIDFromContext(ctx))

	again, same := EnsureLogID(ctx)
	assert.Equal(t, logID, same)
	assert.Equal(t, ctx, again)

	assert.Equal(t, "", AgentIDFromContext(context.Background()))
	assert.Equal(t, "U1", AgentIDFromContext(WithAgentID(context.Background(), "U1")))
}
