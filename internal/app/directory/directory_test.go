package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	mu    sync.Mutex
	convs []conversation.Conversation
	err   error
	calls int
}

func (s *staticSource) ListThreadedConversations(context.Context) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return append([]conversation.Conversation(nil), s.convs...), s.err
}

func threaded(id, channel, thread string) conversation.Conversation {
	return conversation.Conversation{ID: id, Thread: &conversation.ThreadHandle{ChannelID: channel, ThreadID: thread}}
}

func TestRememberInstallsBothDirections(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	handle := conversation.ThreadHandle{ChannelID: "D1", ThreadID: "1.0"}

	d.Remember("conv-1", handle)

	got, ok := d.ResolveByThread(handle)
	require.True(t, ok)
	assert.Equal(t, "conv-1", got)
	back, ok := d.ResolveByConversation("conv-1")
	require.True(t, ok)
	assert.Equal(t, handle, back)
	assert.Equal(t, 1, d.Len())

	_, ok = d.ResolveByThread(conversation.ThreadHandle{ChannelID: "D1", ThreadID: "9.9"})
	assert.False(t, ok)
}

func TestRememberIgnoresEmptyInput(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	d.Remember("", conversation.ThreadHandle{ChannelID: "D1", ThreadID: "1.0"})
	d.Remember("conv-1", conversation.ThreadHandle{})
	assert.Equal(t, 0, d.Len())
}

func TestRebuildMergesWithoutDroppingEntries(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(reg)
	d := New(WithLogger(logging.Nop()), WithMetrics(metrics))

	d.Remember("conv-live", conversation.ThreadHandle{ChannelID: "D9", ThreadID: "9.0"})
	source := &staticSource{convs: []conversation.Conversation{
		threaded("conv-1", "D1", "1.0"),
		threaded("conv-2", "D2", "2.0"),
		{ID: "conv-unthreaded"},
	}}

	loaded, err := d.Rebuild(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 3, d.Len())

	_, ok := d.ResolveByConversation("conv-live")
	assert.True(t, ok)
	got, ok := d.ResolveByThread(conversation.ThreadHandle{ChannelID: "D2", ThreadID: "2.0"})
	require.True(t, ok)
	assert.Equal(t, "conv-2", got)

	count, err := testutil.GatherAndCount(reg, "smsrelay_directory_entries")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRebuildPropagatesSourceError(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	_, err := d.Rebuild(context.Background(), &staticSource{err: conversation.StorageError("list", errors.New("down"))})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrStorageUnavailable)
}

func TestRememberReplacesStaleReverseEntry(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	old := conversation.ThreadHandle{ChannelID: "D1", ThreadID: "1.0"}
	fresh := conversation.ThreadHandle{ChannelID: "D1", ThreadID: "2.0"}

	d.Remember("conv-1", old)
	d.Remember("conv-1", fresh)

	_, ok := d.ResolveByThread(old)
	assert.False(t, ok)
	got, ok := d.ResolveByThread(fresh)
	require.True(t, ok)
	assert.Equal(t, "conv-1", got)
}

func TestConcurrentRememberAndResolve(t *testing.T) {
	d := New(WithLogger(logging.Nop()), WithMetrics(observability.MustNewMetrics(prometheus.NewRegistry())))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			d.Remember(fmt.Sprintf("conv-%d", i), conversation.ThreadHandle{ChannelID: "D1", ThreadID: fmt.Sprintf("%d.0", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			d.ResolveByThread(conversation.ThreadHandle{ChannelID: "D1", ThreadID: fmt.Sprintf("%d.0", i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, d.Len())
}

func TestReconcilerRunOnceRebuilds(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	source := &staticSource{convs: []conversation.Conversation{threaded("conv-1", "D1", "1.0")}}

	r, err := NewReconciler(d, source, "@every 1h", logging.Nop())
	require.NoError(t, err)
	r.RunOnce(context.Background())
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, source.calls)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	r.Stop()

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	r.RunOnce(cancelled)
	assert.Equal(t, 1, source.calls)
}

func TestNewReconcilerRejectsBadSchedule(t *testing.T) {
	d := New(WithLogger(logging.Nop()))
	_, err := NewReconciler(d, &staticSource{}, "not a schedule", logging.Nop())
	require.Error(t, err)
	_, err = NewReconciler(d, &staticSource{}, "", logging.Nop())
	require.Error(t, err)
}
