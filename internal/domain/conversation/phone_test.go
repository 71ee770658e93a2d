package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"5551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"+1 555 123 4567", "+15551234567"},
		{"+447911123456", "+447911123456"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestNormalizePhoneRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "0123456789", "+1234567890123456"} {
		_, err := NormalizePhone(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrValidation), raw)
	}
}

func TestConversationStatus(t *testing.T) {
	conv := Conversation{ID: "conv-1"}
	assert.Equal(t, StatusUnthreaded, conv.Status().Kind())
	_, ok := conv.Status().Handle()
	assert.False(t, ok)

	conv.Thread = &ThreadHandle{ChannelID: "D1", ThreadID: "1700.01"}
	status := conv.Status()
	require.Equal(t, StatusThreaded, status.Kind())
	handle, ok := status.Handle()
	require.True(t, ok)
	assert.Equal(t, "D1:1700.01", handle.Key())
}

func TestResolveAttach(t *testing.T) {
	handle := ThreadHandle{ChannelID: "D1", ThreadID: "1.0"}

	applied, err := ResolveAttach("conv-1", nil, handle)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = ResolveAttach("conv-1", &handle, handle)
	require.NoError(t, err)
	assert.False(t, applied)

	other := ThreadHandle{ChannelID: "D1", ThreadID: "2.0"}
	_, err = ResolveAttach("conv-1", &handle, other)
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ThreadConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, handle, conflict.Existing)

	_, err = ResolveAttach("conv-1", nil, ThreadHandle{ChannelID: "D1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStorageErrorKeepsDomainClass(t *testing.T) {
	err := StorageError("append message", NotFoundf("conversation %s", "x"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrStorageUnavailable))

	err = StorageError("append message", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
