package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	kind, id, ok := ParseChannel(ChatChannel("42"))
	require.True(t, ok)
	assert.Equal(t, "chat", kind)
	assert.Equal(t, "42", id)

	kind, id, ok = ParseChannel(UserChannel("u-1"))
	require.True(t, ok)
	assert.Equal(t, "user", kind)
	assert.Equal(t, "u-1", id)

	for _, bad := range []string{"", "chat-", "user-", "room-1", "chat"} {
		_, _, ok := ParseChannel(bad)
		assert.False(t, ok, bad)
	}
}

func TestEnvelopeJSON(t *testing.T) {
	env, err := NewEnvelope(ChatChannel("c1"), EventRenameChat, RenamePayload{ChatID: "c1", Name: "team"})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"chat-c1","event":"rename-chat","data":{"chatId":"c1","name":"team"}}`, string(raw))
}
