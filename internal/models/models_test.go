package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerEventJSON(t *testing.T) {
	decode := func(t *testing.T, ev ServerEvent) map[string]json.RawMessage {
		t.Helper()
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &raw))
		return raw
	}

	t.Run("NewMessage", func(t *testing.T) {
		raw := decode(t, NewMessage(Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: Content{Text: "hi"}}))
		assert.JSONEq(t, `"new-message"`, string(raw["type"]))
		assert.Contains(t, raw, "message")
		assert.NotContains(t, raw, "onlineUsers")
	})

	t.Run("PresenceUpdated", func(t *testing.T) {
		raw := decode(t, PresenceUpdated([]string{"a", "b"}))
		assert.JSONEq(t, `"presence-updated"`, string(raw["type"]))
		assert.JSONEq(t, `["a","b"]`, string(raw["onlineUsers"]))
		assert.NotContains(t, raw, "message")
	})
}
