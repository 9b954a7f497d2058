package conversation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewItemKeyPrefixes(t *testing.T) {
	cases := []struct {
		name   string
		item   Item
		prefix string
	}{
		{"message", NewAssistantText(nil), "message-"},
		{"reasoning", NewAssistantReasoning(nil), "reasoning-"},
		{"function_call", NewFunctionCall("c1", "ping", "{}", nil), "fc-"},
		{"user_message", NewUserMessage("hi", "gpt-x"), "user-message-"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, strings.HasPrefix(tt.item.Key(), tt.prefix))
		})
	}
}

func TestAssistantTextMarshalJSONShape(t *testing.T) {
	at := NewAssistantText(nil)
	at.Content = "Hello"
	at.Status = StatusCompleted

	raw, err := json.Marshal(at)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Equal(t, "message", obj["type"])
	require.Equal(t, "Hello", obj["content"])
	require.Equal(t, "completed", obj["status"])
	require.Equal(t, "assistant", obj["role"])
	require.Contains(t, obj, "key")
	require.Contains(t, obj, "created_at")
}

func TestFunctionCallMarshalJSONShape(t *testing.T) {
	fc := NewFunctionCall("c1", "ping", `{"target":"x"}`, nil)
	fc.Status = StatusFinished
	fc.Content = "pong"
	fc.Error = false

	raw, err := json.Marshal(fc)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Equal(t, "function_call", obj["type"])
	require.Equal(t, "ping", obj["name"])
	require.Equal(t, `{"target":"x"}`, obj["arguments"])
	require.Equal(t, "pong", obj["content"])
	require.Equal(t, false, obj["error"])
	require.Equal(t, "finished", obj["status"])
}
