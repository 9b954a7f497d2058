package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

func TestPingDescriptorShape(t *testing.T) {
	d := pingDescriptor()
	require.Equal(t, "ping", d.Name)
	require.NotNil(t, d.FunctionCall)
	props, ok := d.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "target")
}

func TestFunctionCallPingRejectsMissingTarget(t *testing.T) {
	fc := conversation.NewFunctionCall("c1", "ping", `{}`, nil)
	progress := make(chan string, 8)
	err := functionCallPing(context.Background(), nil, fc, progress)
	require.NoError(t, err)
	require.True(t, fc.Error)
	require.Equal(t, "Parameter 'target' is required", fc.Content)
}

func TestFunctionCallPingRejectsBadArguments(t *testing.T) {
	fc := conversation.NewFunctionCall("c1", "ping", `not-json`, nil)
	progress := make(chan string, 8)
	err := functionCallPing(context.Background(), nil, fc, progress)
	require.NoError(t, err)
	require.True(t, fc.Error)
	require.Equal(t, "Exception occurred while parsing arguments.", fc.Content)
}
