package local

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/sandbox"
)

type fakeExecutor struct {
	chunks []sandbox.Chunk
}

func (f *fakeExecutor) Execute(context.Context, []string, io.Reader) <-chan sandbox.Chunk {
	out := make(chan sandbox.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

func TestFunctionCallShellRequiresCommand(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	fc := conversation.NewFunctionCall("c1", "shell", `{}`, nil)
	progress := make(chan string, 8)
	err := functionCallShell(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.True(t, fc.Error)
	require.Equal(t, "Parameter 'command' is required", fc.Content)
}

func TestFunctionCallShellRequiresSandbox(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	fc := conversation.NewFunctionCall("c1", "shell", `{"command":"ls"}`, nil)
	progress := make(chan string, 8)
	err := functionCallShell(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.True(t, fc.Error)
	require.Equal(t, "Sandbox is not available for this conversation", fc.Content)
}

func TestFunctionCallShellSuccess(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	conv.Sandbox = &fakeExecutor{chunks: []sandbox.Chunk{
		{Stream: sandbox.StreamStdout, Payload: "hello"},
		{Stream: sandbox.StreamReturnCode, Payload: "0"},
	}}
	fc := conversation.NewFunctionCall("c1", "shell", `{"command":"echo hello"}`, nil)
	progress := make(chan string, 8)
	go func() {
		for range progress {
		}
	}()
	err := functionCallShell(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.False(t, fc.Error)
	require.Contains(t, fc.Content, "hello")
	require.Contains(t, fc.Content, "Tool execution completed successfully.")
}

func TestFunctionCallShellNonzeroReturnCode(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	conv.Sandbox = &fakeExecutor{chunks: []sandbox.Chunk{
		{Stream: sandbox.StreamStderr, Payload: "boom"},
		{Stream: sandbox.StreamReturnCode, Payload: "1"},
	}}
	fc := conversation.NewFunctionCall("c1", "shell", `{"command":"false"}`, nil)
	progress := make(chan string, 8)
	go func() {
		for range progress {
		}
	}()
	err := functionCallShell(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.True(t, fc.Error)
	require.Contains(t, fc.Content, "Shell command failed with return code: 1")
}

func TestInitCallShellCreatesSandboxOnce(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	calls := 0
	factory := func(context.Context) (*sandbox.Sandbox, error) {
		calls++
		return &sandbox.Sandbox{}, nil
	}
	init := initCallShell(factory)
	require.NoError(t, init(context.Background(), conv))
	require.NoError(t, init(context.Background(), conv))
	require.Equal(t, 1, calls)
}

func TestInitCallShellPropagatesFactoryError(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	factory := func(context.Context) (*sandbox.Sandbox, error) {
		return nil, errors.New("boom")
	}
	init := initCallShell(factory)
	err := init(context.Background(), conv)
	require.Error(t, err)
}
