package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/sandbox"
)

// SandboxFactory lazily creates the one sandbox a conversation holds,
// mirroring svc_sandbox.py's init_sandbox (called from a tool's init_call
// the first time a sandboxed tool is used).
type SandboxFactory func(ctx context.Context) (*sandbox.Sandbox, error)

// sandboxExecutor is the narrow view of *sandbox.Sandbox the shell and
// parser-builder tools need. Asserted against conversation.Sandbox locally
// rather than widening the conversation package's own Sandbox interface,
// which is deliberately kept minimal to avoid that package depending on
// package sandbox.
type sandboxExecutor interface {
	Execute(ctx context.Context, cmdArgs []string, stdin io.Reader) <-chan sandbox.Chunk
}

type shellArgs struct {
	Command string `json:"command"`
	Stdin   string `json:"stdin"`
}

// shellDescriptor is the general-purpose sandboxed shell tool. It replaces
// original_source's chroot+busybox approach (tool/provider/function_call/busybox.py)
// with spec.md §4.4's docker-exec sandbox model: the container already
// ships /bin/sh (alpine), so no separate "install busybox" init step is
// needed, only lazily creating the sandbox itself.
func shellDescriptor(factory SandboxFactory) *conversation.ToolDescriptor {
	return &conversation.ToolDescriptor{
		Name:  "shell",
		Title: "Execute a shell command in a sandbox",
		Description: "Execute a shell command in a sandboxed container and return its stdout and stderr. " +
			"Use this to list or read files in the sandbox. An optional stdin input may be provided.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Optional stdin input to the command",
				},
			},
			"required": []any{"command"},
		},
		FunctionCall: functionCallShell,
		InitCall:     initCallShell(factory),
	}
}

func initCallShell(factory SandboxFactory) func(context.Context, *conversation.Conversation) error {
	return func(ctx context.Context, conv *conversation.Conversation) error {
		if conv.Sandbox != nil {
			return nil
		}
		sb, err := factory(ctx)
		if err != nil {
			return fmt.Errorf("init sandbox: %w", err)
		}
		conv.Sandbox = sb
		return nil
	}
}

// functionCallShell mirrors tool/provider/function_call/busybox.py's
// fuction_call_busybox, adapted to the docker-exec sandbox model: stdout
// and stderr lines are appended to fc.Content as they arrive, a nonzero
// return code marks the call as an error, and a trailing completion note
// is appended only when the return code is 0.
func functionCallShell(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	progress <- "validating"

	var args shellArgs
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if args.Command == "" {
		fc.Content = "Parameter 'command' is required"
		fc.Error = true
		return nil
	}

	execer, ok := conv.Sandbox.(sandboxExecutor)
	if !ok || execer == nil {
		fc.Content = "Sandbox is not available for this conversation"
		fc.Error = true
		return nil
	}

	progress <- "executing"

	var stdin io.Reader
	if args.Stdin != "" {
		stdin = strings.NewReader(args.Stdin)
	}

	var returnCode string
	for chunk := range execer.Execute(ctx, []string{"sh", "-c", args.Command}, stdin) {
		switch chunk.Stream {
		case sandbox.StreamStdout, sandbox.StreamStderr:
			if len(chunk.Payload) > 0 {
				fc.Content += chunk.Payload + "\n"
				progress <- "progress"
			}
		case sandbox.StreamReturnCode:
			returnCode = chunk.Payload
		case sandbox.StreamTimeout:
			progress <- "progress"
		}
	}

	if returnCode != "" && returnCode != "0" {
		fc.Content += "\nShell command failed with return code: " + returnCode
		fc.Error = true
	}
	if returnCode == "0" {
		fc.Content += "\nTool execution completed successfully."
	}

	progress <- "completed"
	return nil
}
