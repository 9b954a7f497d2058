package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

type pingArgs struct {
	Target string `json:"target"`
}

// pingDescriptor mirrors original_source's tool/provider/local.py's single
// statically-registered tool.
func pingDescriptor() *conversation.ToolDescriptor {
	return &conversation.ToolDescriptor{
		Name:        "ping",
		Title:       "Ping a host",
		Description: "Ping a host and return the result",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "The fully qualified hostname or IP address to ping",
				},
			},
			"required": []any{"target"},
		},
		FunctionCall: functionCallPing,
	}
}

func functionCallPing(ctx context.Context, _ *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	progress <- "validating"

	var args pingArgs
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if args.Target == "" {
		fc.Content = "Parameter 'target' is required"
		fc.Error = true
		return nil
	}

	progress <- "executing"
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", args.Target)
	out, err := cmd.CombinedOutput()
	fc.Content = string(out)
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			fc.Content += fmt.Sprintf("\nping exited with an error: %s", err)
			fc.Error = true
		} else {
			fc.Content = "A command 'ping' was not found on this system"
			fc.Error = true
		}
	}
	progress <- "completed"
	return nil
}
