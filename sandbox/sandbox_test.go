package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/telemetry"
)

// collect drains a Chunk channel into a slice, with a deadline so a broken
// fan-in hangs the test instead of the suite.
func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out draining sandbox output, fan-in likely deadlocked")
		}
	}
}

func TestRunCmdEmitsStdoutStderrAndReturnCode(t *testing.T) {
	out := make(chan Chunk)
	cmd := exec.Command("sh", "-c", "echo out-line; echo err-line 1>&2; exit 3")
	go runCmd(context.Background(), cmd, nil, out, telemetry.NewNoopLogger(), "test")

	chunks := collect(t, out)

	var gotOut, gotErr, gotCode bool
	for _, c := range chunks {
		switch c.Stream {
		case StreamStdout:
			require.Equal(t, "out-line", c.Payload)
			gotOut = true
		case StreamStderr:
			require.Equal(t, "err-line", c.Payload)
			gotErr = true
		case StreamReturnCode:
			require.Equal(t, "3", c.Payload)
			gotCode = true
		}
	}
	require.True(t, gotOut, "expected a stdout chunk")
	require.True(t, gotErr, "expected a stderr chunk")
	require.True(t, gotCode, "expected a return_code chunk")
	require.Equal(t, StreamReturnCode, chunks[len(chunks)-1].Stream, "return_code must be the terminal chunk")
}

func TestRunCmdReturnCodeZeroOnSuccess(t *testing.T) {
	out := make(chan Chunk)
	cmd := exec.Command("sh", "-c", "true")
	go runCmd(context.Background(), cmd, nil, out, telemetry.NewNoopLogger(), "test")

	chunks := collect(t, out)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	require.Equal(t, StreamReturnCode, last.Stream)
	require.Equal(t, "0", last.Payload)
}

// TestRunCmdExtendsDeadlineOnTimeout verifies spec.md §4.4's timeout rule:
// a long-running command receives a timeout chunk and the deadline is
// re-armed rather than the command being killed outright. execTimeout is
// shrunk for the duration of the test.
func TestRunCmdExtendsDeadlineOnTimeout(t *testing.T) {
	orig := execTimeout
	execTimeout = 50 * time.Millisecond
	defer func() { execTimeout = orig }()

	out := make(chan Chunk)
	// Ignores SIGTERM so the test can observe the deadline being re-armed
	// (a second timeout chunk) rather than the process simply exiting after
	// the first signal.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 2")
	go runCmd(context.Background(), cmd, nil, out, telemetry.NewNoopLogger(), "test")

	var timeouts int
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case c, ok := <-out:
			if !ok {
				t.Fatalf("channel closed after only %d timeout chunk(s)", timeouts)
			}
			if c.Stream == StreamTimeout {
				timeouts++
				if timeouts >= 2 {
					_ = cmd.Process.Kill()
					return
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for repeated timeout chunks")
		}
	}
	t.Fatalf("only observed %d timeout chunk(s) before deadline", timeouts)
}

func TestRunCmdStdinPipedToCommand(t *testing.T) {
	out := make(chan Chunk)
	cmd := exec.Command("sh", "-c", "cat")
	go runCmd(context.Background(), cmd, strings.NewReader("hello\n"), out, telemetry.NewNoopLogger(), "test")

	chunks := collect(t, out)
	var sawLine bool
	for _, c := range chunks {
		if c.Stream == StreamStdout && c.Payload == "hello" {
			sawLine = true
		}
	}
	require.True(t, sawLine, "expected piped stdin to be echoed back via stdout")
}

func TestRunCmdContextCancellationStopsProcess(t *testing.T) {
	out := make(chan Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 5")
	go runCmd(ctx, cmd, nil, out, telemetry.NewNoopLogger(), "test")

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-drainUntilClosed(out):
	case <-time.After(5 * time.Second):
		t.Fatal("expected channel to close once the canceled process exits")
	}
}

func drainUntilClosed(ch <-chan Chunk) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}
