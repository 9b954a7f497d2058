package parserbuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/sandbox"
)

// logDir holds the sample .log files the compiled parser is run against,
// matching tool_test_parser.py's conversation.sandbox.path/"log".
const logDir = "log"

// RunDescriptor is the test_parser / run_parser tool, grounded on
// tool_test_parser.py's fuction_call_test_parser: runs the already-compiled
// parser/parse binary against every *.log file under the sandbox's log/
// directory, in sorted order, appending each run's output to fc.Content.
func RunDescriptor() *conversation.ToolDescriptor {
	return &conversation.ToolDescriptor{
		Name:  "test_parser",
		Title: "Test a parser",
		Description: `This tool tests a parser on all available log files.
The tool will return the result of the test, stdout and stderr of the test.`,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []any{},
		},
		FunctionCall: functionCallTestParser,
	}
}

func functionCallTestParser(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	sb, ok := conv.Sandbox.(*sandbox.Sandbox)
	if !ok || sb == nil {
		fc.Content = "Sandbox is not initialized"
		fc.Error = true
		return nil
	}

	entries, err := os.ReadDir(filepath.Join(sb.Path, logDir))
	if err != nil {
		fc.Content = "No log/ directory with sample logs was found in the sandbox."
		fc.Error = true
		return nil
	}

	var logFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			logFiles = append(logFiles, e.Name())
		}
	}
	sort.Strings(logFiles)

	for _, logFile := range logFiles {
		progress <- "testing"

		cmd := fmt.Sprintf("./parser/parse %s", shQuote(filepath.Join(logDir, logFile)))
		returnCode, runErr := runInDir(ctx, sb, ".", cmd, &fc.Content)
		if runErr != nil || returnCode != "0" {
			fc.Content += "\nExecution of the test (parser) failed with return code: " + returnCode
			fc.Error = true
		}

		fc.Content += fmt.Sprintf("\nTest `%s` completed.\n---\n", logFile)
		progress <- "progress"
	}

	progress <- "completed"
	return nil
}
