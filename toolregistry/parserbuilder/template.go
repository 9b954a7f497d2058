// Package parserbuilder implements the compile/edit/run triplet of tools
// for iterating on a hand-written Go log parser inside the sandbox.
// Grounded on original_source's parser_builder/tool_compile_parser.py,
// tool_edit_parser.py, and tool_test_parser.py.
package parserbuilder

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/TeskaLabs/llm-microlink/sandbox"
)

// goModTemplate and mainTemplate make up the Go module scaffold copied into
// <sandbox>/parser before a user's Parse function is written alongside it
// as parse.go. original_source's GO_PARSER_DIR directory (a sibling "go"
// template tree) was not present in the retrieved source; its module
// scaffold is reconstructed here from tool_compile_parser.py's doc comment,
// which specifies the exact Parse signature the generated main() must call.
const goModTemplate = "module parser\n\ngo 1.24\n"

const mainTemplate = `package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: parse <log-file>")
		os.Exit(2)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	out := Parse(data)
	enc, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(enc))
}
`

// parserDir is the directory, relative to the sandbox root, the parser
// module lives in, matching tool_compile_parser.py's trgdir.
const parserDir = "parser"

// writeTemplate scaffolds the parser module's go.mod and main.go (but never
// parse.go, which is supplied by the compile tool's "code" argument).
func writeTemplate(sb *sandbox.Sandbox) (string, error) {
	dir := filepath.Join(sb.Path, parserDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create parser dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goModTemplate), 0o644); err != nil {
		return "", fmt.Errorf("write go.mod: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(mainTemplate), 0o644); err != nil {
		return "", fmt.Errorf("write main.go: %w", err)
	}
	return dir, nil
}

// runInDir executes cmd inside the sandbox with its working directory set
// to relDir (relative to the sandbox root), draining stdout/stderr into
// content and returning the numeric return code. Translated from
// tool_compile_parser.py's execute() three-pending-operation fan-in, which
// here is simply sandbox.Sandbox.Execute's own fan-in over a `docker exec`
// invocation. relDir is resolved against sandbox.ContainerPath (the
// container-side mount point of the sandbox's host directory, §4.4's
// `-v <path>:/sandbox`) rather than left relative, since `docker exec`
// against the long-lived `cat`-holding container has no cwd of its own but
// the image default (`/`) — a bare `cd <relDir>` would look for the
// directory at the container root instead of under the mount.
func runInDir(ctx context.Context, sb *sandbox.Sandbox, relDir string, cmd string, content *string) (string, error) {
	returnCode := "-1"
	shCmd := shellCommand(relDir, cmd)
	for chunk := range sb.Execute(ctx, []string{"sh", "-c", shCmd}, nil) {
		switch chunk.Stream {
		case sandbox.StreamStdout, sandbox.StreamStderr:
			if len(chunk.Payload) > 0 {
				*content += chunk.Payload + "\n"
			}
		case sandbox.StreamReturnCode:
			returnCode = chunk.Payload
		}
	}
	return returnCode, nil
}

// shellCommand builds the `cd <dir> && <cmd>` string runInDir passes to
// `sh -c` inside the container, anchoring relDir at sandbox.ContainerPath
// so it resolves under the mounted sandbox directory regardless of the
// container's own default cwd. Split out as a pure function so its path
// resolution can be unit-tested without a running sandbox or docker daemon.
func shellCommand(relDir, cmd string) string {
	dir := path.Join(sandbox.ContainerPath, relDir)
	return fmt.Sprintf("cd %s && %s", shQuote(dir), cmd)
}

func shQuote(s string) string {
	return "'" + s + "'"
}
