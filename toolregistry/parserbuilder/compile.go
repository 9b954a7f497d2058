package parserbuilder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/sandbox"
)

type compileArgs struct {
	Code string `json:"code"`
}

// CompileDescriptor is the compile_parser tool, grounded on
// tool_compile_parser.py's fuction_call_compile_parser: writes the given Go
// source as parser/parse.go alongside a scaffolded main.go and go.mod, then
// runs `go mod tidy` followed by `go build`.
//
// The go toolchain is installed into the sandbox once per conversation by
// the tool's InitCall (initCallParserToolchain), since spec.md's alpine:latest base image does not ship
// one — a gap the original's busybox tool resolves the same way for its own
// dependency (busybox --install), reproduced here for go.
func CompileDescriptor() *conversation.ToolDescriptor {
	return &conversation.ToolDescriptor{
		Name:  "compile_parser",
		Title: "Compile a parser in Go language",
		Description: `This tool compiles the parser written in Go.
The tool will return the result of the compilation, stdout and stderr of the Go compiler.

The Go code is a single file that defines Parse function as follows:
` + "```" + `
package main

func Parse(log []byte) map[string]interface{} {
	output := map[string]interface{}{}
	// Implement the parser here
	return output
}
` + "```" + `

The main function will be provided by the tool call itself, don't implement it.`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The Go code of the parser",
				},
			},
			"required": []any{"code"},
		},
		FunctionCall: functionCallCompileParser,
		InitCall:     initCallParserToolchain,
	}
}

// initCallParserToolchain installs the go toolchain into the sandbox once
// per conversation. Shared by compile_parser and edit_parser (both compile);
// run_parser only executes the already-built binary and needs no toolchain.
func initCallParserToolchain(ctx context.Context, conv *conversation.Conversation) error {
	sb, ok := conv.Sandbox.(*sandbox.Sandbox)
	if !ok || sb == nil {
		return nil
	}
	var discard string
	_, err := runInDir(ctx, sb, ".", "apk add --no-cache go", &discard)
	return err
}

func functionCallCompileParser(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	progress <- "validating"

	var args compileArgs
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if args.Code == "" {
		fc.Content = "Parameter 'code' is required"
		fc.Error = true
		return nil
	}

	sb, ok := conv.Sandbox.(*sandbox.Sandbox)
	if !ok || sb == nil {
		fc.Content = "Sandbox is not initialized"
		fc.Error = true
		return nil
	}

	dir, err := writeTemplate(sb)
	if err != nil {
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "parse.go"), []byte(args.Code), 0o644); err != nil {
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}

	progress <- "tidying"
	returnCode, err := runInDir(ctx, sb, parserDir, "go mod tidy", &fc.Content)
	if err != nil || returnCode != "0" {
		fc.Content += "\nTidying failed with return code: " + returnCode
		fc.Error = true
		return nil
	}
	progress <- "progress"

	progress <- "compiling"
	returnCode, err = runInDir(ctx, sb, parserDir, "go build -o parse .", &fc.Content)
	if err != nil || returnCode != "0" {
		fc.Content += "\nCompilation failed with return code: " + returnCode
		fc.Error = true
		return nil
	}
	fc.Content += "\nCompilation successful."
	progress <- "progress"

	progress <- "completed"
	return nil
}
