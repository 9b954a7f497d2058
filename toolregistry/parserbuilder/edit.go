package parserbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/sandbox"
)

type editArgs struct {
	Edit string `json:"edit"`
}

const (
	searchDelim  = "⏪"
	dividerDelim = "⏸️"
	replaceDelim = "⏩"
)

// EditDescriptor is the edit_parser tool. original_source's
// tool_edit_parser.py stops short of actually applying the edit or
// recompiling (fuction_call_edit_parser computes trgdir and returns without
// doing either) — a latent incompleteness, resolved here by applying the
// SEARCH/REPLACE blocks to parser/parse.go and recompiling with `go build`
// as tool_compile_parser.py's fuction_call_compile_parser does for a fresh
// submission (its preceding `go mod tidy` step is not repeated here).
func EditDescriptor() *conversation.ToolDescriptor {
	return &conversation.ToolDescriptor{
		Name:  "edit_parser",
		Title: "Edit a parser in Go language",
		Description: `Edits the parser source file (` + "`parse.go`" + `) using SEARCH/REPLACE blocks and recompiles it.
Returns the compiler stdout and stderr.

The ` + "`edit`" + ` parameter contains one or more SEARCH/REPLACE blocks formatted as:

` + searchDelim + `
<exact lines from the current source to match>
` + dividerDelim + `
<replacement lines>
` + replaceDelim + `

Rules:
- Each delimiter (` + searchDelim + ` ` + dividerDelim + ` ` + replaceDelim + `) must be on its own line.
- The SEARCH section must exactly match the existing source, including whitespace and comments.
- Only the first occurrence of each SEARCH match is replaced.
- Include enough surrounding context in the SEARCH section to ensure a unique match.
- If the SEARCH section does not match any part of the source, the edit will fail with an error.`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"edit": map[string]any{
					"type":        "string",
					"description": "SEARCH/REPLACE blocks, one or more",
				},
			},
			"required": []any{"edit"},
		},
		FunctionCall: functionCallEditParser,
		InitCall:     initCallParserToolchain,
	}
}

func functionCallEditParser(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	progress <- "validating"

	var args editArgs
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		fc.Content = "Exception occurred while parsing arguments."
		fc.Error = true
		return nil
	}
	if args.Edit == "" {
		fc.Content = "Parameter 'edit' is required"
		fc.Error = true
		return nil
	}

	sb, ok := conv.Sandbox.(*sandbox.Sandbox)
	if !ok || sb == nil {
		fc.Content = "Sandbox is not initialized"
		fc.Error = true
		return nil
	}

	parsePath := filepath.Join(sb.Path, parserDir, "parse.go")
	source, err := os.ReadFile(parsePath)
	if err != nil {
		fc.Content = "No existing parser source to edit; use compile_parser first."
		fc.Error = true
		return nil
	}

	blocks, err := parseEditBlocks(args.Edit)
	if err != nil {
		fc.Content = "Exception occurred while parsing edit blocks: " + err.Error()
		fc.Error = true
		return nil
	}

	updated := string(source)
	for i, b := range blocks {
		if !strings.Contains(updated, b.search) {
			fc.Content = fmt.Sprintf("Edit block %d's SEARCH section did not match the current source.", i+1)
			fc.Error = true
			return nil
		}
		updated = strings.Replace(updated, b.search, b.replace, 1)
	}

	if err := os.WriteFile(parsePath, []byte(updated), 0o644); err != nil {
		fc.Content = "Exception occurred while writing parser code"
		fc.Error = true
		return nil
	}

	progress <- "compiling"
	returnCode, err := runInDir(ctx, sb, parserDir, "go build -o parse .", &fc.Content)
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

type editBlock struct {
	search  string
	replace string
}

// parseEditBlocks splits raw on the ⏪/⏸️/⏩ delimiters, each required to sit
// on its own line, into one or more search/replace pairs.
func parseEditBlocks(raw string) ([]editBlock, error) {
	lines := strings.Split(raw, "\n")
	var blocks []editBlock
	var search, replace []string
	const (
		stateNone = iota
		stateSearch
		stateReplace
	)
	state := stateNone
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case searchDelim:
			if state != stateNone {
				return nil, fmt.Errorf("unexpected %s delimiter", searchDelim)
			}
			state = stateSearch
			search, replace = nil, nil
		case dividerDelim:
			if state != stateSearch {
				return nil, fmt.Errorf("unexpected %s delimiter", dividerDelim)
			}
			state = stateReplace
		case replaceDelim:
			if state != stateReplace {
				return nil, fmt.Errorf("unexpected %s delimiter", replaceDelim)
			}
			blocks = append(blocks, editBlock{
				search:  strings.Join(search, "\n"),
				replace: strings.Join(replace, "\n"),
			})
			state = stateNone
		default:
			switch state {
			case stateSearch:
				search = append(search, line)
			case stateReplace:
				replace = append(replace, line)
			}
		}
	}
	if state != stateNone {
		return nil, fmt.Errorf("unterminated edit block")
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no edit blocks found")
	}
	return blocks, nil
}
