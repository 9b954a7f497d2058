package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ToolDescriptor describes a tool available to a conversation: its schema,
// its executor, and an optional one-shot per-conversation initializer.
// Grounded on original_source's FunctionCallTool.
type ToolDescriptor struct {
	Name        string
	Title       string
	Description string
	// Parameters is a JSON-schema object describing the arguments shape.
	Parameters map[string]any
	// FunctionCall executes the tool against fc, mutating it in place and
	// yielding progress tokens on progress. Returning ends the call. conv
	// is passed so stateful tools can reach conversation-scoped resources
	// (e.g. the shell tool's Sandbox) — original_source is inconsistent
	// here (busybox's function_call takes a conversation argument that
	// svc_tool.py's execute() never actually passes), resolved by always
	// passing it.
	FunctionCall func(ctx context.Context, conv *Conversation, fc *FunctionCall, progress chan<- string) error
	// InitCall, if non-nil, runs once per conversation before the tool's
	// first use.
	InitCall func(ctx context.Context, conv *Conversation) error
}

// Monitor is a subscriber of conversation events.
type Monitor func(ctx context.Context, event any) error

// TaskHandle tracks one live asynchronous task against a conversation, with
// a cancel function so RestartConversation can cancel tasks whose exchange
// was truncated (see DESIGN.md's Open Question resolution #3).
type TaskHandle struct {
	Name     string
	Exchange *Exchange
	Cancel   context.CancelFunc
	Done     <-chan struct{}
}

// Sandbox is the narrow view of a sandbox a Conversation holds; the full
// type lives in package sandbox to avoid an import cycle.
type Sandbox interface {
	Close() error
}

// Conversation is the long-lived, in-memory unit of orchestration state.
// Owned exclusively by the scheduler goroutine that currently services it;
// the orchestrator's registry mutex guards insertion/removal by id and the
// orchestrator's task mutex guards Tasks and LoopBreak. Item mutation takes
// no lock.
type Conversation struct {
	ConversationID string
	// Tenant identifies the caller this conversation belongs to, surfaced
	// to REST-tool expressions as the "tenant" binding (spec §6's
	// `{tenant, parameters, arguments, response}` dictionary); it carries
	// no isolation or access-control semantics of its own (spec §1's
	// Non-goals exclude multi-tenant isolation beyond sandboxing), and
	// defaults to the empty string when the caller has no tenant concept.
	Tenant          string
	Instructions    []string
	Tools           map[string]*ToolDescriptor
	ToolInitialized map[string]bool
	Exchanges       []*Exchange
	Monitors        []Monitor
	Tasks           []*TaskHandle
	LoopBreak       bool
	Sandbox         Sandbox
	CreatedAt       time.Time
}

// NewConversation constructs a fresh conversation with a generated id,
// loop_break defaulting to true (original_source's default), no exchanges.
func NewConversation(instructions []string, tools map[string]*ToolDescriptor) *Conversation {
	return &Conversation{
		ConversationID:  "conversation-" + hexUUID(),
		Instructions:    instructions,
		Tools:           tools,
		ToolInitialized: make(map[string]bool),
		LoopBreak:       true,
		CreatedAt:       nowUTC(),
	}
}

func hexUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Model scans exchanges and items in reverse for the most recent
// UserMessage's Model field. Returns "" if none found.
func (c *Conversation) Model() string {
	for i := len(c.Exchanges) - 1; i >= 0; i-- {
		ex := c.Exchanges[i]
		for j := len(ex.Items) - 1; j >= 0; j-- {
			if um, ok := ex.Items[j].(*UserMessage); ok {
				return um.Model
			}
		}
	}
	return ""
}

// LastExchange returns the most recently appended exchange, or nil.
func (c *Conversation) LastExchange() *Exchange {
	if len(c.Exchanges) == 0 {
		return nil
	}
	return c.Exchanges[len(c.Exchanges)-1]
}
