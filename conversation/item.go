// Package conversation defines the tagged content-item model shared by the
// provider adapters, the orchestrator, and the tool-execution layer: typed
// items within append-only exchanges within a long-lived conversation.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Status values shared across item kinds. Not every kind uses every value:
// FunctionCall additionally uses StatusExecuting and StatusFinished.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusExecuting  = "executing"
	StatusFinished   = "finished"
)

// Item is the marker interface implemented by every content-item variant.
// Concrete types are never distinguished by name comparison; callers switch
// on the concrete type or on Kind().
type Item interface {
	isItem()
	// Key returns the item's unique, prefix-tagged identifier.
	Key() string
	// Kind returns the wire discriminator for this item ("message",
	// "reasoning", "function_call").
	Kind() string
}

// AssistantText is a streamed assistant text block.
type AssistantText struct {
	KeyValue  string    `json:"key"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Role      string    `json:"role"`
	Index     *int      `json:"index,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (*AssistantText) isItem()      {}
func (i *AssistantText) Key() string { return i.KeyValue }
func (*AssistantText) Kind() string  { return "message" }

// NewAssistantText creates an in-progress assistant text item.
func NewAssistantText(index *int) *AssistantText {
	return &AssistantText{
		KeyValue:  "message-" + uuid.NewString(),
		Status:    StatusInProgress,
		Role:      "assistant",
		Index:     index,
		CreatedAt: nowUTC(),
	}
}

// AssistantReasoning is a streamed assistant reasoning (thinking) block.
type AssistantReasoning struct {
	KeyValue  string    `json:"key"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Index     *int      `json:"index,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (*AssistantReasoning) isItem()      {}
func (i *AssistantReasoning) Key() string { return i.KeyValue }
func (*AssistantReasoning) Kind() string  { return "reasoning" }

// NewAssistantReasoning creates an in-progress reasoning item.
func NewAssistantReasoning(index *int) *AssistantReasoning {
	return &AssistantReasoning{
		KeyValue:  "reasoning-" + uuid.NewString(),
		Status:    StatusInProgress,
		Index:     index,
		CreatedAt: nowUTC(),
	}
}

// FunctionCall is a model-emitted tool call, mutated in place through
// execution by the tool registry and the orchestrator's function-call task.
type FunctionCall struct {
	KeyValue  string    `json:"key"`
	CallID    string    `json:"call_id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Status    string    `json:"status"`
	Content   string    `json:"content"`
	Error     bool      `json:"error"`
	Index     *int      `json:"index,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (*FunctionCall) isItem()      {}
func (i *FunctionCall) Key() string { return i.KeyValue }
func (*FunctionCall) Kind() string  { return "function_call" }

// NewFunctionCall creates an in-progress function call item.
func NewFunctionCall(callID, name, arguments string, index *int) *FunctionCall {
	return &FunctionCall{
		KeyValue:  "fc-" + uuid.NewString(),
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
		Status:    StatusInProgress,
		Index:     index,
		CreatedAt: nowUTC(),
	}
}

// UserMessage is the item that opens an exchange: a user turn naming the
// model that should drive it.
type UserMessage struct {
	KeyValue  string    `json:"key"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func (*UserMessage) isItem()      {}
func (i *UserMessage) Key() string { return i.KeyValue }
func (*UserMessage) Kind() string  { return "message" }

// NewUserMessage creates a user message item naming the model for the turn.
func NewUserMessage(content, model string) *UserMessage {
	return &UserMessage{
		KeyValue:  "user-message-" + uuid.NewString(),
		Role:      "user",
		Content:   content,
		Model:     model,
		CreatedAt: nowUTC(),
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
