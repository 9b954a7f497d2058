// Package chatcompletions implements the OpenAI chat-completions streaming
// dialect (§4.1.1): request serialization, SSE decoding, and incremental
// exchange mutation.
package chatcompletions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/provider"
	"github.com/TeskaLabs/llm-microlink/telemetry"
)

// Adapter implements provider.Client for the chat-completions dialect.
type Adapter struct {
	URL         string
	APIKey      string
	MaxModelLen int
	HTTPClient  *http.Client
	Logger      telemetry.Logger

	// OnEmit receives every monitor event for conv. Events are dropped while
	// it is nil; neither the orchestrator nor cmd/llmulinkd sets it.
	OnEmit func(conv *conversation.Conversation, event any)
	// OnFunctionCall receives each completed FunctionCall, the hook for the
	// orchestrator's tool-execution scheduling path. Completed calls are
	// handed nowhere while it is nil; neither the orchestrator nor
	// cmd/llmulinkd sets it.
	OnFunctionCall func(conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall)
}

// PrepareHeaders returns the headers used for every request: JSON content
// type, plus bearer auth when an API key is configured.
func (a *Adapter) PrepareHeaders() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if a.APIKey != "" {
		h["Authorization"] = "Bearer " + a.APIKey
	}
	return h
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCallParam `json:"tool_calls,omitempty"`
}

type toolCallParam struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function toolFuncDef `json:"function"`
}

type toolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequestBody struct {
	Model         string          `json:"model"`
	Messages      []chatMessage   `json:"messages"`
	Stream        bool            `json:"stream"`
	StreamOptions streamOptions   `json:"stream_options"`
	Tools         []toolDef       `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// buildRequest serializes the conversation history per §4.1.1: a leading
// system message joining instructions, then one mapped message per prior
// item (FunctionCall expands to two messages).
func buildRequest(conv *conversation.Conversation, exchange *conversation.Exchange) (chatRequestBody, error) {
	model := conv.Model()
	if model == "" {
		return chatRequestBody{}, fmt.Errorf("chatcompletions: conversation has no model")
	}
	body := chatRequestBody{
		Model:         model,
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
	}
	if len(conv.Instructions) > 0 {
		body.Messages = append(body.Messages, chatMessage{
			Role:    "system",
			Content: strings.Join(conv.Instructions, "\n"),
		})
	}
	for _, ex := range conv.Exchanges {
		for _, item := range ex.Items {
			switch v := item.(type) {
			case *conversation.UserMessage:
				body.Messages = append(body.Messages, chatMessage{Role: "user", Content: v.Content})
			case *conversation.AssistantText:
				body.Messages = append(body.Messages, chatMessage{Role: "assistant", Content: v.Content})
			case *conversation.AssistantReasoning:
				// omitted from the wire request, per §4.1.1
			case *conversation.FunctionCall:
				body.Messages = append(body.Messages,
					chatMessage{
						Role:    "assistant",
						Content: nil,
						ToolCalls: []toolCallParam{{
							ID:   v.CallID,
							Type: "function",
							Function: toolCallFunction{
								Name:      v.Name,
								Arguments: v.Arguments,
							},
						}},
					},
					chatMessage{Role: "tool", ToolCallID: v.CallID, Content: v.Content},
				)
			}
		}
	}
	if len(conv.Tools) > 0 {
		for _, t := range conv.Tools {
			body.Tools = append(body.Tools, toolDef{
				Type: "function",
				Function: toolFuncDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}
	return body, nil
}

// chunk mirrors the subset of a chat-completions streamed chunk this
// adapter reads.
type chatChunk struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int        `json:"index"`
	Delta        chatDelta  `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chatDelta struct {
	Role      string          `json:"role"`
	Content   *string         `json:"content"`
	Reasoning *string         `json:"reasoning"`
	ToolCalls []toolCallDelta `json:"tool_calls"`
}

type toolCallDelta struct {
	Index    int                   `json:"index"`
	ID       string                `json:"id"`
	Function toolCallDeltaFunction `json:"function"`
}

type toolCallDeltaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// decoder holds per-exchange state for the chat-completions dialect's
// decode loop and emits monitor events as items mutate.
type decoder struct {
	exchange *conversation.Exchange
	emit     func(any)
	onToolCall func(*conversation.FunctionCall)
}

// ChatRequest issues the chat-completions request and streams the response
// into exchange, per §4.1.1.
// Permit acquisition is the orchestrator's responsibility (it selects the
// provider for a turn and holds that provider's permit around the call),
// not the adapter's, per §4.2's "acquire that provider's permit, then call
// its chat_request."
func (a *Adapter) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	reqBody, err := buildRequest(conv, exchange)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	headers := a.PrepareHeaders()
	if result, ok := provider.MeasureTokens(ctx, a.httpClient(), a.URL, headers, payload); ok {
		a.emit(conv, provider.ChatTokensEvent(result, a.MaxModelLen))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL+"v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		a.logger().Warn(ctx, "chatcompletions: non-200 response, abandoning turn", "status", resp.StatusCode, "body", string(raw))
		return nil
	}

	d := &decoder{
		exchange: exchange,
		emit:     func(ev any) { a.emit(conv, ev) },
		onToolCall: func(fc *conversation.FunctionCall) {
			a.onFunctionCall(conv, exchange, fc)
		},
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				d.finalize()
				return nil
			}
			d.finalize()
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			d.finalize()
			return nil
		}
		var c chatChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			a.logger().Warn(ctx, "chatcompletions: malformed SSE JSON, skipping line", "error", err)
			continue
		}
		if err := d.handleChunk(c); err != nil {
			d.finalize()
			return err
		}
	}
}

func (d *decoder) handleChunk(c chatChunk) error {
	for _, choice := range c.Choices {
		delta := choice.Delta

		if delta.Role == "assistant" && delta.Content != nil && *delta.Content == "" && len(delta.ToolCalls) == 0 {
			continue
		}

		if delta.Content != nil {
			d.closeInProgressReasoning()
			at := d.exchange.GetLastAssistantText(conversation.StatusInProgress)
			if at == nil {
				at = conversation.NewAssistantText(nil)
				d.exchange.Append(at)
				d.emit(conversation.NewItemAppended(at))
			}
			at.Content += *delta.Content
			d.emit(conversation.NewItemDelta(at.Key(), *delta.Content))
		}

		if delta.Reasoning != nil {
			ar := d.exchange.GetLastReasoning(conversation.StatusInProgress)
			if ar == nil {
				ar = conversation.NewAssistantReasoning(nil)
				d.exchange.Append(ar)
				d.emit(conversation.NewItemAppended(ar))
			}
			ar.Content += *delta.Reasoning
			d.emit(conversation.NewItemDelta(ar.Key(), *delta.Reasoning))
		}

		if len(delta.ToolCalls) > 0 {
			d.closeInProgressReasoning()
			for _, tcd := range delta.ToolCalls {
				if err := d.handleToolCallDelta(tcd, choice.FinishReason != nil); err != nil {
					return err
				}
			}
		}

		if choice.FinishReason != nil {
			d.closeInProgressReasoning()
			switch *choice.FinishReason {
			case "stop":
				if at := d.exchange.GetLastAssistantText(conversation.StatusInProgress); at != nil {
					at.Status = conversation.StatusCompleted
					d.emit(conversation.NewItemUpdated(at))
				}
			case "tool_calls":
				if fc := d.exchange.FunctionCallByIndex(choice.Index); fc != nil {
					fc.Status = conversation.StatusCompleted
					d.emit(conversation.NewItemUpdated(fc))
					d.onToolCall(fc)
				}
			default:
				// unknown finish reason: ignored; it is not logged
			}
		}
	}
	return nil
}

func (d *decoder) handleToolCallDelta(tcd toolCallDelta, hasFinishReason bool) error {
	matches := d.exchange.FunctionCallsByIndex(tcd.Index)
	switch len(matches) {
	case 0:
		idx := tcd.Index
		fc := conversation.NewFunctionCall(tcd.ID, tcd.Function.Name, tcd.Function.Arguments, &idx)
		d.exchange.Append(fc)
		d.emit(conversation.NewItemAppended(fc))
	case 1:
		fc := matches[0]
		if hasFinishReason {
			// Workaround for providers (e.g. GLM-4.x family) that emit full
			// arguments only in the terminal chunk: replace instead of append.
			// The event then carries the whole replaced arguments string.
			fc.Arguments = tcd.Function.Arguments
			d.emit(conversation.NewItemArgumentsDelta(fc.Key(), fc.Arguments))
		} else {
			fc.Arguments += tcd.Function.Arguments
			d.emit(conversation.NewItemArgumentsDelta(fc.Key(), tcd.Function.Arguments))
		}
	default:
		return fmt.Errorf("chatcompletions: multiple function calls with index %d", tcd.Index)
	}
	return nil
}

func (d *decoder) closeInProgressReasoning() {
	if ar := d.exchange.GetLastReasoning(conversation.StatusInProgress); ar != nil {
		ar.Status = conversation.StatusCompleted
		d.emit(conversation.NewItemUpdated(ar))
	}
}

// finalize closes any still in-progress assistant message and function
// calls on stream termination, per §4.1.1's finalization rule.
func (d *decoder) finalize() {
	if at := d.exchange.GetLastAssistantText(conversation.StatusInProgress); at != nil {
		at.Status = conversation.StatusCompleted
		d.emit(conversation.NewItemUpdated(at))
	}
	for _, item := range d.exchange.Items {
		if fc, ok := item.(*conversation.FunctionCall); ok && fc.Status == conversation.StatusInProgress {
			fc.Status = conversation.StatusCompleted
			d.emit(conversation.NewItemUpdated(fc))
			d.onToolCall(fc)
		}
	}
}

func (a *Adapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Adapter) logger() telemetry.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return telemetry.NewNoopLogger()
}

// emit and onFunctionCall forward to OnEmit/OnFunctionCall when those are
// set, and do nothing otherwise.
func (a *Adapter) emit(conv *conversation.Conversation, event any) {
	if a.OnEmit != nil {
		a.OnEmit(conv, event)
	}
}

func (a *Adapter) onFunctionCall(conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall) {
	if a.OnFunctionCall != nil {
		a.OnFunctionCall(conv, exchange, fc)
	}
}
