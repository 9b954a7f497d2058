// Package responses implements the OpenAI "responses" streaming dialect
// (§4.1.2): request serialization mirrors chatcompletions, but stream
// decoding dispatches purely by a stable per-item index carried on each
// chunk rather than by type-inference on the fields present. The source
// spec is explicit that no reference implementation exists for this
// dialect's wire body; this reconstructs it as the chat-completions-style
// "one JSON object per SSE data line" transport, applying the Messages
// adapter's per-index item-creation/dispatch shape, per spec §4.1.2's own
// instruction to reuse that pattern without event names.
package responses

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

// Adapter implements provider.Client for the responses dialect.
type Adapter struct {
	URL         string
	APIKey      string
	MaxModelLen int
	HTTPClient  *http.Client
	Logger      telemetry.Logger

	OnEmit         func(conv *conversation.Conversation, event any)
	OnFunctionCall func(conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall)
}

// PrepareHeaders returns the headers used for every request.
func (a *Adapter) PrepareHeaders() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if a.APIKey != "" {
		h["Authorization"] = "Bearer " + a.APIKey
	}
	return h
}

type responseInputItem struct {
	Role       string              `json:"role"`
	Content    any                 `json:"content,omitempty"`
	CallID     string              `json:"call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
	Arguments  string              `json:"arguments,omitempty"`
	Output     string              `json:"output,omitempty"`
	Type       string              `json:"type,omitempty"`
}

type responseToolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type responseRequestBody struct {
	Model        string              `json:"model"`
	Instructions string              `json:"instructions,omitempty"`
	Input        []responseInputItem `json:"input"`
	Stream       bool                `json:"stream"`
	Tools        []responseToolDef   `json:"tools,omitempty"`
}

// buildRequest serializes the conversation history per the responses API's
// flattened "input" item list, mirroring chatcompletions.buildRequest's
// item-to-message mapping but without a leading system message (the
// responses API carries instructions as a top-level field).
func buildRequest(conv *conversation.Conversation, exchange *conversation.Exchange) (responseRequestBody, error) {
	model := conv.Model()
	if model == "" {
		return responseRequestBody{}, fmt.Errorf("responses: conversation has no model")
	}
	body := responseRequestBody{
		Model:        model,
		Instructions: strings.Join(conv.Instructions, "\n"),
		Stream:       true,
	}
	for _, ex := range conv.Exchanges {
		for _, item := range ex.Items {
			switch v := item.(type) {
			case *conversation.UserMessage:
				body.Input = append(body.Input, responseInputItem{Role: "user", Content: v.Content, Type: "message"})
			case *conversation.AssistantText:
				body.Input = append(body.Input, responseInputItem{Role: "assistant", Content: v.Content, Type: "message"})
			case *conversation.AssistantReasoning:
				// omitted from the wire request, matching chatcompletions
			case *conversation.FunctionCall:
				body.Input = append(body.Input,
					responseInputItem{Type: "function_call", CallID: v.CallID, Name: v.Name, Arguments: v.Arguments},
					responseInputItem{Type: "function_call_output", CallID: v.CallID, Output: v.Content},
				)
			}
		}
	}
	if len(conv.Tools) > 0 {
		for _, t := range conv.Tools {
			body.Tools = append(body.Tools, responseToolDef{
				Type:        "function",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return body, nil
}

// responseChunk is one decoded SSE data line. item_type/call_id/name are
// only present on the first chunk for a given index (item creation);
// delta carries the incremental payload for every subsequent chunk at
// that index.
type responseChunk struct {
	Index        int            `json:"index"`
	ItemType     string         `json:"item_type,omitempty"`
	CallID       string         `json:"call_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Delta        *responseDelta `json:"delta,omitempty"`
	Done         bool           `json:"done,omitempty"`
	FinishReason *string        `json:"finish_reason,omitempty"`
}

type responseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type decoder struct {
	exchange   *conversation.Exchange
	emit       func(any)
	onToolCall func(*conversation.FunctionCall)
}

// ChatRequest issues the responses request and streams the response into
// exchange, per §4.1.2.
// Permit acquisition is the orchestrator's responsibility; see
// chatcompletions.Adapter.ChatRequest's equivalent note.
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL+"v1/responses", bytes.NewReader(payload))
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
		a.logger().Warn(ctx, "responses: non-200 response, abandoning turn", "status", resp.StatusCode, "body", string(raw))
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
		var c responseChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			a.logger().Warn(ctx, "responses: malformed SSE JSON, skipping line", "error", err)
			continue
		}
		if err := d.handleChunk(c); err != nil {
			d.finalize()
			return err
		}
	}
}

// handleChunk dispatches purely on c.Index: the first chunk seen for an
// index creates the item (per ItemType), every later chunk at that index
// routes its delta to the existing item, and Done closes it.
func (d *decoder) handleChunk(c responseChunk) error {
	existing := d.exchange.ItemByIndex(c.Index)

	if existing == nil && c.ItemType != "" {
		idx := c.Index
		switch c.ItemType {
		case "text":
			at := conversation.NewAssistantText(&idx)
			d.exchange.Append(at)
			d.emit(conversation.NewItemAppended(at))
			existing = at
		case "thinking":
			ar := conversation.NewAssistantReasoning(&idx)
			d.exchange.Append(ar)
			d.emit(conversation.NewItemAppended(ar))
			existing = ar
		case "function_call":
			fc := conversation.NewFunctionCall(c.CallID, c.Name, "", &idx)
			d.exchange.Append(fc)
			d.emit(conversation.NewItemAppended(fc))
			existing = fc
		default:
			return fmt.Errorf("responses: unknown item_type %q at index %d", c.ItemType, c.Index)
		}
	}

	if c.Delta != nil && existing != nil {
		switch v := existing.(type) {
		case *conversation.AssistantText:
			if c.Delta.Text != "" {
				v.Content += c.Delta.Text
				d.emit(conversation.NewItemDelta(v.Key(), c.Delta.Text))
			}
		case *conversation.AssistantReasoning:
			if c.Delta.Thinking != "" {
				v.Content += c.Delta.Thinking
				d.emit(conversation.NewItemDelta(v.Key(), c.Delta.Thinking))
			}
		case *conversation.FunctionCall:
			if c.Delta.PartialJSON != "" {
				v.Arguments += c.Delta.PartialJSON
				d.emit(conversation.NewItemArgumentsDelta(v.Key(), c.Delta.PartialJSON))
			}
		}
	}

	if c.Done && existing != nil {
		switch v := existing.(type) {
		case *conversation.AssistantText:
			v.Status = conversation.StatusCompleted
			d.emit(conversation.NewItemUpdated(v))
		case *conversation.AssistantReasoning:
			v.Status = conversation.StatusCompleted
			d.emit(conversation.NewItemUpdated(v))
		case *conversation.FunctionCall:
			v.Status = conversation.StatusCompleted
			d.emit(conversation.NewItemUpdated(v))
			d.onToolCall(v)
		}
	}

	return nil
}

// finalize closes any item left in_progress when the stream ends without
// an explicit Done chunk, mirroring chatcompletions' finalization rule.
func (d *decoder) finalize() {
	for _, item := range d.exchange.Items {
		switch v := item.(type) {
		case *conversation.AssistantText:
			if v.Status == conversation.StatusInProgress {
				v.Status = conversation.StatusCompleted
				d.emit(conversation.NewItemUpdated(v))
			}
		case *conversation.AssistantReasoning:
			if v.Status == conversation.StatusInProgress {
				v.Status = conversation.StatusCompleted
				d.emit(conversation.NewItemUpdated(v))
			}
		case *conversation.FunctionCall:
			if v.Status == conversation.StatusInProgress {
				v.Status = conversation.StatusCompleted
				d.emit(conversation.NewItemUpdated(v))
				d.onToolCall(v)
			}
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
