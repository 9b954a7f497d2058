// Package messages implements the Anthropic Messages streaming dialect
// (§4.1.3) directly on top of github.com/anthropics/anthropic-sdk-go,
// mirroring features/model/anthropic/{client,stream}.go's use of the SDK:
// sdk.NewClient with functional options, MessageNewParams construction,
// and an event-typed dispatch over ssestream.Stream[sdk.MessageStreamEventUnion].
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/telemetry"
)

const (
	maxTokens       = 40 * 1024
	thinkingBudget  = 10000
	anthropicAPIVer = "2023-06-01"
)

// Adapter implements provider.Client for the Messages dialect.
type Adapter struct {
	URL         string
	APIKey      string
	MaxModelLen int
	HTTPClient  *http.Client
	Logger      telemetry.Logger

	OnEmit         func(conv *conversation.Conversation, event any)
	OnFunctionCall func(conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall)

	client     sdk.Client
	clientOnce bool
}

// PrepareHeaders returns the headers a direct (non-SDK) caller would need;
// the SDK client applies the equivalent headers internally via its own
// option.RequestOption chain, so this is exposed mainly for parity with
// the other two adapters' Client interface and for logging/tests.
func (a *Adapter) PrepareHeaders() map[string]string {
	if isAnthropicHosted(a.URL) {
		return map[string]string{
			"X-Api-Key":         a.APIKey,
			"anthropic-version": anthropicAPIVer,
		}
	}
	return map[string]string{"Authorization": "Bearer " + a.APIKey}
}

func isAnthropicHosted(baseURL string) bool {
	return strings.Contains(baseURL, "anthropic.com")
}

// sdkClient builds (and caches) the anthropic-sdk-go client, choosing the
// header scheme per §4.1.3's rule: X-Api-Key + anthropic-version against
// the real Anthropic endpoint, Bearer auth against anything else (a
// compatible gateway).
func (a *Adapter) sdkClient() sdk.Client {
	if a.clientOnce {
		return a.client
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(a.httpClient()),
	}
	if a.URL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(a.URL, "/")))
	}
	if isAnthropicHosted(a.URL) {
		opts = append(opts, option.WithAPIKey(a.APIKey))
	} else {
		opts = append(opts, option.WithHeader("Authorization", "Bearer "+a.APIKey))
	}
	a.client = sdk.NewClient(opts...)
	a.clientOnce = true
	return a.client
}

// buildParams serializes the conversation history per §4.1.3.
func buildParams(conv *conversation.Conversation, exchange *conversation.Exchange) (sdk.MessageNewParams, error) {
	model := conv.Model()
	if model == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("messages: conversation has no model")
	}

	var msgs []sdk.MessageParam
	for _, ex := range conv.Exchanges {
		for _, item := range ex.Items {
			switch v := item.(type) {
			case *conversation.UserMessage:
				msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(v.Content)))
			case *conversation.AssistantText:
				msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(v.Content)))
			case *conversation.AssistantReasoning:
				// omitted from the wire request, per §4.1.3
			case *conversation.FunctionCall:
				input, err := functionCallInput(v.Arguments)
				if err != nil {
					return sdk.MessageNewParams{}, err
				}
				msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewToolUseBlock(v.CallID, input, v.Name)))
				msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(v.CallID, v.Content, v.Error)))
			}
		}
	}
	if len(msgs) == 0 {
		return sdk.MessageNewParams{}, fmt.Errorf("messages: conversation has no messages")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Thinking:  sdk.ThinkingConfigParamOfEnabled(int64(thinkingBudget)),
	}
	if len(conv.Instructions) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(conv.Instructions, "\n")}}
	}
	for _, t := range conv.Tools {
		schema := sdk.ToolInputSchemaParam{ExtraFields: t.Parameters}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

// functionCallInput parses a FunctionCall's stored Arguments string as JSON
// input for a tool_use block, per §4.1.3 ("input is arguments parsed as
// JSON, empty object if arguments empty").
func functionCallInput(arguments string) (any, error) {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, fmt.Errorf("messages: arguments not valid JSON: %w", err)
	}
	return v, nil
}

// decoder holds per-exchange state for the event-typed decode loop.
type decoder struct {
	exchange   *conversation.Exchange
	emit       func(any)
	onToolCall func(*conversation.FunctionCall)
	maxModel   int
}

// ChatRequest issues the Messages streaming request and dispatches events
// into exchange, per §4.1.3's event table.
// Permit acquisition is the orchestrator's responsibility; see
// chatcompletions.Adapter.ChatRequest's equivalent note.
func (a *Adapter) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	params, err := buildParams(conv, exchange)
	if err != nil {
		return err
	}

	stream := a.sdkClient().Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return fmt.Errorf("messages: start stream: %w", err)
	}
	defer stream.Close()

	d := &decoder{
		exchange: exchange,
		emit:     func(ev any) { a.emit(conv, ev) },
		onToolCall: func(fc *conversation.FunctionCall) {
			a.onFunctionCall(conv, exchange, fc)
		},
		maxModel: a.MaxModelLen,
	}

	for stream.Next() {
		event := stream.Current()
		if err := d.handleEvent(event); err != nil {
			d.finalize()
			return err
		}
	}
	if err := stream.Err(); err != nil {
		d.finalize()
		return fmt.Errorf("messages: stream: %w", err)
	}
	d.finalize()
	return nil
}

func (d *decoder) handleEvent(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		if ev.Message.Usage.InputTokens != 0 {
			d.emit(conversation.NewChatTokens(int(ev.Message.Usage.InputTokens), d.maxModel))
		}
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		block := ev.ContentBlock.AsAny()
		switch b := block.(type) {
		case sdk.TextBlock:
			at := conversation.NewAssistantText(&idx)
			at.Content = b.Text
			d.exchange.Append(at)
			d.emit(conversation.NewItemAppended(at))
		case sdk.ThinkingBlock:
			ar := conversation.NewAssistantReasoning(&idx)
			ar.Content = b.Thinking
			d.exchange.Append(ar)
			d.emit(conversation.NewItemAppended(ar))
		case sdk.ToolUseBlock:
			if b.ID == "" {
				return fmt.Errorf("messages: tool_use block missing id at index %d", idx)
			}
			fc := conversation.NewFunctionCall(b.ID, b.Name, "", &idx)
			d.exchange.Append(fc)
			d.emit(conversation.NewItemAppended(fc))
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		item := d.exchange.ItemByIndex(idx)
		if item == nil {
			return nil
		}
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			at, ok := item.(*conversation.AssistantText)
			if !ok {
				return nil
			}
			at.Content += delta.Text
			d.emit(conversation.NewItemDelta(at.Key(), delta.Text))
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			ar, ok := item.(*conversation.AssistantReasoning)
			if !ok {
				return nil
			}
			ar.Content += delta.Thinking
			d.emit(conversation.NewItemDelta(ar.Key(), delta.Thinking))
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			fc, ok := item.(*conversation.FunctionCall)
			if !ok {
				return nil
			}
			fc.Arguments += delta.PartialJSON
			// Arguments deltas are not publicly emitted, per §4.1.3's table.
		}
		return nil
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		item := d.exchange.ItemByIndex(idx)
		if item == nil {
			return nil
		}
		switch v := item.(type) {
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
		return nil
	case sdk.MessageDeltaEvent:
		if ev.Usage.OutputTokens != 0 {
			d.emit(conversation.NewChatTokens(int(ev.Usage.OutputTokens), d.maxModel))
		}
		return nil
	case sdk.MessageStopEvent:
		return nil
	default:
		// ping and unrecognized event types: ignore, per §4.1.3's table.
		return nil
	}
}

// finalize closes any item left in_progress when the stream ends without a
// matching content_block_stop event, mirroring the other two dialects'
// finalization rule.
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
