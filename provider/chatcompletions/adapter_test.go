package chatcompletions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

func newTestConversation(model string) *conversation.Conversation {
	conv := conversation.NewConversation([]string{"be terse"}, nil)
	ex := &conversation.Exchange{}
	ex.Append(conversation.NewUserMessage("hi", model))
	conv.Exchanges = append(conv.Exchanges, ex)
	return conv
}

func TestPlainCompletionScenario(t *testing.T) {
	const sse = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: {\"choices\":[{\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	a := &Adapter{URL: srv.URL + "/"}
	var events []any
	a.OnEmit = func(_ *conversation.Conversation, event any) { events = append(events, event) }

	conv := newTestConversation("test-model")
	exchange := conv.LastExchange()

	err := a.ChatRequest(context.Background(), conv, exchange)
	require.NoError(t, err)

	var text *conversation.AssistantText
	for _, item := range exchange.Items {
		if at, ok := item.(*conversation.AssistantText); ok {
			text = at
		}
	}
	require.NotNil(t, text)
	require.Equal(t, "Hello", text.Content)
	require.Equal(t, conversation.StatusCompleted, text.Status)
	require.NotEmpty(t, events)
}

func TestToolCallRoundTripScenario(t *testing.T) {
	const sse = "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"ping\",\"arguments\":\"{\\\"target\\\":\\\"x\\\"}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	a := &Adapter{URL: srv.URL + "/"}
	var handedOff *conversation.FunctionCall
	a.OnFunctionCall = func(_ *conversation.Conversation, _ *conversation.Exchange, fc *conversation.FunctionCall) {
		handedOff = fc
	}

	conv := newTestConversation("test-model")
	exchange := conv.LastExchange()

	err := a.ChatRequest(context.Background(), conv, exchange)
	require.NoError(t, err)
	require.NotNil(t, handedOff)
	require.Equal(t, conversation.StatusCompleted, handedOff.Status)
	require.Equal(t, `{"target":"x"}`, handedOff.Arguments)
}

func TestPartialStreamFinalizesInProgressMessage(t *testing.T) {
	const sse = "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	a := &Adapter{URL: srv.URL + "/"}
	conv := newTestConversation("test-model")
	exchange := conv.LastExchange()

	err := a.ChatRequest(context.Background(), conv, exchange)
	require.NoError(t, err)

	at := exchange.GetLastItem("message", "")
	require.NotNil(t, at)
	require.Equal(t, conversation.StatusCompleted, at.(*conversation.AssistantText).Status)
}

func TestBuildRequestExpandsFunctionCallIntoTwoMessages(t *testing.T) {
	conv := newTestConversation("test-model")
	ex := conv.LastExchange()
	fc := conversation.NewFunctionCall("c1", "ping", `{"target":"x"}`, nil)
	fc.Content = "pong"
	ex.Append(fc)

	body, err := buildRequest(conv, ex)
	require.NoError(t, err)

	var roles []string
	for _, m := range body.Messages {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []string{"system", "user", "assistant", "tool"}, roles)
	require.True(t, strings.Contains(body.Messages[len(body.Messages)-2].ToolCalls[0].Function.Name, "ping"))
}
