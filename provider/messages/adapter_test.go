package messages

import (
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

func TestPrepareHeadersAnthropicHosted(t *testing.T) {
	a := &Adapter{URL: "https://api.anthropic.com/v1/", APIKey: "key-1"}
	h := a.PrepareHeaders()
	require.Equal(t, "key-1", h["X-Api-Key"])
	require.Equal(t, anthropicAPIVer, h["anthropic-version"])
	require.Empty(t, h["Authorization"])
}

func TestPrepareHeadersCompatibleGateway(t *testing.T) {
	a := &Adapter{URL: "https://gateway.internal/v1/", APIKey: "key-2"}
	h := a.PrepareHeaders()
	require.Equal(t, "Bearer key-2", h["Authorization"])
	require.Empty(t, h["X-Api-Key"])
}

func TestBuildParamsSetsThinkingAndMaxTokens(t *testing.T) {
	conv := newTestConversation("claude-test")
	ex := conv.LastExchange()

	params, err := buildParams(conv, ex)
	require.NoError(t, err)
	require.Equal(t, int64(maxTokens), params.MaxTokens)
	require.NotNil(t, params.Thinking.OfEnabled)
	require.Equal(t, int64(thinkingBudget), params.Thinking.OfEnabled.BudgetTokens)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.System, 1)
}

func TestBuildParamsExpandsFunctionCallIntoToolUseAndResult(t *testing.T) {
	conv := newTestConversation("claude-test")
	ex := conv.LastExchange()
	fc := conversation.NewFunctionCall("c1", "ping", `{"target":"x"}`, nil)
	fc.Content = "pong"
	ex.Append(fc)

	params, err := buildParams(conv, ex)
	require.NoError(t, err)
	require.Len(t, params.Messages, 3)
}

func TestBuildParamsRejectsConversationWithoutModel(t *testing.T) {
	conv := conversation.NewConversation(nil, nil)
	ex := &conversation.Exchange{}
	ex.Append(conversation.NewUserMessage("hi", ""))
	conv.Exchanges = append(conv.Exchanges, ex)

	_, err := buildParams(conv, ex)
	require.Error(t, err)
}

func TestFunctionCallInputEmptyArgumentsYieldsEmptyObject(t *testing.T) {
	v, err := functionCallInput("   ")
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, v)
}

func TestFunctionCallInputRejectsInvalidJSON(t *testing.T) {
	_, err := functionCallInput("{not json")
	require.Error(t, err)
}
