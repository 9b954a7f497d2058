package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConversationDefaultsLoopBreakTrue(t *testing.T) {
	conv := NewConversation(nil, nil)
	require.True(t, conv.LoopBreak)
	require.True(t, strings.HasPrefix(conv.ConversationID, "conversation-"))
}

func TestModelScansMostRecentUserMessage(t *testing.T) {
	conv := NewConversation(nil, nil)

	ex1 := &Exchange{}
	ex1.Append(NewUserMessage("hi", "model-a"))
	conv.Exchanges = append(conv.Exchanges, ex1)

	ex2 := &Exchange{}
	ex2.Append(NewUserMessage("again", "model-b"))
	conv.Exchanges = append(conv.Exchanges, ex2)

	require.Equal(t, "model-b", conv.Model())
}

func TestModelEmptyWhenNoUserMessage(t *testing.T) {
	conv := NewConversation(nil, nil)
	conv.Exchanges = append(conv.Exchanges, &Exchange{})
	require.Equal(t, "", conv.Model())
}
