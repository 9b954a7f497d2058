package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesProvidersAndSandbox(t *testing.T) {
	cfg, err := Load("testdata/valid.ini")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)

	require.Equal(t, ProviderConfig{
		Name:        "primary",
		Type:        ChatCompletionsAdapter,
		URL:         "https://inference.example.com/",
		APIKey:      "sk-test-123",
		MaxModelLen: 8192,
	}, cfg.Providers[0])

	require.Equal(t, "https://api.anthropic.com/", cfg.Providers[1].URL)
	require.Equal(t, MessagesAdapter, cfg.Providers[1].Type)

	require.Equal(t, AutoFromVLLM, cfg.Providers[2].Type)

	require.Equal(t, "/var/lib/llmulinkd/sandboxes", cfg.Sandbox.Path)
}

func TestLoadMissingURLErrors(t *testing.T) {
	_, err := Load("testdata/missing_url.ini")
	require.Error(t, err)
}

func TestLoadUnrecognizedSectionErrors(t *testing.T) {
	_, err := Load("testdata/unknown_section.ini")
	require.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("testdata/does-not-exist.ini")
	require.Error(t, err)
}

func TestResolveVLLMAdapterKnownModel(t *testing.T) {
	kind, ok := ResolveVLLMAdapter("stepfun-ai/Step-3.5-Flash")
	require.True(t, ok)
	require.Equal(t, ResponsesAdapter, kind)
}

func TestResolveVLLMAdapterUnknownModelFallsBackToChatCompletions(t *testing.T) {
	kind, ok := ResolveVLLMAdapter("some-brand-new/model-nobody-has-seen")
	require.True(t, ok)
	require.Equal(t, ChatCompletionsAdapter, kind)
}
