// Package config loads the section-per-provider ini-style configuration
// described by spec.md §6: one [provider:X] section per configured
// backend, plus an optional [sandbox] section naming the root directory
// under which per-conversation sandbox directories are created. Grounded
// on spec.md §6 directly (original_source's equivalent, asab's
// ConfigObject, is a thin wrapper over Python's own configparser with no
// Go analogue worth porting) and on the teacher's convention of a single
// typed Config struct built at startup and never mutated afterwards
// (runtime/agent/session/inmem.Store's "initialize once" idiom, applied
// here to configuration rather than session state).
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// AdapterType names the wire dialect a [provider:X] section drives.
type AdapterType string

const (
	ChatCompletionsAdapter AdapterType = "ChatCompletionsAdapter"
	MessagesAdapter        AdapterType = "MessagesAdapter"
	ResponsesAdapter       AdapterType = "ResponsesAdapter"
	AutoFromVLLM           AdapterType = "auto-from-vLLM"
)

// vllmModelAdapter maps a model id exactly as reported by a vLLM
// endpoint's /v1/models to the adapter dialect it actually speaks, used to
// resolve AutoFromVLLM sections. Grounded exactly on original_source's
// svc_router.py._initialize_vllm match statement, model id for model id;
// note it never maps anything to the Messages dialect (vLLM backends in
// this table only ever speak chat-completions or responses).
var vllmModelAdapter = map[string]AdapterType{
	"arcee-ai/Trinity-Large-Preview-FP8":      ChatCompletionsAdapter,
	"stepfun-ai/Step-3.5-Flash":               ResponsesAdapter,
	"stepfun-ai/Step-3.5-Flash-FP8":           ResponsesAdapter,
	"mistralai/Devstral-2-123B-Instruct-2512": ChatCompletionsAdapter,
	"openai/gpt-oss-120b":                     ResponsesAdapter,
	"openai/gpt-oss-20b":                      ResponsesAdapter,
	"MiniMaxAI/MiniMax-M2.5":                  ChatCompletionsAdapter,
}

// ResolveVLLMAdapter maps a model id reported by a vLLM endpoint to the
// adapter dialect it speaks. An unrecognized model id falls back to
// ChatCompletionsAdapter, matching _initialize_vllm's `case _` default,
// rather than failing resolution. The second result is true in both cases,
// so the caller cannot tell a fallback from a table hit.
func ResolveVLLMAdapter(modelID string) (AdapterType, bool) {
	if kind, ok := vllmModelAdapter[modelID]; ok {
		return kind, true
	}
	return ChatCompletionsAdapter, true
}

// ProviderConfig is one [provider:X] section.
type ProviderConfig struct {
	Name        string
	Type        AdapterType
	URL         string
	APIKey      string
	MaxModelLen int
}

// SandboxConfig is the [sandbox] section.
type SandboxConfig struct {
	Path string
}

// Config is the fully parsed, immutable configuration for one process.
type Config struct {
	Providers []ProviderConfig
	Sandbox   SandboxConfig
}

// Load parses an ini file at path into a Config. Unknown provider types
// are not rejected here — §7's "configuration errors ... logged at load
// time and skipped; do not fail service startup" is the caller's
// responsibility once it tries to build an adapter for each entry, since
// Load itself has no logger to report through.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := &Config{}
	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case name == ini.DefaultSection:
			continue
		case strings.HasPrefix(name, "provider:"):
			pc := ProviderConfig{
				Name:        strings.TrimPrefix(name, "provider:"),
				Type:        AdapterType(section.Key("type").String()),
				URL:         normalizeBaseURL(section.Key("url").String()),
				APIKey:      section.Key("api_key").String(),
				MaxModelLen: section.Key("max_model_len").MustInt(0),
			}
			if pc.URL == "" {
				return nil, fmt.Errorf("config: section %q missing url", name)
			}
			cfg.Providers = append(cfg.Providers, pc)
		case name == "sandbox":
			cfg.Sandbox.Path = section.Key("path").String()
		default:
			return nil, fmt.Errorf("config: unrecognized section %q", name)
		}
	}
	return cfg, nil
}

// normalizeBaseURL ensures baseURL ends with exactly one trailing slash,
// matching provider.ListModels and the adapters' "baseURL + \"v1/...\""
// concatenation convention.
func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/"
}
