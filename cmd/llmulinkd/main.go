// Command llmulinkd wires the orchestrator's collaborators into a running
// process: configured providers, the tool registry (local tools, plus an
// optional Redis-backed distributed provider), the sandbox root, and the
// library collaborator serving the default conversation instructions.
//
// The HTTP transport façade clients use to submit messages and subscribe
// monitors is out of this package's scope (spec.md §1 names it an external
// collaborator); this command only constructs the orchestrator and leaves
// wiring it to a transport layer as the caller's job.
//
// # Configuration
//
// Environment variables:
//
//	LLMULINK_CONFIG         - path to the ini configuration file (required)
//	LLMULINK_LIBRARY_ROOT   - filesystem root serving /AI/Prompts and /AI/Skill content
//	LLMULINK_DEFAULT_PROMPT - library path of the default instructions (default: "/AI/Prompts/default.md")
//	LLMULINK_REST_BASE_URL  - base URL the distributed provider's synthesized REST tools call (default: "http://127.0.0.1:8898")
//	REDIS_URL               - enables the distributed tool provider when set
//	REDIS_PASSWORD          - optional Redis password
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/TeskaLabs/llm-microlink/config"
	"github.com/TeskaLabs/llm-microlink/library"
	"github.com/TeskaLabs/llm-microlink/orchestrator"
	"github.com/TeskaLabs/llm-microlink/provider"
	"github.com/TeskaLabs/llm-microlink/provider/chatcompletions"
	"github.com/TeskaLabs/llm-microlink/provider/messages"
	"github.com/TeskaLabs/llm-microlink/provider/responses"
	"github.com/TeskaLabs/llm-microlink/sandbox"
	"github.com/TeskaLabs/llm-microlink/telemetry"
	"github.com/TeskaLabs/llm-microlink/toolregistry"
	"github.com/TeskaLabs/llm-microlink/toolregistry/distributed"
	"github.com/TeskaLabs/llm-microlink/toolregistry/local"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()
	logger := telemetry.NewClueLogger()

	configPath := os.Getenv("LLMULINK_CONFIG")
	if configPath == "" {
		return fmt.Errorf("LLMULINK_CONFIG is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	if len(providers) == 0 {
		return fmt.Errorf("no usable [provider:*] sections in %s", configPath)
	}

	sandboxRoot := cfg.Sandbox.Path
	if sandboxRoot == "" {
		sandboxRoot = os.TempDir()
	}
	sandboxFactory := func(ctx context.Context) (*sandbox.Sandbox, error) {
		return sandbox.New(ctx, sandboxRoot, logger)
	}

	tools, err := buildToolRegistry(ctx, sandboxFactory, logger)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	lib := library.NewFSService(envOr("LLMULINK_LIBRARY_ROOT", "."))
	defaultPrompt := envOr("LLMULINK_DEFAULT_PROMPT", "/AI/Prompts/default.md")

	orch := orchestrator.New(providers, lib, tools, defaultPrompt, logger)

	logger.Info(ctx, "llmulinkd: orchestrator constructed", "providers", len(providers))

	// No HTTP transport façade is built here (spec.md §1's out-of-scope
	// list); orch is the integration point a transport layer drives via
	// CreateConversation/CreateExchange/SendUpdate.
	_ = orch
	return nil
}

// buildProviders constructs one orchestrator.Provider per [provider:X]
// config section, resolving auto-from-vLLM sections by probing /v1/models
// and expecting exactly one reported model id, per spec.md §6. A section
// whose type cannot be resolved is logged and skipped (§7's "configuration
// errors ... logged at load time and skipped; do not fail service
// startup"), never fatal to the rest.
func buildProviders(ctx context.Context, cfg *config.Config, logger telemetry.Logger) ([]*orchestrator.Provider, error) {
	httpClient := http.DefaultClient

	var out []*orchestrator.Provider
	for _, pc := range cfg.Providers {
		adapterType := pc.Type
		if adapterType == config.AutoFromVLLM {
			resolved, err := resolveVLLMType(ctx, httpClient, pc)
			if err != nil {
				logger.Warn(ctx, "llmulinkd: auto-from-vLLM probe failed, skipping provider", "provider", pc.Name, "error", err)
				continue
			}
			adapterType = resolved
		}

		client, err := buildAdapter(adapterType, pc, httpClient, logger)
		if err != nil {
			logger.Warn(ctx, "llmulinkd: unrecognized provider type, skipping provider", "provider", pc.Name, "type", string(pc.Type), "error", err)
			continue
		}

		out = append(out, &orchestrator.Provider{
			Name:       pc.Name,
			Client:     client,
			HTTPClient: httpClient,
			BaseURL:    pc.URL,
			Permit:     provider.NewPermit(2),
		})
	}
	return out, nil
}

func buildAdapter(adapterType config.AdapterType, pc config.ProviderConfig, httpClient *http.Client, logger telemetry.Logger) (provider.Client, error) {
	switch adapterType {
	case config.ChatCompletionsAdapter:
		return &chatcompletions.Adapter{
			URL:         pc.URL,
			APIKey:      pc.APIKey,
			MaxModelLen: pc.MaxModelLen,
			HTTPClient:  httpClient,
			Logger:      logger,
		}, nil
	case config.MessagesAdapter:
		return &messages.Adapter{
			URL:         pc.URL,
			APIKey:      pc.APIKey,
			MaxModelLen: pc.MaxModelLen,
			HTTPClient:  httpClient,
			Logger:      logger,
		}, nil
	case config.ResponsesAdapter:
		return &responses.Adapter{
			URL:         pc.URL,
			APIKey:      pc.APIKey,
			MaxModelLen: pc.MaxModelLen,
			HTTPClient:  httpClient,
			Logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("unrecognized provider type %q", string(adapterType))
	}
}

// resolveVLLMType probes pc.URL's /v1/models, expects exactly one reported
// model id, and maps it to an adapter dialect via config.ResolveVLLMAdapter.
func resolveVLLMType(ctx context.Context, httpClient *http.Client, pc config.ProviderConfig) (config.AdapterType, error) {
	headers := map[string]string{}
	if pc.APIKey != "" {
		headers["Authorization"] = "Bearer " + pc.APIKey
	}
	models, err := provider.ListModels(ctx, httpClient, pc.URL, headers)
	if err != nil {
		return "", fmt.Errorf("probe /v1/models: %w", err)
	}
	if len(models) != 1 {
		return "", fmt.Errorf("expected exactly one model from auto-from-vLLM endpoint, got %d", len(models))
	}
	adapterType, ok := config.ResolveVLLMAdapter(models[0])
	if !ok {
		return "", fmt.Errorf("no adapter mapping for model %q", models[0])
	}
	return adapterType, nil
}

// buildToolRegistry assembles the always-present local provider and, when
// REDIS_URL is set, the distributed provider backing REST-synthesized
// tools fetched from Redis.
func buildToolRegistry(ctx context.Context, sandboxFactory local.SandboxFactory, logger telemetry.Logger) (*toolregistry.Registry, error) {
	providers := []toolregistry.Provider{local.New(sandboxFactory)}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		restBaseURL := envOr("LLMULINK_REST_BASE_URL", "http://127.0.0.1:8898")
		providers = append(providers, distributed.New(rdb, restBaseURL, http.DefaultClient, logger))
	}

	registry := toolregistry.New(logger, providers...)
	if err := registry.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize tool providers: %w", err)
	}
	return registry, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
