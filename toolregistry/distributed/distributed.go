// Package distributed implements toolregistry.Provider backed by a Redis
// coordination service, replacing original_source's ZookeeperToolProvider
// (tool/provider/zookeeper.py) per SPEC_FULL.md's DOMAIN STACK decision:
// go-redis in place of Zookeeper, santhosh-tekuri/jsonschema/v6 validating
// each fetched definition's `parameters` field is itself a well-formed JSON
// Schema before the tool is cached and offered.
package distributed

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/telemetry"
	"github.com/TeskaLabs/llm-microlink/toolregistry/resttool"
)

// toolsKeyPrefix mirrors ZookeeperToolProvider.ToolsBasePath.
const toolsKeyPrefix = "asab/llm/tool/"

// toolDefine is the "define" block identifying the tool.
type toolDefine struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

// toolDefinition is a tool definition loaded from YAML, mirroring
// zookeeper.py's ToolDefinition.
type toolDefinition struct {
	Define       toolDefine     `yaml:"define"`
	Description  string         `yaml:"description"`
	Title        string         `yaml:"title"`
	FunctionCall map[string]any `yaml:"function_call"`
	Parameters   map[string]any `yaml:"parameters"`
}

// Provider resolves tools by fetching YAML definitions from Redis on
// demand, validating and caching them.
type Provider struct {
	id         string
	rdb        *redis.Client
	baseURL    string
	httpClient *http.Client
	logger     telemetry.Logger

	mu    sync.Mutex
	cache map[string]*conversation.ToolDescriptor
}

// New builds a distributed Provider. baseURL is the REST backend synthesized
// "rest"-type tools are called against (original_source's FunctionCallRest
// hardcodes this as http://127.0.0.1:8898; it is configurable here).
func New(rdb *redis.Client, baseURL string, httpClient *http.Client, logger telemetry.Logger) *Provider {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Provider{
		id:         "distributed-" + uuid.NewString(),
		rdb:        rdb,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		cache:      make(map[string]*conversation.ToolDescriptor),
	}
}

func (p *Provider) Id() string { return p.id }

// Tools is unsupported: original_source's ZookeeperToolProvider never
// overrides get_tools either, so svc_tool.py's per-provider try/except
// around get_tools always logs and skips it. Tools are only ever reached
// here through LocateTool, by name.
func (p *Provider) Tools(context.Context) ([]*conversation.ToolDescriptor, error) {
	return nil, fmt.Errorf("distributed: tool enumeration is not supported, only locate-by-name")
}

func (p *Provider) Initialize(context.Context) error { return nil }

// LocateTool fetches, validates, and caches the named tool's definition.
func (p *Provider) LocateTool(ctx context.Context, name string) (*conversation.ToolDescriptor, error) {
	p.mu.Lock()
	if cached, ok := p.cache[name]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	raw, err := p.rdb.Get(ctx, toolsKeyPrefix+name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("distributed: fetch tool %q: %w", name, err)
	}

	var def toolDefinition
	if err := yaml.Unmarshal([]byte(raw), &def); err != nil {
		p.logger.Warn(ctx, "distributed: error parsing tool YAML", "tool", name, "error", err)
		return nil, nil
	}

	if err := validateParametersSchema(def.Parameters); err != nil {
		p.logger.Warn(ctx, "distributed: invalid tool parameters schema", "tool", name, "error", err)
		return nil, nil
	}

	descriptor, err := p.buildDescriptor(def)
	if err != nil {
		p.logger.Warn(ctx, "distributed: error building tool", "tool", name, "error", err)
		return nil, nil
	}
	if descriptor == nil {
		return nil, nil
	}

	p.mu.Lock()
	p.cache[name] = descriptor
	p.mu.Unlock()
	return descriptor, nil
}

// validateParametersSchema confirms params is itself a well-formed JSON
// Schema document, the way a tool's "parameters" field must be to be handed
// to an LLM provider's function-calling API.
func validateParametersSchema(params map[string]any) error {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://tool-parameters.json"
	if err := compiler.AddResource(resourceURL, params); err != nil {
		return err
	}
	_, err := compiler.Compile(resourceURL)
	return err
}

// buildDescriptor dispatches on function_call.type, mirroring
// zookeeper.py's locate_tool match statement. Only "rest" is implemented;
// an unrecognized type is logged and treated as not found, matching the
// original's warning + early return.
func (p *Provider) buildDescriptor(def toolDefinition) (*conversation.ToolDescriptor, error) {
	fcType, _ := def.FunctionCall["type"].(string)
	switch fcType {
	case "rest":
		cfg, err := restConfigFromDefinition(def, p.baseURL)
		if err != nil {
			return nil, err
		}
		return resttool.NewDescriptor(cfg, p.httpClient), nil
	default:
		return nil, fmt.Errorf("unknown function_call type %q", fcType)
	}
}
