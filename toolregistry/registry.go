// Package toolregistry aggregates tool providers and drives tool lookup,
// per-conversation initialization, and execution for the orchestrator.
// Grounded directly on original_source's tool/svc_tool.py (ToolService) and
// tool/provider/provider_abc.py (ToolProviderABC).
package toolregistry

import (
	"context"
	"fmt"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/telemetry"
)

// Provider is a source of tools, walked in registration order by LocateTool.
// Mirrors ToolProviderABC: a static local table, and an optional
// network-backed provider that resolves definitions lazily.
type Provider interface {
	// Id identifies the provider in logs; mirrors ToolProviderABC.Id.
	Id() string
	// Tools lists every tool this provider can currently offer.
	Tools(ctx context.Context) ([]*conversation.ToolDescriptor, error)
	// LocateTool returns the named tool, or nil if this provider doesn't
	// have it. Errors are logged by the registry and treated as a miss,
	// matching svc_tool.get_tools's per-provider try/except.
	LocateTool(ctx context.Context, name string) (*conversation.ToolDescriptor, error)
	// Initialize runs once at process startup (ToolProviderABC.initialize).
	Initialize(ctx context.Context) error
}

// Registry implements orchestrator.ToolService by fanning lookups and
// execution out across its Providers, in order.
type Registry struct {
	Providers []Provider
	Logger    telemetry.Logger
}

// New builds a Registry over providers, in lookup priority order.
func New(logger telemetry.Logger, providers ...Provider) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{Providers: providers, Logger: logger}
}

// Initialize runs every provider's one-time startup hook concurrently,
// mirroring svc_tool.py's initialize (an asyncio.TaskGroup over providers).
func (r *Registry) Initialize(ctx context.Context) error {
	errs := make(chan error, len(r.Providers))
	for _, p := range r.Providers {
		go func(p Provider) { errs <- p.Initialize(ctx) }(p)
	}
	var firstErr error
	for range r.Providers {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns every tool known across all providers, keyed by name.
// A provider that errors listing its tools is logged and skipped, matching
// svc_tool.py's get_tools try/except-per-provider.
func (r *Registry) Snapshot(ctx context.Context) (map[string]*conversation.ToolDescriptor, error) {
	out := make(map[string]*conversation.ToolDescriptor)
	for _, p := range r.Providers {
		tools, err := p.Tools(ctx)
		if err != nil {
			r.Logger.Error(ctx, "toolregistry: error getting tools from provider", "provider", p.Id(), "error", err)
			continue
		}
		for _, t := range tools {
			out[t.Name] = t
		}
	}
	return out, nil
}

// LocateTool walks providers in order and returns the first hit.
func (r *Registry) LocateTool(ctx context.Context, name string) (*conversation.ToolDescriptor, error) {
	for _, p := range r.Providers {
		t, err := p.LocateTool(ctx, name)
		if err != nil {
			r.Logger.Warn(ctx, "toolregistry: provider lookup failed", "provider", p.Id(), "tool", name, "error", err)
			continue
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// EnsureInit runs each of the conversation's bound tools' InitCall exactly
// once per conversation, idempotent across repeated calls (spec.md §4.3).
func (r *Registry) EnsureInit(ctx context.Context, conv *conversation.Conversation) error {
	for name, tool := range conv.Tools {
		if conv.ToolInitialized[name] {
			continue
		}
		if tool.InitCall != nil {
			if err := tool.InitCall(ctx, conv); err != nil {
				return fmt.Errorf("toolregistry: init tool %q: %w", name, err)
			}
		}
		if conv.ToolInitialized == nil {
			conv.ToolInitialized = make(map[string]bool)
		}
		conv.ToolInitialized[name] = true
	}
	return nil
}

// Execute locates fc's tool across providers and runs it, mirroring
// svc_tool.py's execute: "Tool not found" when no provider has it, "Tool
// failed." appended to content on an internal tool exception. Execute
// itself never returns an error for a tool-level failure — only the
// orchestrator's outer wrap ("Generic exception occurred. Try again.")
// is reserved for something the tool layer could not itself recover from,
// which in practice here means it never happens: this mirrors the Python
// generator's internal try/except swallowing every exception it raises.
func (r *Registry) Execute(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	tool, err := r.LocateTool(ctx, fc.Name)
	if err != nil {
		r.Logger.Error(ctx, "toolregistry: error locating tool", "tool", fc.Name, "error", err)
	}
	if tool == nil {
		fc.Content = "Tool not found"
		fc.Error = true
		return nil
	}
	if tool.FunctionCall == nil {
		fc.Content = "Tool not found"
		fc.Error = true
		return nil
	}

	if execErr := runTool(ctx, tool, conv, fc, progress); execErr != nil {
		r.Logger.Error(ctx, "toolregistry: error executing tool", "tool", fc.Name, "error", execErr)
		if len(fc.Content) > 0 {
			fc.Content += "\n\n"
		}
		fc.Content += "Tool failed."
		fc.Error = true
	} else {
		fc.Status = conversation.StatusCompleted
	}
	return nil
}

// runTool invokes the tool's FunctionCall, recovering a panic into an
// error so one misbehaving tool cannot bring down the function-call task
// goroutine — the Go analogue of the Python generator's blanket except.
func runTool(ctx context.Context, tool *conversation.ToolDescriptor, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return tool.FunctionCall(ctx, conv, fc, progress)
}
