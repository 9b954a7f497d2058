// Package local implements toolregistry.Provider as a static dispatch
// table, grounded on original_source's tool/provider/local.py
// (LocalToolProvider).
package local

import (
	"context"

	"github.com/google/uuid"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/toolregistry/parserbuilder"
)

// Provider is the always-present tool provider: ping, the sandboxed shell,
// and the parser-builder triplet. Mirrors LocalToolProvider.get_tools'
// static list; unlike the Python original (ping only), it also carries the
// shell and parser-builder tools moved here from their own original_source
// modules (sandbox/tool_busybox.py, parser_builder/*), since this repo has
// a single local static-dispatch provider rather than separate ad-hoc ones.
type Provider struct {
	id    string
	tools []*conversation.ToolDescriptor
}

// New builds the local Provider. factory lazily creates a conversation's
// sandbox the first time a sandboxed tool is initialized.
func New(factory SandboxFactory) *Provider {
	return &Provider{
		id: "local-" + uuid.NewString(),
		tools: []*conversation.ToolDescriptor{
			pingDescriptor(),
			shellDescriptor(factory),
			parserbuilder.CompileDescriptor(),
			parserbuilder.EditDescriptor(),
			parserbuilder.RunDescriptor(),
		},
	}
}

func (p *Provider) Id() string { return p.id }

func (p *Provider) Tools(context.Context) ([]*conversation.ToolDescriptor, error) {
	return p.tools, nil
}

func (p *Provider) LocateTool(_ context.Context, name string) (*conversation.ToolDescriptor, error) {
	for _, t := range p.tools {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, nil
}

// Initialize is a no-op; LocalToolProvider.initialize is also the
// ToolProviderABC base's pass-through default.
func (p *Provider) Initialize(context.Context) error { return nil }
