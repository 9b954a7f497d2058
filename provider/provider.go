// Package provider defines the contract shared by the three wire-dialect
// adapters (chatcompletions, responses, messages): header preparation, a
// streaming chat operation that mutates an exchange in place, and the
// concurrency permit gating access to each remote endpoint.
package provider

import (
	"context"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

// Client is implemented by each of the three wire-dialect adapters.
// ChatRequest issues one HTTP request, consumes the streaming response, and
// incrementally mutates exchange.Items; it does not return the items
// produced, matching spec §4.1's side-effecting contract.
type Client interface {
	PrepareHeaders() map[string]string
	ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error
}

// Permit is a per-adapter counting semaphore gating concurrent entry to
// ChatRequest against one remote endpoint. Grounded on original_source's
// asyncio.Semaphore(2) default.
type Permit struct {
	slots chan struct{}
}

// NewPermit constructs a Permit with the given capacity. capacity <= 0
// defaults to 2, matching the spec's default.
func NewPermit(capacity int) *Permit {
	if capacity <= 0 {
		capacity = 2
	}
	return &Permit{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Permit) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired by Acquire.
func (p *Permit) Release() {
	<-p.slots
}
