// Package orchestrator implements the agentic loop (§4.2): conversation
// lifecycle, task scheduling with drain-triggered auto-continuation,
// instruction/skill updates, monitor fan-out, and provider selection.
// Grounded throughout on original_source's svc_router.py (schedule_task,
// on_task_done, send_update_tasks, task_chat_request, task_function_call,
// update_instructions) and, for the registry/concurrency idiom, on the
// teacher's runtime/agent/session/inmem.Store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/library"
	"github.com/TeskaLabs/llm-microlink/provider"
	"github.com/TeskaLabs/llm-microlink/telemetry"
)

// ErrNoProvider is returned when no registered provider reports the
// conversation's model under /v1/models (§4.2's provider-selection rule).
var ErrNoProvider = errors.New("orchestrator: no provider reports the requested model")

// ErrNoModel is returned when a conversation has no model to resolve (no
// UserMessage has been appended yet).
var ErrNoModel = errors.New("orchestrator: conversation has no model")

// ToolService is the facade the orchestrator drives for tool lifecycle and
// execution (§4.3); implemented by package toolregistry.
type ToolService interface {
	// Snapshot returns the full currently-available tool set, used to seed
	// a freshly created conversation's Tools.
	Snapshot(ctx context.Context) (map[string]*conversation.ToolDescriptor, error)
	// LocateTool walks registered tool providers in order and returns the
	// first hit, or nil if none report the name.
	LocateTool(ctx context.Context, name string) (*conversation.ToolDescriptor, error)
	// EnsureInit runs InitCall once per conversation for every tool not yet
	// marked initialized on conv.
	EnsureInit(ctx context.Context, conv *conversation.Conversation) error
	// Execute dispatches to the tool's FunctionCall implementation,
	// streaming progress tokens on progress and mutating fc in place.
	Execute(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error
}

// Provider wraps one configured backend: its wire-dialect Client, the
// transport and credentials used for both chat requests and /v1/models
// discovery, and the permit gating concurrent entry to it. Acquiring and
// releasing Permit around a chat request is the orchestrator's
// responsibility (§4.2: "Acquire that provider's permit ... then call its
// chat_request"), not the adapter's — confirmed against original_source,
// where v1chatcompletition.py's chat_request never touches self.Semaphore
// and only svc_router.py's task_chat_request does
// `async with provider.Semaphore: await provider.chat_request(...)`.
type Provider struct {
	Name       string
	Client     provider.Client
	HTTPClient *http.Client
	BaseURL    string
	Permit     *provider.Permit
}

// ListModels reports the model ids this provider currently advertises.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	return provider.ListModels(ctx, p.httpClient(), p.BaseURL, p.Client.PrepareHeaders())
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// Orchestrator holds everything needed to drive conversations: the
// registry, the configured providers, the library collaborator, the tool
// service, and the default instructions path applied to freshly created
// conversations.
type Orchestrator struct {
	Registry                *Registry
	Providers               []*Provider
	Library                 library.Service
	Tools                   ToolService
	DefaultInstructionsPath string
	Logger                  telemetry.Logger

	// taskMu guards only conversation task-list bookkeeping (appending to
	// and removing from conv.Tasks, and the live-task-count check that
	// drives auto-continuation) since tool-execution tasks scheduled from
	// the same turn run concurrently on independent goroutines. This is a
	// deliberate, narrow exception to §5's "no mutex around item mutation"
	// rule: it protects the task bookkeeping slice only, never the
	// exchange's content items.
	taskMu sync.Mutex
}

// New constructs an Orchestrator.
func New(providers []*Provider, lib library.Service, tools ToolService, defaultInstructionsPath string, logger telemetry.Logger) *Orchestrator {
	return &Orchestrator{
		Registry:                NewRegistry(),
		Providers:               providers,
		Library:                 lib,
		Tools:                   tools,
		DefaultInstructionsPath: defaultInstructionsPath,
		Logger:                  logger,
	}
}

func (o *Orchestrator) logger() telemetry.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return telemetry.NewNoopLogger()
}

// CreateConversation generates a fresh conversation, loads the default
// instructions from the library collaborator, snapshots the current tool
// set, and registers it. No event is emitted; the caller subscribes a
// monitor afterwards and may request a snapshot via SendUpdate with an
// UpdateFull event.
func (o *Orchestrator) CreateConversation(ctx context.Context) (*conversation.Conversation, error) {
	tools, err := o.Tools.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	instructions, err := o.loadDefaultInstructions(ctx)
	if err != nil {
		return nil, err
	}

	conv := o.Registry.Insert(conversation.NewConversation(instructions, tools), func() *conversation.Conversation {
		return conversation.NewConversation(instructions, tools)
	})
	return conv, nil
}

func (o *Orchestrator) loadDefaultInstructions(ctx context.Context) ([]string, error) {
	if o.DefaultInstructionsPath == "" {
		return nil, nil
	}
	text, err := library.LoadPrompt(ctx, o.Library, o.DefaultInstructionsPath, nil)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}

// GetConversation is a registry lookup, optionally creating one if absent.
func (o *Orchestrator) GetConversation(ctx context.Context, id string, create bool) (*conversation.Conversation, error) {
	if conv := o.Registry.Get(id); conv != nil {
		return conv, nil
	}
	if !create {
		return nil, nil
	}
	return o.CreateConversation(ctx)
}

// CreateExchange appends a new exchange carrying userMessage, emits
// item.appended, and schedules the chat-request task for it.
func (o *Orchestrator) CreateExchange(ctx context.Context, conv *conversation.Conversation, userMessage *conversation.UserMessage) {
	ex := &conversation.Exchange{}
	ex.Append(userMessage)
	conv.Exchanges = append(conv.Exchanges, ex)
	o.SendUpdate(ctx, conv, conversation.NewItemAppended(userMessage))
	o.ScheduleTask(ctx, conv, ex, "chat_request", func(taskCtx context.Context) error {
		return o.taskChatRequest(taskCtx, conv, ex)
	})
}

// ScheduleTask starts task as a goroutine tracked against conv, registers
// its TaskHandle, and on completion runs the drain-continuation rule
// (§4.2's schedule_task): if the live-task count reaches zero and
// loop_break is false, open a new exchange and schedule the next
// chat-request task, then restore loop_break=true; in every case emit
// tasks.updated{count}.
func (o *Orchestrator) ScheduleTask(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange, name string, task func(context.Context) error) {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	handle := &conversation.TaskHandle{Name: name, Exchange: exchange, Cancel: cancel, Done: done}

	o.taskMu.Lock()
	conv.Tasks = append(conv.Tasks, handle)
	o.taskMu.Unlock()

	go func() {
		defer close(done)
		if err := task(taskCtx); err != nil {
			o.logger().Error(taskCtx, "orchestrator: task failed", "task", name, "error", err)
		}
		o.onTaskDone(ctx, conv, handle)
	}()
}

// onTaskDone removes handle from conv.Tasks and, if this drains the live
// task count to zero while loop_break is false, opens the continuation
// exchange and schedules its chat-request task before restoring
// loop_break=true. Mirrors svc_router.py's on_task_done exactly.
func (o *Orchestrator) onTaskDone(ctx context.Context, conv *conversation.Conversation, handle *conversation.TaskHandle) {
	o.taskMu.Lock()
	conv.Tasks = removeTask(conv.Tasks, handle)
	drained := len(conv.Tasks) == 0 && !conv.LoopBreak
	if drained {
		conv.LoopBreak = true
	}
	count := len(conv.Tasks)
	if !conv.LoopBreak {
		count++
	}
	o.taskMu.Unlock()

	if drained {
		ex := &conversation.Exchange{}
		conv.Exchanges = append(conv.Exchanges, ex)
		o.ScheduleTask(ctx, conv, ex, "chat_request", func(taskCtx context.Context) error {
			return o.taskChatRequest(taskCtx, conv, ex)
		})
		count++ // the continuation chat_request task just scheduled
	}

	o.SendUpdate(ctx, conv, conversation.NewTasksUpdated(count))
}

func removeTask(tasks []*conversation.TaskHandle, target *conversation.TaskHandle) []*conversation.TaskHandle {
	out := tasks[:0]
	for _, t := range tasks {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}

// CreateFunctionCall schedules a tool-execution task for fc against
// exchange, per §4.3. Tool execution sets loop_break=false on completion,
// so the orchestrator's auto-continuation fires once every concurrently
// scheduled function call in the turn has drained.
func (o *Orchestrator) CreateFunctionCall(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall) {
	o.ScheduleTask(ctx, conv, exchange, "function_call", func(taskCtx context.Context) error {
		return o.taskFunctionCall(taskCtx, conv, exchange, fc)
	})
}

// taskFunctionCall drives the tool execution state machine described by
// §4.3's numbered steps.
func (o *Orchestrator) taskFunctionCall(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange, fc *conversation.FunctionCall) error {
	fc.Status = conversation.StatusExecuting
	o.SendUpdate(ctx, conv, conversation.NewItemUpdated(fc))

	progress := make(chan string)
	done := make(chan error, 1)
	go func() {
		defer close(progress)
		done <- o.Tools.Execute(ctx, conv, fc, progress)
	}()

	for token := range progress {
		_ = token
		o.SendUpdate(ctx, conv, conversation.NewItemUpdated(fc))
	}
	if err := <-done; err != nil {
		fc.Content = "Generic exception occurred. Try again."
		fc.Error = true
	}

	fc.Status = conversation.StatusFinished
	o.SendUpdate(ctx, conv, conversation.NewItemUpdated(fc))

	o.taskMu.Lock()
	conv.LoopBreak = false
	o.taskMu.Unlock()
	return nil
}

// StopConversation cancels every live task and sets loop_break=true.
func (o *Orchestrator) StopConversation(conv *conversation.Conversation) {
	o.taskMu.Lock()
	defer o.taskMu.Unlock()
	for _, t := range conv.Tasks {
		t.Cancel()
	}
	conv.LoopBreak = true
}

// RestartConversation drops every exchange from (and including) the one
// whose first item has key == itemKey, and cancels any live task whose
// Exchange pointer falls within the truncated range — resolving the spec's
// Open Question #3, which leaves unspecified what happens to tasks
// already in flight against a truncated exchange.
func (o *Orchestrator) RestartConversation(conv *conversation.Conversation, itemKey string) {
	cut := -1
	for i, ex := range conv.Exchanges {
		if len(ex.Items) > 0 && ex.Items[0].Key() == itemKey {
			cut = i
			break
		}
	}
	if cut < 0 {
		return
	}

	truncated := make(map[*conversation.Exchange]struct{}, len(conv.Exchanges)-cut)
	for _, ex := range conv.Exchanges[cut:] {
		truncated[ex] = struct{}{}
	}

	o.taskMu.Lock()
	for _, t := range conv.Tasks {
		if _, ok := truncated[t.Exchange]; ok {
			t.Cancel()
		}
	}
	o.taskMu.Unlock()

	conv.Exchanges = conv.Exchanges[:cut]
}

// UpdateInstructions overwrites conv's instructions from a library path,
// applying template substitution with params. A path under /AI/Skill/ is
// parsed as a skill definition: its (recursively expanded) instruction
// list replaces conv.Instructions, and its tool names are resolved through
// Tools.LocateTool to replace conv.Tools — resolving the skill
// `function_call={}` placeholder concern left implicit by spec.md: the
// skill's index.yaml only carries name/description/parameters/title
// metadata, never an executable, so the real ToolDescriptor (with its
// FunctionCall and InitCall) must come from the tool registry, not from
// the skill file itself.
func (o *Orchestrator) UpdateInstructions(ctx context.Context, conv *conversation.Conversation, itemPath string, params map[string]any) error {
	if isSkillPath(itemPath) {
		instructions, toolMeta, err := library.LoadSkill(ctx, o.Library, itemPath, params)
		if err != nil {
			return err
		}
		tools := make(map[string]*conversation.ToolDescriptor, len(toolMeta))
		for name, meta := range toolMeta {
			located, err := o.Tools.LocateTool(ctx, name)
			if err != nil {
				return err
			}
			if located == nil {
				o.logger().Warn(ctx, "orchestrator: skill references unknown tool, skipping", "tool", name)
				continue
			}
			bound := *located
			if meta.Description != "" {
				bound.Description = meta.Description
			}
			if meta.Title != "" {
				bound.Title = meta.Title
			}
			if meta.Parameters != nil {
				bound.Parameters = meta.Parameters
			}
			tools[name] = &bound
		}
		conv.Instructions = instructions
		conv.Tools = tools
		conv.ToolInitialized = make(map[string]bool)
		return nil
	}

	text, err := library.LoadPrompt(ctx, o.Library, itemPath, params)
	if err != nil {
		return err
	}
	conv.Instructions = []string{text}
	return nil
}

func isSkillPath(path string) bool {
	return len(path) >= len("/AI/Skill/") && path[:len("/AI/Skill/")] == "/AI/Skill/"
}

// SendUpdate broadcasts event to every monitor in parallel; monitor
// errors are joined and returned rather than swallowed (§6, §7's
// propagation policy: "Monitor callback exceptions propagate out of the
// fan-out join; they do not silently disappear but do not corrupt other
// monitors").
func (o *Orchestrator) SendUpdate(ctx context.Context, conv *conversation.Conversation, event any) error {
	if len(conv.Monitors) == 0 {
		return nil
	}
	errs := make([]error, len(conv.Monitors))
	var wg sync.WaitGroup
	wg.Add(len(conv.Monitors))
	for i, mon := range conv.Monitors {
		go func(i int, mon conversation.Monitor) {
			defer wg.Done()
			errs[i] = mon(ctx, event)
		}(i, mon)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// GetModels fans out /v1/models over every configured provider in
// parallel and concatenates the results; a single provider's failure is
// logged and excluded rather than failing the whole call.
func (o *Orchestrator) GetModels(ctx context.Context) []string {
	type result struct {
		models []string
		err    error
	}
	results := make([]result, len(o.Providers))
	var wg sync.WaitGroup
	wg.Add(len(o.Providers))
	for i, p := range o.Providers {
		go func(i int, p *Provider) {
			defer wg.Done()
			models, err := p.ListModels(ctx)
			results[i] = result{models: models, err: err}
		}(i, p)
	}
	wg.Wait()

	var out []string
	for i, r := range results {
		if r.err != nil {
			o.logger().Warn(ctx, "orchestrator: provider model discovery failed", "provider", o.Providers[i].Name, "error", r.err)
			continue
		}
		out = append(out, r.models...)
	}
	return out
}

// taskChatRequest resolves the conversation's model, selects a provider
// uniformly at random among those reporting it, acquires that provider's
// permit, and issues the chat request (§4.2's provider-selection rule).
func (o *Orchestrator) taskChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	if err := o.Tools.EnsureInit(ctx, conv); err != nil {
		return err
	}

	model := conv.Model()
	if model == "" {
		return ErrNoModel
	}

	chosen, err := o.selectProvider(ctx, model)
	if err != nil {
		return err
	}

	if err := chosen.Permit.Acquire(ctx); err != nil {
		return err
	}
	defer chosen.Permit.Release()

	return chosen.Client.ChatRequest(ctx, conv, exchange)
}

// selectProvider enumerates providers reporting model under /v1/models in
// parallel and picks uniformly at random among the matches.
func (o *Orchestrator) selectProvider(ctx context.Context, model string) (*Provider, error) {
	matches := make([]bool, len(o.Providers))
	var wg sync.WaitGroup
	wg.Add(len(o.Providers))
	for i, p := range o.Providers {
		go func(i int, p *Provider) {
			defer wg.Done()
			models, err := p.ListModels(ctx)
			if err != nil {
				o.logger().Warn(ctx, "orchestrator: provider model discovery failed during selection", "provider", p.Name, "error", err)
				return
			}
			for _, m := range models {
				if m == model {
					matches[i] = true
					return
				}
			}
		}(i, p)
	}
	wg.Wait()

	var candidates []*Provider
	for i, ok := range matches {
		if ok {
			candidates = append(candidates, o.Providers[i])
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
	}
	return candidates[rand.Intn(len(candidates))], nil //nolint:gosec // uniform selection, not security-sensitive
}
