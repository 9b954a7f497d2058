package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/conversation"
	"github.com/TeskaLabs/llm-microlink/provider"
)

// fakeTools is a minimal ToolService stub for orchestrator tests.
type fakeTools struct {
	snapshot   map[string]*conversation.ToolDescriptor
	locate     map[string]*conversation.ToolDescriptor
	executeErr error
}

func (f *fakeTools) Snapshot(context.Context) (map[string]*conversation.ToolDescriptor, error) {
	return f.snapshot, nil
}

func (f *fakeTools) LocateTool(_ context.Context, name string) (*conversation.ToolDescriptor, error) {
	return f.locate[name], nil
}

func (f *fakeTools) EnsureInit(context.Context, *conversation.Conversation) error { return nil }

func (f *fakeTools) Execute(_ context.Context, _ *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
	progress <- "working"
	fc.Content = "done"
	return f.executeErr
}

// fakeClient is a provider.Client stub whose ChatRequest appends a
// completed AssistantText item and optionally blocks until ctx is done.
type fakeClient struct {
	blockUntilCancel bool
	calls            int32
}

func (f *fakeClient) PrepareHeaders() map[string]string { return nil }

func (f *fakeClient) ChatRequest(ctx context.Context, _ *conversation.Conversation, exchange *conversation.Exchange) error {
	atomic.AddInt32(&f.calls, 1)
	if f.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	at := conversation.NewAssistantText(nil)
	at.Status = conversation.StatusCompleted
	exchange.Append(at)
	return nil
}

func modelsServer(t *testing.T, ids ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp provider.ModelsResponse
		for _, id := range ids {
			resp.Data = append(resp.Data, struct {
				ID string `json:"id"`
			}{ID: id})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestOrchestrator(providers []*Provider, tools *fakeTools) *Orchestrator {
	return New(providers, nil, tools, "", nil)
}

func TestScheduleTaskDrainsAndAutoContinues(t *testing.T) {
	srv := modelsServer(t, "gpt-x")
	defer srv.Close()

	client := &fakeClient{}
	p := &Provider{Name: "p1", Client: client, BaseURL: srv.URL + "/", Permit: provider.NewPermit(2)}
	o := newTestOrchestrator([]*Provider{p}, &fakeTools{})

	conv := conversation.NewConversation(nil, nil)
	conv.LoopBreak = false // simulate "tool execution just finished" state

	ex := &conversation.Exchange{}
	ex.Append(conversation.NewUserMessage("hi", "gpt-x"))
	conv.Exchanges = append(conv.Exchanges, ex)

	var once sync.Once
	drainSeen := make(chan struct{})
	conv.Monitors = append(conv.Monitors, func(_ context.Context, event any) error {
		if tu, ok := event.(conversation.TasksUpdated); ok && tu.Count == 0 {
			once.Do(func() { close(drainSeen) })
		}
		return nil
	})

	// Schedule a task that completes instantly; since loop_break is false,
	// draining to zero tasks must open a continuation exchange and
	// schedule a chat_request task on it automatically.
	o.ScheduleTask(context.Background(), conv, ex, "noop", func(context.Context) error { return nil })

	select {
	case <-drainSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&client.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&client.calls))
	require.Len(t, conv.Exchanges, 2)
	require.True(t, conv.LoopBreak)
}

func TestRestartConversationCancelsTasksAgainstTruncatedExchanges(t *testing.T) {
	o := newTestOrchestrator(nil, &fakeTools{})
	conv := conversation.NewConversation(nil, nil)

	keptEx := &conversation.Exchange{}
	keptEx.Append(conversation.NewUserMessage("keep", "gpt-x"))
	conv.Exchanges = append(conv.Exchanges, keptEx)

	cutEx := &conversation.Exchange{}
	cutMsg := conversation.NewUserMessage("cut", "gpt-x")
	cutEx.Append(cutMsg)
	conv.Exchanges = append(conv.Exchanges, cutEx)

	started := make(chan struct{})
	canceled := make(chan struct{})
	o.ScheduleTask(context.Background(), conv, cutEx, "blocked", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})
	<-started

	o.RestartConversation(conv, cutMsg.Key())

	require.Len(t, conv.Exchanges, 1)
	require.Same(t, keptEx, conv.Exchanges[0])

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected task against truncated exchange to be canceled")
	}
}

func TestSendUpdateJoinsMonitorErrors(t *testing.T) {
	o := newTestOrchestrator(nil, &fakeTools{})
	conv := conversation.NewConversation(nil, nil)

	errA := errFixed("monitor a failed")
	errB := errFixed("monitor b failed")
	conv.Monitors = append(conv.Monitors,
		func(context.Context, any) error { return errA },
		func(context.Context, any) error { return nil },
		func(context.Context, any) error { return errB },
	)

	err := o.SendUpdate(context.Background(), conv, conversation.NewTasksUpdated(0))
	require.Error(t, err)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

type errFixed string

func (e errFixed) Error() string { return string(e) }

func TestSendUpdateNoMonitorsIsNoop(t *testing.T) {
	o := newTestOrchestrator(nil, &fakeTools{})
	conv := conversation.NewConversation(nil, nil)
	require.NoError(t, o.SendUpdate(context.Background(), conv, conversation.NewTasksUpdated(0)))
}

func TestSelectProviderOnlyPicksAmongMatches(t *testing.T) {
	srvMatch := modelsServer(t, "gpt-x", "gpt-y")
	defer srvMatch.Close()
	srvNoMatch := modelsServer(t, "other-model")
	defer srvNoMatch.Close()

	match := &Provider{Name: "match", Client: &fakeClient{}, BaseURL: srvMatch.URL + "/", Permit: provider.NewPermit(2)}
	noMatch := &Provider{Name: "no-match", Client: &fakeClient{}, BaseURL: srvNoMatch.URL + "/", Permit: provider.NewPermit(2)}
	o := newTestOrchestrator([]*Provider{noMatch, match}, &fakeTools{})

	for i := 0; i < 10; i++ {
		chosen, err := o.selectProvider(context.Background(), "gpt-x")
		require.NoError(t, err)
		require.Same(t, match, chosen)
	}
}

func TestSelectProviderReturnsErrNoProviderWhenNoneMatch(t *testing.T) {
	srv := modelsServer(t, "other-model")
	defer srv.Close()
	p := &Provider{Name: "p1", Client: &fakeClient{}, BaseURL: srv.URL + "/", Permit: provider.NewPermit(2)}
	o := newTestOrchestrator([]*Provider{p}, &fakeTools{})

	_, err := o.selectProvider(context.Background(), "gpt-x")
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestTaskChatRequestAcquiresPermitAroundCall(t *testing.T) {
	srv := modelsServer(t, "gpt-x")
	defer srv.Close()

	client := &fakeClient{}
	permit := provider.NewPermit(1)
	p := &Provider{Name: "p1", Client: client, BaseURL: srv.URL + "/", Permit: permit}
	o := newTestOrchestrator([]*Provider{p}, &fakeTools{})

	conv := conversation.NewConversation(nil, nil)
	ex := &conversation.Exchange{}
	ex.Append(conversation.NewUserMessage("hi", "gpt-x"))
	conv.Exchanges = append(conv.Exchanges, ex)

	require.NoError(t, o.taskChatRequest(context.Background(), conv, ex))
	require.EqualValues(t, 1, atomic.LoadInt32(&client.calls))

	// the permit must have been released after the call: a second
	// acquire should not block.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, permit.Acquire(ctx))
	permit.Release()
}

func TestTaskFunctionCallRunsExecuteAndResumesLoop(t *testing.T) {
	tools := &fakeTools{}
	o := newTestOrchestrator(nil, tools)

	conv := conversation.NewConversation(nil, nil)
	conv.LoopBreak = true
	ex := &conversation.Exchange{}
	fc := conversation.NewFunctionCall("call-1", "ping", "{}", nil)
	ex.Append(fc)
	conv.Exchanges = append(conv.Exchanges, ex)

	var mu sync.Mutex
	var statuses []string
	conv.Monitors = append(conv.Monitors, func(_ context.Context, event any) error {
		if iu, ok := event.(conversation.ItemUpdated); ok {
			if asFC, ok := iu.Item.(*conversation.FunctionCall); ok {
				mu.Lock()
				statuses = append(statuses, asFC.Status)
				mu.Unlock()
			}
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = o.taskFunctionCall(context.Background(), conv, ex, fc)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	require.Equal(t, conversation.StatusFinished, fc.Status)
	require.Equal(t, "done", fc.Content)
	require.False(t, conv.LoopBreak)
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, statuses, conversation.StatusExecuting)
	require.Contains(t, statuses, conversation.StatusFinished)
}
