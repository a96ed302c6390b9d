package assistants_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/mcpchat/tools"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scriptModel replays a fixed sequence of responses and records what it was
// sent. When the script runs out, the last response repeats.
type scriptModel struct {
	name     string
	provider llms.ProviderType

	mu       sync.Mutex
	calls    int
	received [][]llms.Message
	script   []*llms.ContentResponse
	onCall   func(call int)
}

func (m *scriptModel) GetName() string                    { return m.name }
func (m *scriptModel) GetProviderType() llms.ProviderType { return m.provider }

func (m *scriptModel) GenerateContent(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]llms.Message, len(messages))
	copy(snapshot, messages)
	m.received = append(m.received, snapshot)

	call := m.calls
	m.calls++
	if m.onCall != nil {
		m.onCall(call)
	}
	if call >= len(m.script) {
		return m.script[len(m.script)-1], nil
	}
	return m.script[call], nil
}

func (m *scriptModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptModel) messagesAt(call int) []llms.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received[call]
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}
}

func toolCallResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{ToolCalls: calls}},
	}
}

func weatherCall(id, argsJSON string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "get_weather",
			Arguments: argsJSON,
		},
	}
}

type fakeServer struct {
	defs   []mcp.ToolDefinition
	callFn func(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error)
	calls  atomic.Int32
}

func (s *fakeServer) ListTools(_ context.Context) ([]mcp.ToolDefinition, error) {
	return s.defs, nil
}

func (s *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error) {
	s.calls.Add(1)
	return s.callFn(ctx, name, args)
}

func (s *fakeServer) Close() error { return nil }

func textResult(text string) (mcp.CallResult, error) {
	return mcp.CallResult{
		Content: []mcp.Content{{Type: "text", Text: text}},
	}, nil
}

func weatherServer() *fakeServer {
	properties := orderedmap.New[string, *jsonschema.Schema]()
	properties.Set("city", &jsonschema.Schema{Type: "string"})
	return &fakeServer{
		defs: []mcp.ToolDefinition{{
			Name:        "get_weather",
			Description: "Current weather for a city.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: properties,
				Required:   []string{"city"},
			},
		}},
		callFn: func(_ context.Context, _ string, args map[string]any) (mcp.CallResult, error) {
			return textResult(fmt.Sprintf("18C, sunny in %v", args["city"]))
		},
	}
}

func newAssistant(t *testing.T, model llms.Model, srv tools.Server, opts ...assistants.Option) (*assistants.Assistant, *tools.Manager) {
	t.Helper()

	manager := tools.NewManager(tools.WithDialer(func(_ context.Context, _ *tools.ServerConfig) (tools.Server, error) {
		return srv, nil
	}))
	t.Cleanup(manager.Shutdown)

	registry := tools.NewRegistry(manager)
	require.NoError(t, registry.Load([]*tools.ServerConfig{
		{ID: "weather", URL: "http://localhost:0"},
	}))
	registry.ConnectAll(t.Context())
	require.Equal(t, tools.StateReady, manager.State("weather"))

	dispatcher := tools.NewDispatcher(registry, manager)
	return assistants.NewAssistant(model, registry, dispatcher, opts...), manager
}

func Test_Run_ToolCallThenAnswer(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(weatherCall("call_1", `{"city": "Paris"}`)),
			textResponse("It is 18C and sunny in Paris."),
		},
	}

	st := store.NewMemoryStore()
	session, err := st.Create(t.Context(), "Weather")
	require.NoError(t, err)

	a, _ := newAssistant(t, model, srv, assistants.WithStore(st))
	res, err := a.Run(t.Context(), session.ID, "What is the weather in Paris?")
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusDone, res.Status)
	assert.Equal(t, "It is 18C and sunny in Paris.", res.Answer)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Empty(t, res.Warning)
	assert.EqualValues(t, 1, srv.calls.Load())

	// The observation must reach the model on the second call.
	second := model.messagesAt(1)
	last := second[len(second)-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Contains(t, last.GetContent(), "18C, sunny")

	// The transcript is persisted once: user, tool observation, answer.
	loaded, err := st.Load(t.Context(), session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, store.RoleUser, loaded.Messages[0].Role)
	assert.Equal(t, store.RoleTool, loaded.Messages[1].Role)
	assert.Equal(t, store.RoleAssistant, loaded.Messages[2].Role)
	assert.Equal(t, "It is 18C and sunny in Paris.", loaded.Messages[2].Content)
}

func Test_Run_ParsedDecisions(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "sonar-test",
		provider: llms.ProviderPerplexity,
		script: []*llms.ContentResponse{
			textResponse("```json\n{\"tool\": \"get_weather\", \"args\": {\"city\": \"Oslo\"}}\n```"),
			textResponse(`{"final_answer": "Oslo is sunny."}`),
		},
	}

	a, _ := newAssistant(t, model, srv)
	res, err := a.Run(t.Context(), "", "Weather in Oslo?")
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusDone, res.Status)
	assert.Equal(t, "Oslo is sunny.", res.Answer)
	assert.Equal(t, 1, res.ToolCalls)
	assert.EqualValues(t, 1, srv.calls.Load())

	// Providers without function calling get the response format contract.
	first := model.messagesAt(0)
	require.Equal(t, llms.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].GetContent(), "RESPONSE FORMAT")
	assert.Contains(t, first[0].GetContent(), "get_weather")
}

func Test_Run_MalformedDecisionRetriesOnce(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "sonar-test",
		provider: llms.ProviderPerplexity,
		script: []*llms.ContentResponse{
			textResponse(`{"thought": "hmm"}`),
			textResponse(`{"still": "not a decision"}`),
		},
	}

	a, _ := newAssistant(t, model, srv)
	res, err := a.Run(t.Context(), "", "Weather in Oslo?")
	require.NoError(t, err)

	// One corrective retry, then the raw reply becomes the final answer.
	assert.Equal(t, assistants.RunStatusDone, res.Status)
	assert.Equal(t, `{"still": "not a decision"}`, res.Answer)
	assert.Equal(t, 2, model.callCount())

	second := model.messagesAt(1)
	last := second[len(second)-1]
	assert.Equal(t, llms.RoleHuman, last.Role)
	assert.Contains(t, last.GetContent(), "did not match the response format")
}

func Test_Run_StepBudgetAborts(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(weatherCall("call_1", `{"city": "Paris"}`)),
		},
	}

	st := store.NewMemoryStore()
	session, err := st.Create(t.Context(), "Looping")
	require.NoError(t, err)

	a, _ := newAssistant(t, model, srv, assistants.WithStore(st))
	res, err := a.Run(t.Context(), session.ID, "Weather everywhere", assistants.WithMaxSteps(3))
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusAborted, res.Status)
	assert.Contains(t, res.Warning, "step budget")
	assert.NotEmpty(t, res.Answer)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 3, model.callCount())

	// The partial transcript is still persisted.
	loaded, err := st.Load(t.Context(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAssistant, loaded.Messages[len(loaded.Messages)-1].Role)
}

func Test_Run_TimeoutsExhaustBudget(t *testing.T) {
	srv := weatherServer()
	srv.callFn = func(ctx context.Context, _ string, _ map[string]any) (mcp.CallResult, error) {
		<-ctx.Done()
		return mcp.CallResult{}, ctx.Err()
	}
	// The model keeps retrying the tool on every step.
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(weatherCall("call_1", `{"city": "Paris"}`)),
		},
	}

	manager := tools.NewManager(tools.WithDialer(func(_ context.Context, _ *tools.ServerConfig) (tools.Server, error) {
		return srv, nil
	}))
	t.Cleanup(manager.Shutdown)

	registry := tools.NewRegistry(manager)
	require.NoError(t, registry.Load([]*tools.ServerConfig{
		{ID: "weather", URL: "http://localhost:0", TimeoutSeconds: 1},
	}))
	registry.ConnectAll(t.Context())
	require.Equal(t, tools.StateReady, manager.State("weather"))

	a := assistants.NewAssistant(model, registry, tools.NewDispatcher(registry, manager))
	res, err := a.Run(t.Context(), "", "Weather in Paris?", assistants.WithMaxSteps(2))
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusAborted, res.Status)
	assert.Contains(t, res.Warning, "step budget")
	assert.Equal(t, 2, res.Steps)
	assert.EqualValues(t, 2, srv.calls.Load())

	// Each timed-out call came back as an observation the model could react to.
	second := model.messagesAt(1)
	last := second[len(second)-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Contains(t, last.GetContent(), "Tool call failed")
	assert.Contains(t, last.GetContent(), "timed out")
}

func Test_Run_CancelBetweenSteps(t *testing.T) {
	srv := weatherServer()
	ctx, cancel := context.WithCancel(t.Context())
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(weatherCall("call_1", `{"city": "Paris"}`)),
		},
	}
	model.onCall = func(int) { cancel() }

	a, _ := newAssistant(t, model, srv)
	res, err := a.Run(ctx, "", "Weather in Paris?")
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusAborted, res.Status)
	assert.Contains(t, res.Warning, "canceled")
	// The in-flight step completed before the run returned.
	assert.Equal(t, 1, res.Steps)
	assert.EqualValues(t, 1, srv.calls.Load())
}

func Test_Run_ToolFaultFeedsBack(t *testing.T) {
	srv := weatherServer()
	srv.callFn = func(context.Context, string, map[string]any) (mcp.CallResult, error) {
		return mcp.CallResult{
			Content: []mcp.Content{{Type: "text", Text: "upstream is down"}},
			IsError: true,
		}, nil
	}
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(weatherCall("call_1", `{"city": "Paris"}`)),
			textResponse("The weather service is unavailable right now."),
		},
	}

	a, _ := newAssistant(t, model, srv)
	res, err := a.Run(t.Context(), "", "Weather in Paris?")
	require.NoError(t, err)

	assert.Equal(t, assistants.RunStatusDone, res.Status)

	second := model.messagesAt(1)
	last := second[len(second)-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Contains(t, last.GetContent(), "Tool call failed")
}

func Test_Run_ConcurrentCallsRejoinInOrder(t *testing.T) {
	srv := weatherServer()
	srv.callFn = func(_ context.Context, _ string, args map[string]any) (mcp.CallResult, error) {
		return textResult(fmt.Sprintf("report for %v", args["city"]))
	}
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script: []*llms.ContentResponse{
			toolCallResponse(
				weatherCall("call_1", `{"city": "Paris"}`),
				weatherCall("call_2", `{"city": "Oslo"}`),
				weatherCall("call_3", `{"city": "Lima"}`),
			),
			textResponse("Summarized."),
		},
	}

	a, _ := newAssistant(t, model, srv)
	res, err := a.Run(t.Context(), "", "Weather in three cities?")
	require.NoError(t, err)

	assert.Equal(t, 3, res.ToolCalls)
	assert.EqualValues(t, 3, srv.calls.Load())

	// Observations arrive in call order regardless of completion order.
	second := model.messagesAt(1)
	var observations []string
	for _, msg := range second {
		if msg.Role == llms.RoleTool {
			observations = append(observations, msg.GetContent())
		}
	}
	require.Len(t, observations, 3)
	assert.Contains(t, observations[0], "Paris")
	assert.Contains(t, observations[1], "Oslo")
	assert.Contains(t, observations[2], "Lima")
}

func Test_Run_UnknownSessionFails(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script:   []*llms.ContentResponse{textResponse("hi")},
	}

	a, _ := newAssistant(t, model, srv, assistants.WithStore(store.NewMemoryStore()))
	_, err := a.Run(t.Context(), "nosuch", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.Equal(t, 0, model.callCount())
}

func Test_Run_HistoryIncluded(t *testing.T) {
	srv := weatherServer()
	model := &scriptModel{
		name:     "gpt-test",
		provider: llms.ProviderOpenAI,
		script:   []*llms.ContentResponse{textResponse("Still sunny.")},
	}

	st := store.NewMemoryStore()
	session, err := st.Create(t.Context(), "History")
	require.NoError(t, err)
	require.NoError(t, st.Append(t.Context(), session.ID,
		store.Message{Role: store.RoleUser, Content: "Weather in Paris?"},
		store.Message{Role: store.RoleAssistant, Content: "18C and sunny."},
	))

	a, _ := newAssistant(t, model, srv, assistants.WithStore(st))
	_, err = a.Run(t.Context(), session.ID, "And tomorrow?")
	require.NoError(t, err)

	first := model.messagesAt(0)
	require.GreaterOrEqual(t, len(first), 4)
	assert.Equal(t, llms.RoleSystem, first[0].Role)
	assert.Contains(t, first[1].GetContent(), "Weather in Paris?")
	assert.Contains(t, first[2].GetContent(), "18C and sunny.")
	assert.Contains(t, first[3].GetContent(), "And tomorrow?")
}
