package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

type fakeSpec struct {
	name  state.AgentName
	tools []string
}

func (f fakeSpec) Name() state.AgentName   { return f.name }
func (f fakeSpec) SystemPrompt() string    { return "you are the " + string(f.name) + " agent" }
func (f fakeSpec) Model() string           { return "test-model" }
func (f fakeSpec) Temperature() float64    { return 0.7 }
func (f fakeSpec) ToolNames() []string     { return f.tools }

type scriptedCapability struct {
	responses []llm.CompletionResult
	calls     int
	errs      []error
}

func (s *scriptedCapability) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (*llm.CompletionResult, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return &s.responses[len(s.responses)-1], nil
	}
	return &s.responses[idx], nil
}

func (s *scriptedCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func newRegistryWithLogFood(t *testing.T) *toolregistry.Registry {
	t.Helper()
	r := toolregistry.New()
	err := r.Register(state.ToolDescriptor{
		Name:         "log_food",
		OwningAgents: []state.AgentName{"food"},
	}, func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
		return state.Success(map[string]string{"status": "logged"}), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRun_NoToolCallsEndsImmediately(t *testing.T) {
	registry := newRegistryWithLogFood(t)
	loop := New(registry, Config{MaxToolRounds: 6, ToolDeadline: time.Second, LLMDeadline: time.Second})
	cap := &scriptedCapability{responses: []llm.CompletionResult{
		{Message: llm.Message{Content: "Logged your oatmeal."}},
	}}

	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "I ate oatmeal", Timestamp: time.Now()})

	outcome, err := loop.Run(context.Background(), cap, nil, fakeSpec{name: "food", tools: []string{"log_food"}}, s, "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.NewMessages) != 1 {
		t.Fatalf("expected 1 new message, got %d", len(outcome.NewMessages))
	}
	if cap.calls != 1 {
		t.Errorf("expected 1 LLM call, got %d", cap.calls)
	}
}

func TestRun_ToolCallThenReply(t *testing.T) {
	registry := newRegistryWithLogFood(t)
	loop := New(registry, Config{MaxToolRounds: 6, ToolDeadline: time.Second, LLMDeadline: time.Second})
	cap := &scriptedCapability{responses: []llm.CompletionResult{
		{Message: llm.Message{
			ToolCalls: []state.ToolCall{{ID: "tc1", Name: "log_food", Arguments: json.RawMessage(`{"item":"oatmeal"}`)}},
		}},
		{Message: llm.Message{Content: "Logged it."}},
	}}

	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "I ate oatmeal", Timestamp: time.Now()})

	outcome, err := loop.Run(context.Background(), cap, nil, fakeSpec{name: "food", tools: []string{"log_food"}}, s, "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// assistant(tool_call) + tool(result) + assistant(final reply) = 3
	if len(outcome.NewMessages) != 3 {
		t.Fatalf("expected 3 new messages, got %d: %+v", len(outcome.NewMessages), outcome.NewMessages)
	}
	if outcome.NewMessages[1].Role != state.RoleTool {
		t.Errorf("expected second message to be a tool result, got %s", outcome.NewMessages[1].Role)
	}
	if cap.calls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", cap.calls)
	}
}

func TestRun_StepLimitExceeded(t *testing.T) {
	registry := newRegistryWithLogFood(t)
	loop := New(registry, Config{MaxToolRounds: 2, ToolDeadline: time.Second, LLMDeadline: time.Second})
	looping := llm.CompletionResult{Message: llm.Message{
		ToolCalls: []state.ToolCall{{ID: "tc1", Name: "log_food", Arguments: json.RawMessage(`{"item":"oatmeal"}`)}},
	}}
	cap := &scriptedCapability{responses: []llm.CompletionResult{looping, looping, looping}}

	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "loop forever", Timestamp: time.Now()})

	outcome, err := loop.Run(context.Background(), cap, nil, fakeSpec{name: "food", tools: []string{"log_food"}}, s, "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Trace) == 0 || outcome.Trace[0].Kind != string(state.AgentStepLimitExceeded) {
		t.Fatalf("expected StepLimitExceeded trace entry, got %+v", outcome.Trace)
	}
	last := outcome.NewMessages[len(outcome.NewMessages)-1]
	if last.Role != state.RoleAssistant {
		t.Errorf("expected final message to be a best-effort assistant reply, got %s", last.Role)
	}
}

func TestRun_HandoffToolRequestsHandoff(t *testing.T) {
	registry := toolregistry.New()
	registry.Register(state.ToolDescriptor{Name: RequestHandoffTool, OwningAgents: []state.AgentName{"food"}},
		func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
			return state.Success(map[string]string{"status": "ok"}), nil
		})
	loop := New(registry, Config{MaxToolRounds: 6, ToolDeadline: time.Second, LLMDeadline: time.Second})
	cap := &scriptedCapability{responses: []llm.CompletionResult{
		{Message: llm.Message{
			ToolCalls: []state.ToolCall{{
				ID:        "tc1",
				Name:      RequestHandoffTool,
				Arguments: json.RawMessage(`{"target_agent":"task","reason":"needs a task created"}`),
			}},
		}},
	}}

	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "add a task", Timestamp: time.Now()})

	outcome, err := loop.Run(context.Background(), cap, nil, fakeSpec{name: "food", tools: []string{RequestHandoffTool}}, s, "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Handoff.ShouldHandoff || outcome.Handoff.TargetAgent != "task" {
		t.Fatalf("expected handoff to task, got %+v", outcome.Handoff)
	}
}

func TestRun_ContextOverflowRetriesThenAborts(t *testing.T) {
	registry := newRegistryWithLogFood(t)
	loop := New(registry, Config{MaxToolRounds: 6, ToolDeadline: time.Second, LLMDeadline: time.Second})
	overflow := state.NewLLMError(state.LLMContextOverflow, "fake", nil)
	cap := &scriptedCapability{errs: []error{overflow, overflow}}

	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "hello", Timestamp: time.Now()})

	outcome, err := loop.Run(context.Background(), cap, nil, fakeSpec{name: "food"}, s, "context")
	if err != nil {
		t.Fatalf("expected graceful abort, not an error: %v", err)
	}
	if len(outcome.NewMessages) != 1 || outcome.NewMessages[0].Role != state.RoleAssistant {
		t.Fatalf("expected one graceful assistant message, got %+v", outcome.NewMessages)
	}
	if cap.calls != 2 {
		t.Errorf("expected exactly 2 attempts (1 retry), got %d", cap.calls)
	}
}
