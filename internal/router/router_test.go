package router

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

type fakeCatalog struct {
	names    []state.AgentName
	def      state.AgentName
	keywords map[state.AgentName][]string
	descs    map[state.AgentName]string
}

func (c *fakeCatalog) Names() []state.AgentName           { return c.names }
func (c *fakeCatalog) DefaultAgent() state.AgentName      { return c.def }
func (c *fakeCatalog) Keywords(a state.AgentName) []string { return c.keywords[a] }
func (c *fakeCatalog) Description(a state.AgentName) string { return c.descs[a] }

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		names: []state.AgentName{"food", "task", "event"},
		def:   "food",
		keywords: map[state.AgentName][]string{
			"food":  {"ate", "eat", "breakfast", "lunch", "dinner", "oatmeal", "food"},
			"task":  {"task", "todo", "buy", "complete"},
			"event": {"event", "schedule", "calendar", "meeting"},
		},
		descs: map[state.AgentName]string{
			"food":  "tracks food log entries",
			"task":  "manages tasks",
			"event": "manages calendar events",
		},
	}
}

type fakeLLMCapability struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLMCapability) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (*llm.CompletionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResult{Message: llm.Message{Content: f.response}}, nil
}

func (f *fakeLLMCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func sessionWithUserMessage(content string) *state.SessionState {
	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: content, Timestamp: time.Now()})
	return s
}

func TestRoute_ExplicitPathWinsOverEverything(t *testing.T) {
	s := sessionWithUserMessage("anything at all")
	s.TargetAgent = "task"
	r := New(newFakeCatalog(), nil, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Source != state.SourceExplicit || decision.Agent != "task" || decision.Confidence != 1.0 {
		t.Fatalf("expected explicit route to task, got %+v", decision)
	}
}

func TestRoute_KeywordConfident(t *testing.T) {
	s := sessionWithUserMessage("Log that I ate oatmeal for breakfast")
	r := New(newFakeCatalog(), nil, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Source != state.SourceKeyword || decision.Agent != "food" {
		t.Fatalf("expected confident keyword route to food, got %+v", decision)
	}
}

func TestRoute_KeywordTieFallsBackToLLM(t *testing.T) {
	// "Schedule something fun for dinner tomorrow" hits event (schedule) and
	// food (dinner) once each: top==1 fails the >=2 threshold outright, so
	// this also exercises the "not confident" path into LLM fallback.
	s := sessionWithUserMessage("Schedule something fun for dinner tomorrow")
	fake := &fakeLLMCapability{response: `{"agent":"event","confidence":0.8,"reason":"scheduling intent"}`}
	r := New(newFakeCatalog(), fake, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Source != state.SourceLLM {
		t.Fatalf("expected LLM fallback, got %+v", decision)
	}
	if fake.calls != 1 {
		t.Errorf("expected exactly 1 LLM call, got %d", fake.calls)
	}
}

func TestRoute_LowConfidenceLLMRoutesToDefault(t *testing.T) {
	s := sessionWithUserMessage("do the thing")
	fake := &fakeLLMCapability{response: `{"agent":"task","confidence":0.1,"reason":"unsure"}`}
	r := New(newFakeCatalog(), fake, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Agent != "food" || decision.Reason != "low-confidence default" {
		t.Fatalf("expected low-confidence default to food, got %+v", decision)
	}
}

func TestRoute_LLMErrorRoutesToDefaultWithoutFailingTurn(t *testing.T) {
	s := sessionWithUserMessage("do the thing")
	fake := &fakeLLMCapability{err: state.NewLLMError(state.LLMUnavailable, "fake", nil)}
	r := New(newFakeCatalog(), fake, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Agent != "food" || decision.Source != state.SourceLLM || decision.Confidence != 0 {
		t.Fatalf("expected default-agent fallback on LLM error, got %+v", decision)
	}
	if len(s.Trace) != 1 {
		t.Errorf("expected router anomaly recorded in trace, got %d entries", len(s.Trace))
	}
}

func TestRoute_EmptyMessageRoutesToDefault(t *testing.T) {
	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleUser, Content: "", Timestamp: time.Now()})
	fake := &fakeLLMCapability{response: `{"agent":"food","confidence":0.9,"reason":"default"}`}
	r := New(newFakeCatalog(), fake, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Agent != "food" {
		t.Fatalf("expected default agent for empty message, got %+v", decision)
	}
}

func TestRoute_OrphanToolMessageRecordsAnomalyAndDefaults(t *testing.T) {
	s := state.NewSessionState("s1", "u1", "w1", time.Now())
	s.AppendMessage(state.Message{Role: state.RoleTool, ToolCallID: "abc", Content: "result", Timestamp: time.Now()})
	fake := &fakeLLMCapability{response: `{"agent":"food","confidence":0.9,"reason":"default"}`}
	r := New(newFakeCatalog(), fake, "model", 0.1, 0.3)

	decision := r.Route(context.Background(), s)
	if decision.Agent != "food" {
		t.Fatalf("expected default route, got %+v", decision)
	}
	found := false
	for _, tr := range s.Trace {
		if tr.Kind == "RouterAnomaly" {
			found = true
		}
	}
	if !found {
		t.Error("expected a RouterAnomaly trace entry for orphan tool message")
	}
}
