package agentcatalog

import (
	"testing"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create sqlmock: %v", err)
	}
	return store.NewFromDB(db, store.DriverPostgres)
}

func noopFactory(model string, temperature float64) (llm.Capability, error) {
	return nil, nil
}

func TestNew_FoodIsDefaultAgent(t *testing.T) {
	reg := toolregistry.New()
	c, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DefaultAgent() != Food {
		t.Fatalf("expected food as default agent, got %q", c.DefaultAgent())
	}
}

func TestNew_ReminderAgentOptional(t *testing.T) {
	reg := toolregistry.New()
	c, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Registered(Reminder) {
		t.Error("expected reminder agent unregistered by default")
	}
	if _, ok := reg.Descriptor("search_memory"); ok {
		t.Error("expected search_memory tool not registered when reminder agent disabled")
	}

	reg2 := toolregistry.New()
	c2, err := New(Config{
		ReminderEnabled:  true,
		Model:            "test-model",
		AgentTemperature: 0.7,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg2, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c2.Registered(Reminder) {
		t.Error("expected reminder agent registered when enabled")
	}
	if _, ok := reg2.Descriptor("search_memory"); !ok {
		t.Error("expected search_memory tool registered when reminder agent enabled")
	}
}

func TestNew_DefaultAgentOverride(t *testing.T) {
	reg := toolregistry.New()
	c, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		DefaultAgent:     Task,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DefaultAgent() != Task {
		t.Fatalf("expected task as default agent, got %q", c.DefaultAgent())
	}
}

func TestNew_UnknownDefaultAgentRejected(t *testing.T) {
	reg := toolregistry.New()
	_, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		DefaultAgent:     "nonexistent",
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err == nil {
		t.Fatal("expected error for unknown default agent")
	}
}

func TestRequestHandoffTool_RejectsUnknownTarget(t *testing.T) {
	reg := toolregistry.New()
	_, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	descriptor, ok := reg.Descriptor("request_handoff")
	if !ok {
		t.Fatal("expected request_handoff to be registered")
	}
	if !descriptor.OwnedBy(Food) || !descriptor.OwnedBy(Task) || !descriptor.OwnedBy(Event) {
		t.Fatal("expected request_handoff visible to food, task, and event agents")
	}
}

func TestContextMessage_EmptyWhenNoPriorContext(t *testing.T) {
	reg := toolregistry.New()
	c, err := New(Config{
		Model:            "test-model",
		AgentTemperature: 0.7,
		Capabilities:     llm.NewCachedCapability(noopFactory),
	}, reg, Handlers{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := state.NewSessionState("session-1", "user-1", "workspace-1", time.Now())
	if got := c.ContextMessage(s, Food); got != "" {
		t.Fatalf("expected empty context message, got %q", got)
	}
}
