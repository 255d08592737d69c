// Package agentcatalog registers the domain agents as data-only descriptors:
// name, system prompt, tool whitelist, and an optional temperature override,
// never a code subtype. Agents are rows of data consumed by the router and
// agent loop, not Go interfaces implemented per-agent.
package agentcatalog

import (
	"fmt"
	"strings"

	"github.com/kestrel-labs/assistant-orchestrator/internal/agentloop"
	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const (
	Food     state.AgentName = "food"
	Task     state.AgentName = "task"
	Event    state.AgentName = "event"
	Reminder state.AgentName = "reminder"
)

// agent is the catalog's internal descriptor record. It satisfies
// agentloop.AgentSpec directly.
type agent struct {
	name         state.AgentName
	systemPrompt string
	model        string
	temperature  float64
	toolNames    []string
	keywords     []string
	description  string
}

func (a *agent) Name() state.AgentName { return a.name }
func (a *agent) SystemPrompt() string  { return a.systemPrompt }
func (a *agent) Model() string         { return a.model }
func (a *agent) Temperature() float64  { return a.temperature }
func (a *agent) ToolNames() []string   { return a.toolNames }

// Catalog holds every registered agent, in registration order. The first
// registered agent is DEFAULT_AGENT unless overridden by config.
type Catalog struct {
	order              []state.AgentName
	agents             map[state.AgentName]*agent
	capabilities       *llm.CachedCapability
	handoffTemperature float64
}

// Config selects which optional agents are registered and the default
// model/temperature for routing and agent calls.
type Config struct {
	ReminderEnabled     bool
	Model               string
	AgentTemperature    float64
	HandoffTemperature  float64
	DefaultAgent        state.AgentName
	Capabilities        *llm.CachedCapability
}

// New builds the Catalog and registers every agent's tools against reg.
// handoffTargets reports whether a given agent name is known, used by the
// request_handoff tool's own argument validation.
func New(cfg Config, reg *toolregistry.Registry, handlers Handlers) (*Catalog, error) {
	c := &Catalog{
		agents:             make(map[state.AgentName]*agent),
		capabilities:       cfg.Capabilities,
		handoffTemperature: cfg.HandoffTemperature,
	}

	c.register(&agent{
		name: Food,
		systemPrompt: "You are the food-logging assistant. You log meals the " +
			"user describes and answer questions about their recent eating " +
			"history. You never invent food entries the user didn't describe.",
		model:       cfg.Model,
		temperature: cfg.AgentTemperature,
		toolNames:   []string{"log_food", "search_food_log", "delete_food_entry", "request_handoff"},
		keywords:    []string{"ate", "eat", "food", "meal", "breakfast", "lunch", "dinner", "snack", "calorie", "nutrition"},
		description: "Logs meals and answers questions about recently logged food.",
	})

	c.register(&agent{
		name: Task,
		systemPrompt: "You are the task-management assistant. You create, " +
			"find, and complete to-do items with due dates and priorities.",
		model:       cfg.Model,
		temperature: cfg.AgentTemperature,
		toolNames:   []string{"create_task", "search_tasks", "complete_task", "request_handoff"},
		keywords:    []string{"task", "todo", "to-do", "due", "complete", "finish", "priority", "remind me to"},
		description: "Creates, searches, and completes to-do items.",
	})

	c.register(&agent{
		name: Event,
		systemPrompt: "You are the calendar assistant. You schedule events, " +
			"including recurring ones, and help the user find what's on " +
			"their calendar.",
		model:       cfg.Model,
		temperature: cfg.AgentTemperature,
		toolNames:   []string{"create_event", "search_events", "cancel_event", "request_handoff"},
		keywords:    []string{"event", "meeting", "calendar", "schedule", "appointment", "recurring"},
		description: "Schedules and searches calendar events.",
	})

	if cfg.ReminderEnabled {
		c.register(&agent{
			name: Reminder,
			systemPrompt: "You are the reminders assistant. You hold " +
				"standalone reminders decoupled from tasks or events, and can " +
				"recall previously stored notes by relevance.",
			model:       cfg.Model,
			temperature: cfg.AgentTemperature,
			toolNames:   []string{"create_reminder", "search_memory", "request_handoff"},
			keywords:    []string{"remind", "reminder", "recall", "remember", "note"},
			description: "Holds standalone reminders and recalls stored notes.",
		})
	}

	if cfg.DefaultAgent != "" {
		if _, ok := c.agents[cfg.DefaultAgent]; !ok {
			return nil, fmt.Errorf("agentcatalog: configured default agent %q is not registered", cfg.DefaultAgent)
		}
		c.order = append([]state.AgentName{cfg.DefaultAgent}, removeName(c.order, cfg.DefaultAgent)...)
	}

	if err := registerTools(reg, c, handlers); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) register(a *agent) {
	c.agents[a.name] = a
	c.order = append(c.order, a.name)
}

func removeName(names []state.AgentName, target state.AgentName) []state.AgentName {
	out := make([]state.AgentName, 0, len(names))
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// Names implements router.AgentCatalog.
func (c *Catalog) Names() []state.AgentName {
	out := make([]state.AgentName, len(c.order))
	copy(out, c.order)
	return out
}

// DefaultAgent implements router.AgentCatalog: the first registered agent.
func (c *Catalog) DefaultAgent() state.AgentName {
	if len(c.order) == 0 {
		return ""
	}
	return c.order[0]
}

// Keywords implements router.AgentCatalog.
func (c *Catalog) Keywords(name state.AgentName) []string {
	if a, ok := c.agents[name]; ok {
		return a.keywords
	}
	return nil
}

// Description implements router.AgentCatalog.
func (c *Catalog) Description(name state.AgentName) string {
	if a, ok := c.agents[name]; ok {
		return a.description
	}
	return ""
}

// Spec implements graph.AgentResolver.
func (c *Catalog) Spec(name state.AgentName) (agentloop.AgentSpec, bool) {
	a, ok := c.agents[name]
	if !ok {
		return nil, false
	}
	return a, true
}

// Capability implements graph.AgentResolver: the agent's own capability
// instance, keyed by {model, agent temperature}.
func (c *Catalog) Capability(name state.AgentName) (llm.Capability, error) {
	a, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("agentcatalog: unknown agent %q", name)
	}
	return c.capabilities.For(a.model, a.temperature)
}

// HandoffCapability implements graph.AgentResolver: a separate capability
// instance keyed by {model, handoff temperature}, so the implicit-handoff
// judgment call never shares a cached client with the agent's own
// higher-temperature reasoning calls.
func (c *Catalog) HandoffCapability(name state.AgentName) (llm.Capability, error) {
	a, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("agentcatalog: unknown agent %q", name)
	}
	return c.capabilities.For(a.model, c.handoffTemperature)
}

// Registered reports whether name is a known agent, used by the
// request_handoff tool to validate its target_agent argument.
func (c *Catalog) Registered(name state.AgentName) bool {
	_, ok := c.agents[name]
	return ok
}

// ContextMessage implements graph.AgentResolver: it renders the agent's
// prior saved AgentContext (if any) as a system-role primer the agent loop
// prepends ahead of the conversation, so an agent resuming after a handoff
// sees its own earlier notes rather than starting blank.
func (c *Catalog) ContextMessage(s *state.SessionState, agentName state.AgentName) string {
	ctx := s.ContextFor(agentName)
	if ctx == nil || ctx.Text == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous notes for this session: ")
	b.WriteString(ctx.Text)
	return b.String()
}
