// Package graph implements the turn state machine: Router ->
// Agent(current_agent) -> Continue?, with message pruning applied before
// each Router entry and an explicit MAX_HANDOFFS iteration bound. Structured
// as an explicit loop so the Router is always re-entered on handoff, and so
// the bound counts total loop iterations rather than handoff-stack depth.
package graph

import (
	"context"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/agentloop"
	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/router"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// AgentResolver looks up the process-global, immutable spec and capability
// handles for a registered agent. Implemented by internal/agentcatalog.
type AgentResolver interface {
	Spec(name state.AgentName) (agentloop.AgentSpec, bool)
	Capability(name state.AgentName) (llm.Capability, error)
	HandoffCapability(name state.AgentName) (llm.Capability, error)
	ContextMessage(s *state.SessionState, agent state.AgentName) string
}

// Config bounds the graph runtime: MaxMessages caps the pruned transcript
// window, MaxHandoffs caps Router re-entries within one turn.
type Config struct {
	MaxMessages int
	MaxHandoffs int
}

// Graph runs one client turn to termination.
type Graph struct {
	router   *router.Router
	loop     *agentloop.Loop
	resolver AgentResolver
	config   Config
}

// New builds a Graph.
func New(rtr *router.Router, loop *agentloop.Loop, resolver AgentResolver, config Config) *Graph {
	if config.MaxMessages <= 0 {
		config.MaxMessages = 20
	}
	if config.MaxHandoffs <= 0 {
		config.MaxHandoffs = 3
	}
	return &Graph{router: rtr, loop: loop, resolver: resolver, config: config}
}

// Run executes the Router -> Agent -> Continue? loop to termination,
// mutating s in place. The graph always terminates: the agent loop is
// bounded by MAX_TOOL_ROUNDS and this loop is bounded by MAX_HANDOFFS.
func (g *Graph) Run(ctx context.Context, s *state.SessionState) error {
	s.Messages = Prune(s.Messages, g.config.MaxMessages)

	for i := 0; i < g.config.MaxHandoffs; i++ {
		decision := g.router.Route(ctx, s)
		wasExplicit := decision.Source == state.SourceExplicit

		spec, ok := g.resolver.Spec(decision.Agent)
		if !ok {
			// The router contract guarantees decision.Agent is always
			// registered; this branch exists only to fail safe rather than
			// panic if that invariant is ever violated upstream.
			s.RecordTrace(state.TraceEntry{Kind: "RouterAnomaly", Message: "router selected unregistered agent: " + string(decision.Agent), Timestamp: time.Now()})
			return state.ErrUnknownAgent
		}

		capability, err := g.resolver.Capability(decision.Agent)
		if err != nil {
			return err
		}
		handoffCapability, err := g.resolver.HandoffCapability(decision.Agent)
		if err != nil {
			handoffCapability = nil
		}

		runningAgent := decision.Agent
		s.CurrentAgent = runningAgent
		contextMessage := g.resolver.ContextMessage(s, runningAgent)

		outcome, err := g.loop.Run(ctx, capability, handoffCapability, spec, s, contextMessage)
		if err != nil {
			return err
		}

		for _, m := range outcome.NewMessages {
			s.AppendMessage(m)
		}
		for _, t := range outcome.Trace {
			s.RecordTrace(t)
		}
		if outcome.UpdatedContext != nil {
			s.SetContextFor(runningAgent, outcome.UpdatedContext)
		}

		s.PreviousAgent = runningAgent
		if wasExplicit {
			s.TargetAgent = ""
		}

		if outcome.Handoff.ShouldHandoff && outcome.Handoff.TargetAgent != "" {
			if _, known := g.resolver.Spec(outcome.Handoff.TargetAgent); known {
				s.TargetAgent = outcome.Handoff.TargetAgent
				s.HandoffReason = outcome.Handoff.Reason
				s.UpdatedAt = time.Now()
				continue
			}
			s.RecordTrace(state.TraceEntry{Kind: "RouterAnomaly", Message: "handoff target not registered: " + string(outcome.Handoff.TargetAgent), Timestamp: time.Now()})
		}

		s.TargetAgent = ""
		s.HandoffReason = ""
		s.UpdatedAt = time.Now()
		return nil
	}

	s.AppendMessage(state.Message{
		Role:      state.RoleAssistant,
		Content:   "I wasn't able to resolve your request across agents.",
		Timestamp: time.Now(),
	})
	s.RecordTrace(state.TraceEntry{Kind: "HandoffLoopExceeded", Message: (&state.HandoffLoopExceededError{MaxHandoffs: g.config.MaxHandoffs}).Error(), Timestamp: time.Now()})
	s.TargetAgent = ""
	s.HandoffReason = ""
	s.UpdatedAt = time.Now()
	return nil
}
