// Package agentloop implements the per-agent reason/act loop: synthetic
// context composition, sequential in-order tool execution (tool calls run
// strictly in order rather than fanning out in parallel), bounded tool
// rounds, handoff detection, and context-overflow recovery. Structured as
// explicit phases (stream -> execute tools -> continue) with per-call
// timeout and panic recovery around each tool execution.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// RequestHandoffTool is the literal name of the explicit handoff tool every
// agent may call to hand the conversation to a different agent.
const RequestHandoffTool = "request_handoff"

// AgentSpec is the process-global, immutable definition of one registered
// agent, consulted by the loop but never mutated by it.
type AgentSpec interface {
	Name() state.AgentName
	SystemPrompt() string
	Model() string
	Temperature() float64
	ToolNames() []string
}

// Config bounds the loop's tool-call rounds within one agent turn.
type Config struct {
	MaxToolRounds int
	ToolDeadline  time.Duration
	LLMDeadline   time.Duration
}

// Loop runs one agent's turn of the reason/act cycle.
type Loop struct {
	registry *toolregistry.Registry
	config   Config
}

// New builds a Loop against registry.
func New(registry *toolregistry.Registry, config Config) *Loop {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = 6
	}
	return &Loop{registry: registry, config: config}
}

// Outcome is the delta the Graph Runtime applies to SessionState after the
// loop returns; the loop itself never mutates the caller's state.
type Outcome struct {
	NewMessages   []state.Message
	Handoff       state.HandoffDecision
	UpdatedContext *state.AgentContext
	Trace         []state.TraceEntry
}

type handoffToolInput struct {
	TargetAgent string `json:"target_agent"`
	Reason      string `json:"reason"`
}

// Run executes one agent turn: compose input, call the LLM, execute any
// requested tools in order, repeat until a tool-call-free reply or the round
// bound, then decide a handoff.
func (l *Loop) Run(
	ctx context.Context,
	capability llm.Capability,
	handoffCapability llm.Capability,
	spec AgentSpec,
	s *state.SessionState,
	inputContext string,
) (Outcome, error) {
	var outcome Outcome
	working := []llm.Message{{Role: state.RoleSystem, Content: inputContext}}
	for _, m := range s.Messages {
		working = append(working, toLLMMessage(m))
	}

	tools := l.toolSpecs(spec)
	overflowRetried := false

	for round := 0; round < l.config.MaxToolRounds; round++ {
		result, err := l.complete(ctx, capability, working, spec)
		if err != nil {
			if llmErr, ok := err.(*state.LLMError); ok && llmErr.Kind == state.LLMContextOverflow {
				if overflowRetried {
					outcome.NewMessages = append(outcome.NewMessages, state.Message{
						Role:      state.RoleAssistant,
						Content:   "I ran into trouble with how much context this conversation has built up and can't complete that right now.",
						Agent:     spec.Name(),
						Timestamp: now(),
					})
					outcome.Trace = append(outcome.Trace, state.TraceEntry{Kind: "ContextOverflow", Message: "second occurrence, turn aborted", Agent: spec.Name(), Timestamp: now()})
					return outcome, nil
				}
				overflowRetried = true
				working = emergencyPrune(working)
				round--
				continue
			}
			return outcome, err
		}

		assistantMsg := state.Message{
			Role:      state.RoleAssistant,
			Content:   result.Message.Content,
			ToolCalls: result.Message.ToolCalls,
			Agent:     spec.Name(),
			Timestamp: now(),
		}
		outcome.NewMessages = append(outcome.NewMessages, assistantMsg)
		working = append(working, toLLMMessage(assistantMsg))

		if len(result.Message.ToolCalls) == 0 {
			break
		}

		handoffRequested := false
		for _, tc := range result.Message.ToolCalls {
			toolCtx, cancel := context.WithTimeout(ctx, l.config.ToolDeadline)
			toolResult := l.registry.Invoke(toolCtx, tc.Name, tc.Arguments)
			cancel()

			resultJSON, _ := json.Marshal(toolResult)
			toolMsg := state.Message{
				Role:       state.RoleTool,
				Content:    string(resultJSON),
				ToolCallID: tc.ID,
				Agent:      spec.Name(),
				Timestamp:  now(),
			}
			outcome.NewMessages = append(outcome.NewMessages, toolMsg)
			working = append(working, toLLMMessage(toolMsg))

			if tc.Name == RequestHandoffTool && toolResult.OK {
				var input handoffToolInput
				if err := json.Unmarshal(tc.Arguments, &input); err == nil && input.TargetAgent != "" {
					outcome.Handoff = state.HandoffDecision{
						ShouldHandoff: true,
						TargetAgent:   state.AgentName(input.TargetAgent),
						Reason:        input.Reason,
					}
					handoffRequested = true
				}
			}
		}

		if handoffRequested {
			return outcome, nil
		}

		if round == l.config.MaxToolRounds-1 {
			outcome.NewMessages = append(outcome.NewMessages, state.Message{
				Role:      state.RoleAssistant,
				Content:   "I ran out of steps trying to complete that; here is what I have so far.",
				Agent:     spec.Name(),
				Timestamp: now(),
			})
			outcome.Trace = append(outcome.Trace, state.TraceEntry{
				Kind:      string(state.AgentStepLimitExceeded),
				Message:   fmt.Sprintf("reached MAX_TOOL_ROUNDS=%d", l.config.MaxToolRounds),
				Agent:     spec.Name(),
				Timestamp: now(),
			})
		}
	}

	if !outcome.Handoff.ShouldHandoff && handoffCapability != nil {
		decision := l.decideHandoff(ctx, handoffCapability, spec, s, outcome.NewMessages)
		outcome.Handoff = decision
	}

	outcome.UpdatedContext = summarizeTurn(outcome.NewMessages)

	return outcome, nil
}

// summarizeTurn builds the replace-not-append agent context update from this
// turn's new messages: a short role-counted summary, not an LLM call, since
// the context record is meant to be cheap to refresh every turn.
func summarizeTurn(messages []state.Message) *state.AgentContext {
	var assistantReplies, toolCalls int
	lastReply := ""
	for _, m := range messages {
		switch m.Role {
		case state.RoleAssistant:
			assistantReplies++
			if m.Content != "" {
				lastReply = m.Content
			}
		case state.RoleTool:
			toolCalls++
		}
	}
	text := fmt.Sprintf("last turn: %d assistant replies, %d tool calls. last reply: %s", assistantReplies, toolCalls, lastReply)
	return &state.AgentContext{Text: text, UpdatedAt: now()}
}

func (l *Loop) complete(ctx context.Context, capability llm.Capability, working []llm.Message, spec AgentSpec) (*llm.CompletionResult, error) {
	llmCtx, cancel := context.WithTimeout(ctx, l.config.LLMDeadline)
	defer cancel()
	return capability.Complete(llmCtx, working, llm.CompletionOptions{
		Model:       spec.Model(),
		Temperature: spec.Temperature(),
		Tools:       l.toolSpecs(spec),
	})
}

func (l *Loop) toolSpecs(spec AgentSpec) []llm.ToolSpec {
	names := spec.ToolNames()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		descriptor, ok := l.registry.Descriptor(name)
		if !ok {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Schema:      descriptor.ParameterSchema,
		})
	}
	return specs
}

const handoffDecisionSchema = `{
	"type": "object",
	"properties": {
		"should_handoff": {"type": "boolean"},
		"target_agent": {"type": "string"},
		"reason": {"type": "string"}
	},
	"required": ["should_handoff"]
}`

type handoffLLMResponse struct {
	ShouldHandoff bool   `json:"should_handoff"`
	TargetAgent   string `json:"target_agent"`
	Reason        string `json:"reason"`
}

// decideHandoff asks the LLM, with a small structured-output prompt, whether
// the agent's reply should hand the conversation to a different agent. Any
// LLM error is treated as no-handoff.
func (l *Loop) decideHandoff(ctx context.Context, capability llm.Capability, spec AgentSpec, s *state.SessionState, newMessages []state.Message) state.HandoffDecision {
	lastUser := ""
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == state.RoleUser {
			lastUser = s.Messages[i].Content
			break
		}
	}
	lastReply := ""
	for i := len(newMessages) - 1; i >= 0; i-- {
		if newMessages[i].Role == state.RoleAssistant {
			lastReply = newMessages[i].Content
			break
		}
	}

	prompt := fmt.Sprintf(
		"Current agent: %s\nUser message: %s\nAgent reply: %s\nShould this conversation hand off to a different agent? Respond with JSON {\"should_handoff\":bool,\"target_agent\":string,\"reason\":string}.",
		spec.Name(), lastUser, lastReply,
	)

	llmCtx, cancel := context.WithTimeout(ctx, l.config.LLMDeadline)
	defer cancel()
	result, err := capability.Complete(llmCtx, []llm.Message{{Role: state.RoleSystem, Content: prompt}}, llm.CompletionOptions{
		Model:          spec.Model(),
		Temperature:    spec.Temperature(),
		ResponseSchema: []byte(handoffDecisionSchema),
	})
	if err != nil {
		return state.HandoffDecision{}
	}

	var parsed handoffLLMResponse
	if err := json.Unmarshal([]byte(result.Message.Content), &parsed); err != nil {
		return state.HandoffDecision{}
	}
	if !parsed.ShouldHandoff {
		return state.HandoffDecision{}
	}
	return state.HandoffDecision{
		ShouldHandoff: true,
		TargetAgent:   state.AgentName(parsed.TargetAgent),
		Reason:        parsed.Reason,
	}
}

func toLLMMessage(m state.Message) llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// emergencyPrune drops half of the oldest non-anchor messages, preserving
// index 0 (the synthetic context message), as a last resort when the LLM
// reports the working window overflowed its context limit.
func emergencyPrune(messages []llm.Message) []llm.Message {
	if len(messages) <= 2 {
		return messages
	}
	anchor := messages[0]
	rest := messages[1:]
	drop := len(rest) / 2
	pruned := append([]llm.Message{anchor}, rest[drop:]...)
	return pruned
}

// now is a seam for deterministic tests; production callers get wall-clock
// time via time.Now.
var now = time.Now
