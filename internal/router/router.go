// Package router implements a hybrid routing algorithm: an explicit path for
// pending handoffs, a deterministic keyword-confidence path, and an LLM
// structured-output fallback, using a precise two-tier threshold algorithm
// rather than a broad multi-trigger-type system.
package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// AgentCatalog exposes the minimal per-agent information the router needs:
// the registered names and, for the keyword path, each agent's keyword set.
type AgentCatalog interface {
	Names() []state.AgentName
	DefaultAgent() state.AgentName
	Keywords(agent state.AgentName) []string
	Description(agent state.AgentName) string
}

var wordBoundary = regexp.MustCompile(`[a-z0-9]+`)

// Router selects the next agent for a turn.
type Router struct {
	catalog         AgentCatalog
	capability      llm.Capability
	model           string
	temperature     float64
	confidenceFloor float64
}

// New builds a Router. capability and model/temperature are the router's own
// cached LLM call site (low temperature, never shared with an agent's
// higher-temperature call site).
func New(catalog AgentCatalog, capability llm.Capability, model string, temperature, confidenceFloor float64) *Router {
	return &Router{
		catalog:         catalog,
		capability:      capability,
		model:           model,
		temperature:     temperature,
		confidenceFloor: confidenceFloor,
	}
}

// routingResponseSchema is the structured-output contract for the LLM
// fallback path.
const routingResponseSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string"}
	},
	"required": ["agent", "confidence", "reason"]
}`

type routingResponse struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Route implements the four-step algorithm: explicit pending handoff, then
// keyword match, then LLM fallback, then default-agent on any LLM error.
// lastUserMessage is state.Messages' most recent RoleUser entry, or "" if
// there is none (the empty-message edge case).
func (r *Router) Route(ctx context.Context, s *state.SessionState) state.RoutingDecision {
	// Step 1: explicit path. target_agent is cleared by the graph runtime
	// only after the agent node for that target runs, so its mere presence
	// here means a handoff is pending re-entry.
	if s.TargetAgent != "" {
		return state.RoutingDecision{
			Agent:      s.TargetAgent,
			Confidence: 1.0,
			Reason:     "explicit handoff target",
			Source:     state.SourceExplicit,
		}
	}

	lastUser, anomaly := lastUserMessage(s.Messages)
	if anomaly != "" {
		s.RecordTrace(state.TraceEntry{Kind: "RouterAnomaly", Message: anomaly})
	}

	// Step 2: keyword path.
	if lastUser != "" {
		if decision, ok := r.routeByKeyword(lastUser); ok {
			return decision
		}
	}

	// Step 3: LLM fallback.
	decision, err := r.routeByLLM(ctx, s, lastUser)
	if err != nil {
		// Step 4: any LLM error routes to default with source=llm,
		// confidence=0, turn continues rather than failing.
		s.RecordTrace(state.TraceEntry{Kind: "RouterAnomaly", Message: err.Error()})
		return state.RoutingDecision{
			Agent:      r.catalog.DefaultAgent(),
			Confidence: 0,
			Reason:     "router llm error: " + err.Error(),
			Source:     state.SourceLLM,
		}
	}
	return decision
}

// lastUserMessage returns the content of the most recent RoleUser message.
// If the most recent message is neither user nor absent (e.g. an orphaned
// tool message left over from corruption), it is reported as an anomaly and
// the empty-message/default-agent path is taken.
func lastUserMessage(messages []state.Message) (content string, anomaly string) {
	if len(messages) == 0 {
		return "", ""
	}
	last := messages[len(messages)-1]
	if last.Role == state.RoleUser {
		return last.Content, ""
	}
	if last.Role == state.RoleTool {
		return "", "orphan tool message at turn boundary"
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			return messages[i].Content, ""
		}
	}
	return "", ""
}

// routeByKeyword implements the deterministic scoring rule: the winner must
// score at least 2 matches and at least twice the runner-up's score.
func (r *Router) routeByKeyword(message string) (state.RoutingDecision, bool) {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return state.RoutingDecision{}, false
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	joined := " " + strings.Join(tokens, " ") + " "

	type score struct {
		agent state.AgentName
		count int
	}
	var scores []score
	for _, agent := range r.catalog.Names() {
		count := 0
		for _, kw := range r.catalog.Keywords(agent) {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(kw, " ") {
				if strings.Contains(joined, " "+kw+" ") {
					count++
				}
				continue
			}
			if _, ok := tokenSet[kw]; ok {
				count++
			}
		}
		if count > 0 {
			scores = append(scores, score{agent: agent, count: count})
		}
	}
	if len(scores) == 0 {
		return state.RoutingDecision{}, false
	}

	top := scores[0]
	second := score{}
	for _, sc := range scores[1:] {
		if sc.count > top.count {
			second = top
			top = sc
		} else if sc.count > second.count {
			second = sc
		}
	}

	if top.count < 2 || top.count < 2*second.count {
		return state.RoutingDecision{}, false
	}

	confidence := float64(top.count) / 4
	if confidence > 1 {
		confidence = 1
	}
	return state.RoutingDecision{
		Agent:      top.agent,
		Confidence: confidence,
		Reason:     "keyword match",
		Source:     state.SourceKeyword,
	}, true
}

func tokenize(message string) []string {
	return wordBoundary.FindAllString(strings.ToLower(message), -1)
}

// routeByLLM asks the LLM for a routing decision over a compact prompt of
// agent descriptions plus the last few messages.
func (r *Router) routeByLLM(ctx context.Context, s *state.SessionState, lastUser string) (state.RoutingDecision, error) {
	if r.capability == nil {
		return state.RoutingDecision{}, state.NewLLMError(state.LLMUnavailable, "router", nil)
	}

	prompt := r.buildPrompt(s, lastUser)
	result, err := r.capability.Complete(ctx, []llm.Message{
		{Role: state.RoleSystem, Content: prompt},
		{Role: state.RoleUser, Content: lastUser},
	}, llm.CompletionOptions{
		Model:          r.model,
		Temperature:    r.temperature,
		ResponseSchema: []byte(routingResponseSchema),
	})
	if err != nil {
		return state.RoutingDecision{}, err
	}

	var parsed routingResponse
	if err := json.Unmarshal([]byte(result.Message.Content), &parsed); err != nil {
		return state.RoutingDecision{}, state.NewLLMError(state.LLMSchemaViolation, "router", err)
	}

	agent := state.AgentName(parsed.Agent)
	if !r.isRegistered(agent) || parsed.Confidence < r.confidenceFloor {
		return state.RoutingDecision{
			Agent:      r.catalog.DefaultAgent(),
			Confidence: parsed.Confidence,
			Reason:     "low-confidence default",
			Source:     state.SourceLLM,
		}, nil
	}

	return state.RoutingDecision{
		Agent:      agent,
		Confidence: parsed.Confidence,
		Reason:     parsed.Reason,
		Source:     state.SourceLLM,
	}, nil
}

func (r *Router) isRegistered(agent state.AgentName) bool {
	for _, a := range r.catalog.Names() {
		if a == agent {
			return true
		}
	}
	return false
}

const maxRoutingContextMessages = 4

func (r *Router) buildPrompt(s *state.SessionState, lastUser string) string {
	var b strings.Builder
	b.WriteString("Route this conversation to exactly one of the following agents:\n")
	for _, agent := range r.catalog.Names() {
		b.WriteString("- ")
		b.WriteString(string(agent))
		b.WriteString(": ")
		b.WriteString(r.catalog.Description(agent))
		b.WriteString("\n")
	}
	b.WriteString("\nRecent conversation:\n")
	start := len(s.Messages) - maxRoutingContextMessages
	if start < 0 {
		start = 0
	}
	for _, m := range s.Messages[start:] {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with JSON: {\"agent\": <name>, \"confidence\": <0..1>, \"reason\": <string>}.\n")
	return b.String()
}
