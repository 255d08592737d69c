package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// GoogleConfig configures a GoogleCapability.
type GoogleConfig struct {
	APIKey         string
	EmbeddingModel string
	MaxRetries     int
	RetryDelay     time.Duration
}

// GoogleCapability implements Capability against Gemini's generateContent and
// embedContent calls, both single round trips, never the streaming iterator
// the Gen AI SDK also exposes.
type GoogleCapability struct {
	client           *genai.Client
	embeddingModel   string
	maxRetries       int
	retryDelay       time.Duration
	maxSchemaRetries int
}

// NewGoogleCapability builds a GoogleCapability from cfg.
func NewGoogleCapability(cfg GoogleConfig, maxSchemaRetries int) (*GoogleCapability, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &GoogleCapability{
		client:           client,
		embeddingModel:   embeddingModel,
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		maxSchemaRetries: maxSchemaRetries,
	}, nil
}

// Complete implements Capability.
func (c *GoogleCapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	return completeWithSchemaRetry(ctx, "google", c.maxSchemaRetries, opts, func(ctx context.Context) (*CompletionResult, error) {
		return c.complete(ctx, messages, opts)
	})
}

func (c *GoogleCapability) complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	contents, system := convertMessagesToGoogle(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		config.Temperature = &temp
	}
	if len(opts.Tools) > 0 {
		tools, err := convertToolsToGoogle(opts.Tools)
		if err != nil {
			return nil, state.NewLLMError(state.LLMUnavailable, "google", err)
		}
		config.Tools = tools
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, state.NewLLMError(state.LLMTimeout, "google", ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, opts.Model, contents, config)
		if err == nil {
			return convertGoogleResponse(resp), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, state.NewLLMError(state.LLMTimeout, "google", ctx.Err())
		}
		if !isRetryableGoogleError(err) {
			return nil, classifyGoogleError(err)
		}
	}
	return nil, classifyGoogleError(lastErr)
}

func convertMessagesToGoogle(messages []Message) ([]*genai.Content, string) {
	var system strings.Builder
	result := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == state.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if m.Role == state.RoleAssistant {
			content.Role = genai.RoleModel
		}

		switch {
		case m.ToolCallID != "":
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: m.ToolCallID, Response: response},
			})
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
		default:
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		result = append(result, content)
	}
	return result, system.String()
}

func convertToolsToGoogle(tools []ToolSpec) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func convertGoogleResponse(resp *genai.GenerateContentResponse) *CompletionResult {
	out := Message{Role: state.RoleAssistant}
	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &CompletionResult{Message: out, Usage: usage}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				argsJSON = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, state.ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: argsJSON,
			})
		}
	}
	return &CompletionResult{Message: out, Usage: usage}
}

// Embed implements Capability using Gemini's batch embedContent call.
func (c *GoogleCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}
	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, nil)
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func isRetryableGoogleError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "resource_exhausted"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	}
	return false
}

func classifyGoogleError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "resource_exhausted"):
		return state.NewLLMError(state.LLMRateLimited, "google", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return state.NewLLMError(state.LLMTimeout, "google", err)
	case strings.Contains(msg, "token count"), strings.Contains(msg, "too long"):
		return state.NewLLMError(state.LLMContextOverflow, "google", err)
	}
	return state.NewLLMError(state.LLMUnavailable, "google", err)
}
