package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// OpenAIConfig configures an OpenAICapability.
type OpenAIConfig struct {
	APIKey         string
	EmbeddingModel string
	MaxRetries     int
	RetryDelay     time.Duration
}

// OpenAICapability implements Capability against the OpenAI chat completions
// and embeddings APIs using plain (non-streaming) calls.
type OpenAICapability struct {
	client           *openai.Client
	embeddingModel   string
	maxRetries       int
	retryDelay       time.Duration
	maxSchemaRetries int
}

// NewOpenAICapability builds an OpenAICapability from cfg.
func NewOpenAICapability(cfg OpenAIConfig, maxSchemaRetries int) *OpenAICapability {
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
		embeddingModel = "text-embedding-3-small"
	}
	return &OpenAICapability{
		client:           openai.NewClient(cfg.APIKey),
		embeddingModel:   embeddingModel,
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		maxSchemaRetries: maxSchemaRetries,
	}
}

// Complete implements Capability.
func (c *OpenAICapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	return completeWithSchemaRetry(ctx, "openai", c.maxSchemaRetries, opts, func(ctx context.Context) (*CompletionResult, error) {
		return c.complete(ctx, messages, opts)
	})
}

func (c *OpenAICapability) complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    convertMessagesToOpenAI(messages),
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		req.Tools = convertToolsToOpenAI(opts.Tools)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, state.NewLLMError(state.LLMTimeout, "openai", ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return convertOpenAIResponse(resp), nil
		}
		lastErr = err
		if !isRetryableOpenAIError(err) {
			return nil, classifyOpenAIError(err)
		}
	}
	return nil, classifyOpenAIError(lastErr)
}

func convertMessagesToOpenAI(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oai := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case state.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				oai.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					oai.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
		case state.RoleTool:
			oai.Role = string(openai.ChatMessageRoleTool)
			oai.ToolCallID = m.ToolCallID
		}
		result = append(result, oai)
	}
	return result
}

func convertToolsToOpenAI(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func convertOpenAIResponse(resp openai.ChatCompletionResponse) *CompletionResult {
	out := Message{Role: state.RoleAssistant}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0].Message
		out.Content = choice.Content
		for _, tc := range choice.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, state.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	return &CompletionResult{
		Message: out,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
}

// Embed implements Capability using OpenAI's embeddings endpoint.
func (c *OpenAICapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	}
	return false
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"):
		return state.NewLLMError(state.LLMRateLimited, "openai", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return state.NewLLMError(state.LLMTimeout, "openai", err)
	case strings.Contains(msg, "context_length_exceeded"), strings.Contains(msg, "maximum context length"):
		return state.NewLLMError(state.LLMContextOverflow, "openai", err)
	}
	return state.NewLLMError(state.LLMUnavailable, "openai", err)
}
