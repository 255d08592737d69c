package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// AnthropicConfig configures an AnthropicCapability.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicCapability implements Capability against the Anthropic Messages
// API using a single synchronous round trip (client.Messages.New), never the
// streaming call the provider SDK also exposes.
type AnthropicCapability struct {
	client           anthropic.Client
	maxRetries       int
	retryDelay       time.Duration
	maxSchemaRetries int
}

// NewAnthropicCapability builds an AnthropicCapability from cfg.
func NewAnthropicCapability(cfg AnthropicConfig, maxSchemaRetries int) *AnthropicCapability {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	return &AnthropicCapability{
		client:           anthropic.NewClient(opts...),
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		maxSchemaRetries: maxSchemaRetries,
	}
}

// Complete implements Capability.
func (c *AnthropicCapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	return completeWithSchemaRetry(ctx, "anthropic", c.maxSchemaRetries, opts, func(ctx context.Context) (*CompletionResult, error) {
		return c.complete(ctx, messages, opts)
	})
}

func (c *AnthropicCapability) complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, state.NewLLMError(state.LLMUnavailable, "anthropic", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * c.retryDelay
			select {
			case <-ctx.Done():
				return nil, state.NewLLMError(state.LLMTimeout, "anthropic", ctx.Err())
			case <-time.After(backoff):
			}
		}

		msg, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return convertAnthropicResponse(msg), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, state.NewLLMError(state.LLMTimeout, "anthropic", ctx.Err())
		}
		if !isRetryableAnthropicError(err) {
			return nil, classifyAnthropicError(err)
		}
	}
	return nil, classifyAnthropicError(lastErr)
}

func (c *AnthropicCapability) buildParams(messages []Message, opts CompletionOptions) (anthropic.MessageNewParams, error) {
	var system string
	var converted []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == state.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		block, err := convertMessageToAnthropic(m)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		converted = append(converted, block)
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(opts.Tools) > 0 {
		tools, err := convertToolsToAnthropic(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertMessageToAnthropic(m Message) (anthropic.MessageParam, error) {
	var content []anthropic.ContentBlockParamUnion
	switch {
	case m.ToolCallID != "":
		content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	case len(m.ToolCalls) > 0:
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return anthropic.MessageParam{}, fmt.Errorf("decode tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
	default:
		content = append(content, anthropic.NewTextBlock(m.Content))
	}

	if m.Role == state.RoleAssistant {
		return anthropic.NewAssistantMessage(content...), nil
	}
	return anthropic.NewUserMessage(content...), nil
}

func convertToolsToAnthropic(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func convertAnthropicResponse(msg *anthropic.Message) *CompletionResult {
	out := Message{Role: state.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, state.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	return &CompletionResult{
		Message: out,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// Embed is unsupported by the Anthropic API; every call fails with
// LLMUnavailable so callers fall back to another embedding-capable
// capability.
func (c *AnthropicCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, state.NewLLMError(state.LLMUnavailable, "anthropic", fmt.Errorf("anthropic capability does not support embeddings"))
}

func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return true
		}
		return false
	}
	return true
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return state.NewLLMError(state.LLMRateLimited, "anthropic", err)
		case 408:
			return state.NewLLMError(state.LLMTimeout, "anthropic", err)
		case 413:
			return state.NewLLMError(state.LLMContextOverflow, "anthropic", err)
		}
	}
	return state.NewLLMError(state.LLMUnavailable, "anthropic", err)
}
