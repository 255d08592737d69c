package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// BedrockConfig configures a BedrockCapability.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	EmbeddingModel  string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockCapability implements Capability against AWS Bedrock's Converse API
// for completions and InvokeModel for Titan embeddings, using a single
// synchronous round trip per call (Converse, never ConverseStream).
type BedrockCapability struct {
	client           *bedrockruntime.Client
	embeddingModel   string
	maxRetries       int
	retryDelay       time.Duration
	maxSchemaRetries int
}

// NewBedrockCapability builds a BedrockCapability from cfg. Credentials fall
// back to the default AWS chain (env, shared config, IAM role) when
// AccessKeyID/SecretAccessKey are empty.
func NewBedrockCapability(cfg BedrockConfig, maxSchemaRetries int) (*BedrockCapability, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
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
		embeddingModel = "amazon.titan-embed-text-v1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockCapability{
		client:           bedrockruntime.NewFromConfig(awsCfg),
		embeddingModel:   embeddingModel,
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		maxSchemaRetries: maxSchemaRetries,
	}, nil
}

// Complete implements Capability.
func (c *BedrockCapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	return completeWithSchemaRetry(ctx, "bedrock", c.maxSchemaRetries, opts, func(ctx context.Context) (*CompletionResult, error) {
		return c.complete(ctx, messages, opts)
	})
}

func (c *BedrockCapability) complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	converted, system, err := c.convertMessages(messages)
	if err != nil {
		return nil, state.NewLLMError(state.LLMUnavailable, "bedrock", err)
	}

	req := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(opts.Model),
		Messages: converted,
	}
	if system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if opts.MaxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(opts.MaxTokens))}
	}
	if len(opts.Tools) > 0 {
		toolConfig, err := convertToolsToBedrock(opts.Tools)
		if err != nil {
			return nil, state.NewLLMError(state.LLMUnavailable, "bedrock", err)
		}
		req.ToolConfig = toolConfig
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, state.NewLLMError(state.LLMTimeout, "bedrock", ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.Converse(ctx, req)
		if err == nil {
			return convertBedrockResponse(resp), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, state.NewLLMError(state.LLMTimeout, "bedrock", ctx.Err())
		}
		if !isRetryableBedrockError(err) {
			return nil, classifyBedrockError(err)
		}
	}
	return nil, classifyBedrockError(lastErr)
}

func (c *BedrockCapability) convertMessages(messages []Message) ([]types.Message, string, error) {
	var system strings.Builder
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == state.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}

		var content []types.ContentBlock
		if m.ToolCallID != "" {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				},
			})
		} else {
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, "", fmt.Errorf("decode tool call arguments for %s: %w", tc.Name, err)
					}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
		}

		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == state.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, system.String(), nil
}

func convertToolsToBedrock(tools []ToolSpec) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func convertBedrockResponse(resp *bedrockruntime.ConverseOutput) *CompletionResult {
	out := Message{Role: state.RoleAssistant}
	var usage Usage
	if resp.Usage != nil {
		usage = Usage{
			PromptTokens:     int(aws.ToInt32(resp.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(resp.Usage.OutputTokens)),
		}
	}
	msgOutput, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return &CompletionResult{Message: out, Usage: usage}
	}
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			out.Content += v.Value
		case *types.ContentBlockMemberToolUse:
			var raw json.RawMessage
			if v.Value.Input != nil {
				if b, err := v.Value.Input.MarshalSmithyDocument(); err == nil {
					raw = b
				}
			}
			out.ToolCalls = append(out.ToolCalls, state.ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: raw,
			})
		}
	}
	return &CompletionResult{Message: out, Usage: usage}
}

// titanEmbedRequest/titanEmbedResponse mirror the InvokeModel JSON body for
// Titan embedding models; Bedrock has no model-agnostic embedding API.
type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Capability by invoking a Titan embedding model per input
// text. Bedrock's InvokeModel API takes one text per call, unlike OpenAI's
// batched embeddings endpoint.
func (c *BedrockCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanEmbedRequest{InputText: text})
		if err != nil {
			return nil, state.NewLLMError(state.LLMUnavailable, "bedrock", err)
		}
		resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(c.embeddingModel),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, classifyBedrockError(err)
		}
		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, state.NewLLMError(state.LLMUnavailable, "bedrock", fmt.Errorf("decode embedding response: %w", err))
		}
		vectors[i] = parsed.Embedding
	}
	return vectors, nil
}

func isRetryableBedrockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttling"), strings.Contains(msg, "toomanyrequests"), strings.Contains(msg, "serviceunavailable"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	}
	return false
}

func classifyBedrockError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttling"), strings.Contains(msg, "toomanyrequests"):
		return state.NewLLMError(state.LLMRateLimited, "bedrock", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return state.NewLLMError(state.LLMTimeout, "bedrock", err)
	case strings.Contains(msg, "validationexception"), strings.Contains(msg, "input is too long"):
		return state.NewLLMError(state.LLMContextOverflow, "bedrock", err)
	}
	return state.NewLLMError(state.LLMUnavailable, "bedrock", err)
}
