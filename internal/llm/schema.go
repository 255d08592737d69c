package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// compileSchema parses and compiles a JSON schema document held as raw bytes.
func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "response_schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resourceName)
}

// validateAgainstSchema reports whether content is valid JSON that conforms
// to schema.
func validateAgainstSchema(schema *jsonschema.Schema, content string) error {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return schema.Validate(doc)
}

// completeWithSchemaRetry wraps a raw completion function with a bounded
// structured-output retry policy: when opts carries a ResponseSchema, the
// result is validated and, on failure, the call is retried up to maxRetries
// additional times before surfacing SchemaViolation.
// rawComplete must perform exactly one provider round trip per call.
func completeWithSchemaRetry(
	ctx context.Context,
	provider string,
	maxRetries int,
	opts CompletionOptions,
	rawComplete func(ctx context.Context) (*CompletionResult, error),
) (*CompletionResult, error) {
	if len(opts.ResponseSchema) == 0 {
		return rawComplete(ctx)
	}

	schema, err := compileSchema(opts.ResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempts <= maxRetries {
		attempts++
		result, err := rawComplete(ctx)
		if err != nil {
			return nil, err
		}
		if verr := validateAgainstSchema(schema, result.Message.Content); verr == nil {
			return result, nil
		} else {
			lastErr = verr
		}
	}
	return nil, state.NewLLMError(state.LLMSchemaViolation, provider, lastErr).WithAttempts(attempts)
}
