// Package openai adapts the official OpenAI SDK to the backend contract.
package openai

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/chat"
	"github.com/cexll/assistant-go/pkg/telemetry"
)

// Name is the descriptor name this adapter registers under.
const Name = "openai"

var _ backend.Backend = (*Adapter)(nil)

// Adapter wraps an OpenAI SDK client. Safe for concurrent calls.
type Adapter struct {
	client    openaisdk.Client
	model     openaisdk.ChatModel
	maxTokens int
}

// Config carries adapter construction settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// New creates an adapter backed by the official SDK.
func New(cfg Config) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openaisdk.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openaisdk.ChatModelGPT4o
	}
	return &Adapter{
		client:    openaisdk.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

// Descriptor reports streaming and tool-call support.
func (a *Adapter) Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name: Name,
		Capabilities: backend.Capabilities{
			SupportsStreaming: true,
			SupportsToolCalls: true,
		},
	}
}

// Complete performs a blocking call.
func (a *Adapter) Complete(ctx context.Context, req backend.Request) (_ chat.Message, err error) {
	ctx, span := telemetry.StartSpan(ctx, "backend.openai.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", Name),
			attribute.String("llm.model", string(a.model)),
			attribute.Bool("llm.stream", false),
			attribute.Int("llm.tools_count", len(req.Tools)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	params, err := a.buildParams(req)
	if err != nil {
		return chat.Message{}, err
	}
	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return chat.Message{}, backend.Unavailable(Name, err)
	}
	if len(completion.Choices) == 0 {
		return chat.Message{}, backend.Unavailable(Name, fmt.Errorf("no choices in response"))
	}
	return convertMessageFromOpenAI(completion.Choices[0].Message)
}

// Stream performs a streaming call. Text deltas are forwarded as they
// arrive; tool-call deltas are emitted from the accumulated message before
// done, so they carry provider-assigned call IDs.
func (a *Adapter) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) (err error) {
	if fn == nil {
		return fmt.Errorf("openai: stream callback is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "backend.openai.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", Name),
			attribute.String("llm.model", string(a.model)),
			attribute.Bool("llm.stream", true),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	params, err := a.buildParams(req)
	if err != nil {
		return err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openaisdk.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		if !acc.AddChunk(chunk) {
			return fmt.Errorf("openai: accumulate stream chunk failed")
		}
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta; delta.Content != "" {
				if err := fn(backend.TextDelta(delta.Content)); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return backend.Unavailable(Name, err)
	}
	if len(acc.Choices) == 0 {
		return backend.Unavailable(Name, fmt.Errorf("stream produced no choices"))
	}

	final, err := convertMessageFromOpenAI(acc.Choices[0].Message)
	if err != nil {
		return err
	}
	for _, call := range final.ToolCalls {
		if err := fn(backend.ToolCallDelta(call)); err != nil {
			return err
		}
	}
	return fn(backend.DoneDelta(final))
}

func (a *Adapter) buildParams(req backend.Request) (openaisdk.ChatCompletionNewParams, error) {
	messageParams, err := convertMessagesToOpenAI(req.Messages, req.System)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}
	params := openaisdk.ChatCompletionNewParams{
		Messages: messageParams,
		Model:    a.model,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertToolsToOpenAI(req.Tools)
		if err != nil {
			return openaisdk.ChatCompletionNewParams{}, fmt.Errorf("openai: convert tools: %w", err)
		}
		params.Tools = toolParams
	}
	return params, nil
}
