// Package anthropic adapts the official Anthropic SDK to the backend
// contract.
package anthropic

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/chat"
	"github.com/cexll/assistant-go/pkg/telemetry"
)

const (
	// Name is the descriptor name this adapter registers under.
	Name = "anthropic"

	defaultMaxTokens = 4096
)

var _ backend.Backend = (*Adapter)(nil)

// Adapter wraps an Anthropic SDK client. Safe for concurrent calls; the SDK
// client keeps its own connection pool.
type Adapter struct {
	client    *anthropicsdk.Client
	model     anthropicsdk.Model
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
	client := anthropicsdk.NewClient(opts...)
	model := anthropicsdk.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropicsdk.ModelClaudeSonnet4_5_20250929
	}
	return &Adapter{
		client:    &client,
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
	ctx, span := telemetry.StartSpan(ctx, "backend.anthropic.complete",
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
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return chat.Message{}, backend.Unavailable(Name, err)
	}
	return convertMessageFromAnthropic(*message), nil
}

// Stream performs a streaming call, forwarding text deltas as they arrive.
// Tool-call deltas are emitted from the assembled message once the provider
// stream ends, followed by done.
func (a *Adapter) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) (err error) {
	if fn == nil {
		return fmt.Errorf("anthropic: stream callback is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "backend.anthropic.stream",
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

	stream := a.client.Messages.NewStreaming(ctx, params)
	message := anthropicsdk.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return fmt.Errorf("anthropic: accumulate stream: %w", err)
		}
		switch delta := event.AsAny().(type) {
		case anthropicsdk.ContentBlockDeltaEvent:
			switch text := delta.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				if err := fn(backend.TextDelta(text.Text)); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return backend.Unavailable(Name, err)
	}

	final := convertMessageFromAnthropic(message)
	for _, call := range final.ToolCalls {
		if err := fn(backend.ToolCallDelta(call)); err != nil {
			return err
		}
	}
	return fn(backend.DoneDelta(final))
}

func (a *Adapter) buildParams(req backend.Request) (anthropicsdk.MessageNewParams, error) {
	systemBlocks, messageParams := convertMessagesToAnthropic(req.Messages, req.System)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages:  messageParams,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}
	}
	return params, nil
}
