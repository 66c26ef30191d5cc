package local

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/chat"
	"github.com/cexll/assistant-go/pkg/telemetry"
)

// Name identifies the local backend to the router.
const Name = "local"

const (
	defaultMaxTokens = 1024
	// tokenBuffer bounds the channel between the decode worker and the
	// caller's stream callback so a slow consumer throttles decoding
	// instead of growing memory.
	tokenBuffer = 32
)

// Config holds local backend settings.
type Config struct {
	ModelPath   string
	Policy      EvictionPolicy
	ContextSize int
	Threads     int
	MaxTokens   int
	// Runtime overrides the compiled-in inference engine, mainly for tests.
	Runtime Runtime
}

// Backend serves generations from a resident local model.
type Backend struct {
	lifecycle *Lifecycle
	maxTokens int
	logger    zerolog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New builds a local backend. The model is not loaded until the first call.
func New(cfg Config, logger zerolog.Logger) (*Backend, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("local: model path is required")
	}
	rt := cfg.Runtime
	if rt == nil {
		rt = newDefaultRuntime(cfg.ContextSize, cfg.Threads)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	log := logger.With().Str("backend", Name).Logger()
	return &Backend{
		lifecycle: NewLifecycle(rt, cfg.ModelPath, cfg.Policy, log),
		maxTokens: maxTokens,
		logger:    log,
	}, nil
}

// Lifecycle exposes residency state for status reporting.
func (b *Backend) Lifecycle() *Lifecycle { return b.lifecycle }

// Close releases the resident model.
func (b *Backend) Close() { b.lifecycle.Close() }

func (b *Backend) Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name: Name,
		Capabilities: backend.Capabilities{
			SupportsStreaming: true,
			SupportsToolCalls: false,
		},
	}
}

func (b *Backend) Complete(ctx context.Context, req backend.Request) (chat.Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "local.complete")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := b.lifecycle.Acquire(ctx)
	if err != nil {
		return chat.Message{}, backend.Unavailable(Name, err)
	}
	defer release()

	start := time.Now()
	text, err := b.generate(ctx, req, nil)
	if err != nil {
		err = backend.Unavailable(Name, err)
		return chat.Message{}, err
	}
	b.logger.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(text)).Msg("generation complete")
	return chat.Message{Role: chat.RoleAssistant, Content: text, Timestamp: time.Now().UTC()}, nil
}

func (b *Backend) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) error {
	ctx, span := telemetry.StartSpan(ctx, "local.stream")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := b.lifecycle.Acquire(ctx)
	if err != nil {
		return backend.Unavailable(Name, err)
	}
	defer release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	tokens := make(chan string, tokenBuffer)
	done := make(chan outcome, 1)

	// Decode worker. A full tokens channel blocks the send and therefore
	// the underlying predict loop.
	go func() {
		defer close(tokens)
		text, genErr := b.generate(ctx, req, func(tok string) error {
			select {
			case tokens <- tok:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		done <- outcome{text: text, err: genErr}
	}()

	for tok := range tokens {
		if cbErr := fn(backend.TextDelta(tok)); cbErr != nil {
			cancel()
			for range tokens {
			}
			<-done
			err = cbErr
			return err
		}
	}
	out := <-done
	if out.err != nil {
		err = backend.Unavailable(Name, out.err)
		return err
	}
	msg := chat.Message{Role: chat.RoleAssistant, Content: out.text, Timestamp: time.Now().UTC()}
	err = fn(backend.DoneDelta(msg))
	return err
}

func (b *Backend) generate(ctx context.Context, req backend.Request, onToken func(string) error) (string, error) {
	prompt := buildPrompt(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	return b.lifecycle.rt.Generate(ctx, prompt, maxTokens, onToken)
}

// buildPrompt flattens the conversation into a chat-template transcript.
// Attachments are decoded in memory and summarized inline; the text-only
// runtime sees their presence and dimensions rather than pixels.
func buildPrompt(req backend.Request) string {
	var sb strings.Builder
	if req.System != "" {
		sb.WriteString("<|system|>\n")
		sb.WriteString(req.System)
		sb.WriteString("\n")
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleSystem:
			sb.WriteString("<|system|>\n")
		case chat.RoleAssistant:
			sb.WriteString("<|assistant|>\n")
		case chat.RoleTool:
			sb.WriteString("<|tool|>\n")
		default:
			sb.WriteString("<|user|>\n")
		}
		for _, att := range msg.Attachments {
			sb.WriteString(describeAttachment(att))
			sb.WriteString("\n")
		}
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("<|assistant|>\n")
	return sb.String()
}

func describeAttachment(att chat.Attachment) string {
	name := filepath.Base(att.Path)
	if len(att.Data) == 0 {
		return fmt.Sprintf("[image %s]", name)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(att.Data))
	if err != nil {
		return fmt.Sprintf("[image %s, %d bytes]", name, len(att.Data))
	}
	return fmt.Sprintf("[image %s, %s %dx%d]", name, format, cfg.Width, cfg.Height)
}
