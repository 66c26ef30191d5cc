// Package orchestrator drives one conversational turn end to end: compose
// the outbound history, dispatch it to a backend, surface streamed tokens,
// execute any tool calls the model makes, and feed the results back until
// the model produces a final reply.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/backend/router"
	"github.com/cexll/assistant-go/pkg/capability"
	"github.com/cexll/assistant-go/pkg/chat"
	"github.com/cexll/assistant-go/pkg/telemetry"
)

// DefaultMaxToolRounds caps tool-call follow-up passes within one turn. A
// model that keeps requesting tools past the cap gets cut off rather than
// recursing forever.
const DefaultMaxToolRounds = 3

// imagePathArg is the argument name image capabilities take; when the model
// omits it the most recent attachment in the conversation is substituted.
const imagePathArg = "image_path"

const toolLimitNotice = "\n[stopped after repeated tool calls; this reply may be incomplete]"

// Orchestrator runs turns. It holds no per-turn state, so one instance can
// serve concurrent conversations.
type Orchestrator struct {
	router        *router.Router
	registry      *capability.Registry
	system        string
	maxTokens     int
	maxToolRounds int
	logger        zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt sets the instruction block prepended to every turn.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.system = prompt }
}

// WithMaxTokens caps the reply length requested from backends.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithMaxToolRounds overrides the tool-call recursion cap.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxToolRounds = n
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = log }
}

// New wires an orchestrator over a backend router and capability registry.
func New(r *router.Router, reg *capability.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:        r,
		registry:      reg,
		maxToolRounds: DefaultMaxToolRounds,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TurnResult is what one completed (or partially completed) turn produced.
// Messages holds everything to append to the stored conversation, in order:
// assistant tool-call messages, tool results, and the final assistant reply.
type TurnResult struct {
	Messages   []chat.Message
	Text       string
	ToolRounds int
	LimitHit   bool
}

// RunTurn generates the assistant's next reply for conv on the named backend
// (empty selects the active one). Tokens stream to sink as they decode. On
// failure the partial result produced so far is returned alongside the error
// so already-streamed text is not lost.
func (o *Orchestrator) RunTurn(ctx context.Context, conv *chat.Conversation, backendName string, sink TokenSink) (*TurnResult, error) {
	if sink == nil {
		sink = SinkFuncs{}
	}
	result := &TurnResult{}

	ctx, span := telemetry.StartSpan(ctx, "orchestrator.turn")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if err = conv.Validate(); err != nil {
		sink.OnError(err)
		return result, err
	}

	outbound := conv.Snapshot()
	if err = resolveAttachments(outbound); err != nil {
		sink.OnError(err)
		return result, err
	}

	var tools []map[string]any
	for _, def := range o.registry.DescribeAll() {
		tools = append(tools, def.ToolSpec())
	}

	var text strings.Builder
	onText := func(chunk string) {
		if chunk == "" {
			return
		}
		text.WriteString(chunk)
		sink.OnToken(chunk)
	}

	abort := func(cause error) (*TurnResult, error) {
		result.Text = text.String()
		err = cause
		sink.OnError(err)
		return result, err
	}

	for round := 0; ; round++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return abort(ctxErr)
		}
		req := backend.Request{
			Messages:  outbound,
			Tools:     tools,
			System:    o.system,
			MaxTokens: o.maxTokens,
		}
		assembled, calls, dispatchErr := o.dispatch(ctx, backendName, req, onText)
		if dispatchErr != nil {
			return abort(dispatchErr)
		}

		// A context cancelled while deltas were being consumed still lets
		// the stream finish; pending tool execution must not run after it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return abort(ctxErr)
		}

		if len(calls) == 0 {
			final := o.finalMessage(assembled, text.String())
			result.Messages = append(result.Messages, final)
			result.Text = final.Content
			sink.OnDone(final)
			return result, nil
		}

		if round >= o.maxToolRounds {
			o.logger.Warn().Int("rounds", round).Str("conversation", conv.ID).
				Msg("tool-call limit reached, truncating turn")
			onText(toolLimitNotice)
			final := o.finalMessage(nil, text.String())
			result.Messages = append(result.Messages, final)
			result.Text = final.Content
			result.LimitHit = true
			sink.OnDone(final)
			return result, nil
		}

		result.ToolRounds++
		assistant := o.assistantCallMessage(assembled, calls)
		outbound = append(outbound, assistant)
		result.Messages = append(result.Messages, assistant)

		for _, call := range calls {
			toolMsg := o.runCapability(ctx, call, outbound)
			outbound = append(outbound, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
		}
	}
}

// dispatch streams one generation pass and separates its output into text,
// buffered tool calls, and the assembled message.
func (o *Orchestrator) dispatch(ctx context.Context, name string, req backend.Request, onText func(string)) (*chat.Message, []chat.ToolCall, error) {
	var assembled *chat.Message
	var calls []chat.ToolCall
	err := o.router.Stream(ctx, name, req, func(d backend.Delta) error {
		switch d.Type {
		case backend.DeltaText:
			onText(d.Text)
		case backend.DeltaToolCall:
			if d.ToolCall != nil {
				calls = append(calls, *d.ToolCall)
			}
		case backend.DeltaDone:
			assembled = d.Message
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return assembled, calls, nil
}

// finalMessage builds the assistant message persisted for this turn. Content
// is the full accumulated text, which spans every pass of the turn; the
// per-pass assembled message only carries its own slice of it.
func (o *Orchestrator) finalMessage(assembled *chat.Message, text string) chat.Message {
	msg := chat.Message{Role: chat.RoleAssistant, Timestamp: time.Now().UTC()}
	if assembled != nil {
		msg = *assembled
		msg.ToolCalls = nil
	}
	msg.Content = text
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// assistantCallMessage records the model's tool requests in the history so
// tool results have something to correlate with.
func (o *Orchestrator) assistantCallMessage(assembled *chat.Message, calls []chat.ToolCall) chat.Message {
	msg := chat.Message{Role: chat.RoleAssistant, Timestamp: time.Now().UTC()}
	if assembled != nil {
		msg = *assembled
	}
	msg.ToolCalls = append([]chat.ToolCall(nil), calls...)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// runCapability executes one requested call and renders its outcome as a
// tool message. Failures become structured error content rather than turn
// aborts, so the model can see and react to them.
func (o *Orchestrator) runCapability(ctx context.Context, call chat.ToolCall, history []chat.Message) chat.Message {
	args := o.defaultArguments(call, history)
	start := time.Now()
	content := o.registry.InvokeContent(ctx, call.Name, args)
	o.logger.Debug().Str("capability", call.Name).Str("call_id", call.ID).
		Dur("elapsed", time.Since(start)).Msg("capability executed")
	return chat.NewToolResult(call.ID, content)
}

// defaultArguments fills the image-path argument from the most recent
// attachment when the capability expects one and the model left it out.
func (o *Orchestrator) defaultArguments(call chat.ToolCall, history []chat.Message) map[string]any {
	args := maps.Clone(call.Arguments)
	if args == nil {
		args = map[string]any{}
	}
	def, ok := o.registry.Describe(call.Name)
	if !ok || def.Schema == nil {
		return args
	}
	if _, declared := def.Schema.Properties[imagePathArg]; !declared {
		return args
	}
	if path, present := args[imagePathArg].(string); present && path != "" {
		return args
	}
	if att, ok := chat.LastAttachment(history); ok {
		args[imagePathArg] = att.Path
		o.logger.Debug().Str("capability", call.Name).Str("path", att.Path).
			Msg("defaulted image path to latest attachment")
	}
	return args
}

// resolveAttachments loads attachment bytes from disk for any reference the
// caller left unresolved, detecting the media type from the file.
func resolveAttachments(messages []chat.Message) error {
	for i := range messages {
		for j := range messages[i].Attachments {
			att := &messages[i].Attachments[j]
			if len(att.Data) > 0 || att.Path == "" {
				continue
			}
			data, err := os.ReadFile(att.Path)
			if err != nil {
				return fmt.Errorf("orchestrator: read attachment: %w", err)
			}
			att.Data = data
			if att.MediaType == "" {
				att.MediaType = detectMediaType(att.Path, data)
			}
		}
	}
	return nil
}

func detectMediaType(path string, data []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}
