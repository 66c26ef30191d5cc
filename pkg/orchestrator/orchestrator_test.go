package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/backend/router"
	"github.com/cexll/assistant-go/pkg/capability"
	"github.com/cexll/assistant-go/pkg/chat"
)

// scriptedBackend replays one canned pass per dispatch.
type pass struct {
	text  string
	calls []chat.ToolCall
	err   error
}

type scriptedBackend struct {
	name     string
	passes   []pass
	requests []backend.Request
}

func (s *scriptedBackend) Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:         s.name,
		Capabilities: backend.Capabilities{SupportsStreaming: true, SupportsToolCalls: true},
	}
}

func (s *scriptedBackend) next(req backend.Request) pass {
	s.requests = append(s.requests, req)
	if len(s.passes) == 0 {
		return pass{text: "(exhausted)"}
	}
	p := s.passes[0]
	if len(s.passes) > 1 {
		s.passes = s.passes[1:]
	}
	return p
}

func (s *scriptedBackend) Complete(ctx context.Context, req backend.Request) (chat.Message, error) {
	p := s.next(req)
	if p.err != nil {
		return chat.Message{}, p.err
	}
	return chat.Message{Role: chat.RoleAssistant, Content: p.text, ToolCalls: p.calls}, nil
}

func (s *scriptedBackend) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) error {
	p := s.next(req)
	for _, chunk := range splitChunks(p.text) {
		if err := fn(backend.TextDelta(chunk)); err != nil {
			return err
		}
	}
	if p.err != nil {
		return p.err
	}
	for _, call := range p.calls {
		if err := fn(backend.ToolCallDelta(call)); err != nil {
			return err
		}
	}
	msg := chat.Message{Role: chat.RoleAssistant, Content: p.text, ToolCalls: p.calls}
	return fn(backend.DoneDelta(msg))
}

func splitChunks(text string) []string {
	if text == "" {
		return nil
	}
	const n = 5
	var out []string
	for len(text) > n {
		out = append(out, text[:n])
		text = text[n:]
	}
	return append(out, text)
}

func newHarness(t *testing.T, b backend.Backend, reg *capability.Registry, opts ...Option) *Orchestrator {
	t.Helper()
	r := router.New()
	if err := r.Register(b); err != nil {
		t.Fatalf("register backend: %v", err)
	}
	if reg == nil {
		reg = capability.NewRegistry()
	}
	return New(r, reg, opts...)
}

func userConversation(texts ...string) *chat.Conversation {
	conv := chat.NewConversation("test")
	for _, text := range texts {
		conv.Append(chat.Message{Role: chat.RoleUser, Content: text})
	}
	return conv
}

type recordingSink struct {
	tokens []string
	done   *chat.Message
	errs   []error
}

func (r *recordingSink) OnToken(text string) { r.tokens = append(r.tokens, text) }

func (r *recordingSink) OnDone(msg chat.Message) { r.done = &msg }

func (r *recordingSink) OnError(err error) { r.errs = append(r.errs, err) }

func TestPlainTurnStreamsAndFinalizes(t *testing.T) {
	b := &scriptedBackend{name: "stub", passes: []pass{{text: "hello there"}}}
	o := newHarness(t, b, nil)

	sink := &recordingSink{}
	result, err := o.RunTurn(context.Background(), userConversation("hi"), "", sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got := strings.Join(sink.tokens, ""); got != "hello there" {
		t.Errorf("streamed text = %q, want %q", got, "hello there")
	}
	if sink.done == nil || sink.done.Content != "hello there" {
		t.Errorf("done message = %+v", sink.done)
	}
	if len(result.Messages) != 1 || result.Messages[0].Role != chat.RoleAssistant {
		t.Errorf("result messages = %+v", result.Messages)
	}
	if result.Text != "hello there" {
		t.Errorf("result text = %q", result.Text)
	}
}

func TestToolCallsExecuteBeforeFollowUp(t *testing.T) {
	reg := capability.NewRegistry()
	var invoked []string
	def := capability.Definition{Name: "lookup", Schema: &capability.JSONSchema{Type: "object"}}
	err := reg.Register(def, func(_ context.Context, args map[string]any) (string, error) {
		invoked = append(invoked, fmt.Sprint(args["q"]))
		return `{"answer":42}`, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	calls := []chat.ToolCall{
		{ID: "call_1", Name: "lookup", Arguments: map[string]any{"q": "a"}},
		{ID: "call_2", Name: "lookup", Arguments: map[string]any{"q": "b"}},
	}
	b := &scriptedBackend{name: "stub", passes: []pass{
		{text: "let me check", calls: calls},
		{text: "the answer is 42"},
	}}
	o := newHarness(t, b, reg)

	result, err := o.RunTurn(context.Background(), userConversation("q"), "", SinkFuncs{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if len(invoked) != 2 {
		t.Fatalf("invocations = %v, want 2", invoked)
	}
	// assistant(with calls), tool, tool, assistant(final)
	if len(result.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(result.Messages))
	}
	if got := result.Messages[0].ToolCalls; len(got) != 2 {
		t.Errorf("assistant tool calls = %d, want 2", len(got))
	}
	for i, wantID := range []string{"call_1", "call_2"} {
		msg := result.Messages[1+i]
		if msg.Role != chat.RoleTool || msg.ToolCallID != wantID {
			t.Errorf("tool message %d = role %s id %s, want tool/%s", i, msg.Role, msg.ToolCallID, wantID)
		}
	}
	if result.ToolRounds != 1 {
		t.Errorf("tool rounds = %d, want 1", result.ToolRounds)
	}

	// The follow-up dispatch must have seen the tool results.
	if len(b.requests) != 2 {
		t.Fatalf("dispatches = %d, want 2", len(b.requests))
	}
	followUp := b.requests[1].Messages
	var toolEchoes int
	for _, msg := range followUp {
		if msg.Role == chat.RoleTool {
			toolEchoes++
		}
	}
	if toolEchoes != 2 {
		t.Errorf("follow-up carried %d tool messages, want 2", toolEchoes)
	}
}

func TestToolRecursionBound(t *testing.T) {
	reg := capability.NewRegistry()
	err := reg.Register(capability.Definition{Name: "loop"}, func(context.Context, map[string]any) (string, error) {
		return "again", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A single greedy pass replayed forever.
	b := &scriptedBackend{name: "stub", passes: []pass{
		{text: "one more", calls: []chat.ToolCall{{ID: "c", Name: "loop"}}},
	}}
	o := newHarness(t, b, reg, WithMaxToolRounds(2))

	result, err := o.RunTurn(context.Background(), userConversation("go"), "", SinkFuncs{})
	if err != nil {
		t.Fatalf("RunTurn returned error, want recovered truncation: %v", err)
	}
	if !result.LimitHit {
		t.Error("LimitHit = false, want true")
	}
	if result.ToolRounds != 2 {
		t.Errorf("tool rounds = %d, want 2", result.ToolRounds)
	}
	if !strings.Contains(result.Text, "incomplete") {
		t.Errorf("final text lacks truncation notice: %q", result.Text)
	}
	final := result.Messages[len(result.Messages)-1]
	if final.Role != chat.RoleAssistant || len(final.ToolCalls) != 0 {
		t.Errorf("final message = %+v", final)
	}
}

func TestMissingImagePathDefaultsToLatestAttachment(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(imgPath, pngBytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := capability.NewRegistry()
	var gotPath string
	def := capability.Definition{
		Name: "upscale_image",
		Schema: &capability.JSONSchema{
			Type:       "object",
			Properties: map[string]any{"image_path": map[string]any{"type": "string"}},
		},
	}
	err := reg.Register(def, func(_ context.Context, args map[string]any) (string, error) {
		gotPath, _ = args["image_path"].(string)
		return `{"ok":true}`, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	b := &scriptedBackend{name: "stub", passes: []pass{
		{calls: []chat.ToolCall{{ID: "c1", Name: "upscale_image"}}},
		{text: "done"},
	}}
	o := newHarness(t, b, reg)

	conv := chat.NewConversation("imaging")
	conv.Append(chat.Message{
		Role:        chat.RoleUser,
		Content:     "upscale this",
		Attachments: []chat.Attachment{{Path: imgPath}},
	})

	if _, err := o.RunTurn(context.Background(), conv, "", SinkFuncs{}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if gotPath != imgPath {
		t.Errorf("capability received path %q, want %q", gotPath, imgPath)
	}
}

func TestCapabilityFailureDegradesToErrorContent(t *testing.T) {
	reg := capability.NewRegistry()
	err := reg.Register(capability.Definition{Name: "flaky"}, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend storage offline")
	})
	if err != nil {
		t.Fatal(err)
	}

	b := &scriptedBackend{name: "stub", passes: []pass{
		{calls: []chat.ToolCall{{ID: "c1", Name: "flaky"}}},
		{text: "sorry, that failed"},
	}}
	o := newHarness(t, b, reg)

	result, err := o.RunTurn(context.Background(), userConversation("try"), "", SinkFuncs{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	toolMsg := result.Messages[1]
	var payload map[string]string
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("tool content is not JSON: %q", toolMsg.Content)
	}
	if payload["error"] == "" {
		t.Errorf("tool content = %q, want error payload", toolMsg.Content)
	}
}

func TestUnknownBackendFailsFast(t *testing.T) {
	b := &scriptedBackend{name: "stub", passes: []pass{{text: "x"}}}
	o := newHarness(t, b, nil)

	sink := &recordingSink{}
	_, err := o.RunTurn(context.Background(), userConversation("hi"), "missing", sink)
	if !errors.Is(err, backend.ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
	if len(sink.errs) != 1 {
		t.Errorf("sink errors = %d, want 1", len(sink.errs))
	}
}

func TestDispatchFailurePreservesPartialText(t *testing.T) {
	b := &scriptedBackend{name: "stub", passes: []pass{
		{text: "partial answer", err: backend.Unavailable("stub", errors.New("boom"))},
	}}
	o := newHarness(t, b, nil)

	sink := &recordingSink{}
	result, err := o.RunTurn(context.Background(), userConversation("hi"), "", sink)
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if result.Text != "partial answer" {
		t.Errorf("partial text = %q, want %q", result.Text, "partial answer")
	}
	if sink.done != nil {
		t.Error("sink saw done on a failed turn")
	}
}

// cancellingBackend cancels the turn's context before replaying its script,
// mimicking a caller that gives up while deltas are still arriving.
type cancellingBackend struct {
	*scriptedBackend
	cancel context.CancelFunc
}

func (c *cancellingBackend) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) error {
	c.cancel()
	return c.scriptedBackend.Stream(ctx, req, fn)
}

func TestCancelledTurnSkipsPendingToolCalls(t *testing.T) {
	reg := capability.NewRegistry()
	var invocations int
	err := reg.Register(capability.Definition{Name: "side_effect"}, func(context.Context, map[string]any) (string, error) {
		invocations++
		return `{"ok":true}`, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := &cancellingBackend{
		scriptedBackend: &scriptedBackend{name: "stub", passes: []pass{
			{text: "working on it", calls: []chat.ToolCall{{ID: "c1", Name: "side_effect"}}},
		}},
		cancel: cancel,
	}
	o := newHarness(t, b, reg)

	sink := &recordingSink{}
	result, err := o.RunTurn(ctx, userConversation("go"), "", sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if invocations != 0 {
		t.Errorf("capability ran %d times after cancellation, want 0", invocations)
	}
	if len(b.requests) != 1 {
		t.Errorf("dispatches = %d, want 1 (no follow-up rounds)", len(b.requests))
	}
	if result.Text != "working on it" {
		t.Errorf("partial text = %q, want %q", result.Text, "working on it")
	}
	if sink.done != nil {
		t.Error("sink saw done on a cancelled turn")
	}
}

func TestTurnRejectsAssistantTerminal(t *testing.T) {
	b := &scriptedBackend{name: "stub"}
	o := newHarness(t, b, nil)

	conv := chat.NewConversation("bad")
	conv.Append(chat.Message{Role: chat.RoleUser, Content: "hi"})
	conv.Append(chat.Message{Role: chat.RoleAssistant, Content: "hello"})

	_, err := o.RunTurn(context.Background(), conv, "", SinkFuncs{})
	if !errors.Is(err, chat.ErrBadTerminalRole) {
		t.Fatalf("err = %v, want ErrBadTerminalRole", err)
	}
	if len(b.requests) != 0 {
		t.Error("backend was dispatched despite invalid history")
	}
}

// pngBytes renders a tiny valid PNG.
func pngBytes() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53,
		0xde, 0x00, 0x00, 0x00, 0x0c, 'I', 'D', 'A', 'T',
		0x08, 0xd7, 0x63, 0xf8, 0xcf, 0xc0, 0x00, 0x00,
		0x00, 0x03, 0x00, 0x01, 0x73, 0x75, 0x01, 0x18,
		0x00, 0x00, 0x00, 0x00, 'I', 'E', 'N', 'D',
		0xae, 0x42, 0x60, 0x82,
	}
}
