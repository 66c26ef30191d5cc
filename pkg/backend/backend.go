// Package backend defines the uniform surface every language-model provider
// is wrapped behind: a unary Complete call and a Delta-streaming Stream call.
package backend

import (
	"context"

	"github.com/cexll/assistant-go/pkg/chat"
)

// Capabilities declares what operations an adapter actually supports. The
// flags are set once at registration and checked instead of probing.
type Capabilities struct {
	SupportsStreaming bool `json:"supports_streaming"`
	SupportsToolCalls bool `json:"supports_tool_calls"`
}

// Descriptor identifies a registered adapter.
type Descriptor struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Request carries one outbound generation call. Messages are a snapshot; the
// adapter must not retain or mutate them past the call.
type Request struct {
	Messages []chat.Message
	// Tools holds function-tool declarations in wire shape, empty when the
	// registry has nothing to advertise or the adapter lacks tool support.
	Tools []map[string]any
	// System is prepended provider-side when non-empty.
	System    string
	MaxTokens int
}

// DeltaType discriminates incremental stream units.
type DeltaType string

const (
	// DeltaText carries an incremental text chunk.
	DeltaText DeltaType = "text"
	// DeltaToolCall carries one tool invocation request.
	DeltaToolCall DeltaType = "tool_call"
	// DeltaDone terminates the stream and carries the assembled message.
	DeltaDone DeltaType = "done"
)

// Delta is one incremental unit of a streamed response.
type Delta struct {
	Type     DeltaType
	Text     string
	ToolCall *chat.ToolCall
	// Message is the fully assembled assistant message, set on DeltaDone.
	Message *chat.Message
}

// StreamFunc consumes Deltas in producer order. Returning an error stops the
// stream; the adapter propagates it to the Stream caller.
type StreamFunc func(Delta) error

// Backend is the uniform wrapper over one provider's transport.
type Backend interface {
	Descriptor() Descriptor
	Complete(ctx context.Context, req Request) (chat.Message, error)
	Stream(ctx context.Context, req Request, fn StreamFunc) error
}

// TextDelta is a convenience constructor.
func TextDelta(text string) Delta { return Delta{Type: DeltaText, Text: text} }

// ToolCallDelta is a convenience constructor.
func ToolCallDelta(call chat.ToolCall) Delta {
	return Delta{Type: DeltaToolCall, ToolCall: &call}
}

// DoneDelta is a convenience constructor.
func DoneDelta(msg chat.Message) Delta { return Delta{Type: DeltaDone, Message: &msg} }
