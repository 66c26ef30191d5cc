package openai

import (
	"strings"
	"testing"

	openaisdk "github.com/openai/openai-go"

	"github.com/cexll/assistant-go/pkg/chat"
)

func TestConvertMessagesPrependsSystemPrompt(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleUser, Content: "hi"}}
	params, err := convertMessagesToOpenAI(messages, "be terse")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("params = %d, want 2", len(params))
	}
	if params[0].OfSystem == nil || params[0].OfSystem.Content.OfString.Value != "be terse" {
		t.Errorf("params[0] = %+v", params[0])
	}
	if params[1].OfUser == nil {
		t.Errorf("params[1] = %+v", params[1])
	}
}

func TestUserMessageWithoutImagesStaysString(t *testing.T) {
	params, err := convertMessagesToOpenAI([]chat.Message{{Role: chat.RoleUser, Content: "plain"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	user := params[0].OfUser
	if user == nil || user.Content.OfString.Value != "plain" {
		t.Errorf("user = %+v", user)
	}
	if user.Content.OfArrayOfContentParts != nil {
		t.Error("parts array built for a text-only message")
	}
}

func TestUserMessageWithImageBecomesParts(t *testing.T) {
	msg := chat.Message{
		Role:    chat.RoleUser,
		Content: "what is this?",
		Attachments: []chat.Attachment{
			{Path: "cat.png", MediaType: "image/png", Data: []byte{1, 2, 3}},
			{Path: "unresolved.png"},
		},
	}
	params, err := convertMessagesToOpenAI([]chat.Message{msg}, "")
	if err != nil {
		t.Fatal(err)
	}
	parts := params[0].OfUser.Content.OfArrayOfContentParts
	// Text part plus the one attachment that carries bytes.
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "what is this?" {
		t.Errorf("parts[0] = %+v", parts[0])
	}
	img := parts[1].OfImageURL
	if img == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("parts[1] = %+v", parts[1])
	}
}

func TestAssistantToolCallsSerialized(t *testing.T) {
	msg := chat.Message{
		Role: chat.RoleAssistant,
		ToolCalls: []chat.ToolCall{
			{ID: "call_1", Name: "upscale_image", Arguments: map[string]any{"scale": 2}},
		},
	}
	params, err := convertMessagesToOpenAI([]chat.Message{msg}, "")
	if err != nil {
		t.Fatal(err)
	}
	asst := params[0].OfAssistant
	if asst == nil || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", asst)
	}
	call := asst.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Name != "upscale_image" {
		t.Errorf("call = %+v", call)
	}
	if !strings.Contains(call.Function.Arguments, `"scale":2`) {
		t.Errorf("arguments = %q", call.Function.Arguments)
	}
}

func TestToolMessageRequiresCallID(t *testing.T) {
	_, err := convertMessagesToOpenAI([]chat.Message{{Role: chat.RoleTool, Content: "result"}}, "")
	if err == nil || !strings.Contains(err.Error(), "tool_call_id") {
		t.Fatalf("err = %v, want missing tool_call_id", err)
	}

	params, err := convertMessagesToOpenAI([]chat.Message{
		chat.NewToolResult("call_9", `{"ok":true}`),
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	tool := params[0].OfTool
	if tool == nil || tool.ToolCallID != "call_9" {
		t.Errorf("tool = %+v", tool)
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "convert_image",
			"description": "convert formats",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"format": map[string]any{"type": "string"}},
				"required":   []any{"format"},
			},
		},
	}}
	out, err := convertToolsToOpenAI(tools)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Function.Name != "convert_image" {
		t.Fatalf("out = %+v", out)
	}
	if out[0].Function.Parameters["type"] != "object" {
		t.Errorf("parameters = %+v", out[0].Function.Parameters)
	}

	if _, err := convertToolsToOpenAI([]map[string]any{{"type": "function"}}); err == nil {
		t.Error("tool without function block accepted")
	}
}

func TestConvertMessageFromOpenAI(t *testing.T) {
	msg := openaisdk.ChatCompletionMessage{
		Role:    "assistant",
		Content: "done",
		ToolCalls: []openaisdk.ChatCompletionMessageToolCall{{
			ID: "call_1",
			Function: openaisdk.ChatCompletionMessageToolCallFunction{
				Name:      "upscale_image",
				Arguments: `{"scale":3}`,
			},
		}},
	}
	got, err := convertMessageFromOpenAI(msg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != chat.RoleAssistant || got.Content != "done" {
		t.Errorf("message = %+v", got)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Arguments["scale"] != float64(3) {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
}

func TestConvertMessageFromOpenAIBadArguments(t *testing.T) {
	msg := openaisdk.ChatCompletionMessage{
		Role: "assistant",
		ToolCalls: []openaisdk.ChatCompletionMessageToolCall{{
			ID: "call_1",
			Function: openaisdk.ChatCompletionMessageToolCallFunction{
				Name:      "upscale_image",
				Arguments: `{not json`,
			},
		}},
	}
	if _, err := convertMessageFromOpenAI(msg); err == nil {
		t.Fatal("malformed arguments accepted")
	}
}

func TestEncodeDecodeArguments(t *testing.T) {
	if got := encodeArguments(nil); got != "{}" {
		t.Errorf("encode nil = %q", got)
	}
	args, err := decodeArguments("")
	if err != nil || len(args) != 0 {
		t.Errorf("decode empty = %v, %v", args, err)
	}
}
