package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	"github.com/cexll/assistant-go/pkg/chat"
)

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

func convertMessagesToOpenAI(messages []chat.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	params := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		params = append(params, buildSystemMessage(systemPrompt))
	}
	for idx, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			params = append(params, buildSystemMessage(msg.Content))
		case chat.RoleUser:
			params = append(params, buildUserMessage(msg))
		case chat.RoleAssistant:
			union, err := buildAssistantMessage(msg)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", idx, err)
			}
			params = append(params, union)
		case chat.RoleTool:
			union, err := buildToolMessage(msg)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", idx, err)
			}
			params = append(params, union)
		default:
			params = append(params, buildUserMessage(msg))
		}
	}
	if len(params) == 0 {
		params = append(params, buildUserMessage(chat.Message{Role: chat.RoleUser}))
	}
	return params, nil
}

func buildSystemMessage(content string) openaisdk.ChatCompletionMessageParamUnion {
	msg := openaisdk.ChatCompletionSystemMessageParam{}
	msg.Content.OfString = openaisdk.String(content)
	return openaisdk.ChatCompletionMessageParamUnion{OfSystem: &msg}
}

func buildUserMessage(m chat.Message) openaisdk.ChatCompletionMessageParamUnion {
	msg := openaisdk.ChatCompletionUserMessageParam{}
	withData := 0
	for _, att := range m.Attachments {
		if len(att.Data) > 0 {
			withData++
		}
	}
	if withData == 0 {
		msg.Content.OfString = openaisdk.String(m.Content)
		return openaisdk.ChatCompletionMessageParamUnion{OfUser: &msg}
	}

	parts := make([]openaisdk.ChatCompletionContentPartUnionParam, 0, withData+1)
	if m.Content != "" {
		parts = append(parts, openaisdk.ChatCompletionContentPartUnionParam{
			OfText: &openaisdk.ChatCompletionContentPartTextParam{Text: m.Content},
		})
	}
	for _, att := range m.Attachments {
		if len(att.Data) == 0 {
			continue
		}
		parts = append(parts, openaisdk.ChatCompletionContentPartUnionParam{
			OfImageURL: &openaisdk.ChatCompletionContentPartImageParam{
				ImageURL: openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(att),
				},
			},
		})
	}
	msg.Content.OfArrayOfContentParts = parts
	return openaisdk.ChatCompletionMessageParamUnion{OfUser: &msg}
}

// dataURL inlines attachment bytes the way this API expects images.
func dataURL(att chat.Attachment) string {
	mediaType := att.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
}

func buildAssistantMessage(msg chat.Message) (openaisdk.ChatCompletionMessageParamUnion, error) {
	asst := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		asst.Content.OfString = openaisdk.String(msg.Content)
	}
	if len(msg.ToolCalls) > 0 {
		calls, err := convertToolCallsToOpenAI(msg.ToolCalls)
		if err != nil {
			return openaisdk.ChatCompletionMessageParamUnion{}, err
		}
		asst.ToolCalls = calls
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
}

func buildToolMessage(msg chat.Message) (openaisdk.ChatCompletionMessageParamUnion, error) {
	id := strings.TrimSpace(msg.ToolCallID)
	if id == "" {
		return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool message missing tool_call_id")
	}
	return openaisdk.ToolMessage(msg.Content, id), nil
}

func convertToolCallsToOpenAI(calls []chat.ToolCall) ([]openaisdk.ChatCompletionMessageToolCallParam, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(calls))
	for idx, call := range calls {
		name := strings.TrimSpace(call.Name)
		if name == "" {
			return nil, fmt.Errorf("tool_calls[%d]: missing name", idx)
		}
		out = append(out, openaisdk.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      name,
				Arguments: encodeArguments(call.Arguments),
			},
		})
	}
	return out, nil
}

func convertToolsToOpenAI(tools []map[string]any) ([]openaisdk.ChatCompletionToolParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for idx, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok || len(fn) == 0 {
			return nil, fmt.Errorf("tools[%d]: missing function definition", idx)
		}
		name, _ := fn["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("tools[%d]: missing function name", idx)
		}
		def := openaisdk.FunctionDefinitionParam{Name: name}
		if desc, _ := fn["description"].(string); strings.TrimSpace(desc) != "" {
			def.Description = openaisdk.String(desc)
		}
		if paramsVal, ok := fn["parameters"].(map[string]any); ok && len(paramsVal) > 0 {
			def.Parameters = openaisdk.FunctionParameters(paramsVal)
		}
		out = append(out, openaisdk.ChatCompletionToolParam{Function: def})
	}
	return out, nil
}

func convertMessageFromOpenAI(msg openaisdk.ChatCompletionMessage) (chat.Message, error) {
	role := strings.TrimSpace(string(msg.Role))
	if role == "" {
		role = string(chat.RoleAssistant)
	}
	content := msg.Content
	if content == "" && strings.TrimSpace(msg.Refusal) != "" {
		content = msg.Refusal
	}
	result := chat.Message{Role: chat.Role(role), Content: content}

	if len(msg.ToolCalls) > 0 {
		calls := make([]chat.ToolCall, 0, len(msg.ToolCalls))
		for idx, call := range msg.ToolCalls {
			name := strings.TrimSpace(call.Function.Name)
			if name == "" {
				return chat.Message{}, fmt.Errorf("tool_calls[%d]: missing function name", idx)
			}
			args, err := decodeArguments(call.Function.Arguments)
			if err != nil {
				return chat.Message{}, fmt.Errorf("tool_calls[%d]: %w", idx, err)
			}
			calls = append(calls, chat.ToolCall{ID: call.ID, Name: name, Arguments: args})
		}
		result.ToolCalls = calls
	}
	return result, nil
}
