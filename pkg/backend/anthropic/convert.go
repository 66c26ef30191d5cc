package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/cexll/assistant-go/pkg/chat"
)

func convertMessagesToAnthropic(messages []chat.Message, systemPrompt string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var systemBlocks []anthropicsdk.TextBlockParam
	if trimmed := strings.TrimSpace(systemPrompt); trimmed != "" {
		systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: systemPrompt})
	}

	messageParams := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: msg.Content})
			}
			continue
		}

		contentBlocks := buildContentBlocks(msg)
		if len(contentBlocks) == 0 {
			contentBlocks = []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")}
		}
		messageParams = append(messageParams, anthropicsdk.MessageParam{
			Role:    normalizeRole(msg.Role),
			Content: contentBlocks,
		})
	}

	if len(messageParams) == 0 {
		messageParams = append(messageParams, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock("")},
		})
	}
	return systemBlocks, messageParams
}

func buildContentBlocks(msg chat.Message) []anthropicsdk.ContentBlockParamUnion {
	switch msg.Role {
	case chat.RoleTool:
		if block, ok := buildToolResultBlock(msg); ok {
			return []anthropicsdk.ContentBlockParamUnion{block}
		}
	case chat.RoleAssistant:
		return buildAssistantBlocks(msg)
	}

	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, att := range msg.Attachments {
		if len(att.Data) == 0 {
			continue
		}
		mediaType := att.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		blocks = append(blocks, anthropicsdk.NewImageBlockBase64(mediaType, encoded))
	}
	if len(blocks) == 0 {
		// The API rejects empty content, use a placeholder.
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func buildAssistantBlocks(msg chat.Message) []anthropicsdk.ContentBlockParamUnion {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Name)
		id := strings.TrimSpace(call.ID)
		if name == "" || id == "" {
			continue
		}
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(id, args, name))
	}
	return blocks
}

func buildToolResultBlock(msg chat.Message) (anthropicsdk.ContentBlockParamUnion, bool) {
	id := strings.TrimSpace(msg.ToolCallID)
	if id == "" {
		return anthropicsdk.ContentBlockParamUnion{}, false
	}
	resultBlock := anthropicsdk.ToolResultBlockParam{
		ToolUseID: id,
		Content: []anthropicsdk.ToolResultBlockParamContentUnion{
			{OfText: &anthropicsdk.TextBlockParam{Text: msg.Content}},
		},
	}
	if detectToolError(msg.Content) {
		resultBlock.IsError = anthropicsdk.Bool(true)
	}
	return anthropicsdk.ContentBlockParamUnion{OfToolResult: &resultBlock}, true
}

// detectToolError recognises the {"error": ...} payload produced when a
// capability fails, so the provider sees the result flagged as an error.
func detectToolError(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return false
	}
	errVal, ok := payload["error"]
	if !ok {
		return false
	}
	switch v := errVal.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	default:
		return v != nil
	}
}

func convertToolsToAnthropic(tools []map[string]any) ([]anthropicsdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	toolParams := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		funcDef, ok := def["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := funcDef["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		inputSchema, err := convertToolParameters(funcDef["parameters"])
		if err != nil {
			return nil, fmt.Errorf("convert parameters for %s: %w", name, err)
		}
		tool := anthropicsdk.ToolParam{
			Name:        name,
			InputSchema: inputSchema,
		}
		if desc, _ := funcDef["description"].(string); strings.TrimSpace(desc) != "" {
			tool.Description = anthropicsdk.String(desc)
		}
		toolParams = append(toolParams, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return toolParams, nil
}

func convertToolParameters(raw any) (anthropicsdk.ToolInputSchemaParam, error) {
	params, _ := raw.(map[string]any)
	if len(params) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("marshal schema: %w", err)
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, fmt.Errorf("unmarshal schema: %w", err)
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertMessageFromAnthropic(msg anthropicsdk.Message) chat.Message {
	result := chat.Message{Role: chat.Role(msg.Role)}

	var textParts []string
	var toolCalls []chat.ToolCall
	for _, block := range msg.Content {
		switch content := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			textParts = append(textParts, content.Text)
		case anthropicsdk.ToolUseBlock:
			toolCalls = append(toolCalls, chat.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: decodeToolInput(content.Input),
			})
		}
	}
	result.Content = strings.Join(textParts, "\n")
	result.ToolCalls = toolCalls
	if strings.TrimSpace(string(result.Role)) == "" {
		result.Role = chat.RoleAssistant
	}
	return result
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	switch typed := value.(type) {
	case map[string]any:
		return typed
	default:
		return map[string]any{"value": typed}
	}
}

func normalizeRole(role chat.Role) anthropicsdk.MessageParamRole {
	switch role {
	case chat.RoleAssistant:
		return anthropicsdk.MessageParamRoleAssistant
	default:
		// Tool results travel as user-role messages on this API.
		return anthropicsdk.MessageParamRoleUser
	}
}
