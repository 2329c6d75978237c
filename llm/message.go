package llm

import "github.com/plumehq/plume/provider"

// Message is an alias for provider.Message for convenience.
type Message = provider.Message

// Role is an alias for provider.Role for convenience.
type Role = provider.Role

// Role constants.
const (
	RoleSystem    = provider.RoleSystem
	RoleUser      = provider.RoleUser
	RoleAssistant = provider.RoleAssistant
	RoleTool      = provider.RoleTool
)

// SystemMessage creates a system message.
func SystemMessage(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []provider.Part{provider.TextPart(text)},
	}
}

// UserMessage creates a user message with text content.
func UserMessage(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []provider.Part{provider.TextPart(text)},
	}
}

// UserMessageWithImages creates a user message carrying text followed
// by inline images.
func UserMessageWithImages(text string, images ...provider.Image) Message {
	parts := make([]provider.Part, 0, 1+len(images))
	if text != "" {
		parts = append(parts, provider.TextPart(text))
	}
	for _, img := range images {
		parts = append(parts, provider.ImagePart(img.MIME, img.Data))
	}
	return Message{
		Role:  RoleUser,
		Parts: parts,
	}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []provider.Part{provider.TextPart(text)},
	}
}

// AssistantMessageWithToolCalls creates an assistant message with tool calls.
func AssistantMessageWithToolCalls(text string, toolCalls []ToolCall) Message {
	providerToolCalls := make([]provider.ToolCall, len(toolCalls))
	for i, tc := range toolCalls {
		providerToolCalls[i] = provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		}
	}
	msg := Message{
		Role:      RoleAssistant,
		ToolCalls: providerToolCalls,
	}
	if text != "" {
		msg.Parts = []provider.Part{provider.TextPart(text)}
	}
	return msg
}

// ToolMessage creates a tool result message.
func ToolMessage(toolCallID, content string) Message {
	return Message{
		Role:   RoleTool,
		Parts:  []provider.Part{provider.TextPart(content)},
		ToolID: toolCallID,
	}
}
