package provider

import (
	"encoding/json"
	"strings"
)

// Request represents a provider-agnostic LLM request.
type Request struct {
	Model         string
	Messages      []Message
	Tools         []ToolDef
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	TopK          *int
	Seed          *int
	StopSequences []string
	JSONSchema    *JSONSchema   // For structured output
	Thinking      ThinkingLevel // ThinkingOff unless the caller asked for reasoning
}

// Message represents a single message in the conversation.
// Content is an ordered list of parts so one message can mix text and
// images.
type Message struct {
	Role      Role
	Parts     []Part
	ToolCalls []ToolCall
	ToolID    string // When Role == RoleTool
}

// Text returns the message's text parts joined in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Image == nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Images returns the message's image parts in order.
func (m Message) Images() []Image {
	var images []Image
	for _, p := range m.Parts {
		if p.Image != nil {
			images = append(images, *p.Image)
		}
	}
	return images
}

// Part is one element of message content: text, or an image when Image
// is non-nil.
type Part struct {
	Text  string
	Image *Image
}

// TextPart creates a text content part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart creates an image content part.
func ImagePart(mime string, data []byte) Part {
	return Part{Image: &Image{MIME: mime, Data: data}}
}

// Image is an inline image attachment.
type Image struct {
	MIME string // e.g. "image/png"
	Data []byte
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ThinkingLevel selects how much reasoning effort a model should spend
// before answering. Adapters translate it to their backend's parameter.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = ""
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Response contains the LLM's response.
type Response struct {
	Content      string
	Reasoning    string // intermediate reasoning text, when the model emitted any
	Model        string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON string
}

// ToolDef defines a tool the model can use.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// JSONSchema represents a JSON Schema for structured output.
type JSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ModelInfo describes one model as reported by a backend's listing
// endpoint, including its declared feature flags. Flags come from the
// backend's own metadata or the adapter's curated table, never from
// model-name inspection.
type ModelInfo struct {
	ID            string
	Provider      string
	DisplayName   string
	ContextWindow int
	Vision        bool
	Structured    bool
	Reasoning     bool
	SystemRole    bool
}
