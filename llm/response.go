package llm

import (
	"github.com/plumehq/plume/provider"
)

// Response wraps the provider response with type-safe parsed content.
// T is the type of structured output expected from the LLM; plain text
// operations use Response[string], where Parsed returns the same text
// as Text.
type Response[T any] struct {
	raw    *provider.Response
	parsed T
}

// Text returns the raw text content of the response.
func (r Response[T]) Text() string {
	if r.raw == nil {
		return ""
	}
	return r.raw.Content
}

// Reasoning returns the model's intermediate reasoning text, when the
// call asked for thinking and the backend reported any.
func (r Response[T]) Reasoning() string {
	if r.raw == nil {
		return ""
	}
	return r.raw.Reasoning
}

// Parsed returns the structured output with compile-time type safety.
func (r Response[T]) Parsed() T {
	return r.parsed
}

// Model returns the model id that served the call, as reported by the
// backend.
func (r Response[T]) Model() string {
	if r.raw == nil {
		return ""
	}
	return r.raw.Model
}

// HasToolCalls returns true if the response contains tool calls.
func (r Response[T]) HasToolCalls() bool {
	return r.raw != nil && len(r.raw.ToolCalls) > 0
}

// ToolCalls returns any tool calls made by the model.
func (r Response[T]) ToolCalls() []ToolCall {
	if r.raw == nil {
		return nil
	}
	calls := make([]ToolCall, len(r.raw.ToolCalls))
	for i, tc := range r.raw.ToolCalls {
		calls[i] = ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		}
	}
	return calls
}

// Usage returns token usage statistics.
func (r Response[T]) Usage() Usage {
	if r.raw == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     r.raw.Usage.PromptTokens,
		CompletionTokens: r.raw.Usage.CompletionTokens,
		TotalTokens:      r.raw.Usage.TotalTokens,
	}
}

// FinishReason returns why the model stopped generating.
func (r Response[T]) FinishReason() FinishReason {
	if r.raw == nil {
		return ""
	}
	return FinishReason(r.raw.FinishReason)
}

// Raw returns the underlying provider response.
// This can be useful for debugging or accessing provider-specific data.
func (r Response[T]) Raw() *provider.Response {
	return r.raw
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON string
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
)

// newResponse creates a Response holding the raw provider response and
// its parsed form.
func newResponse[T any](raw *provider.Response, parsed T) Response[T] {
	return Response[T]{
		raw:    raw,
		parsed: parsed,
	}
}
