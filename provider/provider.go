// Package provider defines the backend-agnostic request, response, and
// error types, and the interfaces every backend adapter implements.
package provider

import "context"

// Provider is the core abstraction for LLM backends.
// All backend adapters must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Call executes a non-streaming LLM request.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// StreamingProvider extends Provider with streaming capability.
type StreamingProvider interface {
	Provider

	// CallStream executes a streaming LLM request.
	CallStream(ctx context.Context, req *Request) (ResponseStream, error)
}

// ModelLister is implemented by providers that can enumerate their
// available models and the capabilities of each.
type ModelLister interface {
	// Models fetches the backend's model listing.
	Models(ctx context.Context) ([]ModelInfo, error)
}

// ResponseStream represents a streaming response.
type ResponseStream interface {
	// Next advances to the next chunk, returns false when done.
	Next() bool

	// Current returns the current chunk.
	Current() *StreamChunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close releases stream resources.
	Close() error

	// Accumulated returns the full response accumulated so far.
	Accumulated() *Response
}

// ChunkKind identifies what a streaming chunk carries.
type ChunkKind string

const (
	// ChunkContent carries a fragment of the final answer text.
	ChunkContent ChunkKind = "content"
	// ChunkReasoning carries a fragment of intermediate reasoning text.
	ChunkReasoning ChunkKind = "reasoning"
	// ChunkDone is the terminal marker; it carries the finish reason and
	// no text. It is emitted exactly once, as the last chunk.
	ChunkDone ChunkKind = "done"
)

// StreamChunk represents a single streaming chunk. The sequence is
// ordered and finite; a dropped stream is re-issued from the last applied
// conversation state, never resumed mid-stream.
type StreamChunk struct {
	Kind          ChunkKind
	Text          string
	ToolCallDelta *ToolCallDelta
	FinishReason  FinishReason // set on the done chunk
}

// ToolCallDelta represents incremental tool call data in streaming.
type ToolCallDelta struct {
	ID             string
	Name           string
	ArgumentsDelta string
}
