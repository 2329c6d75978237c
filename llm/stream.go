package llm

import (
	"context"
	"iter"

	"github.com/google/uuid"

	"github.com/plumehq/plume/provider"
	"github.com/plumehq/plume/runner"
)

// ChunkKind is an alias for provider.ChunkKind for convenience.
type ChunkKind = provider.ChunkKind

// Chunk kind constants.
const (
	ChunkContent   = provider.ChunkContent
	ChunkReasoning = provider.ChunkReasoning
	ChunkDone      = provider.ChunkDone
)

// Stream represents a streaming response from an LLM.
type Stream struct {
	stream provider.ResponseStream
	onDone func(*provider.Response)
	done   bool
	err    error
}

// Chunks returns an iterator over the stream chunks.
// This uses Go 1.23+ range-over-func.
//
// Example:
//
//	stream, err := engine.ContinueStream(ctx, id, "Draft the next section",
//	    llm.WithModel("claude-sonnet-4-5"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for chunk := range stream.Chunks() {
//	    if chunk.Kind == llm.ChunkContent {
//	        fmt.Print(chunk.Text)
//	    }
//	}
func (s *Stream) Chunks() iter.Seq[StreamChunk] {
	return func(yield func(StreamChunk) bool) {
		for s.stream.Next() {
			current := s.stream.Current()
			chunk := StreamChunk{
				Kind:         current.Kind,
				Text:         current.Text,
				FinishReason: FinishReason(current.FinishReason),
			}
			if current.ToolCallDelta != nil {
				chunk.ToolCallDelta = &ToolCallDelta{
					ID:             current.ToolCallDelta.ID,
					Name:           current.ToolCallDelta.Name,
					ArgumentsDelta: current.ToolCallDelta.ArgumentsDelta,
				}
			}
			if current.Kind == ChunkDone && !s.done {
				s.done = true
				if s.onDone != nil {
					s.onDone(s.stream.Accumulated())
				}
			}
			if !yield(chunk) {
				return
			}
		}
		s.err = s.stream.Err()
	}
}

// Err returns any error that occurred during streaming.
func (s *Stream) Err() error {
	return s.err
}

// Close closes the stream and releases resources.
func (s *Stream) Close() error {
	return s.stream.Close()
}

// Response returns the accumulated response after streaming is complete.
// Should be called after iterating through all chunks.
func (s *Stream) Response() Response[string] {
	accumulated := s.stream.Accumulated()
	return newResponse(accumulated, accumulated.Content)
}

// StreamChunk represents a single chunk in a streaming response.
// Reasoning text arrives as ChunkReasoning chunks ahead of the answer;
// the sequence always ends with a single ChunkDone carrying the finish
// reason.
type StreamChunk struct {
	Kind          ChunkKind
	Text          string
	ToolCallDelta *ToolCallDelta
	FinishReason  FinishReason
}

// ToolCallDelta represents incremental tool call data.
type ToolCallDelta struct {
	ID             string
	Name           string
	ArgumentsDelta string
}

// ContinueStream sends the next user message in a conversation and
// streams the reply token by token.
//
// The history is updated only when the done chunk is observed during
// iteration; a stream dropped mid-way leaves the conversation unchanged
// so the turn can be re-issued.
func (e *Engine) ContinueStream(ctx context.Context, id uuid.UUID, message string, opts ...CallOption) (*Stream, error) {
	cfg := newCallConfig(opts...)

	model, p, err := e.prepare(cfg)
	if err != nil {
		return nil, err
	}

	history, err := e.convos.History(id)
	if err != nil {
		return nil, err
	}

	userMsg := cfg.userMessage(message)
	stream, err := e.runner.Stream(ctx, runner.Operation{
		ID:       cfg.operationID,
		Provider: p,
		Request:  cfg.buildRequest(model, append(history, userMsg)),
	})
	if err != nil {
		return nil, err
	}

	return &Stream{
		stream: stream,
		onDone: func(accumulated *provider.Response) {
			_ = e.convos.Append(id, userMsg, assistantMessage(accumulated))
			e.usage.add(model.ID, accumulated.Usage)
		},
	}, nil
}
