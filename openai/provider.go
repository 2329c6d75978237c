// Package openai adapts the OpenAI Chat Completions API to the
// backend-agnostic provider interfaces.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/plumehq/plume/provider"
	"github.com/plumehq/plume/schema"
)

const providerName = "openai"

// Provider implements the OpenAI API.
type Provider struct {
	client *client
}

// Option configures the OpenAI provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// New creates a new OpenAI provider. The API key comes from WithAPIKey
// or the OPENAI_API_KEY environment variable.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.Error{
			Kind:     provider.KindAuthFailed,
			Provider: providerName,
			Message:  "API key required: set OPENAI_API_KEY or use WithAPIKey",
		}
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiReq := p.buildRequest(req)

	apiResp, err := p.client.chatCompletion(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return p.convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	apiReq := p.buildRequest(req)

	stream, err := p.client.chatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return &openaiStream{
		reader:      stream,
		accumulated: &provider.Response{},
		toolCalls:   make(map[int]*provider.ToolCall),
	}, nil
}

// Models implements provider.ModelLister. Only models present in the
// curated capability table are reported; unknown IDs are excluded so
// the engine never routes to a model whose features are unverified.
func (p *Provider) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	resp, err := p.client.listModels(ctx)
	if err != nil {
		return nil, err
	}

	var infos []provider.ModelInfo
	for _, entry := range resp.Data {
		meta, ok := knownModels[entry.ID]
		if !ok {
			continue
		}
		infos = append(infos, meta.info(entry.ID))
	}
	return infos, nil
}

// buildRequest converts a provider.Request to an OpenAI API request.
func (p *Provider) buildRequest(req *provider.Request) *chatCompletionRequest {
	apiReq := &chatCompletionRequest{
		Model:           req.Model,
		Messages:        make([]message, 0, len(req.Messages)),
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		TopP:            req.TopP,
		Seed:            req.Seed,
		Stop:            req.StopSequences,
		ReasoningEffort: string(req.Thinking),
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, convertMessage(msg))
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if req.JSONSchema != nil {
		s := req.JSONSchema.Schema
		if req.JSONSchema.Strict {
			s = schema.Strict(s)
		}
		apiReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   req.JSONSchema.Name,
				Strict: req.JSONSchema.Strict,
				Schema: s,
			},
		}
	}

	return apiReq
}

// convertMessage maps an agnostic message onto the wire format. A
// text-only message keeps string content; a message with images becomes
// a content-part array with images inlined as base64 data URLs.
func convertMessage(msg provider.Message) message {
	apiMsg := message{Role: string(msg.Role)}

	if len(msg.Images()) == 0 {
		if text := msg.Text(); text != "" {
			apiMsg.Content = text
		}
	} else {
		parts := make([]contentPart, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if part.Image != nil {
				parts = append(parts, contentPart{
					Type:     "image_url",
					ImageURL: &imageURL{URL: dataURL(part.Image)},
				})
				continue
			}
			if part.Text != "" {
				parts = append(parts, contentPart{Type: "text", Text: part.Text})
			}
		}
		apiMsg.Content = parts
	}

	if msg.ToolID != "" {
		apiMsg.ToolCallID = msg.ToolID
	}

	if len(msg.ToolCalls) > 0 {
		apiMsg.ToolCalls = make([]toolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			apiMsg.ToolCalls[i] = toolCall{
				ID:   tc.ID,
				Type: "function",
				Function: functionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			}
		}
	}

	return apiMsg
}

func dataURL(img *provider.Image) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
}

// convertResponse converts an OpenAI API response to a provider.Response.
func (p *Provider) convertResponse(resp *chatCompletionResponse) *provider.Response {
	if len(resp.Choices) == 0 {
		return &provider.Response{Model: resp.Model}
	}

	choice := resp.Choices[0]
	result := &provider.Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		Model:        resp.Model,
		FinishReason: convertFinishReason(choice.FinishReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result
}

// convertFinishReason converts an OpenAI finish reason to a provider.FinishReason.
func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls":
		return provider.FinishReasonToolCalls
	case "length":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

// openaiStream implements provider.ResponseStream for OpenAI.
type openaiStream struct {
	reader      *streamReader
	accumulated *provider.Response
	err         error
	current     *provider.StreamChunk
	finish      provider.FinishReason
	done        bool
	toolCalls   map[int]*provider.ToolCall // track tool calls by index
}

func (s *openaiStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		chunk, err := s.reader.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finalize()
				return true
			}
			s.err = err
			return false
		}

		if cur, ok := s.apply(chunk); ok {
			s.current = cur
			return true
		}
		// Chunk carried no content (role prelude, usage only); keep
		// reading.
	}
}

// apply folds one wire chunk into the accumulated response and reports
// whether it produced a caller-visible chunk.
func (s *openaiStream) apply(chunk *streamChunk) (*provider.StreamChunk, bool) {
	if chunk.Usage != nil {
		s.accumulated.Usage = provider.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if chunk.Model != "" {
		s.accumulated.Model = chunk.Model
	}
	if len(chunk.Choices) == 0 {
		return nil, false
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	if choice.FinishReason != nil {
		s.finish = convertFinishReason(*choice.FinishReason)
	}

	if delta.ReasoningContent != "" {
		s.accumulated.Reasoning += delta.ReasoningContent
		return &provider.StreamChunk{Kind: provider.ChunkReasoning, Text: delta.ReasoningContent}, true
	}

	if delta.Content != "" {
		s.accumulated.Content += delta.Content
		return &provider.StreamChunk{Kind: provider.ChunkContent, Text: delta.Content}, true
	}

	for _, tc := range delta.ToolCalls {
		if _, exists := s.toolCalls[tc.Index]; !exists {
			s.toolCalls[tc.Index] = &provider.ToolCall{}
		}
		toolCall := s.toolCalls[tc.Index]

		if tc.ID != "" {
			toolCall.ID = tc.ID
		}
		if tc.Function.Name != "" {
			toolCall.Name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			toolCall.Arguments += tc.Function.Arguments
			return &provider.StreamChunk{
				Kind: provider.ChunkContent,
				ToolCallDelta: &provider.ToolCallDelta{
					ID:             toolCall.ID,
					Name:           toolCall.Name,
					ArgumentsDelta: tc.Function.Arguments,
				},
			}, true
		}
	}

	return nil, false
}

// finalize emits the terminal done chunk exactly once.
func (s *openaiStream) finalize() {
	indexes := make([]int, 0, len(s.toolCalls))
	for i := range s.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		s.accumulated.ToolCalls = append(s.accumulated.ToolCalls, *s.toolCalls[i])
	}

	if s.finish == "" {
		s.finish = provider.FinishReasonStop
	}
	s.accumulated.FinishReason = s.finish
	s.current = &provider.StreamChunk{Kind: provider.ChunkDone, FinishReason: s.finish}
	s.done = true
}

func (s *openaiStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *openaiStream) Err() error {
	return s.err
}

func (s *openaiStream) Close() error {
	return s.reader.Close()
}

func (s *openaiStream) Accumulated() *provider.Response {
	return s.accumulated
}
