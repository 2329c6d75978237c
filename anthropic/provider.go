// Package anthropic adapts the Anthropic Messages API to the
// backend-agnostic provider interfaces.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/plumehq/plume/provider"
)

const providerName = "anthropic"

// Thinking budgets per requested level, in tokens. The low budget is
// the API's minimum.
const (
	thinkingBudgetLow    = 1024
	thinkingBudgetMedium = 4096
	thinkingBudgetHigh   = 16384
)

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
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

// New creates a new Anthropic provider. The API key comes from
// WithAPIKey or the ANTHROPIC_API_KEY environment variable.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.Error{
			Kind:     provider.KindAuthFailed,
			Provider: providerName,
			Message:  "API key required: set ANTHROPIC_API_KEY or use WithAPIKey",
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

	apiResp, err := p.client.messages(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return p.convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	apiReq := p.buildRequest(req)

	stream, err := p.client.messagesStream(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return &anthropicStream{
		reader:      stream,
		accumulated: &provider.Response{},
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
		info := meta.info(entry.ID)
		if entry.DisplayName != "" {
			info.DisplayName = entry.DisplayName
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// buildRequest converts a provider.Request to an Anthropic API request.
func (p *Provider) buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:         req.Model,
		Messages:      make([]message, 0),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}

	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		// The system prompt rides in a dedicated request field.
		if msg.Role == provider.RoleSystem {
			apiReq.System = msg.Text()
			continue
		}

		apiMsg := message{
			Role: convertRole(msg.Role),
		}

		// Tool results become user-role tool_result blocks.
		if msg.Role == provider.RoleTool {
			apiMsg.Role = "user"
			apiMsg.Content = []contentPart{{
				Type:      "tool_result",
				ToolUseID: msg.ToolID,
				Content:   msg.Text(),
			}}
			apiReq.Messages = append(apiReq.Messages, apiMsg)
			continue
		}

		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						// Use raw string as fallback if JSON parsing fails
						input = tc.Arguments
					}
				}
				apiMsg.Content = append(apiMsg.Content, contentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
		}

		for _, part := range msg.Parts {
			if part.Image != nil {
				apiMsg.Content = append(apiMsg.Content, contentPart{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: part.Image.MIME,
						Data:      base64.StdEncoding.EncodeToString(part.Image.Data),
					},
				})
				continue
			}
			if part.Text != "" {
				apiMsg.Content = append(apiMsg.Content, contentPart{
					Type: "text",
					Text: part.Text,
				})
			}
		}

		if len(apiMsg.Content) > 0 {
			apiReq.Messages = append(apiReq.Messages, apiMsg)
		}
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	if req.JSONSchema != nil {
		apiReq.OutputFormat = &outputFormat{
			Type:   "json_schema",
			Schema: req.JSONSchema.Schema,
		}
	}

	if budget := thinkingBudget(req.Thinking); budget > 0 {
		apiReq.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: budget}
		// Sampling controls are rejected while thinking is enabled,
		// and max_tokens must exceed the thinking budget.
		apiReq.Temperature = nil
		apiReq.TopP = nil
		apiReq.TopK = nil
		if apiReq.MaxTokens <= budget {
			apiReq.MaxTokens = budget + defaultMaxTokens
		}
	}

	return apiReq
}

func thinkingBudget(level provider.ThinkingLevel) int {
	switch level {
	case provider.ThinkingLow:
		return thinkingBudgetLow
	case provider.ThinkingMedium:
		return thinkingBudgetMedium
	case provider.ThinkingHigh:
		return thinkingBudgetHigh
	default:
		return 0
	}
}

// convertResponse converts an Anthropic API response to a provider.Response.
func (p *Provider) convertResponse(resp *messagesResponse) *provider.Response {
	result := &provider.Response{
		Model:        resp.Model,
		FinishReason: convertStopReason(resp.StopReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "thinking":
			result.Reasoning += block.Thinking
		case "tool_use":
			inputJSON, _ := json.Marshal(block.Input)
			result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(inputJSON),
			})
		}
	}

	return result
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleUser:
		return "user"
	case provider.RoleAssistant:
		return "assistant"
	default:
		return string(role)
	}
}

func convertStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

// anthropicStream implements provider.ResponseStream for Anthropic.
type anthropicStream struct {
	reader      *streamReader
	accumulated *provider.Response
	err         error
	current     *provider.StreamChunk
	finish      provider.FinishReason
	done        bool

	// Track current tool call for streaming
	currentToolID   string
	currentToolName string
	currentToolArgs string
}

func (s *anthropicStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		event, err := s.reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without a message_stop event.
				s.finalize()
				return true
			}
			s.err = err
			return false
		}

		if cur, ok := s.apply(event); ok {
			s.current = cur
			return true
		}
	}
}

// apply folds one wire event into the accumulated response and reports
// whether it produced a caller-visible chunk.
func (s *anthropicStream) apply(event *streamEvent) (*provider.StreamChunk, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.accumulated.Model = event.Message.Model
			s.accumulated.Usage.PromptTokens = event.Message.Usage.InputTokens
		}

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			s.currentToolID = event.ContentBlock.ID
			s.currentToolName = event.ContentBlock.Name
			s.currentToolArgs = ""
		}

	case "content_block_delta":
		if event.Delta == nil {
			break
		}
		if event.Delta.Thinking != "" {
			s.accumulated.Reasoning += event.Delta.Thinking
			return &provider.StreamChunk{Kind: provider.ChunkReasoning, Text: event.Delta.Thinking}, true
		}
		if event.Delta.Text != "" {
			s.accumulated.Content += event.Delta.Text
			return &provider.StreamChunk{Kind: provider.ChunkContent, Text: event.Delta.Text}, true
		}
		if event.Delta.PartialJSON != "" {
			s.currentToolArgs += event.Delta.PartialJSON
			return &provider.StreamChunk{
				Kind: provider.ChunkContent,
				ToolCallDelta: &provider.ToolCallDelta{
					ID:             s.currentToolID,
					Name:           s.currentToolName,
					ArgumentsDelta: event.Delta.PartialJSON,
				},
			}, true
		}

	case "content_block_stop":
		s.flushToolCall()

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			s.finish = convertStopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			s.accumulated.Usage.CompletionTokens = event.Usage.OutputTokens
			s.accumulated.Usage.TotalTokens = s.accumulated.Usage.PromptTokens + event.Usage.OutputTokens
		}

	case "message_stop":
		s.finalize()
		return s.current, true
	}

	return nil, false
}

func (s *anthropicStream) flushToolCall() {
	if s.currentToolID == "" {
		return
	}
	s.accumulated.ToolCalls = append(s.accumulated.ToolCalls, provider.ToolCall{
		ID:        s.currentToolID,
		Name:      s.currentToolName,
		Arguments: s.currentToolArgs,
	})
	s.currentToolID = ""
	s.currentToolName = ""
	s.currentToolArgs = ""
}

// finalize emits the terminal done chunk exactly once.
func (s *anthropicStream) finalize() {
	s.flushToolCall()
	if s.finish == "" {
		s.finish = provider.FinishReasonStop
	}
	s.accumulated.FinishReason = s.finish
	s.current = &provider.StreamChunk{Kind: provider.ChunkDone, FinishReason: s.finish}
	s.done = true
}

func (s *anthropicStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *anthropicStream) Err() error {
	return s.err
}

func (s *anthropicStream) Close() error {
	return s.reader.Close()
}

func (s *anthropicStream) Accumulated() *provider.Response {
	return s.accumulated
}
