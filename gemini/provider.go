// Package gemini adapts the Google Gemini API to the backend-agnostic
// provider interfaces.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/plumehq/plume/provider"
)

const providerName = "gemini"

// Thinking budgets per requested level, in tokens.
const (
	thinkingBudgetLow    = 1024
	thinkingBudgetMedium = 4096
	thinkingBudgetHigh   = 16384
)

// Provider implements the Gemini API.
type Provider struct {
	client *client
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider. The API key comes from WithAPIKey
// or the GEMINI_API_KEY environment variable.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.Error{
			Kind:     provider.KindAuthFailed,
			Provider: providerName,
			Message:  "API key required: set GEMINI_API_KEY or use WithAPIKey",
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

	apiResp, err := p.client.generateContent(ctx, req.Model, apiReq)
	if err != nil {
		return nil, err
	}

	return p.convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	apiReq := p.buildRequest(req)

	stream, err := p.client.streamGenerateContent(ctx, req.Model, apiReq)
	if err != nil {
		return nil, err
	}

	return &geminiStream{
		reader:      stream,
		accumulated: &provider.Response{},
	}, nil
}

// Models implements provider.ModelLister. Capability flags come from
// the curated table; the live listing supplies display names and token
// limits. IDs absent from the table are excluded.
func (p *Provider) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	resp, err := p.client.listModels(ctx)
	if err != nil {
		return nil, err
	}

	var infos []provider.ModelInfo
	for _, entry := range resp.Models {
		id := strings.TrimPrefix(entry.Name, "models/")
		meta, ok := knownModels[id]
		if !ok {
			continue
		}
		info := meta.info(id)
		if entry.DisplayName != "" {
			info.DisplayName = entry.DisplayName
		}
		if entry.InputTokenLimit > 0 {
			info.ContextWindow = entry.InputTokenLimit
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// buildRequest converts a provider.Request to a Gemini API request.
func (p *Provider) buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{
		Contents: make([]content, 0),
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || req.TopK != nil || len(req.StopSequences) > 0 {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			TopK:            req.TopK,
			StopSequences:   req.StopSequences,
		}
	}

	for _, msg := range req.Messages {
		// The system prompt rides in systemInstruction.
		if msg.Role == provider.RoleSystem {
			apiReq.SystemInstruction = &content{
				Parts: []part{{Text: msg.Text()}},
			}
			continue
		}

		apiContent := content{
			Role:  convertRole(msg.Role),
			Parts: make([]part, 0),
		}

		// Function responses go back in user role.
		if msg.Role == provider.RoleTool {
			var responseData any
			_ = json.Unmarshal([]byte(msg.Text()), &responseData)
			if responseData == nil {
				responseData = msg.Text()
			}

			apiContent.Role = "user"
			apiContent.Parts = append(apiContent.Parts, part{
				FunctionResponse: &functionResponse{
					Name:     msg.ToolID,
					Response: responseData,
				},
			})
			apiReq.Contents = append(apiReq.Contents, apiContent)
			continue
		}

		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						// Initialize empty map if JSON parsing fails
						args = make(map[string]any)
					}
				}
				apiContent.Parts = append(apiContent.Parts, part{
					FunctionCall: &functionCall{
						Name: tc.Name,
						Args: args,
					},
				})
			}
		}

		for _, msgPart := range msg.Parts {
			if msgPart.Image != nil {
				apiContent.Parts = append(apiContent.Parts, part{
					InlineData: &inlineData{
						MimeType: msgPart.Image.MIME,
						Data:     base64.StdEncoding.EncodeToString(msgPart.Image.Data),
					},
				})
				continue
			}
			if msgPart.Text != "" {
				apiContent.Parts = append(apiContent.Parts, part{Text: msgPart.Text})
			}
		}

		if len(apiContent.Parts) > 0 {
			apiReq.Contents = append(apiReq.Contents, apiContent)
		}
	}

	if len(req.Tools) > 0 {
		funcDecls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			funcDecls = append(funcDecls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		apiReq.Tools = []tool{{FunctionDeclarations: funcDecls}}
	}

	if req.JSONSchema != nil {
		if apiReq.GenerationConfig == nil {
			apiReq.GenerationConfig = &generationConfig{}
		}
		apiReq.GenerationConfig.ResponseMimeType = "application/json"
		var schema any
		// Schema is json.RawMessage (pre-validated JSON), so unmarshal should not fail
		if err := json.Unmarshal(req.JSONSchema.Schema, &schema); err == nil {
			apiReq.GenerationConfig.ResponseSchema = schema
		}
	}

	if budget := thinkingBudget(req.Thinking); budget > 0 {
		if apiReq.GenerationConfig == nil {
			apiReq.GenerationConfig = &generationConfig{}
		}
		b := budget
		apiReq.GenerationConfig.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  &b,
			IncludeThoughts: true,
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

// convertResponse converts a Gemini API response to a provider.Response.
func (p *Provider) convertResponse(resp *generateContentResponse) *provider.Response {
	result := &provider.Response{}

	if resp.UsageMetadata != nil {
		result.Usage = provider.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	if len(resp.Candidates) == 0 {
		return result
	}

	candidate := resp.Candidates[0]
	result.FinishReason = convertFinishReason(candidate.FinishReason)

	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			switch {
			case p.Thought && p.Text != "":
				result.Reasoning += p.Text
			case p.Text != "":
				result.Content += p.Text
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
					ID:        p.FunctionCall.Name, // Gemini uses name as ID
					Name:      p.FunctionCall.Name,
					Arguments: string(argsJSON),
				})
			}
		}
	}

	return result
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleUser:
		return "user"
	case provider.RoleAssistant:
		return "model"
	default:
		return string(role)
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "STOP":
		return provider.FinishReasonStop
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	case "TOOL_USE", "FUNCTION_CALL":
		return provider.FinishReasonToolCalls
	default:
		return provider.FinishReasonStop
	}
}

// geminiStream implements provider.ResponseStream for Gemini. A wire
// chunk may hold several parts, so converted chunks queue in pending
// and drain one per Next call.
type geminiStream struct {
	reader      *streamReader
	accumulated *provider.Response
	err         error
	current     *provider.StreamChunk
	pending     []provider.StreamChunk
	finish      provider.FinishReason
	done        bool
}

func (s *geminiStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		if len(s.pending) > 0 {
			next := s.pending[0]
			s.pending = s.pending[1:]
			s.current = &next
			if next.Kind == provider.ChunkDone {
				s.done = true
			}
			return true
		}

		chunk, err := s.reader.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.queueDone()
				continue
			}
			s.err = err
			return false
		}
		s.apply(chunk)
	}
}

// apply folds one wire chunk into the accumulated response and queues
// the caller-visible chunks it produced.
func (s *geminiStream) apply(chunk *streamChunk) {
	if chunk.UsageMetadata != nil {
		s.accumulated.Usage = provider.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
	}

	if len(chunk.Candidates) == 0 {
		return
	}
	candidate := chunk.Candidates[0]
	if candidate.FinishReason != "" {
		s.finish = convertFinishReason(candidate.FinishReason)
	}
	if candidate.Content == nil {
		return
	}

	for _, p := range candidate.Content.Parts {
		switch {
		case p.Thought && p.Text != "":
			s.accumulated.Reasoning += p.Text
			s.pending = append(s.pending, provider.StreamChunk{
				Kind: provider.ChunkReasoning,
				Text: p.Text,
			})
		case p.Text != "":
			s.accumulated.Content += p.Text
			s.pending = append(s.pending, provider.StreamChunk{
				Kind: provider.ChunkContent,
				Text: p.Text,
			})
		case p.FunctionCall != nil:
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			s.accumulated.ToolCalls = append(s.accumulated.ToolCalls, provider.ToolCall{
				ID:        p.FunctionCall.Name,
				Name:      p.FunctionCall.Name,
				Arguments: string(argsJSON),
			})
			s.pending = append(s.pending, provider.StreamChunk{
				Kind: provider.ChunkContent,
				ToolCallDelta: &provider.ToolCallDelta{
					ID:             p.FunctionCall.Name,
					Name:           p.FunctionCall.Name,
					ArgumentsDelta: string(argsJSON),
				},
			})
		}
	}
}

// queueDone queues the terminal done chunk exactly once.
func (s *geminiStream) queueDone() {
	if s.finish == "" {
		s.finish = provider.FinishReasonStop
	}
	s.accumulated.FinishReason = s.finish
	s.pending = append(s.pending, provider.StreamChunk{
		Kind:         provider.ChunkDone,
		FinishReason: s.finish,
	})
}

func (s *geminiStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *geminiStream) Err() error {
	return s.err
}

func (s *geminiStream) Close() error {
	return s.reader.Close()
}

func (s *geminiStream) Accumulated() *provider.Response {
	return s.accumulated
}
