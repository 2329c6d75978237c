package llm

import (
	"net/http"
	"strings"

	"github.com/plumehq/plume/catalog"
	"github.com/plumehq/plume/provider"
)

// ThinkingLevel is an alias for provider.ThinkingLevel for convenience.
type ThinkingLevel = provider.ThinkingLevel

// Thinking level constants.
const (
	ThinkingOff    = provider.ThinkingOff
	ThinkingLow    = provider.ThinkingLow
	ThinkingMedium = provider.ThinkingMedium
	ThinkingHigh   = provider.ThinkingHigh
)

// CallOption configures a single call.
type CallOption func(*callConfig)

// callConfig holds all configuration for a call.
type callConfig struct {
	model         string
	system        string
	images        []provider.Image
	temperature   *float64
	maxTokens     *int
	topP          *float64
	topK          *int
	seed          *int
	stopSequences []string
	thinking      provider.ThinkingLevel
	tools         []Tool
	operationID   string
	jsonSchema    *provider.JSONSchema
}

func newCallConfig(opts ...CallOption) *callConfig {
	cfg := &callConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithModel sets the model by catalog id (e.g., "gpt-5-mini"). Every
// operation requires one; the model's descriptor determines which
// provider serves the call.
func WithModel(id string) CallOption {
	return func(c *callConfig) {
		c.model = id
	}
}

// WithSystemMessage sets a system message. Continue-style operations
// ignore it because their system message was fixed at conversation
// start.
func WithSystemMessage(msg string) CallOption {
	return func(c *callConfig) {
		c.system = msg
	}
}

// WithImage attaches an image to the outgoing user message. The MIME
// type is sniffed from the data.
func WithImage(data []byte) CallOption {
	return func(c *callConfig) {
		c.images = append(c.images, provider.Image{MIME: http.DetectContentType(data), Data: data})
	}
}

// WithImageType attaches an image with an explicit MIME type, for
// formats the sniffer cannot identify.
func WithImageType(mime string, data []byte) CallOption {
	return func(c *callConfig) {
		c.images = append(c.images, provider.Image{MIME: mime, Data: data})
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(c *callConfig) {
		c.temperature = &t
	}
}

// WithMaxTokens sets the maximum tokens in the response.
func WithMaxTokens(n int) CallOption {
	return func(c *callConfig) {
		c.maxTokens = &n
	}
}

// WithTopP sets the nucleus sampling parameter (0.0 to 1.0).
// Tokens are selected from the most to least probable until the sum
// of their probabilities equals this value.
func WithTopP(p float64) CallOption {
	return func(c *callConfig) {
		c.topP = &p
	}
}

// WithTopK limits token selection to the k most probable tokens.
// Note: Not supported by OpenAI.
func WithTopK(k int) CallOption {
	return func(c *callConfig) {
		c.topK = &k
	}
}

// WithSeed sets a random seed for reproducibility.
// Note: Not supported by Anthropic.
func WithSeed(seed int) CallOption {
	return func(c *callConfig) {
		c.seed = &seed
	}
}

// WithStopSequences sets stop sequences to end generation.
// The model will stop generating text if one of these strings is encountered.
func WithStopSequences(seqs ...string) CallOption {
	return func(c *callConfig) {
		c.stopSequences = seqs
	}
}

// WithThinking asks the model to reason before answering. Any level
// other than ThinkingOff requires a model whose descriptor declares
// Reasoning.
func WithThinking(level provider.ThinkingLevel) CallOption {
	return func(c *callConfig) {
		c.thinking = level
	}
}

// WithTools adds tools the model can use. Tool calls come back on the
// response; the engine never executes tools on its own.
func WithTools(tools ...Tool) CallOption {
	return func(c *callConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithOperationID names the operation so it can be cancelled through
// Engine.Cancel. Without it the engine assigns a fresh id.
func WithOperationID(id string) CallOption {
	return func(c *callConfig) {
		c.operationID = id
	}
}

// requirement derives the capability requirement implied by the call's
// shape: images need vision, a schema needs structured output, and a
// thinking level needs reasoning.
func (c *callConfig) requirement() catalog.Requirement {
	return catalog.Requirement{
		Vision:     len(c.images) > 0,
		Structured: c.jsonSchema != nil,
		Reasoning:  c.thinking != provider.ThinkingOff,
	}
}

// userMessage builds the outgoing user message: the prompt text
// followed by any attached images.
func (c *callConfig) userMessage(prompt string) provider.Message {
	parts := make([]provider.Part, 0, 1+len(c.images))
	if prompt != "" {
		parts = append(parts, provider.TextPart(prompt))
	}
	for _, img := range c.images {
		parts = append(parts, provider.ImagePart(img.MIME, img.Data))
	}
	return provider.Message{Role: provider.RoleUser, Parts: parts}
}

// buildRequest creates a provider.Request carrying the given messages.
// The messages are the canonical transcript; when the model cannot take
// a dedicated system role the system messages are folded into the first
// user message before sending.
func (c *callConfig) buildRequest(model catalog.Model, messages []provider.Message) *provider.Request {
	if !model.Capabilities.SystemRole {
		messages = foldSystem(messages)
	}

	req := &provider.Request{
		Model:         model.ID,
		Messages:      messages,
		Temperature:   c.temperature,
		MaxTokens:     c.maxTokens,
		TopP:          c.topP,
		TopK:          c.topK,
		Seed:          c.seed,
		StopSequences: c.stopSequences,
		JSONSchema:    c.jsonSchema,
		Thinking:      c.thinking,
	}

	req.Tools = toolDefs(c.tools)

	return req
}

// foldSystem rewrites system messages as a leading text part of the
// first user message, preserving their content for models that reject
// the system role.
func foldSystem(messages []provider.Message) []provider.Message {
	var system []string
	rest := make([]provider.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == provider.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	if len(system) == 0 {
		return rest
	}

	lead := provider.TextPart(strings.Join(system, "\n\n"))
	for i, msg := range rest {
		if msg.Role != provider.RoleUser {
			continue
		}
		parts := make([]provider.Part, 0, len(msg.Parts)+1)
		parts = append(parts, lead)
		parts = append(parts, msg.Parts...)
		rest[i].Parts = parts
		return rest
	}
	return append([]provider.Message{{Role: provider.RoleUser, Parts: []provider.Part{lead}}}, rest...)
}
