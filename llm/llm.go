// Package llm is the engine facade for LLM operations: single-shot
// calls, structured output, multi-turn conversations, and token
// streams, all routed by model id through the capability catalog.
package llm

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/plumehq/plume/catalog"
	"github.com/plumehq/plume/jsonx"
	"github.com/plumehq/plume/provider"
	"github.com/plumehq/plume/runner"
	"github.com/plumehq/plume/schema"
)

// Call makes a single-shot call and returns the text response.
//
// Example:
//
//	resp, err := engine.Call(ctx, "Rewrite this bullet as an achievement",
//	    llm.WithModel("gpt-5-mini"),
//	)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Text())
func (e *Engine) Call(ctx context.Context, prompt string, opts ...CallOption) (Response[string], error) {
	cfg := newCallConfig(opts...)

	model, p, err := e.prepare(cfg)
	if err != nil {
		return Response[string]{}, err
	}

	messages := openingMessages(cfg, prompt)
	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, messages))
	if err != nil {
		return Response[string]{}, err
	}

	return newResponse(resp, resp.Content), nil
}

// CallParse makes a single-shot call with structured output and parses
// the response into type T. The JSON schema is generated from T, and
// the raw text goes through the tolerant extractor before decoding, so
// prose-wrapped or fenced JSON still parses.
//
// Example:
//
//	type Summary struct {
//	    Headline string   `json:"headline" jsonschema:"required"`
//	    Skills   []string `json:"skills" jsonschema:"required"`
//	}
//
//	resp, err := llm.CallParse[Summary](ctx, engine, "Summarize this resume: ...",
//	    llm.WithModel("gpt-5-mini"),
//	)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Parsed().Headline)
func CallParse[T any](ctx context.Context, e *Engine, prompt string, opts ...CallOption) (Response[T], error) {
	cfg := newCallConfig(opts...)
	if err := structuredSchema[T](cfg); err != nil {
		return Response[T]{}, err
	}

	model, p, err := e.prepare(cfg)
	if err != nil {
		return Response[T]{}, err
	}

	messages := openingMessages(cfg, prompt)
	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, messages))
	if err != nil {
		return Response[T]{}, err
	}

	parsed, err := jsonx.Decode[T](resp.Content)
	if err != nil {
		return Response[T]{}, err
	}

	return newResponse(resp, parsed), nil
}

// StartConversation opens a multi-turn conversation with an optional
// system message and a first user message. The conversation is created
// only when the opening call succeeds; the returned id then addresses a
// history of [system?, user, assistant].
func (e *Engine) StartConversation(ctx context.Context, system, first string, opts ...CallOption) (uuid.UUID, Response[string], error) {
	cfg := newCallConfig(opts...)
	if system != "" {
		cfg.system = system
	}

	model, p, err := e.prepare(cfg)
	if err != nil {
		return uuid.Nil, Response[string]{}, err
	}

	messages := openingMessages(cfg, first)
	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, messages))
	if err != nil {
		return uuid.Nil, Response[string]{}, err
	}

	id := e.convos.Create(append(messages, assistantMessage(resp))...)
	return id, newResponse(resp, resp.Content), nil
}

// Continue sends the next user message in a conversation. On success
// both the user message and the assistant's reply are appended to the
// history; on failure the history is unchanged, so the same turn can be
// retried.
func (e *Engine) Continue(ctx context.Context, id uuid.UUID, message string, opts ...CallOption) (Response[string], error) {
	cfg := newCallConfig(opts...)

	model, p, err := e.prepare(cfg)
	if err != nil {
		return Response[string]{}, err
	}

	history, err := e.convos.History(id)
	if err != nil {
		return Response[string]{}, err
	}

	userMsg := cfg.userMessage(message)
	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, append(history, userMsg)))
	if err != nil {
		return Response[string]{}, err
	}

	if err := e.convos.Append(id, userMsg, assistantMessage(resp)); err != nil {
		return Response[string]{}, err
	}
	return newResponse(resp, resp.Content), nil
}

// ContinueParse sends the next user message in a conversation and
// parses the reply into type T, with the full history as context.
//
// The turn is recorded as soon as the model answers, so even when the
// reply fails to parse the history holds the user message and the raw
// assistant output; a follow-up turn can ask the model to correct
// itself.
func ContinueParse[T any](ctx context.Context, e *Engine, id uuid.UUID, message string, opts ...CallOption) (Response[T], error) {
	cfg := newCallConfig(opts...)
	if err := structuredSchema[T](cfg); err != nil {
		return Response[T]{}, err
	}

	model, p, err := e.prepare(cfg)
	if err != nil {
		return Response[T]{}, err
	}

	history, err := e.convos.History(id)
	if err != nil {
		return Response[T]{}, err
	}

	userMsg := cfg.userMessage(message)
	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, append(history, userMsg)))
	if err != nil {
		return Response[T]{}, err
	}

	if err := e.convos.Append(id, userMsg, assistantMessage(resp)); err != nil {
		return Response[T]{}, err
	}

	parsed, err := jsonx.Decode[T](resp.Content)
	if err != nil {
		return Response[T]{}, err
	}

	return newResponse(resp, parsed), nil
}

// ContinueWithMessages advances a conversation with pre-built messages
// instead of a single user turn. Its main use is returning tool
// results: run the calls from a response with ExecuteToolCalls and hand
// the resulting messages back here.
func (e *Engine) ContinueWithMessages(ctx context.Context, id uuid.UUID, messages []Message, opts ...CallOption) (Response[string], error) {
	cfg := newCallConfig(opts...)

	model, p, err := e.prepare(cfg)
	if err != nil {
		return Response[string]{}, err
	}

	history, err := e.convos.History(id)
	if err != nil {
		return Response[string]{}, err
	}

	resp, err := e.execute(ctx, cfg, p, cfg.buildRequest(model, append(history, messages...)))
	if err != nil {
		return Response[string]{}, err
	}

	recorded := make([]Message, 0, len(messages)+1)
	recorded = append(recorded, messages...)
	recorded = append(recorded, assistantMessage(resp))
	if err := e.convos.Append(id, recorded...); err != nil {
		return Response[string]{}, err
	}
	return newResponse(resp, resp.Content), nil
}

// prepare resolves the call against the catalog: the model must be
// named, known, enabled, and capable of the call's shape. The returned
// provider is the one the model's descriptor points at. All of this
// happens before any network traffic.
func (e *Engine) prepare(cfg *callConfig) (catalog.Model, provider.Provider, error) {
	if cfg.model == "" {
		return catalog.Model{}, nil, ErrModelRequired
	}

	model, ok := e.catalog.Lookup(cfg.model)
	if !ok {
		return catalog.Model{}, nil, &provider.Error{
			Kind:    provider.KindUnsupportedShape,
			Model:   cfg.model,
			Message: "model not in catalog; refresh the model listing or check the id",
		}
	}
	if !e.catalog.Enabled(cfg.model) {
		return catalog.Model{}, nil, &provider.Error{
			Kind:     provider.KindUnsupportedShape,
			Provider: model.Provider,
			Model:    cfg.model,
			Message:  "model is not in the enabled set",
		}
	}
	if missing := cfg.requirement().Missing(model.Capabilities); len(missing) > 0 {
		return catalog.Model{}, nil, &provider.Error{
			Kind:     provider.KindUnsupportedShape,
			Provider: model.Provider,
			Model:    cfg.model,
			Message:  "model lacks required capabilities: " + strings.Join(missing, ", "),
		}
	}

	p, err := e.providers.Get(model.Provider)
	if err != nil {
		return catalog.Model{}, nil, err
	}
	return model, p, nil
}

// execute runs the request through the runner and folds the usage into
// the per-model totals.
func (e *Engine) execute(ctx context.Context, cfg *callConfig, p provider.Provider, req *provider.Request) (*provider.Response, error) {
	resp, err := e.runner.Do(ctx, runner.Operation{ID: cfg.operationID, Provider: p, Request: req})
	if err != nil {
		return nil, err
	}
	e.usage.add(req.Model, resp.Usage)
	return resp, nil
}

// openingMessages builds the transcript for a fresh call: the system
// message when set, then the user message.
func openingMessages(cfg *callConfig, prompt string) []provider.Message {
	var messages []provider.Message
	if cfg.system != "" {
		messages = append(messages, SystemMessage(cfg.system))
	}
	return append(messages, cfg.userMessage(prompt))
}

// assistantMessage converts a provider response into the transcript's
// assistant message.
func assistantMessage(resp *provider.Response) Message {
	msg := Message{Role: provider.RoleAssistant, ToolCalls: resp.ToolCalls}
	if resp.Content != "" {
		msg.Parts = []provider.Part{provider.TextPart(resp.Content)}
	}
	return msg
}

// structuredSchema installs the JSON schema generated from T on the
// config, named after the Go type.
func structuredSchema[T any](cfg *callConfig) error {
	raw, err := schema.Generate[T]()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	var zero T
	typeName := "response"
	if t := reflect.TypeOf(zero); t != nil && t.Name() != "" {
		typeName = t.Name()
	}

	cfg.jsonSchema = &provider.JSONSchema{
		Name:   typeName,
		Strict: true,
		Schema: raw,
	}
	return nil
}
