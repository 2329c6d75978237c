package llm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume/catalog"
	"github.com/plumehq/plume/jsonx"
	"github.com/plumehq/plume/provider"
)

// fakeProvider serves scripted responses and records every request.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	requests []*provider.Request
	respond  func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error)
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
			return &provider.Response{
				Content:      "stub reply",
				Model:        req.Model,
				FinishReason: provider.FinishReasonStop,
				Usage:        provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	fn := p.respond
	p.mu.Unlock()
	return fn(ctx, n, req)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) request(i int) *provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// listingProvider adds a model listing to fakeProvider.
type listingProvider struct {
	*fakeProvider
	infos   []provider.ModelInfo
	listErr error
}

func (p *listingProvider) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.infos, nil
}

func fullCaps() catalog.Capabilities {
	return catalog.Capabilities{Vision: true, Structured: true, Reasoning: true, SystemRole: true}
}

func seededModel(id, providerName string, caps catalog.Capabilities) catalog.Model {
	return catalog.Model{
		ID:            id,
		Provider:      providerName,
		DisplayName:   id,
		ContextWindow: 200000,
		Capabilities:  caps,
	}
}

func newTestEngine(t *testing.T, p provider.Provider, models ...catalog.Model) *Engine {
	t.Helper()
	e := New(WithProviders(p), WithMaxAttempts(1))
	e.SeedModels(models...)
	return e
}

type bulletRewrite struct {
	Headline string   `json:"headline"`
	Skills   []string `json:"skills"`
}

func TestEngine_Call(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	resp, err := e.Call(context.Background(), "Tighten this bullet",
		WithModel("writer-1"),
		WithSystemMessage("You edit resumes."),
		WithTemperature(0.2),
	)
	require.NoError(t, err)
	assert.Equal(t, "stub reply", resp.Text())
	assert.Equal(t, "stub reply", resp.Parsed())
	assert.Equal(t, FinishReasonStop, resp.FinishReason())

	require.Equal(t, 1, p.calls())
	req := p.request(0)
	assert.Equal(t, "writer-1", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You edit resumes.", req.Messages[0].Text())
	assert.Equal(t, RoleUser, req.Messages[1].Role)
	assert.Equal(t, "Tighten this bullet", req.Messages[1].Text())
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.2, *req.Temperature)
}

func TestEngine_Call_ModelRequired(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	_, err := e.Call(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrModelRequired)
	assert.Equal(t, 0, p.calls())
}

func TestEngine_Call_UnknownModel(t *testing.T) {
	p := newFakeProvider("fake")

	t.Run("before any refresh every model is unknown", func(t *testing.T) {
		e := New(WithProviders(p))

		_, err := e.Call(context.Background(), "hello", WithModel("writer-1"))
		require.Error(t, err)
		assert.Equal(t, provider.KindUnsupportedShape, KindOf(err))
		assert.Equal(t, 0, p.calls())
	})

	t.Run("unknown id after seeding", func(t *testing.T) {
		e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

		_, err := e.Call(context.Background(), "hello", WithModel("no-such-model"))
		require.Error(t, err)
		assert.Equal(t, provider.KindUnsupportedShape, KindOf(err))
		assert.Equal(t, 0, p.calls())
	})
}

func TestEngine_Call_CapabilityGating(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

	tests := []struct {
		name    string
		caps    catalog.Capabilities
		opts    []CallOption
		missing string
	}{
		{
			name:    "image against text-only model",
			caps:    catalog.Capabilities{Structured: true, Reasoning: true, SystemRole: true},
			opts:    []CallOption{WithModel("limited-1"), WithImage(png)},
			missing: "vision",
		},
		{
			name:    "thinking against non-reasoning model",
			caps:    catalog.Capabilities{Vision: true, Structured: true, SystemRole: true},
			opts:    []CallOption{WithModel("limited-1"), WithThinking(provider.ThinkingHigh)},
			missing: "reasoning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider("fake")
			e := newTestEngine(t, p, seededModel("limited-1", "fake", tt.caps))

			_, err := e.Call(context.Background(), "hello", tt.opts...)
			require.Error(t, err)

			pe, ok := provider.AsError(err)
			require.True(t, ok)
			assert.Equal(t, provider.KindUnsupportedShape, pe.Kind)
			assert.Contains(t, pe.Message, tt.missing)
			assert.Equal(t, 0, p.calls(), "rejection must happen before any provider invocation")
		})
	}
}

func TestEngine_CallParse_GatedOnStructured(t *testing.T) {
	p := newFakeProvider("fake")
	caps := catalog.Capabilities{Vision: true, Reasoning: true, SystemRole: true}
	e := newTestEngine(t, p, seededModel("plain-1", "fake", caps))

	_, err := CallParse[bulletRewrite](context.Background(), e, "rewrite this", WithModel("plain-1"))
	require.Error(t, err)

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.KindUnsupportedShape, pe.Kind)
	assert.Contains(t, pe.Message, "structured_output")
	assert.Equal(t, 0, p.calls())
}

func TestEngine_Call_DisabledModel(t *testing.T) {
	p := newFakeProvider("fake")
	e := New(WithProviders(p), WithEnabledModels(catalog.StaticEnabled("other-*")))
	e.SeedModels(seededModel("writer-1", "fake", fullCaps()))

	_, err := e.Call(context.Background(), "hello", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, provider.KindUnsupportedShape, KindOf(err))
	assert.Equal(t, 0, p.calls())
}

func TestEngine_Call_RoutesByDescriptor(t *testing.T) {
	alpha := newFakeProvider("alpha")
	beta := newFakeProvider("beta")
	e := New(WithProviders(alpha, beta))
	e.SeedModels(seededModel("shared-model", "beta", fullCaps()))

	_, err := e.Call(context.Background(), "hello", WithModel("shared-model"))
	require.NoError(t, err)
	assert.Equal(t, 0, alpha.calls())
	assert.Equal(t, 1, beta.calls())
}

func TestEngine_Call_UnknownProviderInDescriptor(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("orphan-1", "missing", fullCaps()))

	_, err := e.Call(context.Background(), "hello", WithModel("orphan-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
	assert.Equal(t, 0, p.calls())
}

func TestEngine_Call_FoldsSystemForModelsWithoutSystemRole(t *testing.T) {
	p := newFakeProvider("fake")
	caps := catalog.Capabilities{Vision: true, Structured: true, Reasoning: true, SystemRole: false}
	e := newTestEngine(t, p, seededModel("nosys-1", "fake", caps))

	_, err := e.Call(context.Background(), "Improve this summary",
		WithModel("nosys-1"),
		WithSystemMessage("You edit resumes."),
	)
	require.NoError(t, err)

	req := p.request(0)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
	assert.Equal(t, "You edit resumes.\n\nImprove this summary", req.Messages[0].Text())
}

func TestEngine_Call_RetriesTransientThenSucceeds(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		if n <= 2 {
			return nil, &provider.Error{
				Kind:     provider.KindNetworkTransient,
				Provider: "fake",
				Status:   503,
				Message:  "upstream unavailable",
			}
		}
		return &provider.Response{Content: "recovered", FinishReason: provider.FinishReasonStop}, nil
	}

	e := New(
		WithProviders(p),
		WithMaxAttempts(3),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
	)
	e.SeedModels(seededModel("writer-1", "fake", fullCaps()))

	resp, err := e.Call(context.Background(), "hello", WithModel("writer-1"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())
	assert.Equal(t, 3, p.calls())
}

func TestEngine_Call_AuthFailureNotRetried(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		return nil, &provider.Error{Kind: provider.KindAuthFailed, Provider: "fake", Status: 401}
	}

	e := New(WithProviders(p), WithMaxAttempts(3), WithBackoff(time.Millisecond, 2*time.Millisecond))
	e.SeedModels(seededModel("writer-1", "fake", fullCaps()))

	_, err := e.Call(context.Background(), "hello", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, provider.KindAuthFailed, KindOf(err))
	assert.Equal(t, 1, p.calls())
}

func TestEngine_CallParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "clean JSON",
			content: `{"headline": "Platform engineer", "skills": ["Go", "SQL"]}`,
		},
		{
			name:    "fenced JSON with prose",
			content: "Here you go:\n```json\n{\"headline\": \"Platform engineer\", \"skills\": [\"Go\", \"SQL\"]}\n```",
		},
		{
			name:    "JSON embedded in prose",
			content: `Sure! {"headline": "Platform engineer", "skills": ["Go", "SQL"]} Hope that helps.`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider("fake")
			p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
				return &provider.Response{Content: tt.content, FinishReason: provider.FinishReasonStop}, nil
			}
			e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

			resp, err := CallParse[bulletRewrite](context.Background(), e, "summarize", WithModel("writer-1"))
			require.NoError(t, err)
			assert.Equal(t, "Platform engineer", resp.Parsed().Headline)
			assert.Equal(t, []string{"Go", "SQL"}, resp.Parsed().Skills)

			req := p.request(0)
			require.NotNil(t, req.JSONSchema)
			assert.Equal(t, "bulletRewrite", req.JSONSchema.Name)
			assert.True(t, req.JSONSchema.Strict)
		})
	}
}

func TestEngine_CallParse_MalformedOutput(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "I would rather chat about your weekend."}, nil
	}
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	_, err := CallParse[bulletRewrite](context.Background(), e, "summarize", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, provider.KindResponseParse, KindOf(err))

	var parseErr *jsonx.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "I would rather chat about your weekend.", parseErr.Raw)
}

func TestEngine_Conversation(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		replies := []string{"reply-1", "reply-2"}
		return &provider.Response{Content: replies[n-1], FinishReason: provider.FinishReasonStop}, nil
	}
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	id, resp, err := e.StartConversation(context.Background(),
		"You edit resumes.", "Draft a summary", WithModel("writer-1"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, "reply-1", resp.Text())

	_, err = e.Continue(context.Background(), id, "Make it shorter", WithModel("writer-1"))
	require.NoError(t, err)

	history, err := e.History(id)
	require.NoError(t, err)
	require.Len(t, history, 5)

	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser, RoleAssistant}
	wantTexts := []string{"You edit resumes.", "Draft a summary", "reply-1", "Make it shorter", "reply-2"}
	for i := range history {
		assert.Equal(t, wantRoles[i], history[i].Role, "message %d role", i)
		assert.Equal(t, wantTexts[i], history[i].Text(), "message %d text", i)
	}

	// The second request carried the full history plus the new turn.
	second := p.request(1)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "reply-1", second.Messages[2].Text())
	assert.Equal(t, "Make it shorter", second.Messages[3].Text())
}

func TestEngine_StartConversation_FailureCreatesNothing(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		return nil, &provider.Error{Kind: provider.KindAuthFailed, Provider: "fake", Status: 401}
	}
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	id, _, err := e.StartConversation(context.Background(), "sys", "first", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, uuid.Nil, id)
	assert.Equal(t, 0, e.convos.Len())
}

func TestEngine_Continue_FailureLeavesHistoryUnchanged(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	id, _, err := e.StartConversation(context.Background(), "sys", "first", WithModel("writer-1"))
	require.NoError(t, err)

	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		return nil, &provider.Error{Kind: provider.KindNetworkTransient, Status: 503}
	}
	_, err = e.Continue(context.Background(), id, "next", WithModel("writer-1"))
	require.Error(t, err)

	history, err := e.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 3, "failed turn must not be recorded")
}

func TestEngine_Continue_UnknownConversation(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	_, err := e.Continue(context.Background(), uuid.New(), "hello", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, 0, p.calls())
}

func TestContinueParse_RecordsTurnEvenWhenParseFails(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	id, _, err := e.StartConversation(context.Background(), "sys", "first", WithModel("writer-1"))
	require.NoError(t, err)

	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Content: "not json at all"}, nil
	}
	_, err = ContinueParse[bulletRewrite](context.Background(), e, id, "structure it", WithModel("writer-1"))
	require.Error(t, err)
	assert.Equal(t, provider.KindResponseParse, KindOf(err))

	history, err := e.History(id)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "not json at all", history[4].Text())
}

func TestEngine_ContinueWithMessages(t *testing.T) {
	p := newFakeProvider("fake")
	p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
		if n == 1 {
			return &provider.Response{
				Content:      "",
				ToolCalls:    []provider.ToolCall{{ID: "call_1", Name: "word_count", Arguments: `{"text": "short"}`}},
				FinishReason: provider.FinishReasonToolCalls,
			}, nil
		}
		return &provider.Response{Content: "Your section is 5 words.", FinishReason: provider.FinishReasonStop}, nil
	}
	e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

	id, resp, err := e.StartConversation(context.Background(), "sys", "Count the words", WithModel("writer-1"))
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())

	toolResults := []Message{ToolMessage("call_1", `{"words": 5}`)}
	final, err := e.ContinueWithMessages(context.Background(), id, toolResults, WithModel("writer-1"))
	require.NoError(t, err)
	assert.Equal(t, "Your section is 5 words.", final.Text())

	history, err := e.History(id)
	require.NoError(t, err)
	// system, user, assistant(tool calls), tool result, assistant
	require.Len(t, history, 5)
	assert.Equal(t, RoleTool, history[3].Role)
	assert.Equal(t, "call_1", history[3].ToolID)
	assert.Equal(t, RoleAssistant, history[4].Role)

	// The follow-up request replayed the tool exchange.
	second := p.request(1)
	require.Len(t, second.Messages, 4)
	assert.NotEmpty(t, second.Messages[2].ToolCalls)
	assert.Equal(t, RoleTool, second.Messages[3].Role)
}

func TestEngine_Cancel(t *testing.T) {
	t.Run("cancels in-flight operation", func(t *testing.T) {
		started := make(chan struct{})
		var once sync.Once
		p := newFakeProvider("fake")
		p.respond = func(ctx context.Context, n int, req *provider.Request) (*provider.Response, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}
		e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

		errCh := make(chan error, 1)
		go func() {
			_, err := e.Call(context.Background(), "hello",
				WithModel("writer-1"), WithOperationID("op-live"))
			errCh <- err
		}()

		<-started
		assert.Contains(t, e.ActiveOperations(), "op-live")
		assert.True(t, e.Cancel("op-live"))

		err := <-errCh
		require.Error(t, err)
		assert.Equal(t, provider.KindCancelled, KindOf(err))
	})

	t.Run("completed operation returns false", func(t *testing.T) {
		p := newFakeProvider("fake")
		e := newTestEngine(t, p, seededModel("writer-1", "fake", fullCaps()))

		_, err := e.Call(context.Background(), "hello",
			WithModel("writer-1"), WithOperationID("op-done"))
		require.NoError(t, err)

		assert.False(t, e.Cancel("op-done"))
	})

	t.Run("unknown id returns false", func(t *testing.T) {
		e := New()
		assert.False(t, e.Cancel("never-existed"))
	})
}

func TestEngine_UsageByModel(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p,
		seededModel("writer-1", "fake", fullCaps()),
		seededModel("writer-2", "fake", fullCaps()),
	)

	_, err := e.Call(context.Background(), "one", WithModel("writer-1"))
	require.NoError(t, err)
	_, err = e.Call(context.Background(), "two", WithModel("writer-1"))
	require.NoError(t, err)
	_, err = e.Call(context.Background(), "three", WithModel("writer-2"))
	require.NoError(t, err)

	usage := e.UsageByModel()
	assert.Equal(t, provider.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}, usage["writer-1"])
	assert.Equal(t, provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, usage["writer-2"])
}

func TestEngine_RefreshModels(t *testing.T) {
	t.Run("installs listings and answers eligibility", func(t *testing.T) {
		p := &listingProvider{
			fakeProvider: newFakeProvider("fake"),
			infos: []provider.ModelInfo{
				{ID: "vision-1", Provider: "fake", DisplayName: "Vision One", Vision: true, Structured: true, SystemRole: true},
				{ID: "text-1", Provider: "fake", DisplayName: "Text One", Structured: true, SystemRole: true},
			},
		}
		e := New(WithProviders(p))

		require.NoError(t, e.RefreshModels(context.Background()))
		assert.Len(t, e.Models(), 2)

		eligible := e.EligibleModels(catalog.Requirement{Vision: true})
		require.Len(t, eligible, 1)
		assert.Equal(t, "vision-1", eligible[0].ID)
	})

	t.Run("total listing failure reports registry unavailable", func(t *testing.T) {
		p := &listingProvider{
			fakeProvider: newFakeProvider("fake"),
			listErr:      &provider.Error{Kind: provider.KindNetworkTransient, Message: "listing down"},
		}
		e := New(WithProviders(p))

		err := e.RefreshModels(context.Background())
		require.Error(t, err)
		assert.Equal(t, provider.KindRegistryUnavailable, KindOf(err))
		assert.Empty(t, e.Models())
	})
}

func TestEngine_Call_ThinkingPassedThrough(t *testing.T) {
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("thinker-1", "fake", fullCaps()))

	_, err := e.Call(context.Background(), "hard question",
		WithModel("thinker-1"), WithThinking(provider.ThinkingMedium))
	require.NoError(t, err)

	assert.Equal(t, provider.ThinkingMedium, p.request(0).Thinking)
}

func TestEngine_Call_ImagesAttachedToUserMessage(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	p := newFakeProvider("fake")
	e := newTestEngine(t, p, seededModel("vision-1", "fake", fullCaps()))

	_, err := e.Call(context.Background(), "Critique this layout",
		WithModel("vision-1"), WithImage(png))
	require.NoError(t, err)

	req := p.request(0)
	require.Len(t, req.Messages, 1)
	images := req.Messages[0].Images()
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MIME)
	assert.Equal(t, png, images[0].Data)
}

func TestStructuredSchema_TypeNaming(t *testing.T) {
	t.Run("struct name", func(t *testing.T) {
		cfg := &callConfig{}
		require.NoError(t, structuredSchema[bulletRewrite](cfg))
		assert.Equal(t, "bulletRewrite", cfg.jsonSchema.Name)
		assert.True(t, strings.Contains(string(cfg.jsonSchema.Schema), "headline"))
	})

	t.Run("unnamed type falls back", func(t *testing.T) {
		cfg := &callConfig{}
		require.NoError(t, structuredSchema[map[string]any](cfg))
		assert.Equal(t, "response", cfg.jsonSchema.Name)
	})
}
