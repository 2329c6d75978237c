package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture tool: trims a resume bullet to a word limit.
type trimInput struct {
	Bullet string `json:"bullet" jsonschema:"required,description=The bullet text"`
	Limit  int    `json:"limit,omitempty"`
}

type trimOutput struct {
	Bullet  string `json:"bullet"`
	Trimmed bool   `json:"trimmed"`
}

func trimBullet(_ context.Context, in trimInput) (trimOutput, error) {
	if in.Limit > 0 && len(in.Bullet) > in.Limit {
		return trimOutput{Bullet: in.Bullet[:in.Limit], Trimmed: true}, nil
	}
	return trimOutput{Bullet: in.Bullet}, nil
}

func TestNewTool(t *testing.T) {
	tool, err := NewTool("trim_bullet", "Trim a resume bullet to a length limit", trimBullet)
	require.NoError(t, err)

	assert.Equal(t, "trim_bullet", tool.Name())
	assert.Equal(t, "Trim a resume bullet to a length limit", tool.Description())

	params := tool.Parameters()
	require.NotNil(t, params)
	require.NotNil(t, params.Properties)
	_, hasBullet := params.Properties.Get("bullet")
	_, hasLimit := params.Properties.Get("limit")
	assert.True(t, hasBullet, "schema should carry the bullet property")
	assert.True(t, hasLimit, "schema should carry the limit property")
}

func TestMustNewTool(t *testing.T) {
	assert.NotPanics(t, func() {
		tool := MustNewTool("trim_bullet", "trims", trimBullet)
		assert.NotNil(t, tool)
	})
}

func TestTypedTool_Execute(t *testing.T) {
	tool := MustNewTool("trim_bullet", "trims", trimBullet)

	tests := []struct {
		name    string
		args    string
		want    trimOutput
		wantErr bool
	}{
		{
			name: "under the limit",
			args: `{"bullet": "Led the payments migration", "limit": 80}`,
			want: trimOutput{Bullet: "Led the payments migration"},
		},
		{
			name: "over the limit",
			args: `{"bullet": "Led the payments migration", "limit": 7}`,
			want: trimOutput{Bullet: "Led the", Trimmed: true},
		},
		{
			name: "limit omitted",
			args: `{"bullet": "Shipped the v2 API"}`,
			want: trimOutput{Bullet: "Shipped the v2 API"},
		},
		{
			name:    "malformed arguments",
			args:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.args))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			out, ok := result.(trimOutput)
			require.True(t, ok)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTypedTool_Execute_FunctionError(t *testing.T) {
	boom := errors.New("no bullet given")
	tool := MustNewTool("failing", "always fails",
		func(_ context.Context, in trimInput) (trimOutput, error) {
			return trimOutput{}, boom
		})

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"bullet": "x"}`))
	assert.ErrorIs(t, err, boom)
}

func TestTypedTool_TypedCall(t *testing.T) {
	tool := MustNewTool("trim_bullet", "trims", trimBullet)

	out, err := tool.TypedCall(context.Background(), trimInput{Bullet: "Managed a team of four", Limit: 9})
	require.NoError(t, err)
	assert.Equal(t, "Managed a", out.Bullet)
	assert.True(t, out.Trimmed)
}

func TestToolRegistry(t *testing.T) {
	trim := MustNewTool("trim_bullet", "trims", trimBullet)

	t.Run("register and get", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(trim)

		got, ok := registry.Get("trim_bullet")
		require.True(t, ok)
		assert.Equal(t, "trim_bullet", got.Name())
	})

	t.Run("unknown name", func(t *testing.T) {
		registry := NewToolRegistry()
		_, ok := registry.Get("no_such_tool")
		assert.False(t, ok)
	})

	t.Run("variadic register and All", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(
			MustNewTool("a", "first", trimBullet),
			MustNewTool("b", "second", trimBullet),
			MustNewTool("c", "third", trimBullet),
		)
		assert.Len(t, registry.All(), 3)
	})

	t.Run("later registration wins", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(MustNewTool("trim_bullet", "old", trimBullet))
		registry.Register(MustNewTool("trim_bullet", "new", trimBullet))

		got, ok := registry.Get("trim_bullet")
		require.True(t, ok)
		assert.Equal(t, "new", got.Description())
	})
}

func TestExecuteToolCalls(t *testing.T) {
	t.Run("no calls yields no messages", func(t *testing.T) {
		msgs, err := ExecuteToolCalls(context.Background(), nil, NewToolRegistry())
		require.NoError(t, err)
		assert.Nil(t, msgs)
	})

	t.Run("string result is passed through", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(MustNewTool("shout", "upper-cases",
			func(_ context.Context, in trimInput) (string, error) {
				return "SHOUTED: " + in.Bullet, nil
			}))

		msgs, err := ExecuteToolCalls(context.Background(), []ToolCall{
			{ID: "call-1", Name: "shout", Arguments: `{"bullet": "hello"}`},
		}, registry)

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, RoleTool, msgs[0].Role)
		assert.Equal(t, "call-1", msgs[0].ToolID)
		assert.Equal(t, "SHOUTED: hello", msgs[0].Text())
	})

	t.Run("struct result is marshaled", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(MustNewTool("trim_bullet", "trims", trimBullet))

		msgs, err := ExecuteToolCalls(context.Background(), []ToolCall{
			{ID: "call-1", Name: "trim_bullet", Arguments: `{"bullet": "Cut infra costs by 30 percent", "limit": 3}`},
		}, registry)

		require.NoError(t, err)
		require.Len(t, msgs, 1)

		var out trimOutput
		require.NoError(t, json.Unmarshal([]byte(msgs[0].Text()), &out))
		assert.Equal(t, "Cut", out.Bullet)
		assert.True(t, out.Trimmed)
	})

	t.Run("unknown tool is an error", func(t *testing.T) {
		_, err := ExecuteToolCalls(context.Background(), []ToolCall{
			{ID: "call-1", Name: "ghost", Arguments: `{}`},
		}, NewToolRegistry())

		var notFound *ToolNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ghost", notFound.Name)
	})

	t.Run("results keep call order", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(
			MustNewTool("first", "first", func(_ context.Context, in trimInput) (string, error) { return "one", nil }),
			MustNewTool("second", "second", func(_ context.Context, in trimInput) (string, error) { return "two", nil }),
		)

		msgs, err := ExecuteToolCalls(context.Background(), []ToolCall{
			{ID: "call-1", Name: "first", Arguments: `{"bullet": "a"}`},
			{ID: "call-2", Name: "second", Arguments: `{"bullet": "b"}`},
		}, registry)

		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "call-1", msgs[0].ToolID)
		assert.Equal(t, "call-2", msgs[1].ToolID)
	})

	t.Run("execution failure lands in the tool message", func(t *testing.T) {
		registry := NewToolRegistry()
		registry.Register(MustNewTool("failing", "fails",
			func(_ context.Context, in trimInput) (string, error) {
				return "", errors.New("bullet service down")
			}))

		msgs, err := ExecuteToolCalls(context.Background(), []ToolCall{
			{ID: "call-1", Name: "failing", Arguments: `{"bullet": "x"}`},
		}, registry)

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Text(), "Error:")
		assert.Contains(t, msgs[0].Text(), "bullet service down")
	})
}
