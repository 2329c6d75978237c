package runner

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume/provider"
)

func TestOperationSet(t *testing.T) {
	s := newOperationSet()

	ctx1, cancel1 := context.WithCancel(context.Background())
	require.NoError(t, s.add("b", cancel1))
	require.NoError(t, s.add("a", func() {}))

	assert.ErrorIs(t, s.add("a", func() {}), ErrDuplicateOperation)
	assert.Equal(t, []string{"a", "b"}, s.active())

	assert.True(t, s.cancel("b"))
	assert.Error(t, ctx1.Err())
	assert.False(t, s.cancel("b"))

	s.remove("a")
	assert.Empty(t, s.active())
}

// scriptedStreamer scripts CallStream by 1-based dial count.
type scriptedStreamer struct {
	mu    sync.Mutex
	dials int
	fn    func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error)
}

func (p *scriptedStreamer) Name() string { return "scripted" }

func (p *scriptedStreamer) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return nil, &provider.Error{Kind: provider.KindUnsupportedShape, Message: "call not scripted"}
}

func (p *scriptedStreamer) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	p.mu.Lock()
	p.dials++
	n := p.dials
	p.mu.Unlock()
	return p.fn(n, ctx, req)
}

func (p *scriptedStreamer) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

type fakeStream struct {
	chunks []provider.StreamChunk
	pos    int
	acc    *provider.Response
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Current() *provider.StreamChunk { return &s.chunks[s.pos-1] }
func (s *fakeStream) Err() error                     { return nil }
func (s *fakeStream) Close() error                   { s.closed = true; return nil }
func (s *fakeStream) Accumulated() *provider.Response {
	if s.acc == nil {
		return &provider.Response{}
	}
	return s.acc
}

func textChunks(texts ...string) []provider.StreamChunk {
	chunks := make([]provider.StreamChunk, 0, len(texts)+1)
	for _, txt := range texts {
		chunks = append(chunks, provider.StreamChunk{Kind: provider.ChunkContent, Text: txt})
	}
	chunks = append(chunks, provider.StreamChunk{Kind: provider.ChunkDone, FinishReason: provider.FinishReasonStop})
	return chunks
}

func TestRunner_Stream(t *testing.T) {
	inner := &fakeStream{
		chunks: textChunks("Hel", "lo"),
		acc:    &provider.Response{Content: "Hello", FinishReason: provider.FinishReasonStop},
	}
	p := &scriptedStreamer{fn: func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
		return inner, nil
	}}
	r := New(Config{})

	st, err := r.Stream(context.Background(), Operation{ID: "stream-1", Provider: p})
	require.NoError(t, err)

	var got []string
	var sawDone bool
	for st.Next() {
		c := st.Current()
		switch c.Kind {
		case provider.ChunkContent:
			got = append(got, c.Text)
		case provider.ChunkDone:
			sawDone = true
		}
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.True(t, sawDone)
	assert.Equal(t, "Hello", st.Accumulated().Content)
	assert.Empty(t, r.Active(), "operation unregistered after stream ends")
}

func TestRunner_StreamDialRetry(t *testing.T) {
	p := &scriptedStreamer{fn: func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
		if n == 1 {
			return nil, transientErr(503)
		}
		return &fakeStream{chunks: textChunks("ok")}, nil
	}}
	r := New(Config{MaxAttempts: 2})
	recordDelays(r)

	st, err := r.Stream(context.Background(), Operation{ID: "stream-1", Provider: p})
	require.NoError(t, err)
	assert.Equal(t, 2, p.dialCount())

	for st.Next() {
	}
	require.NoError(t, st.Err())
}

func TestRunner_StreamDialAuthFailsFast(t *testing.T) {
	p := &scriptedStreamer{fn: func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
		return nil, &provider.Error{Kind: provider.KindAuthFailed, Status: 401}
	}}
	r := New(Config{MaxAttempts: 3})
	recordDelays(r)

	_, err := r.Stream(context.Background(), Operation{ID: "stream-1", Provider: p})
	require.Error(t, err)
	assert.Equal(t, 1, p.dialCount())
	assert.Empty(t, r.Active())
}

func TestRunner_StreamUnsupportedProvider(t *testing.T) {
	p := &scriptedProvider{fn: func(n int, ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return okResponse("ok"), nil
	}}
	r := New(Config{})

	_, err := r.Stream(context.Background(), Operation{ID: "stream-1", Provider: p})
	require.Error(t, err)

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.KindUnsupportedShape, pe.Kind)
}

func TestRunner_StreamCancelMidway(t *testing.T) {
	inner := &fakeStream{chunks: textChunks("first", "second", "third")}
	p := &scriptedStreamer{fn: func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
		return inner, nil
	}}
	r := New(Config{})

	st, err := r.Stream(context.Background(), Operation{ID: "stream-cancel", Provider: p})
	require.NoError(t, err)

	require.True(t, st.Next())
	assert.Equal(t, "first", st.Current().Text)

	assert.True(t, r.Cancel("stream-cancel"))
	assert.False(t, st.Next())

	pe, ok := provider.AsError(st.Err())
	require.True(t, ok)
	assert.Equal(t, provider.KindCancelled, pe.Kind)
	assert.Empty(t, r.Active())
	assert.False(t, r.Cancel("stream-cancel"))
}

func TestRunner_StreamCloseReleasesOperation(t *testing.T) {
	inner := &fakeStream{chunks: textChunks("unread")}
	p := &scriptedStreamer{fn: func(n int, ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
		return inner, nil
	}}
	r := New(Config{MaxConcurrent: 1})

	st, err := r.Stream(context.Background(), Operation{ID: "stream-close", Provider: p})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.True(t, inner.closed)
	assert.Empty(t, r.Active())

	// The slot and the ID are both free again.
	st, err = r.Stream(context.Background(), Operation{ID: "stream-close", Provider: p})
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
