package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/plumehq/plume/provider"
)

// ErrDuplicateOperation is returned when an operation ID is already in
// flight.
var ErrDuplicateOperation = errors.New("operation id already in flight")

// operationSet tracks in-flight operations by ID so they can be
// cancelled from outside the calling goroutine.
type operationSet struct {
	mu   sync.Mutex
	byID map[string]context.CancelFunc
}

func newOperationSet() *operationSet {
	return &operationSet{byID: make(map[string]context.CancelFunc)}
}

func (s *operationSet) add(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, id)
	}
	s.byID[id] = cancel
	return nil
}

func (s *operationSet) remove(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// cancel fires the operation's cancel func and reports whether the ID
// was in flight. A second cancel of the same ID returns false.
func (s *operationSet) cancel(id string) bool {
	s.mu.Lock()
	c, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	s.mu.Unlock()

	if ok {
		c()
	}
	return ok
}

func (s *operationSet) active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// managedStream wraps a provider stream so that the operation is
// unregistered and the concurrency slot released exactly once, whether
// the stream ends normally, fails, is cancelled, or is closed early.
type managedStream struct {
	inner  provider.ResponseStream
	ctx    context.Context
	op     Operation
	finish func()

	done bool
	err  error
}

func (m *managedStream) Next() bool {
	if m.done {
		return false
	}
	if m.ctx.Err() != nil {
		m.err = cancellationError(m.op, m.ctx.Err())
		m.end()
		return false
	}
	if m.inner.Next() {
		return true
	}

	m.err = m.inner.Err()
	if m.err != nil && m.ctx.Err() != nil {
		m.err = cancellationError(m.op, m.ctx.Err())
	}
	m.end()
	return false
}

func (m *managedStream) Current() *provider.StreamChunk {
	return m.inner.Current()
}

func (m *managedStream) Err() error {
	return m.err
}

func (m *managedStream) Close() error {
	m.end()
	return m.inner.Close()
}

func (m *managedStream) Accumulated() *provider.Response {
	return m.inner.Accumulated()
}

func (m *managedStream) end() {
	m.done = true
	m.finish()
}
