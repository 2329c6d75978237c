// Package conversation keeps multi-turn message histories in memory.
//
// Each conversation is identified by a UUID handed out at creation time.
// Histories live for the lifetime of the process; nothing is written to
// disk. Appends take the full set of messages for a turn so that the
// user message and the assistant reply land adjacently even when many
// turns run concurrently.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plumehq/plume/provider"
)

// NotFoundError is returned when a conversation ID is unknown,
// either because it was never created or because it was cleared.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation %s not found", e.ID)
}

// Store holds conversation histories keyed by ID.
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	convos map[uuid.UUID]*state
}

type state struct {
	mu       sync.Mutex
	messages []provider.Message
	created  time.Time
}

// NewStore returns an empty conversation store.
func NewStore() *Store {
	return &Store{convos: make(map[uuid.UUID]*state)}
}

// Create starts a new conversation seeded with the given messages
// and returns its ID.
func (s *Store) Create(initial ...provider.Message) uuid.UUID {
	id := uuid.New()
	st := &state{
		messages: append([]provider.Message(nil), initial...),
		created:  time.Now(),
	}

	s.mu.Lock()
	s.convos[id] = st
	s.mu.Unlock()
	return id
}

// Append adds one turn's messages to a conversation. Passing the user
// message and the assistant reply together keeps them adjacent in the
// history no matter how many goroutines are appending to other turns.
func (s *Store) Append(id uuid.UUID, msgs ...provider.Message) error {
	st, err := s.get(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.messages = append(st.messages, msgs...)
	st.mu.Unlock()
	return nil
}

// History returns a copy of the conversation's messages in order.
func (s *Store) History(id uuid.UUID) ([]provider.Message, error) {
	st, err := s.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]provider.Message(nil), st.messages...), nil
}

// Snapshot returns the history along with the creation time.
func (s *Store) Snapshot(id uuid.UUID) ([]provider.Message, time.Time, error) {
	st, err := s.get(id)
	if err != nil {
		return nil, time.Time{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]provider.Message(nil), st.messages...), st.created, nil
}

// Clear removes a conversation. Clearing an unknown ID is a no-op
// so that callers can clear unconditionally during cleanup.
func (s *Store) Clear(id uuid.UUID) {
	s.mu.Lock()
	delete(s.convos, id)
	s.mu.Unlock()
}

// Len reports how many conversations are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convos)
}

// IDs returns the IDs of all live conversations in unspecified order.
func (s *Store) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.convos))
	for id := range s.convos {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) get(id uuid.UUID) (*state, error) {
	s.mu.RLock()
	st, ok := s.convos[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return st, nil
}
