package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume/provider"
)

func TestStore_CreateAndHistory(t *testing.T) {
	s := NewStore()

	id := s.Create(
		provider.Message{Role: provider.RoleSystem, Parts: []provider.Part{provider.TextPart("You are a resume editor.")}},
		provider.Message{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart("Tighten my summary.")}},
		provider.Message{Role: provider.RoleAssistant, Parts: []provider.Part{provider.TextPart("Here is a tighter version.")}},
	)

	history, err := s.History(id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, provider.RoleSystem, history[0].Role)
	assert.Equal(t, provider.RoleUser, history[1].Role)
	assert.Equal(t, provider.RoleAssistant, history[2].Role)
}

func TestStore_UnknownID(t *testing.T) {
	s := NewStore()
	unknown := uuid.New()

	_, err := s.History(unknown)
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, unknown, nf.ID)

	assert.Error(t, s.Append(unknown, provider.Message{Role: provider.RoleUser}))
}

func TestStore_AppendOrder(t *testing.T) {
	s := NewStore()
	id := s.Create(provider.Message{Role: provider.RoleSystem, Parts: []provider.Part{provider.TextPart("sys")}})

	for i := 0; i < 3; i++ {
		err := s.Append(id,
			provider.Message{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart(fmt.Sprintf("question %d", i))}},
			provider.Message{Role: provider.RoleAssistant, Parts: []provider.Part{provider.TextPart(fmt.Sprintf("answer %d", i))}},
		)
		require.NoError(t, err)
	}

	history, err := s.History(id)
	require.NoError(t, err)
	require.Len(t, history, 7)

	// Strict alternation after the system message.
	for i := 1; i < len(history); i += 2 {
		assert.Equal(t, provider.RoleUser, history[i].Role, "index %d", i)
		assert.Equal(t, provider.RoleAssistant, history[i+1].Role, "index %d", i+1)
	}
}

func TestStore_ConcurrentAppendsKeepPairsAdjacent(t *testing.T) {
	s := NewStore()
	id := s.Create()

	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tag := fmt.Sprintf("turn %d", n)
			err := s.Append(id,
				provider.Message{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart(tag)}},
				provider.Message{Role: provider.RoleAssistant, Parts: []provider.Part{provider.TextPart(tag)}},
			)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.History(id)
	require.NoError(t, err)
	require.Len(t, history, turns*2)

	for i := 0; i < len(history); i += 2 {
		require.Equal(t, provider.RoleUser, history[i].Role)
		require.Equal(t, provider.RoleAssistant, history[i+1].Role)
		assert.Equal(t, history[i].Text(), history[i+1].Text(), "user and assistant of a turn stay adjacent")
	}
}

func TestStore_HistoryReturnsCopy(t *testing.T) {
	s := NewStore()
	id := s.Create(provider.Message{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart("original")}})

	history, err := s.History(id)
	require.NoError(t, err)
	history[0] = provider.Message{Role: provider.RoleAssistant}

	fresh, err := s.History(id)
	require.NoError(t, err)
	assert.Equal(t, provider.RoleUser, fresh[0].Role)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	id := s.Create()
	require.Equal(t, 1, s.Len())

	s.Clear(id)
	assert.Equal(t, 0, s.Len())

	_, err := s.History(id)
	assert.Error(t, err)

	// Clearing again is a no-op.
	s.Clear(id)
	s.Clear(uuid.New())
}

func TestStore_IDs(t *testing.T) {
	s := NewStore()
	a := s.Create()
	b := s.Create()

	ids := s.IDs()
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)
}
