package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/nowchat/internal/channel"
)

func TestRegistry_RegisterAssignsUniqueIDs(t *testing.T) {
	r := NewRegistry()
	a, b := &Client{}, &Client{}

	idA, idB := r.Register(a), r.Register(b)

	assert.NotEmpty(t, idA)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, idA, a.ID())
	assert.Equal(t, 2, r.Len())

	_, bound := r.Binding(idA)
	assert.False(t, bound)
}

func TestRegistry_MembersOfInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = &Client{}
		r.Register(clients[i])
	}

	// Bind in reverse so map order and bind order both differ from
	// registration order.
	for i := len(clients) - 1; i >= 0; i-- {
		pair := channel.Pair{A: "alice", B: "bob"}
		if i%2 == 1 {
			pair = channel.Pair{A: "bob", B: "alice"}
		}
		require.True(t, r.Bind(clients[i].ID(), pair))
	}

	assert.Equal(t, clients, r.MembersOf(channel.Canonicalize("alice", "bob")))
	assert.Empty(t, r.MembersOf(channel.Canonicalize("carol", "dave")))
}

func TestRegistry_Rebind(t *testing.T) {
	r := NewRegistry()
	c := &Client{}
	id := r.Register(c)

	require.True(t, r.Bind(id, channel.Pair{A: "alice", B: "bob"}))
	require.True(t, r.Bind(id, channel.Pair{A: "carol", B: "dave"}))

	assert.Empty(t, r.MembersOf(channel.Canonicalize("alice", "bob")))
	assert.Equal(t, []*Client{c}, r.MembersOf(channel.Canonicalize("dave", "carol")))
	assert.Equal(t, 1, r.Bound())

	pair, ok := r.Binding(id)
	require.True(t, ok)
	assert.Equal(t, channel.Pair{A: "carol", B: "dave"}, pair)
}

func TestRegistry_BindUnknown(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Bind("missing", channel.Pair{A: "a", B: "b"}))
	assert.Equal(t, 0, r.Bound())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	c := &Client{}
	id := r.Register(c)
	r.Bind(id, channel.Pair{A: "alice", B: "bob"})

	r.Unregister(id)
	r.Unregister(id)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Bound())
	assert.Empty(t, r.MembersOf(channel.Canonicalize("alice", "bob")))
	_, ok := r.Lookup(id)
	assert.False(t, ok)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &Client{}
			id := r.Register(c)
			r.Bind(id, channel.Pair{A: "alice", B: "bob"})
			r.MembersOf(channel.Canonicalize("alice", "bob"))
			if i%2 == 0 {
				r.Unregister(id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	assert.Len(t, r.MembersOf(channel.Canonicalize("bob", "alice")), 25)
	assert.Len(t, r.Clients(), 25)
}
