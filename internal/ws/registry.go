package ws

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pliu/nowchat/internal/channel"
)

// ConnID identifies one live connection.
type ConnID string

// Registry tracks live connections and the chat channel each one is bound
// to. All operations are atomic with respect to each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[ConnID]*entry
	byKey   map[channel.Key]map[ConnID]*entry
	seq     uint64
}

type entry struct {
	client *Client
	pair   channel.Pair
	bound  bool
	seq    uint64
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ConnID]*entry),
		byKey:   make(map[channel.Key]map[ConnID]*entry),
	}
}

// Register allocates a fresh id for c and records it unbound.
func (r *Registry) Register(c *Client) ConnID {
	id := ConnID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c.id = id
	r.entries[id] = &entry{client: c, seq: r.seq}
	return id
}

// Bind attaches pair to the connection, replacing any previous binding.
// It reports false when id is not registered.
func (r *Registry) Bind(id ConnID, pair channel.Pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.bound {
		r.unindex(id, e)
	}
	e.pair = pair
	e.bound = true

	key := pair.Key()
	members := r.byKey[key]
	if members == nil {
		members = make(map[ConnID]*entry)
		r.byKey[key] = members
	}
	members[id] = e
	return true
}

// Unregister removes the connection. Unknown ids are ignored.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.bound {
		r.unindex(id, e)
	}
	delete(r.entries, id)
}

func (r *Registry) unindex(id ConnID, e *entry) {
	key := e.pair.Key()
	if members := r.byKey[key]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.byKey, key)
		}
	}
}

// MembersOf returns the connections bound to key in registration order.
func (r *Registry) MembersOf(key channel.Key) []*Client {
	r.mu.RLock()
	members := make([]*entry, 0, len(r.byKey[key]))
	for _, e := range r.byKey[key] {
		members = append(members, e)
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
	clients := make([]*Client, len(members))
	for i, e := range members {
		clients[i] = e.client
	}
	return clients
}

// Binding returns the pair the connection is bound to.
func (r *Registry) Binding(id ConnID) (channel.Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || !e.bound {
		return channel.Pair{}, false
	}
	return e.pair, true
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(id ConnID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Clients returns a snapshot of every registered client in registration order.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	clients := make([]*Client, len(all))
	for i, e := range all {
		clients[i] = e.client
	}
	return clients
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Bound returns how many connections have a channel binding.
func (r *Registry) Bound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, members := range r.byKey {
		n += len(members)
	}
	return n
}
