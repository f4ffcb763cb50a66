package pubsub

import (
	"errors"
	"sync"
)

// ErrNotRegistered is returned for subscription changes on a socket the
// map has never seen, or has already removed.
var ErrNotRegistered = errors.New("socket not registered")

type socketEntry struct {
	socket *Socket
	userID string
	// topics is a list, not a set: a duplicate subscribe adds a second
	// entry here while the topic index keeps a single membership. One
	// unsubscribe purges every copy.
	topics []Topic
}

// Map is the subscription registry: who is connected, what each socket
// subscribes to, and which sockets belong to each user. All three indexes
// mutate together under one lock so they can never disagree.
type Map struct {
	mu      sync.RWMutex
	topics  map[Topic]map[*Socket]struct{}
	sockets map[string]*socketEntry
	users   map[string][]*Socket
}

func NewMap() *Map {
	return &Map{
		topics:  make(map[Topic]map[*Socket]struct{}),
		sockets: make(map[string]*socketEntry),
		users:   make(map[string][]*Socket),
	}
}

// AddSocket registers a socket under a user. Re-adding a known socket is
// a no-op; the return value says whether anything changed.
func (m *Map) AddSocket(userID string, s *Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sockets[s.ID()]; ok {
		return false
	}
	m.sockets[s.ID()] = &socketEntry{socket: s, userID: userID}
	m.users[userID] = append(m.users[userID], s)
	return true
}

// RemoveSocket drops a socket from every index: its subscriptions, the
// socket index and the user's list. Removing an unknown socket is a no-op.
func (m *Map) RemoveSocket(userID, socketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sockets[socketID]
	if !ok {
		return false
	}
	for _, t := range entry.topics {
		m.dropSubscriber(t, entry.socket)
	}
	delete(m.sockets, socketID)

	list := m.users[userID]
	kept := list[:0]
	for _, s := range list {
		if s != entry.socket {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(m.users, userID)
	} else {
		m.users[userID] = kept
	}
	return true
}

// Subscribe adds the socket to a topic's subscriber set and records the
// topic on the socket's entry.
func (m *Map) Subscribe(socketID string, t Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sockets[socketID]
	if !ok {
		return ErrNotRegistered
	}
	entry.topics = append(entry.topics, t)

	set, ok := m.topics[t]
	if !ok {
		set = make(map[*Socket]struct{})
		m.topics[t] = set
	}
	set[entry.socket] = struct{}{}
	return nil
}

// Unsubscribe removes the socket from a topic, purging every recorded
// copy of the subscription. Unsubscribing from a topic the socket never
// joined is a no-op.
func (m *Map) Unsubscribe(socketID string, t Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sockets[socketID]
	if !ok {
		return ErrNotRegistered
	}
	kept := entry.topics[:0]
	for _, have := range entry.topics {
		if have != t {
			kept = append(kept, have)
		}
	}
	entry.topics = kept
	m.dropSubscriber(t, entry.socket)
	return nil
}

// dropSubscriber must be called with the lock held.
func (m *Map) dropSubscriber(t Topic, s *Socket) {
	set, ok := m.topics[t]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(m.topics, t)
	}
}

// SubscribersOf returns a snapshot of the sockets subscribed to a topic.
func (m *Map) SubscribersOf(t Topic) []*Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.topics[t]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Socket, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// SocketsOfUser returns a snapshot of a user's connected sockets.
func (m *Map) SocketsOfUser(userID string) []*Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.users[userID]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Socket, len(list))
	copy(out, list)
	return out
}

// AllSockets returns a snapshot of every registered socket.
func (m *Map) AllSockets() []*Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Socket, 0, len(m.sockets))
	for _, entry := range m.sockets {
		out = append(out, entry.socket)
	}
	return out
}

// NumSockets reports how many sockets are registered.
func (m *Map) NumSockets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sockets)
}

// NumTopics reports how many topics currently have subscribers.
func (m *Map) NumTopics() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}
