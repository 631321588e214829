package realtime

import (
	"sync"

	"checkout-service/internal/util"

	"github.com/google/uuid"
)

// Message is one server-sent event
type Message struct {
	Event string
	Data  []byte
}

// Conn is a live client stream. Messages are buffered; a client that falls
// behind loses messages rather than blocking senders.
type Conn struct {
	ID      string
	OwnerID int64

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Messages returns the stream of messages for this connection
func (c *Conn) Messages() <-chan Message {
	return c.send
}

// Done is closed once the connection is removed from its registry
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// offer queues m without blocking and reports whether it was queued
func (c *Conn) offer(m Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

// Registry tracks open connections by owner. It is created by the process
// and shared by the HTTP stream handler and the hub.
type Registry struct {
	mu      sync.RWMutex
	byOwner map[int64]map[string]*Conn
	buffer  int
}

// NewRegistry creates a registry whose connections buffer up to buffer messages
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = 16
	}
	return &Registry{
		byOwner: make(map[int64]map[string]*Conn),
		buffer:  buffer,
	}
}

// Add opens a connection for ownerID
func (r *Registry) Add(ownerID int64) *Conn {
	c := &Conn{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		send:    make(chan Message, r.buffer),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byOwner[ownerID]
	if !ok {
		conns = make(map[string]*Conn)
		r.byOwner[ownerID] = conns
	}
	conns[c.ID] = c
	util.RealtimeConnections.Inc()
	return c
}

// Remove closes a connection. Removing twice is a no-op.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byOwner[c.OwnerID]
	if !ok {
		return
	}
	if _, ok := conns[c.ID]; !ok {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(r.byOwner, c.OwnerID)
	}
	c.closeOnce.Do(func() { close(c.done) })
	util.RealtimeConnections.Dec()
}

// Lookup returns the open connections of ownerID
func (r *Registry) Lookup(ownerID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.byOwner[ownerID]))
	for _, c := range r.byOwner[ownerID] {
		conns = append(conns, c)
	}
	return conns
}

// All returns every open connection
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Conn
	for _, owned := range r.byOwner {
		for _, c := range owned {
			conns = append(conns, c)
		}
	}
	return conns
}

// Len returns the number of open connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, owned := range r.byOwner {
		n += len(owned)
	}
	return n
}

// Close removes every connection, ending their streams
func (r *Registry) Close() {
	for _, c := range r.All() {
		r.Remove(c)
	}
}
