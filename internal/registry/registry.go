// Package registry tracks every live client connection and its
// authentication state. The event engine is the only writer; lookups are
// linear scans, which is fine at the capped connection counts the server
// admits, but callers should not assume O(1).
package registry

import (
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a connection.
type Status int

// Connection lifecycle states. Disconnected connections are removed from
// the registry rather than kept in a terminal state.
const (
	StatusConnected Status = iota + 1
	StatusAuthenticated
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// NoUserID marks a connection that has not authenticated yet.
const NoUserID = -1

// ErrPartialWrite is returned by Send when the transport accepted fewer
// bytes than the frame length.
var ErrPartialWrite = errors.New("registry: partial write")

// Transport is the write side of one client link. Both plain TCP
// connections and the WebSocket bridge satisfy it.
type Transport interface {
	Write(p []byte) (int, error)
	Close() error
}

// Connection is the server-side record of one accepted socket.
type Connection struct {
	transport   Transport
	ID          int
	UserID      int
	Username    string
	Status      Status
	RemoteAddr  string
	RemotePort  int
	ConnectedAt time.Time
	LastActive  time.Time
}

// Send writes one serialized frame to the connection's transport. A short
// write counts as a delivery failure for this recipient.
func (c *Connection) Send(data []byte) error {
	n, err := c.transport.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return ErrPartialWrite
	}
	return nil
}

// Close closes the underlying transport.
func (c *Connection) Close() error {
	return c.transport.Close()
}

// Registry is the in-memory table of active connections, keyed by
// transport handle.
type Registry struct {
	mu     sync.RWMutex
	conns  map[Transport]*Connection
	nextID int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[Transport]*Connection),
		nextID: 1,
	}
}

// Add registers a new connection in the connected state with a fresh
// sequential id and current timestamps. Adding an already-registered
// transport is a no-op; the existing record is returned.
func (r *Registry) Add(tr Transport, addr string, port int) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[tr]; ok {
		return existing
	}

	now := time.Now()
	c := &Connection{
		transport:   tr,
		ID:          r.nextID,
		UserID:      NoUserID,
		Status:      StatusConnected,
		RemoteAddr:  addr,
		RemotePort:  port,
		ConnectedAt: now,
		LastActive:  now,
	}
	r.nextID++
	r.conns[tr] = c
	return c
}

// Remove detaches and discards the connection for the given transport.
func (r *Registry) Remove(tr Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, tr)
}

// FindByTransport returns the connection registered under tr, or nil.
func (r *Registry) FindByTransport(tr Transport) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[tr]
}

// FindByUsername returns the first connection with an exact username
// match, or nil. O(n) in the number of active connections.
func (r *Registry) FindByUsername(username string) *Connection {
	if username == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		if c.Username == username {
			return c
		}
	}
	return nil
}

// FindByUserID returns the first connection bound to the given user id, or
// nil. O(n) in the number of active connections.
func (r *Registry) FindByUserID(userID int) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

// SetAuth binds a user identity to the connection and moves it to the
// authenticated state. Returns false when the transport is not registered.
func (r *Registry) SetAuth(tr Transport, userID int, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[tr]
	if !ok {
		return false
	}
	c.UserID = userID
	c.Username = username
	c.Status = StatusAuthenticated
	return true
}

// ClearAuth drops the user identity and reverts the connection to the
// connected state.
func (r *Registry) ClearAuth(tr Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[tr]; ok {
		c.UserID = NoUserID
		c.Username = ""
		c.Status = StatusConnected
	}
}

// SetStatus overwrites the lifecycle state of the connection.
func (r *Registry) SetStatus(tr Transport, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[tr]; ok {
		c.Status = status
	}
}

// Touch refreshes the connection's last-activity time.
func (r *Registry) Touch(tr Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[tr]; ok {
		c.LastActive = time.Now()
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a point-in-time list of all connections so fan-out can
// iterate without holding the registry locked during delivery.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
