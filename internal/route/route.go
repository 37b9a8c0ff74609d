// Package route delivers parsed messages to their recipient connections.
// The router never interprets command semantics; the dispatcher decides
// what to route and maps routing errors to response codes.
package route

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// Routing failures, in the order the dispatcher maps them to codes.
var (
	// ErrReceiverOffline means no authenticated connection carries the
	// receiver's username. Unknown usernames also land here; presence is
	// checked before existence.
	ErrReceiverOffline = errors.New("route: receiver offline")
	// ErrReceiverNotFound means the receiver passed the presence check but
	// the connection vanished before delivery.
	ErrReceiverNotFound = errors.New("route: receiver not found")
	// ErrDeliveryFailed wraps a transport error on the recipient's link.
	ErrDeliveryFailed = errors.New("route: delivery failed")
	// ErrNoRecipients means a broadcast reached nobody.
	ErrNoRecipients = errors.New("route: no recipients")
)

// Router fans messages out over the connection registry.
type Router struct {
	registry *registry.Registry
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// RoutePrivate delivers the message to the single connection whose
// username matches the receiver. The presence check runs first, so a
// username nobody holds reports offline rather than unknown.
func (r *Router) RoutePrivate(m *protocol.Message) error {
	target := r.registry.FindByUsername(m.Receiver)
	if target == nil || target.Status != registry.StatusAuthenticated {
		logger.Debug("Private message from %s to offline user %s", m.Sender, m.Receiver)
		return ErrReceiverOffline
	}

	data, err := protocol.Serialize(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	// Re-resolve under the send in case the target dropped between the
	// presence check and here.
	target = r.registry.FindByUsername(m.Receiver)
	if target == nil {
		return ErrReceiverNotFound
	}

	if err := target.Send(data); err != nil {
		logger.Warn("Delivery to %s failed: %v", m.Receiver, err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	m.Delivered = true
	logger.Debug("Delivered message %d from %s to %s", m.ID, m.Sender, m.Receiver)
	return nil
}

// RouteBroadcast delivers the message to every authenticated connection
// except the sender's own. The frame is serialized once and shared across
// recipients. Per-recipient failures are logged and skipped; the broadcast
// succeeds when at least one recipient received it.
func (r *Router) RouteBroadcast(m *protocol.Message) (int, error) {
	data, err := protocol.Serialize(m)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	delivered := 0
	for _, c := range r.registry.Snapshot() {
		if c.Status != registry.StatusAuthenticated {
			continue
		}
		if c.Username == m.Sender {
			continue
		}
		if err := c.Send(data); err != nil {
			logger.Warn("Broadcast delivery to %s failed: %v", c.Username, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return 0, ErrNoRecipients
	}

	m.Delivered = true
	logger.Debug("Broadcast message %d from %s reached %d recipients", m.ID, m.Sender, delivered)
	return delivered, nil
}
