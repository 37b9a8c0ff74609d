// Package dispatch turns inbound frames into protocol actions. It owns the
// command table: authentication gating, sender identity checks, routing,
// and the response sent back on the originating connection.
package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/route"
	"github.com/Tyrowin/chatrelay/internal/session"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// Dispatcher processes one command at a time on behalf of the engine
// goroutine. It is not safe for concurrent use.
type Dispatcher struct {
	registry     *registry.Registry
	auth         *session.Authenticator
	router       *route.Router
	users        *store.UserStore
	authRequired bool
	started      time.Time
}

// NewDispatcher wires a dispatcher over the server's collaborators. The
// uptime reported by status requests counts from this call.
func NewDispatcher(reg *registry.Registry, auth *session.Authenticator, router *route.Router, users *store.UserStore) *Dispatcher {
	return &Dispatcher{
		registry:     reg,
		auth:         auth,
		router:       router,
		users:        users,
		authRequired: true,
		started:      time.Now(),
	}
}

// SetAuthRequired toggles the login gate for non-LOGIN commands. With the
// gate off, sender identity checks are skipped for anonymous connections
// as well.
func (d *Dispatcher) SetAuthRequired(required bool) {
	d.authRequired = required
}

// HandleFrame parses one raw frame from the transport and dispatches it.
// Malformed frames are answered with a server error response; a frame
// carrying an unknown type tag gets the dedicated unknown-command text.
func (d *Dispatcher) HandleFrame(tr registry.Transport, raw []byte) error {
	msg, err := protocol.Parse(raw)
	if err != nil {
		logger.Warn("Failed to parse frame: %v", err)
		if errors.Is(err, protocol.ErrInvalidType) {
			d.respondError(tr, protocol.CodeServerError, "Unknown command type")
		} else {
			d.respondError(tr, protocol.CodeServerError, "Failed to parse message")
		}
		return err
	}
	return d.Handle(tr, msg)
}

// Handle dispatches one parsed message. Every command except LOGIN
// requires an authenticated connection; ERROR and OK frames from clients
// are accepted without a reply.
func (d *Dispatcher) Handle(tr registry.Transport, msg *protocol.Message) error {
	logger.Debug("Handling command %s from %s (id=%d)", msg.Type, msg.Sender, msg.ID)

	if msg.IsResponse() {
		logger.Debug("Response frame received, no action needed")
		return nil
	}

	if msg.Type == protocol.TypeLogin {
		return d.handleLogin(tr, msg)
	}

	if d.authRequired && !d.auth.IsAuthenticated(tr) {
		logger.Warn("Unauthorized %s attempt", msg.Type)
		d.respondError(tr, protocol.CodeAuthFailed, "Please login first")
		return fmt.Errorf("dispatch: %s without login", msg.Type)
	}

	switch msg.Type {
	case protocol.TypeLogout:
		return d.handleLogout(tr, msg)
	case protocol.TypeMsg:
		return d.handlePrivate(tr, msg)
	case protocol.TypeBroadcast:
		return d.handleBroadcast(tr, msg)
	case protocol.TypeGroup:
		return d.handleGroup(tr, msg)
	case protocol.TypeHistory:
		return d.handleHistory(tr, msg)
	case protocol.TypeStatus:
		return d.handleStatus(tr, msg)
	default:
		logger.Warn("Unknown command type: %s", msg.Type)
		d.respondError(tr, protocol.CodeServerError, "Unknown command type")
		return fmt.Errorf("dispatch: unknown command %q", msg.Type)
	}
}

// handleLogin authenticates the connection. The username travels in the
// sender field and the password in the content field.
func (d *Dispatcher) handleLogin(tr registry.Transport, msg *protocol.Message) error {
	username := msg.Sender
	password := msg.Content

	if username == "" || password == "" {
		logger.Warn("Login request missing username or password")
		d.respondError(tr, protocol.CodeAuthFailed, "Missing username or password")
		return errors.New("dispatch: incomplete login")
	}

	if !d.auth.Authenticate(tr, username, password) {
		logger.Warn("Login failed for user %s", username)
		d.respondError(tr, protocol.CodeAuthFailed, "Invalid username or password")
		return errors.New("dispatch: login rejected")
	}

	logger.Info("User logged in: %s", username)
	d.respondSuccess(tr, "Login successful")
	d.announcePresence(username, true)
	return nil
}

// handleLogout reverts the connection to anonymous and confirms.
func (d *Dispatcher) handleLogout(tr registry.Transport, msg *protocol.Message) error {
	username := d.auth.Username(tr)

	d.auth.Logout(tr)
	d.respondSuccess(tr, "Logout successful")
	d.announcePresence(username, false)
	logger.Info("User logged out: %s", username)
	return nil
}

// handlePrivate routes a one-to-one message after checking that the frame's
// sender field matches the connection's identity.
func (d *Dispatcher) handlePrivate(tr registry.Transport, msg *protocol.Message) error {
	if err := d.checkSender(tr, msg); err != nil {
		return err
	}

	logger.Debug("Private message: %s -> %s", msg.Sender, msg.Receiver)

	err := d.router.RoutePrivate(msg)
	switch {
	case err == nil:
		d.respondSuccess(tr, "Message sent successfully")
		return nil
	case errors.Is(err, route.ErrReceiverOffline):
		d.respondError(tr, protocol.CodeUserOffline, "User is offline")
	case errors.Is(err, route.ErrReceiverNotFound):
		d.respondError(tr, protocol.CodeUserNotFound, "User not found")
	default:
		d.respondError(tr, protocol.CodeServerError, "Failed to send message")
	}
	return err
}

// handleBroadcast fans the message out to every other authenticated
// connection.
func (d *Dispatcher) handleBroadcast(tr registry.Transport, msg *protocol.Message) error {
	if err := d.checkSender(tr, msg); err != nil {
		return err
	}

	logger.Debug("Broadcast message from %s", msg.Sender)

	if _, err := d.router.RouteBroadcast(msg); err != nil {
		d.respondError(tr, protocol.CodeServerError, "Failed to broadcast message")
		return err
	}

	d.respondSuccess(tr, "Broadcast sent successfully")
	return nil
}

// handleGroup answers group traffic with the not-implemented error. The
// sender check still applies so a future group feature inherits it.
func (d *Dispatcher) handleGroup(tr registry.Transport, msg *protocol.Message) error {
	if err := d.checkSender(tr, msg); err != nil {
		return err
	}

	logger.Debug("Group message: %s -> %s", msg.Sender, msg.Receiver)
	d.respondError(tr, protocol.CodeServerError, "Group feature not implemented yet")
	return errors.New("dispatch: group feature not implemented")
}

// handleHistory parses the TARGET|START|END query from the content field
// and answers with the not-implemented error.
func (d *Dispatcher) handleHistory(tr registry.Transport, msg *protocol.Message) error {
	parts := strings.SplitN(msg.Content, "|", 3)
	target, start, end := "all", "none", "none"
	if len(parts) > 0 && parts[0] != "" {
		target = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		start = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		end = parts[2]
	}
	logger.Debug("History request: user=%s, target=%s, start=%s, end=%s",
		msg.Sender, target, start, end)

	d.respondError(tr, protocol.CodeServerError, "History feature not implemented yet")
	return errors.New("dispatch: history feature not implemented")
}

// handleStatus answers with a human-readable summary of server state.
func (d *Dispatcher) handleStatus(tr registry.Transport, msg *protocol.Message) error {
	logger.Debug("Status request from %s", msg.Sender)

	label := "Offline"
	if d.auth.IsAuthenticated(tr) {
		label = "Online"
	}

	status := fmt.Sprintf(
		"Server Status:\n"+
			"- Uptime: %s\n"+
			"- Connected clients: %d\n"+
			"- Online users: %d\n"+
			"- Total users: %d\n"+
			"- Your status: %s",
		time.Since(d.started).Round(time.Second),
		d.registry.Count(),
		len(d.auth.OnlineUsernames()),
		d.users.Count(),
		label)

	d.respondSuccess(tr, status)
	return nil
}

// checkSender rejects frames whose sender field does not match the
// connection's authenticated identity.
func (d *Dispatcher) checkSender(tr registry.Transport, msg *protocol.Message) error {
	bound := d.auth.Username(tr)
	if !d.authRequired && bound == "" {
		return nil
	}
	if bound != msg.Sender {
		logger.Warn("Sender mismatch: expected %s, got %s", bound, msg.Sender)
		d.respondError(tr, protocol.CodeAuthFailed, "Sender mismatch")
		return fmt.Errorf("dispatch: sender mismatch %q != %q", msg.Sender, bound)
	}
	return nil
}

// announcePresence broadcasts an online or offline notice for the user.
// Delivery problems are logged, never surfaced; presence is best effort.
func (d *Dispatcher) announcePresence(username string, online bool) {
	if username == "" {
		return
	}
	note := protocol.PresenceMessage(username, online)
	if _, err := d.router.RouteBroadcast(note); err != nil && !errors.Is(err, route.ErrNoRecipients) {
		logger.Warn("Presence broadcast for %s failed: %v", username, err)
	}
}

func (d *Dispatcher) respondSuccess(tr registry.Transport, message string) {
	data, err := protocol.BuildSuccess(message)
	if err != nil {
		logger.Error("Failed to build success response: %v", err)
		return
	}
	d.reply(tr, data)
}

func (d *Dispatcher) respondError(tr registry.Transport, code int, message string) {
	data, err := protocol.BuildError(code, message)
	if err != nil {
		logger.Error("Failed to build error response: %v", err)
		return
	}
	d.reply(tr, data)
}

func (d *Dispatcher) reply(tr registry.Transport, data []byte) {
	conn := d.registry.FindByTransport(tr)
	if conn == nil {
		logger.Warn("Dropping response for unregistered transport")
		return
	}
	if err := conn.Send(data); err != nil {
		logger.Error("Failed to send response to connection %d: %v", conn.ID, err)
	}
}
