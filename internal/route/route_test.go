package route

import (
	"errors"
	"strings"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

type captureTransport struct {
	frames  [][]byte
	failErr error
}

func (c *captureTransport) Write(p []byte) (int, error) {
	if c.failErr != nil {
		return 0, c.failErr
	}
	c.frames = append(c.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (c *captureTransport) Close() error { return nil }

func addAuthenticated(reg *registry.Registry, tr registry.Transport, userID int, username string) {
	reg.Add(tr, "127.0.0.1", 40000+userID)
	reg.SetAuth(tr, userID, username)
}

// TestRoutePrivateDelivers verifies delivery to the named receiver and the
// delivered flag.
func TestRoutePrivateDelivers(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)
	trBob := &captureTransport{}
	addAuthenticated(reg, trBob, 1001, "bob")

	msg := &protocol.Message{
		Type:      protocol.TypeMsg,
		Sender:    "alice",
		Receiver:  "bob",
		Timestamp: "2024-01-15 10:30:00",
		Content:   "hello bob",
	}

	if err := router.RoutePrivate(msg); err != nil {
		t.Fatalf("RoutePrivate failed: %v", err)
	}

	if len(trBob.frames) != 1 {
		t.Fatalf("Expected 1 frame at bob, got %d", len(trBob.frames))
	}
	frame := string(trBob.frames[0])
	if !strings.HasPrefix(frame, "MSG|alice|bob|") || !strings.HasSuffix(frame, "hello bob\n") {
		t.Errorf("Unexpected frame: %q", frame)
	}
	if !msg.Delivered {
		t.Error("Message should be marked delivered")
	}
}

// TestRoutePrivateOfflineReceiver verifies both unknown and merely
// connected receivers report offline.
func TestRoutePrivateOfflineReceiver(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	// Connected but never authenticated.
	trAnon := &captureTransport{}
	reg.Add(trAnon, "127.0.0.1", 40001)

	msg := &protocol.Message{Type: protocol.TypeMsg, Sender: "alice", Receiver: "bob", Content: "hi"}
	if err := router.RoutePrivate(msg); !errors.Is(err, ErrReceiverOffline) {
		t.Errorf("Expected ErrReceiverOffline for unknown receiver, got %v", err)
	}
	if msg.Delivered {
		t.Error("Undelivered message should not be marked delivered")
	}
	if len(trAnon.frames) != 0 {
		t.Error("Anonymous connection must not receive private traffic")
	}
}

// TestRoutePrivateDeliveryFailure verifies transport errors surface as
// delivery failures.
func TestRoutePrivateDeliveryFailure(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)
	trBob := &captureTransport{failErr: errors.New("broken pipe")}
	addAuthenticated(reg, trBob, 1001, "bob")

	msg := &protocol.Message{Type: protocol.TypeMsg, Sender: "alice", Receiver: "bob", Content: "hi"}
	if err := router.RoutePrivate(msg); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected ErrDeliveryFailed, got %v", err)
	}
}

// TestRouteBroadcast verifies fan-out skips the sender and anonymous
// connections and reports the delivery count.
func TestRouteBroadcast(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	trAlice := &captureTransport{}
	trBob := &captureTransport{}
	trCharlie := &captureTransport{}
	trAnon := &captureTransport{}
	addAuthenticated(reg, trAlice, 1000, "alice")
	addAuthenticated(reg, trBob, 1001, "bob")
	addAuthenticated(reg, trCharlie, 1002, "charlie")
	reg.Add(trAnon, "127.0.0.1", 40099)

	msg := &protocol.Message{
		Type:      protocol.TypeBroadcast,
		Sender:    "alice",
		Receiver:  protocol.ReceiverBroadcast,
		Timestamp: "2024-01-15 10:30:00",
		Content:   "hello everyone",
	}

	n, err := router.RouteBroadcast(msg)
	if err != nil {
		t.Fatalf("RouteBroadcast failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deliveries, got %d", n)
	}
	if len(trAlice.frames) != 0 {
		t.Error("Sender must not receive its own broadcast")
	}
	if len(trAnon.frames) != 0 {
		t.Error("Anonymous connection must not receive broadcasts")
	}
	if len(trBob.frames) != 1 || len(trCharlie.frames) != 1 {
		t.Error("Authenticated peers should each receive one frame")
	}
	if !msg.Delivered {
		t.Error("Broadcast should be marked delivered")
	}
}

// TestRouteBroadcastPartialFailure verifies one broken recipient does not
// sink the whole broadcast.
func TestRouteBroadcastPartialFailure(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	trBob := &captureTransport{failErr: errors.New("broken pipe")}
	trCharlie := &captureTransport{}
	addAuthenticated(reg, trBob, 1001, "bob")
	addAuthenticated(reg, trCharlie, 1002, "charlie")

	msg := &protocol.Message{Type: protocol.TypeBroadcast, Sender: "alice", Receiver: "*", Content: "hi"}
	n, err := router.RouteBroadcast(msg)
	if err != nil {
		t.Fatalf("Expected partial success, got %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 delivery, got %d", n)
	}
}

// TestRouteBroadcastNoRecipients verifies an empty room is an error.
func TestRouteBroadcastNoRecipients(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	trAlice := &captureTransport{}
	addAuthenticated(reg, trAlice, 1000, "alice")

	msg := &protocol.Message{Type: protocol.TypeBroadcast, Sender: "alice", Receiver: "*", Content: "hi"}
	if _, err := router.RouteBroadcast(msg); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Expected ErrNoRecipients, got %v", err)
	}
}
