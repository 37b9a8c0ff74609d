package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// scriptServer is a single-connection fake relay driven by a per-line
// callback. The callback returns frames to write back, or nil to stay
// silent.
type scriptServer struct {
	listener net.Listener
	conns    chan net.Conn
}

func startScriptServer(t *testing.T, respond func(line string) []string) *scriptServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test listener: %v", err)
	}
	s := &scriptServer{listener: listener, conns: make(chan net.Conn, 1)}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.conns <- conn

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if respond == nil {
				continue
			}
			for _, reply := range respond(scanner.Text()) {
				if _, err := conn.Write([]byte(reply)); err != nil {
					return
				}
			}
		}
	}()

	return s
}

func (s *scriptServer) addr() string {
	return s.listener.Addr().String()
}

func okResponse(message string) string {
	return fmt.Sprintf("OK|server|client|2024-01-15 10:30:00|0|%s\n", message)
}

func errorResponse(code int, message string) string {
	return fmt.Sprintf("ERROR|server|client|2024-01-15 10:30:00|%d|%s\n", code, message)
}

// acceptLogin answers every LOGIN frame with success and ignores the
// rest.
func acceptLogin(line string) []string {
	if strings.HasPrefix(line, "LOGIN|") {
		return []string{okResponse("Login successful")}
	}
	return nil
}

// waitForState polls until the client reaches the state or the deadline
// passes.
func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for state %v, still %v", want, c.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectAndLogin(t *testing.T) {
	srv := startScriptServer(t, acceptLogin)
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Login("alice", "alice123", 2*time.Second); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Errorf("Expected authenticated state, got %v", c.State())
	}
	if c.Username() != "alice" {
		t.Errorf("Expected username alice, got %q", c.Username())
	}
}

func TestConnectTwiceFails(t *testing.T) {
	srv := startScriptServer(t, nil)
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := startScriptServer(t, func(line string) []string {
		if strings.HasPrefix(line, "LOGIN|") {
			return []string{errorResponse(1001, "Invalid username or password")}
		}
		return nil
	})
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Login("alice", "wrong", 2*time.Second); !errors.Is(err, ErrLoginRejected) {
		t.Errorf("Expected ErrLoginRejected, got %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("Rejected login should leave client connected, got %v", c.State())
	}
}

func TestLoginTimeout(t *testing.T) {
	srv := startScriptServer(t, nil)
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Login("alice", "alice123", 100*time.Millisecond); !errors.Is(err, ErrLoginTimeout) {
		t.Errorf("Expected ErrLoginTimeout, got %v", err)
	}
}

func TestSendRequiresAuthentication(t *testing.T) {
	srv := startScriptServer(t, nil)
	c := New(srv.addr(), nil)

	if err := c.Send("bob", "hi"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated before connect, got %v", err)
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Broadcast("hi all"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated before login, got %v", err)
	}
}

func TestHandlerReceivesRelayedFrames(t *testing.T) {
	received := make(chan *protocol.Message, 8)
	srv := startScriptServer(t, func(line string) []string {
		if strings.HasPrefix(line, "LOGIN|") {
			return []string{
				okResponse("Login successful"),
				"MSG|bob|alice|2024-01-15 10:31:00|welcome back\n",
			}
		}
		return nil
	})

	c := New(srv.addr(), func(msg *protocol.Message) { received <- msg })
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Login("alice", "alice123", 2*time.Second); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-received:
			if msg.Type == protocol.TypeMsg && msg.Sender == "bob" && msg.Content == "welcome back" {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for relayed frame")
		}
	}
}

func TestLogoutAllowsRelogin(t *testing.T) {
	srv := startScriptServer(t, acceptLogin)
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Login("alice", "alice123", 2*time.Second); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := c.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("Expected connected after logout, got %v", c.State())
	}

	if err := c.Login("alice", "alice123", 2*time.Second); err != nil {
		t.Fatalf("Re-login failed: %v", err)
	}
}

func TestServerDisconnectDetected(t *testing.T) {
	srv := startScriptServer(t, acceptLogin)
	c := New(srv.addr(), nil)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	conn := <-srv.conns
	_ = conn.Close()

	waitForState(t, c, StateDisconnected)
}
