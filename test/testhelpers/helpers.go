// Package testhelpers provides common utilities for integration testing
// the chat relay server.
//
// It starts real engines and listeners on ephemeral ports and wraps raw
// TCP connections with frame-level helpers so tests read as protocol
// conversations rather than socket plumbing.
package testhelpers

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/server"
)

// Relay is a running server instance under test.
type Relay struct {
	Addr   string
	Engine *server.Engine
	Config *server.Config
}

// StartRelay boots an engine with the demo accounts and a TCP listener on
// an ephemeral port. Everything is torn down in test cleanup.
func StartRelay(t *testing.T, mutate func(*server.Config)) *Relay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Port = 0
	cfg.LogPath = ""
	if mutate != nil {
		mutate(cfg)
	}

	engine := server.NewEngine(cfg)
	go engine.Run()

	tcpServer := server.NewTCPServer(engine, cfg)
	if err := tcpServer.Listen(); err != nil {
		t.Fatalf("Failed to start TCP listener: %v", err)
	}
	go func() { _ = tcpServer.Serve() }()

	t.Cleanup(func() {
		tcpServer.Stop()
		_ = engine.Shutdown(2 * time.Second)
	})

	return &Relay{
		Addr:   tcpServer.BoundAddr().String(),
		Engine: engine,
		Config: cfg,
	}
}

// LineClient is a raw line-protocol connection to a relay under test.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects a LineClient to the relay address.
func Dial(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &LineClient{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes one frame; the trailing newline must be included.
func (c *LineClient) Send(t *testing.T, frame string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(frame)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// ReadFrame returns the next newline-terminated frame within the timeout.
func (c *LineClient) ReadFrame(t *testing.T) string {
	t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return line
}

// Expect reads frames until one contains the substring. Unrelated frames
// (presence notices and similar) are skipped.
func (c *LineClient) Expect(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := c.ReadFrame(t)
		if strings.Contains(frame, substr) {
			return frame
		}
	}
	t.Fatalf("Timed out waiting for frame containing %q", substr)
	return ""
}

// ExpectClosed asserts the server ends the connection.
func (c *LineClient) ExpectClosed(t *testing.T) {
	t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Fatal("Expected the server to close the connection")
	}
}

// Close ends the connection from the client side.
func (c *LineClient) Close() {
	_ = c.conn.Close()
}

// Login performs the login exchange and fails the test on rejection.
func (c *LineClient) Login(t *testing.T, username, password string) {
	t.Helper()
	c.Send(t, fmt.Sprintf("LOGIN|%s|server|2024-01-15 10:30:00|%s\n", username, password))
	c.Expect(t, "Login successful")
}

// ConnectWebSocket opens a WebSocket connection with the given Origin
// header.
func ConnectWebSocket(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ExpectWebSocketFrame reads WebSocket messages until one contains the
// substring.
func ExpectWebSocketFrame(t *testing.T, conn *websocket.Conn, substr string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read WebSocket frame: %v", err)
		}
		if strings.Contains(string(data), substr) {
			return string(data)
		}
	}
	t.Fatalf("Timed out waiting for WebSocket frame containing %q", substr)
	return ""
}
