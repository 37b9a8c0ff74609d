package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

// startGateway serves the relay's WebSocket gateway over httptest and
// returns the base URL.
func startGateway(t *testing.T, relay *testhelpers.Relay) *httptest.Server {
	t.Helper()
	gateway := server.NewGateway(relay.Engine, relay.Config)
	ts := httptest.NewServer(gateway.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// TestHealthEndpoint verifies the gateway's health check.
func TestHealthEndpoint(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)
	ts := startGateway(t, relay)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "text/plain" {
		t.Errorf("Expected content type text/plain, got %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "Chat relay server is running") {
		t.Errorf("Unexpected health body: %q", body)
	}
}

// TestWebSocketLogin verifies the full login exchange over the gateway.
func TestWebSocketLogin(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})
	ts := startGateway(t, relay)

	conn := testhelpers.ConnectWebSocket(t, wsURL(ts), "http://localhost")
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte("LOGIN|alice|server|2024-01-15 10:30:00|alice123\n")); err != nil {
		t.Fatalf("Failed to send login: %v", err)
	}

	testhelpers.ExpectWebSocketFrame(t, conn, "Login successful")
}

// TestWebSocketRejectsDisallowedOrigin verifies the origin policy blocks
// the upgrade.
func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"https://chat.example.com"}
	})
	ts := startGateway(t, relay)

	dialer := websocket.Dialer{}
	headers := http.Header{}
	headers.Set("Origin", "https://evil.example.com")

	conn, resp, err := dialer.Dial(wsURL(ts), headers)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected the upgrade to be refused")
	}
	if resp != nil {
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected status %d, got %d", http.StatusForbidden, resp.StatusCode)
		}
	}
}

// TestCrossTransportBroadcast verifies a TCP client and a WebSocket
// client share the same room.
func TestCrossTransportBroadcast(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})
	ts := startGateway(t, relay)

	tcpClient := testhelpers.Dial(t, relay.Addr)
	tcpClient.Login(t, "alice", "alice123")

	wsConn := testhelpers.ConnectWebSocket(t, wsURL(ts), "http://localhost")
	if err := wsConn.WriteMessage(websocket.TextMessage,
		[]byte("LOGIN|bob|server|2024-01-15 10:30:00|bob123\n")); err != nil {
		t.Fatalf("Failed to send login: %v", err)
	}
	testhelpers.ExpectWebSocketFrame(t, wsConn, "Login successful")

	tcpClient.Send(t, "BROADCAST|alice|*|2024-01-15 10:30:00|hello from tcp\n")
	testhelpers.ExpectWebSocketFrame(t, wsConn, "hello from tcp")

	if err := wsConn.WriteMessage(websocket.TextMessage,
		[]byte("MSG|bob|alice|2024-01-15 10:30:00|hello from ws\n")); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
	tcpClient.Expect(t, "hello from ws")
}
