// Package client implements the chat relay client: connection lifecycle,
// the background receive loop, and typed senders for every command the
// server understands.
package client

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// State is the client's connection lifecycle state.
type State int

// Lifecycle states, in the order they are normally traversed.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Client API errors.
var (
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
	ErrNotAuthenticated = errors.New("client: not authenticated")
	ErrLoginRejected    = errors.New("client: login rejected")
	ErrLoginTimeout     = errors.New("client: login timed out")
)

// Handler receives every parsed frame from the server. It runs on the
// receive goroutine, so it must not block for long.
type Handler func(*protocol.Message)

// Client is a connection to one chat relay server. All methods are safe
// for concurrent use.
type Client struct {
	addr    string
	handler Handler

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	username string
	conn     net.Conn
	loginErr error

	wg sync.WaitGroup
}

// New creates a client for the given server address. The handler may be
// nil when the caller only cares about command results.
func New(addr string, handler Handler) *Client {
	c := &Client{addr: addr, handler: handler}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Username returns the name used for the active login, or the empty
// string.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Connect dials the server and starts the receive loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.cond.Broadcast()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.receiveLoop(conn)
	}()

	logger.Info("Connected to server %s", c.addr)
	return nil
}

// Disconnect closes the connection and waits for the receive loop to
// stop. Disconnecting an idle client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.username = ""
	c.state = StateDisconnected
	c.cond.Broadcast()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	logger.Info("Disconnected from server")
	return nil
}

// Login authenticates and blocks until the server confirms, rejects, or
// the timeout passes. Sending before Login returns would race the
// server's session setup, so callers get a definite answer first.
func (c *Client) Login(username, password string, timeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.username = username
	c.loginErr = nil
	c.mu.Unlock()

	frame, err := protocol.BuildLogin(username, password)
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		timedOut = true
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for c.state == StateConnected && c.loginErr == nil && !timedOut {
		c.cond.Wait()
	}

	switch {
	case c.state == StateAuthenticated:
		return nil
	case c.loginErr != nil:
		err := c.loginErr
		c.username = ""
		return err
	case c.state == StateDisconnected:
		c.username = ""
		return ErrNotConnected
	default:
		c.username = ""
		return ErrLoginTimeout
	}
}

// Logout sends the logout command and reverts to the connected state. The
// connection stays open for a later login.
func (c *Client) Logout() error {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	username := c.username
	c.mu.Unlock()

	frame, err := protocol.BuildLogout(username)
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.username = ""
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Send delivers a private message to the named user.
func (c *Client) Send(receiver, content string) error {
	return c.sendAuthenticated(func(username string) ([]byte, error) {
		return protocol.BuildText(username, receiver, content)
	})
}

// Broadcast delivers a message to every online user.
func (c *Client) Broadcast(content string) error {
	return c.sendAuthenticated(func(username string) ([]byte, error) {
		return protocol.BuildBroadcast(username, content)
	})
}

// Group delivers a message to the named group.
func (c *Client) Group(group, content string) error {
	return c.sendAuthenticated(func(username string) ([]byte, error) {
		return protocol.BuildGroup(username, group, content)
	})
}

// RequestHistory asks for stored messages exchanged with target between
// the optional start and end times.
func (c *Client) RequestHistory(target, start, end string) error {
	return c.sendAuthenticated(func(username string) ([]byte, error) {
		return protocol.BuildHistoryRequest(username, target, start, end)
	})
}

// RequestStatus asks for the server's status summary.
func (c *Client) RequestStatus() error {
	return c.sendAuthenticated(func(username string) ([]byte, error) {
		return protocol.BuildStatusRequest(username)
	})
}

func (c *Client) sendAuthenticated(build func(username string) ([]byte, error)) error {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	username := c.username
	c.mu.Unlock()

	frame, err := build(username)
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) send(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return err
	}
	return nil
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.cond.Broadcast()
	c.mu.Unlock()
}

// receiveLoop parses inbound frames, tracks login results, and forwards
// everything to the handler.
func (c *Client) receiveLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024), protocol.MaxFrameLen*2)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Parse(line)
		if err != nil {
			logger.Warn("Failed to parse server frame: %v", err)
			continue
		}

		c.trackLoginResult(msg)

		if c.handler != nil {
			c.handler(msg)
		}
	}

	// The connection is gone, whether by our Disconnect or the server's.
	c.mu.Lock()
	if c.state != StateDisconnected {
		logger.Warn("Connection lost to server")
		c.conn = nil
		c.username = ""
		c.state = StateDisconnected
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// trackLoginResult promotes the client to authenticated on a success
// response and records a rejection while a login waits.
func (c *Client) trackLoginResult(msg *protocol.Message) {
	if !msg.IsResponse() {
		return
	}

	code, ok := responseCode(msg.Content)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.username == "" {
		return
	}

	if msg.Type == protocol.TypeOK && code == protocol.CodeSuccess {
		c.state = StateAuthenticated
		logger.Info("Authenticated as %s", c.username)
		c.cond.Broadcast()
		return
	}
	if msg.Type == protocol.TypeError && code == protocol.CodeAuthFailed {
		c.loginErr = ErrLoginRejected
		c.cond.Broadcast()
	}
}

// responseCode extracts the numeric code from a CODE|MESSAGE response
// content field.
func responseCode(content string) (int, bool) {
	codeStr, _, found := strings.Cut(content, "|")
	if !found {
		return 0, false
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, false
	}
	return code, true
}
