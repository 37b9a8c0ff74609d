package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/dispatch"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/route"
	"github.com/Tyrowin/chatrelay/internal/session"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// Engine lifecycle errors.
var (
	// ErrServerFull is returned by Attach when the connection cap is
	// reached.
	ErrServerFull = errors.New("server: connection limit reached")
	// ErrShuttingDown is returned when the engine no longer accepts work.
	ErrShuttingDown = errors.New("server: shutting down")
)

type attachRequest struct {
	transport registry.Transport
	addr      string
	port      int
	reply     chan *registry.Connection
}

type inboundFrame struct {
	transport registry.Transport
	data      []byte
}

// Engine serializes all protocol work onto one goroutine. Listener
// goroutines hand raw frames in over channels; the engine alone touches
// the registry for writes, so no outbound write ever races another.
type Engine struct {
	cfg        *Config
	registry   *registry.Registry
	users      *store.UserStore
	auth       *session.Authenticator
	router     *route.Router
	dispatcher *dispatch.Dispatcher

	attach  chan attachRequest
	detach  chan registry.Transport
	inbound chan inboundFrame

	throttles map[registry.Transport]*throttle

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine with the demo user accounts and all
// collaborators wired. Run must be called before any listener attaches
// connections.
func NewEngine(cfg *Config) *Engine {
	users := store.NewDefaultUserStore()
	return NewEngineWithUsers(cfg, users)
}

// NewEngineWithUsers creates an engine over a caller-supplied user table.
func NewEngineWithUsers(cfg *Config, users *store.UserStore) *Engine {
	reg := registry.New()
	auth := session.NewAuthenticator(reg, users)
	router := route.NewRouter(reg)
	dispatcher := dispatch.NewDispatcher(reg, auth, router, users)
	dispatcher.SetAuthRequired(cfg.RequireAuth)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		registry:   reg,
		users:      users,
		auth:       auth,
		router:     router,
		dispatcher: dispatcher,
		attach:     make(chan attachRequest),
		detach:     make(chan registry.Transport),
		inbound:    make(chan inboundFrame, 64),
		throttles:  make(map[registry.Transport]*throttle),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the connection table for read-side inspection.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Run executes the engine loop, handling attach and detach requests and
// inbound frames until Shutdown cancels it. Call it in its own goroutine.
func (e *Engine) Run() {
	defer close(e.done)

	for {
		select {
		case <-e.ctx.Done():
			e.closeAllConnections()
			return

		case req := <-e.attach:
			req.reply <- e.handleAttach(req)

		case tr := <-e.detach:
			e.handleDetach(tr)

		case frame := <-e.inbound:
			e.handleInbound(frame)
		}
	}
}

// Attach registers a freshly accepted transport with the engine. It fails
// with ErrServerFull at the connection cap and ErrShuttingDown once the
// engine stops.
func (e *Engine) Attach(tr registry.Transport, addr string, port int) (*registry.Connection, error) {
	req := attachRequest{
		transport: tr,
		addr:      addr,
		port:      port,
		reply:     make(chan *registry.Connection, 1),
	}

	select {
	case e.attach <- req:
	case <-e.ctx.Done():
		return nil, ErrShuttingDown
	}

	select {
	case conn := <-req.reply:
		if conn == nil {
			return nil, ErrServerFull
		}
		return conn, nil
	case <-e.ctx.Done():
		return nil, ErrShuttingDown
	}
}

// Detach removes the transport from the engine. Safe to call more than
// once; repeated detaches are ignored.
func (e *Engine) Detach(tr registry.Transport) {
	select {
	case e.detach <- tr:
	case <-e.ctx.Done():
	}
}

// Submit hands one raw frame to the engine for dispatch. Frames submitted
// during shutdown are dropped.
func (e *Engine) Submit(tr registry.Transport, data []byte) {
	frame := inboundFrame{transport: tr, data: data}
	select {
	case e.inbound <- frame:
	case <-e.ctx.Done():
	}
}

// Go runs fn on an engine-tracked goroutine so Shutdown can wait for it.
// Listeners use it for their per-connection readers.
func (e *Engine) Go(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Done reports engine termination; it closes after the loop drains.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Shutdown stops the engine, closes every connection, and waits for all
// tracked goroutines to finish or the timeout to pass.
func (e *Engine) Shutdown(timeout time.Duration) error {
	logger.Info("Initiating engine shutdown")

	e.cancel()
	<-e.done

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		logger.Info("Engine shutdown completed")
		return nil
	case <-time.After(timeout):
		logger.Warn("Engine shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func (e *Engine) handleAttach(req attachRequest) *registry.Connection {
	if e.registry.Count() >= e.cfg.MaxClients {
		logger.Warn("Rejecting connection from %s:%d: limit of %d clients reached",
			req.addr, req.port, e.cfg.MaxClients)
		return nil
	}

	conn := e.registry.Add(req.transport, req.addr, req.port)
	e.throttles[req.transport] = newThrottle(e.cfg.Throttle.Burst, e.cfg.Throttle.RefillInterval)
	logger.Info("Client connected from %s:%d (conn=%d). Total clients: %d",
		req.addr, req.port, conn.ID, e.registry.Count())
	return conn
}

func (e *Engine) handleDetach(tr registry.Transport) {
	conn := e.registry.FindByTransport(tr)
	if conn == nil {
		return
	}

	username := ""
	if conn.Status == registry.StatusAuthenticated {
		username = conn.Username
	}

	e.registry.Remove(tr)
	delete(e.throttles, tr)
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		logger.Warn("Error closing connection %d: %v", conn.ID, err)
	}

	logger.Info("Client disconnected (conn=%d). Total clients: %d", conn.ID, e.registry.Count())

	// A dropped link counts as going offline even without a LOGOUT frame.
	if username != "" {
		note := protocol.PresenceMessage(username, false)
		if _, err := e.router.RouteBroadcast(note); err != nil && !errors.Is(err, route.ErrNoRecipients) {
			logger.Warn("Offline notice for %s failed: %v", username, err)
		}
	}
}

func (e *Engine) handleInbound(frame inboundFrame) {
	if th, ok := e.throttles[frame.transport]; ok && !th.allow() {
		logger.Warn("Throttling connection: %d frames per %s exceeded; discarding frame",
			e.cfg.Throttle.Burst, e.cfg.Throttle.RefillInterval)
		return
	}

	e.registry.Touch(frame.transport)
	if err := e.dispatcher.HandleFrame(frame.transport, frame.data); err != nil {
		logger.Debug("Frame rejected: %v", err)
	}
}

func (e *Engine) closeAllConnections() {
	conns := e.registry.Snapshot()
	logger.Info("Closing %d client connections", len(conns))

	for _, conn := range conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Warn("Error closing connection %d: %v", conn.ID, err)
		}
	}
}
