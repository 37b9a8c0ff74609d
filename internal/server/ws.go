package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// wsTransport adapts a WebSocket connection to the registry's Transport.
// Every protocol frame travels as one text message. The mutex keeps the
// engine's writes and the close handshake off each other; gorilla allows
// only one concurrent writer.
type wsTransport struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func (w *wsTransport) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return 0, err
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// Gateway bridges WebSocket clients into the engine so browser clients
// speak the same line protocol as TCP clients.
type Gateway struct {
	engine     *Engine
	cfg        *Config
	policy     *originPolicy
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewGateway creates the WebSocket front end for the engine.
func NewGateway(engine *Engine, cfg *Config) *Gateway {
	g := &Gateway{
		engine: engine,
		cfg:    cfg,
		policy: newOriginPolicy(cfg.AllowedOrigins),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.policy.check,
	}
	return g
}

// Routes configures and returns the gateway's HTTP mux with the health
// check and WebSocket endpoints.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.healthHandler)
	mux.HandleFunc("/ws", g.webSocketHandler)
	return mux
}

// Start runs the gateway's HTTP server and blocks until shutdown.
func (g *Gateway) Start() error {
	g.httpServer = &http.Server{
		Addr:         g.cfg.WSAddr(),
		Handler:      g.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("WebSocket gateway started on %s", g.cfg.WSAddr())

	var err error
	if g.cfg.TLSEnabled() {
		err = g.httpServer.ListenAndServeTLS(g.cfg.TLSCert, g.cfg.TLSKey)
	} else {
		err = g.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting upgrades and closes the HTTP server. Upgraded
// connections belong to the engine and die with it.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	if g.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.httpServer.Shutdown(ctx)
}

func (g *Gateway) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay server is running! Active connections: %d",
		g.engine.Registry().Count())
}

func (g *Gateway) webSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	addr, port := splitRemoteAddr(conn.RemoteAddr())
	tr := &wsTransport{conn: conn, writeTimeout: g.cfg.WriteTimeout}

	if _, err := g.engine.Attach(tr, addr, port); err != nil {
		logger.Warn("Dropping WebSocket connection from %s:%d: %v", addr, port, err)
		_ = tr.Close()
		return
	}

	g.engine.Go(func() { g.readPump(tr) })
}

// readPump forwards inbound WebSocket messages to the engine. A message
// may batch several newline-separated frames; each is submitted on its
// own.
func (g *Gateway) readPump(tr *wsTransport) {
	defer g.engine.Detach(tr)

	tr.conn.SetReadLimit(int64(protocol.MaxFrameLen) * 2)
	tr.conn.SetPongHandler(func(string) error {
		return tr.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	})

	for {
		if err := tr.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout)); err != nil {
			logger.Warn("Error setting read deadline: %v", err)
			return
		}

		_, data, err := tr.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && !isExpectedCloseError(err) {
				logger.Debug("WebSocket read error: %v", err)
			}
			return
		}

		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			frame := make([]byte, 0, len(line)+1)
			frame = append(frame, line...)
			frame = append(frame, '\n')
			g.engine.Submit(tr, frame)
		}
	}
}

var _ registry.Transport = (*wsTransport)(nil)
