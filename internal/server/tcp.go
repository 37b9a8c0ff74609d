package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// tcpTransport adapts a net.Conn to the registry's Transport. Each write
// carries its own deadline so a stalled client cannot wedge the engine.
type tcpTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// TCPServer accepts line-protocol connections and pumps their frames into
// the engine.
type TCPServer struct {
	engine   *Engine
	cfg      *Config
	listener net.Listener
}

// NewTCPServer creates a TCP listener front end for the engine.
func NewTCPServer(engine *Engine, cfg *Config) *TCPServer {
	return &TCPServer{engine: engine, cfg: cfg}
}

// Start listens on the configured port and blocks in the accept loop
// until Stop closes the listener.
func (s *TCPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the listener without serving. Tests bind port zero and
// read the assigned address from BoundAddr.
func (s *TCPServer) Listen() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = listener
	logger.Info("TCP listener started on %s", listener.Addr())
	return nil
}

// BoundAddr returns the listener's address, or nil before Listen.
func (s *TCPServer) BoundAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks in the accept loop until Stop closes the listener.
func (s *TCPServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isExpectedCloseError(err) {
				return nil
			}
			return err
		}
		s.handleConn(conn)
	}
}

// Stop closes the listener, unblocking Start. Established connections are
// torn down by the engine's shutdown.
func (s *TCPServer) Stop() {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Warn("Error closing TCP listener: %v", err)
		}
	}
}

func (s *TCPServer) listen() (net.Listener, error) {
	if !s.cfg.TLSEnabled() {
		return net.Listen("tcp", s.cfg.Addr())
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.Addr(), &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
}

func (s *TCPServer) handleConn(conn net.Conn) {
	addr, port := splitRemoteAddr(conn.RemoteAddr())
	tr := &tcpTransport{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	if _, err := s.engine.Attach(tr, addr, port); err != nil {
		logger.Warn("Dropping connection from %s:%d: %v", addr, port, err)
		_ = conn.Close()
		return
	}

	s.engine.Go(func() { s.readLoop(tr) })
}

// readLoop delivers newline-terminated frames to the engine until the
// client disconnects or goes idle past the timeout. It always detaches on
// the way out.
func (s *TCPServer) readLoop(tr *tcpTransport) {
	defer s.engine.Detach(tr)

	scanner := bufio.NewScanner(tr.conn)
	// A line longer than any valid frame aborts the scan and drops the
	// client.
	scanner.Buffer(make([]byte, 1024), protocol.MaxFrameLen*2)

	for {
		if err := tr.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			logger.Warn("Error setting read deadline: %v", err)
			return
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					logger.Warn("Disconnecting client: frame exceeds %d bytes", protocol.MaxFrameLen)
				} else if !isExpectedCloseError(err) {
					logger.Debug("Read error: %v", err)
				}
			}
			// A nil scanner error is a clean EOF: the peer closed the
			// connection.
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.engine.Submit(tr, append([]byte(nil), line...))
	}
}

func splitRemoteAddr(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

var _ registry.Transport = (*tcpTransport)(nil)
