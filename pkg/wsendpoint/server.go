package wsendpoint

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ServerConfig configures OpenServer. It mirrors section 6's
// server_open(config) shape: address, port, and the callbacks bundled
// into a Handler.
type ServerConfig struct {
	Address string
	Port    int
	Handler Handler
}

// Server listens for inbound connections and owns the set of
// connections it has accepted, matching section 4.4's endpoint
// registry for the server role.
//
// Grounded on coregx-stream's Hub for the mutex-protected connection-set
// shape, and on shockwave's Upgrader for the accept-then-hand-off
// pattern, adapted here to a raw net.Listener rather than net/http's
// Hijacker since this library performs its own HTTP-adjacent handshake
// parsing rather than riding on net/http.
type Server struct {
	listener net.Listener
	handler  Handler

	mu     sync.Mutex
	conns  map[*Connection]*netConnTransport
	closed bool

	group *errgroup.Group
}

// OpenServer starts listening on config.Address:config.Port and begins
// accepting connections in the background.
func OpenServer(config ServerConfig) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Address, config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		handler:  config.Handler,
		conns:    make(map[*Connection]*netConnTransport),
		group:    new(errgroup.Group),
	}
	s.group.Go(s.acceptLoop)
	return s, nil
}

// Addr returns the server's bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of connections the server currently
// holds in its registry, including ones still in the Handshake state.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() error {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.spawn(raw)
	}
}

func (s *Server) spawn(raw net.Conn) {
	transport := newNetConnTransport(raw)
	conn := NewServerConnection(transport, s.handler)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		transport.RequestClose()
		return
	}
	s.conns[conn] = transport
	s.mu.Unlock()

	s.group.Go(func() error {
		transport.runLoop(conn)
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		return nil
	})
}

// Close stops accepting new connections, requests a close of every
// active connection, and waits for all per-connection workers to exit
// before returning (section 4.4's graceful shutdown).
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	transports := make([]*netConnTransport, 0, len(s.conns))
	for _, t := range s.conns {
		transports = append(transports, t)
	}
	s.mu.Unlock()

	closeErr := s.listener.Close()
	for _, t := range transports {
		t.RequestClose()
	}
	if err := s.group.Wait(); err != nil {
		return err
	}
	return closeErr
}
