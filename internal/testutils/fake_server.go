package testutils

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/pior/unirpc/packet"
)

// Handler answers one request. A nil response leaves the request
// unanswered; the connection stays open.
type Handler func(conn *ServerConn, req *packet.Packet) *packet.Packet

// FakeServer is a UniRPC server on a loopback port that answers
// requests with a Handler.
type FakeServer struct {
	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	conns    []*ServerConn
	requests []*packet.Packet
	wg       sync.WaitGroup
}

// ServerConn is the server side of one client connection.
type ServerConn struct {
	net.Conn
	ID int

	// Values lets a handler keep per-connection state.
	Values map[string]any

	raw      net.Conn
	startTLS *tls.Config
}

// StartTLS switches the connection to TLS once the current response
// has been written.
func (c *ServerConn) StartTLS(config *tls.Config) {
	c.startTLS = config
}

// NewFakeServer starts a server and stops it when the test ends.
func NewFakeServer(t testing.TB, handler Handler) *FakeServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &FakeServer{listener: listener, handler: handler}
	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

func (s *FakeServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		sc := &ServerConn{Conn: conn, raw: conn, ID: len(s.conns), Values: map[string]any{}}
		s.conns = append(s.conns, sc)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(sc)
	}
}

func (s *FakeServer) serve(conn *ServerConn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		req, err := packet.ReadPacket(conn)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		resp := s.handler(conn, req)
		if resp == nil {
			continue
		}
		if _, err := resp.WriteTo(conn); err != nil {
			return
		}

		if conn.startTLS != nil {
			tlsConn := tls.Server(conn.Conn, conn.startTLS)
			conn.startTLS = nil
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn.Conn = tlsConn
		}
	}
}

// Host returns the listening IP.
func (s *FakeServer) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *FakeServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Requests returns every request received so far, across connections.
func (s *FakeServer) Requests() []*packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*packet.Packet(nil), s.requests...)
}

// Connections returns the number of connections accepted.
func (s *FakeServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes the server side of every open connection.
func (s *FakeServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.raw.Close()
	}
}

// Close stops accepting, drops all connections and waits for the
// serving goroutines.
func (s *FakeServer) Close() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return
	}
	s.DropConnections()
	s.wg.Wait()
}

// Response builds a packet from args.
func Response(args ...packet.Argument) *packet.Packet {
	p := packet.New()
	for i, arg := range args {
		if err := p.Write(i, arg); err != nil {
			panic(err)
		}
	}
	return p
}
