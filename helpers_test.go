package unirpc

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pior/unirpc/internal/testutils"
	"github.com/pior/unirpc/packet"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeOptions scripts the answers of a fake UniRPC server.
type fakeOptions struct {
	serverID  string // answered with the pre-auth status when set
	preAuthRC int32
	loginRC   int32
	loginText string
	nlsMode   NLSMode
	marks     []byte
	tls       *tls.Config

	// call answers requests after login. Nil answers [0].
	call func(req *packet.Packet) *packet.Packet
}

const stageKey = "stage"

// fakeHandler answers the login sequence (pre-auth, login, NLS) and
// hands every later request to opts.call.
func fakeHandler(opts fakeOptions) testutils.Handler {
	return func(conn *testutils.ServerConn, req *packet.Packet) *packet.Packet {
		stage, _ := conn.Values[stageKey].(int)
		conn.Values[stageKey] = stage + 1

		switch stage {
		case 0:
			if opts.tls != nil && req.ArgumentCount() > 1 {
				conn.StartTLS(opts.tls)
			}
			if opts.serverID != "" {
				return testutils.Response(packet.Bytes([]byte(opts.serverID)), packet.Int(opts.preAuthRC))
			}
			return testutils.Response(packet.Int(opts.preAuthRC))
		case 1:
			if opts.loginText != "" {
				return testutils.Response(packet.Int(opts.loginRC), packet.Bytes([]byte(opts.loginText)))
			}
			return testutils.Response(packet.Int(opts.loginRC))
		}

		code, _ := req.ReadInt(0)
		switch FuncCode(code) {
		case FuncNLSInit:
			if opts.marks != nil {
				return testutils.Response(packet.Int(0), packet.Int(int32(opts.nlsMode)), packet.Bytes(opts.marks))
			}
			return testutils.Response(packet.Int(0), packet.Int(int32(opts.nlsMode)))
		case FuncSetMap:
			return testutils.Response(packet.Int(0))
		}

		if opts.call != nil {
			return opts.call(req)
		}
		return testutils.Response(packet.Int(0))
	}
}

func newFakeServer(t *testing.T, opts fakeOptions) *testutils.FakeServer {
	return testutils.NewFakeServer(t, fakeHandler(opts))
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fakeConfig(server *testutils.FakeServer) Config {
	return Config{
		Host:     server.Host(),
		Port:     server.Port(),
		Account:  "XDEMO",
		User:     "alice",
		Password: "secret",
		Timeout:  2 * time.Second,
		Logger:   testLogger(),
	}
}

// connectedSession opens a session against a fresh fake server.
func connectedSession(t *testing.T, opts fakeOptions) (*Session, *testutils.FakeServer) {
	t.Helper()
	server := newFakeServer(t, opts)
	s, err := Connect(t.Context(), fakeConfig(server))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.hardClose() })
	return s, server
}

// pipeSession returns an authenticated session over an in-memory pipe.
// Closing the returned peer makes the session fail its health check.
func pipeSession(t testing.TB) (*Session, net.Conn) {
	t.Helper()
	s, err := NewSession(Config{Host: "pipe", Logger: testLogger()})
	require.NoError(t, err)

	client, peer := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = peer.Close()
	})
	s.transport = newTransport(client, "pipe", time.Second)
	s.state.Store(int32(StateAuthenticated))
	return s, peer
}

// pipeConstructor creates pipe sessions and keeps their peers.
type pipeConstructor struct {
	t     testing.TB
	peers chan net.Conn

	mu    sync.Mutex
	err   error
	calls int
}

func newPipeConstructor(t testing.TB) *pipeConstructor {
	return &pipeConstructor{t: t, peers: make(chan net.Conn, 64)}
}

func (c *pipeConstructor) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *pipeConstructor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *pipeConstructor) new(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s, peer := pipeSession(c.t)
	c.peers <- peer
	return s, nil
}
