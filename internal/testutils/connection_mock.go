package testutils

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// ConnectionMock is a mock implementation of net.Conn for testing.
// Reads are served from a scripted buffer; once it is drained, reads
// return ReadErr, or block until the read deadline like an idle socket.
// A read deadline that has already passed fails every read.
type ConnectionMock struct {
	mu           sync.Mutex
	readBuf      *bytes.Buffer
	writeBuf     *bytes.Buffer
	readDeadline time.Time
	closed       bool

	// ReadErr is returned once the scripted data is consumed.
	ReadErr error
	// WriteErr makes every write fail.
	WriteErr error

	Reads int // number of Read calls
}

// NewConnectionMock creates a new mock connection with pre-configured response data
func NewConnectionMock(responseData ...[]byte) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBuffer(bytes.Join(responseData, nil)),
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ConnectionMock) Read(b []byte) (int, error) {
	m.mu.Lock()
	m.Reads++
	if m.closed {
		m.mu.Unlock()
		return 0, net.ErrClosed
	}
	// Like a real socket, a deadline in the past fails the read before
	// any buffered data or EOF is seen.
	if !m.readDeadline.IsZero() && !time.Now().Before(m.readDeadline) {
		m.mu.Unlock()
		return 0, os.ErrDeadlineExceeded
	}
	if m.readBuf.Len() > 0 {
		defer m.mu.Unlock()
		return m.readBuf.Read(b)
	}
	if m.ReadErr != nil {
		defer m.mu.Unlock()
		return 0, m.ReadErr
	}
	deadline := m.readDeadline
	m.mu.Unlock()

	if deadline.IsZero() {
		return 0, io.EOF
	}
	time.Sleep(time.Until(deadline))
	return 0, os.ErrDeadlineExceeded
}

func (m *ConnectionMock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *ConnectionMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 50000}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 31438}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	return m.SetReadDeadline(t)
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.readDeadline = t
	m.mu.Unlock()
	return nil
}

func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Written returns the raw bytes written to the mock connection
func (m *ConnectionMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}
