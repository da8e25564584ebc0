package unirpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pior/unirpc/packet"
)

// Transport is a TCP socket, optionally upgraded to TLS after the
// plaintext pre-auth exchange. It is not safe for concurrent use; the
// owning Session serializes access.
type Transport struct {
	conn    net.Conn
	host    string
	timeout time.Duration
	secure  bool
	probes  atomic.Int64
}

// Dial opens a TCP connection to host:port.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Transport, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, classifyDialError(err)
	}
	return newTransport(conn, host, timeout), nil
}

func newTransport(conn net.Conn, host string, timeout time.Duration) *Transport {
	return &Transport{conn: conn, host: host, timeout: timeout}
}

func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{Op: "dial", Code: CodeRPCUnknownHost, Err: err}
	}
	if isTimeout(err) {
		return &TransportError{Op: "dial", Code: CodeRPCTimeout, Err: err}
	}
	return &TransportError{Op: "dial", Code: CodeRPCFailed, Err: err}
}

func classifyIOError(op string, err error) error {
	if isTimeout(err) {
		return &TransportError{Op: op, Code: CodeRPCTimeout, Err: err}
	}
	return &TransportError{Op: op, Code: CodeRPCFailed, Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// deadline picks the earlier of the context deadline and the configured timeout.
func (t *Transport) deadline(ctx context.Context) time.Time {
	var d time.Time
	if t.timeout > 0 {
		d = time.Now().Add(t.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// SendExact writes all of buf or fails.
func (t *Transport) SendExact(ctx context.Context, buf []byte) error {
	if t.conn == nil {
		return &TransportError{Op: "send", Code: CodeRPCNoConnection}
	}
	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return classifyIOError("send", err)
	}
	for len(buf) > 0 {
		n, err := t.conn.Write(buf)
		if err != nil {
			return classifyIOError("send", err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReceiveExact reads exactly n bytes or fails. A peer that closes the
// stream before n bytes arrived is an error.
func (t *Transport) ReceiveExact(ctx context.Context, n int) ([]byte, error) {
	if t.conn == nil {
		return nil, &TransportError{Op: "receive", Code: CodeRPCNoConnection}
	}
	if err := t.conn.SetReadDeadline(t.deadline(ctx)); err != nil {
		return nil, classifyIOError("receive", err)
	}
	b, err := packet.ReadExact(t.conn, n)
	if err != nil {
		return nil, classifyIOError("receive", err)
	}
	return b, nil
}

// WritePacket sends a packet under the transport deadline.
func (t *Transport) WritePacket(ctx context.Context, p *packet.Packet) error {
	raw, err := p.Pack()
	if err != nil {
		return err
	}
	return t.SendExact(ctx, raw)
}

// ReadPacket receives one packet under the transport deadline.
func (t *Transport) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	if t.conn == nil {
		return nil, &TransportError{Op: "receive", Code: CodeRPCNoConnection}
	}
	if err := t.conn.SetReadDeadline(t.deadline(ctx)); err != nil {
		return nil, classifyIOError("receive", err)
	}
	p, err := packet.ReadPacket(t.conn)
	if err != nil {
		var connErr *packet.ConnectionError
		if errors.As(err, &connErr) {
			return nil, classifyIOError("receive", connErr.Err)
		}
		return nil, err
	}
	return p, nil
}

// UpgradeToTLS wraps the live socket in a TLS client. It must only be
// called after the pre-auth exchange agreed on TLS.
func (t *Transport) UpgradeToTLS(ctx context.Context, cfg TLSConfig) error {
	tlsConfig, err := cfg.clientConfig(t.host)
	if err != nil {
		return &TransportError{Op: "tls", Code: CodeRPCFailed, Err: err}
	}

	tlsConn := tls.Client(t.conn, tlsConfig)
	hsCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return classifyIOError("tls", err)
	}
	t.conn = tlsConn
	t.secure = true
	return nil
}

func (c TLSConfig) clientConfig(host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !c.CheckHostname,
	}
	if c.CheckHostname {
		tlsConfig.ServerName = host
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = roots
		if !c.CheckHostname {
			tlsConfig.VerifyPeerCertificate = verifyChainOnly(roots)
		}
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// verifyChainOnly checks the server chain against roots without
// matching the host name.
func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server sent no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs[i] = cert
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
		return err
	}
}

// probeWait bounds a liveness probe. The deadline must lie in the
// future: an already expired one fails the read before the socket is
// looked at, so a closed peer would go unnoticed.
const probeWait = time.Millisecond

// Probe is a liveness check: a read bounded by probeWait. Timing out
// means the peer is idle and alive; data, EOF or any other error means
// the connection cannot be reused.
func (t *Transport) Probe() bool {
	if t.conn == nil {
		return false
	}
	t.probes.Add(1)

	if err := t.conn.SetReadDeadline(time.Now().Add(probeWait)); err != nil {
		return false
	}
	defer t.conn.SetReadDeadline(time.Time{})

	var one [1]byte
	n, err := t.conn.Read(one[:])
	if n > 0 {
		return false
	}
	return err != nil && isTimeout(err) && !errors.Is(err, io.EOF)
}

// Probes returns how many liveness probes were made.
func (t *Transport) Probes() int64 {
	return t.probes.Load()
}

// Secure reports whether the socket was upgraded to TLS.
func (t *Transport) Secure() bool {
	return t.secure
}

// LocalAddr returns the local socket address.
func (t *Transport) LocalAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Close closes the socket.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
