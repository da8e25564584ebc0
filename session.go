package unirpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pior/unirpc/internal/coarsetime"
	"github.com/pior/unirpc/mvarray"
	"github.com/pior/unirpc/packet"
	"github.com/sirupsen/logrus"
)

// Login protocol versions announced to the server.
const (
	commsVersion int32 = 5
	csVersion    int32 = 15
)

const (
	macPlaceholder = "JUNK"
	noRemapMap     = "NONE"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateUnconnected SessionState = iota
	StateConnecting
	StateAuthenticated // logged in, no call in flight
	StateActive        // call in flight
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one authenticated connection to a UniRPC server.
//
// At most one RPC is in flight per Session; Call serializes callers,
// but a Session is meant to be owned by one logical operation at a time.
// A Session whose transport failed is broken for good and must be
// discarded.
type Session struct {
	id     string
	config Config
	log    logrus.FieldLogger

	mu        sync.Mutex
	transport *Transport
	marks     mvarray.MarkTable
	text      textCodec

	state     atomic.Int32
	broken    atomic.Bool
	lastClass atomic.Int32

	serverID      string
	nlsMode       NLSMode
	commandStatus CommandStatus
	inTransaction bool

	// pool is set when the session belongs to a pool; Close then
	// returns it instead of closing it.
	pool      Pool
	createdAt coarsetime.Stamp
	idleSince coarsetime.Stamp

	stats  *sessionStatsCollector
	onCall func(duration time.Duration, sent, recv int, err error)
}

// NewSession returns an unconnected session for config.
func NewSession(config Config) (*Session, error) {
	config = config.withDefaults()
	text, err := lookupEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		config: config,
		marks:  mvarray.DefaultMarks,
		text:   text,
		stats:  &sessionStatsCollector{},
		log: config.Logger.WithFields(logrus.Fields{
			"session": id,
			"host":    config.Host,
			"account": config.Account,
		}),
	}
	return s, nil
}

// Connect opens a session: dial, pre-auth, optional TLS upgrade, login
// and NLS negotiation.
func Connect(ctx context.Context, config Config) (*Session, error) {
	s, err := NewSession(config)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect performs the full login handshake on an unconnected session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateUnconnected), int32(StateConnecting)) {
		return fmt.Errorf("unirpc: cannot connect a session in state %s", s.State())
	}

	start := time.Now()
	err := s.handshake(ctx)
	if err != nil {
		s.log.WithError(err).Warn("session connect failed")
		s.setLastClass(err)
		if s.transport != nil {
			_ = s.transport.Close()
		}
		s.state.Store(int32(StateClosed))
		return err
	}

	s.createdAt = coarsetime.Now()
	s.idleSince = s.createdAt
	s.state.Store(int32(StateAuthenticated))
	s.log.WithFields(logrus.Fields{
		"server_id": s.serverID,
		"nls_mode":  s.nlsMode,
		"encoding":  s.text.name,
		"tls":       s.transport.Secure(),
		"duration":  time.Since(start),
	}).Debug("session connected")
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	t, err := Dial(ctx, s.config.Host, s.config.Port, s.config.Timeout)
	if err != nil {
		return err
	}
	s.transport = t

	if err := s.preAuth(ctx); err != nil {
		return err
	}
	if s.config.SSL {
		if err := s.transport.UpgradeToTLS(ctx, s.config.TLS); err != nil {
			return err
		}
	}
	if err := s.login(ctx); err != nil {
		return err
	}
	return s.negotiateNLS(ctx)
}

// preAuth names the service and requests TLS. The server answers
// [rc] or [serverID, rc].
func (s *Session) preAuth(ctx context.Context) error {
	req := packet.New()
	if err := req.WriteCharArray(0, []byte(s.config.Service)); err != nil {
		return err
	}
	if s.config.SSL {
		if err := req.WriteInt(1, 1); err != nil {
			return err
		}
	}

	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		return err
	}

	rcIndex := 0
	if resp.ArgumentCount() > 1 {
		s.serverID = argText(resp, 0)
		rcIndex = 1
	}
	rc, err := resp.ReadInt(rcIndex)
	if err != nil {
		return err
	}
	if rc != 0 {
		return &ServerError{Code: ErrorCode(rc)}
	}
	return nil
}

func (s *Session) login(ctx context.Context) error {
	user, err := s.text.encode(s.config.User)
	if err != nil {
		return err
	}
	password, err := s.text.encode(s.config.Password)
	if err != nil {
		return err
	}
	account, err := s.text.encode(s.config.Account)
	if err != nil {
		return err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	args := []packet.Argument{
		packet.Int(commsVersion),
		packet.Int(csVersion),
		packet.Bytes(user),
		packet.Bytes(mangle(password, commsVersion)),
		packet.Bytes(account),
		packet.Bytes(nil), // license token
		packet.Int(0),
		packet.Int(ipv4Int32(s.transport.LocalAddr())),
		packet.Bytes([]byte(macPlaceholder)),
		packet.Bytes([]byte(hostname)),
		packet.Bytes(nil),
	}
	if s.config.Pooling {
		args = append(args, packet.Int(1))
	}

	req, err := buildPacket(args...)
	if err != nil {
		return err
	}
	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	rc, err := resp.ReadInt(0)
	if err != nil {
		return err
	}
	if rc == 0 {
		return nil
	}

	serverErr := &ServerError{Code: ErrorCode(rc), LastError: optionalText(resp, 1)}
	if s.config.Pooling && serverErr.Code == CodePoolingNotSupported {
		return fmt.Errorf("%w: %w", ErrPoolingUnsupported, serverErr)
	}
	return serverErr
}

// negotiateNLS reads the server NLS mode. NLS and UniData servers get the
// no-remap character map and the session switches to UTF-8. A 6-byte
// third argument replaces the mark table.
func (s *Session) negotiateNLS(ctx context.Context) error {
	req, err := buildPacket(packet.Int(int32(FuncNLSInit)))
	if err != nil {
		return err
	}
	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	mode, err := resp.ReadInt(1)
	if err != nil {
		return err
	}
	s.nlsMode = NLSMode(mode)

	if resp.ArgumentCount() > 2 {
		if raw, err := resp.ReadBytes(2); err == nil && len(raw) == len(s.marks) {
			marks, err := mvarray.NewMarkTable(raw)
			if err != nil {
				return &packet.ParseError{Message: "invalid mark table from server", Err: err}
			}
			s.marks = marks
		}
	}

	if !s.nlsMode.forcesUTF8() {
		return nil
	}

	req, err = buildPacket(packet.Int(int32(FuncSetMap)), packet.Bytes([]byte(noRemapMap)))
	if err != nil {
		return err
	}
	resp, err = s.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	s.text = textCodec{name: encodingUTF8}
	return nil
}

// roundTrip writes req and reads one response. Callers hold s.mu.
func (s *Session) roundTrip(ctx context.Context, req *packet.Packet) (*packet.Packet, error) {
	if s.transport == nil {
		return nil, ErrNotConnected
	}

	req.CompressionThreshold = s.config.CompressionThreshold
	start := time.Now()

	raw, err := req.Pack()
	if err != nil {
		return nil, err
	}
	if s.config.LogPackets {
		s.log.Debugf("sending packet\n%s", req.Dump())
	}

	var resp *packet.Packet
	err = s.transport.SendExact(ctx, raw)
	if err == nil {
		resp, err = s.transport.ReadPacket(ctx)
	}

	duration := time.Since(start)
	recv := 0
	if resp != nil {
		recv = packet.HeaderSize + int(resp.Header().DataLength)
	}
	s.stats.recordCall(duration, len(raw), recv, err)
	if s.onCall != nil {
		s.onCall(duration, len(raw), recv, err)
	}

	if err != nil {
		s.setLastClass(err)
		if ShouldCloseConnection(err) {
			s.markBroken(err)
		}
		return nil, err
	}
	if s.config.LogPackets {
		s.log.Debugf("received packet\n%s", resp.Dump())
	}
	return resp, nil
}

// Call sends req and returns the server's response packet. Transport
// and framing errors break the session.
func (s *Session) Call(ctx context.Context, req *packet.Packet) (*packet.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken.Load() {
		return nil, ErrSessionBroken
	}
	if !s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		return nil, ErrNotConnected
	}
	defer s.state.CompareAndSwap(int32(StateActive), int32(StateAuthenticated))

	return s.roundTrip(ctx, req)
}

// Invoke is Call for requests whose response carries a status in
// argument 0. A non-zero status is returned as a *ServerError alongside
// the response; argument 1, when it is text, becomes LastError.
func (s *Session) Invoke(ctx context.Context, req *packet.Packet) (*packet.Packet, error) {
	resp, err := s.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			s.stats.recordServerError()
		}
		return resp, err
	}
	return resp, nil
}

// Execute builds a request from args and invokes it.
func (s *Session) Execute(ctx context.Context, args ...packet.Argument) (*packet.Packet, error) {
	req, err := buildPacket(args...)
	if err != nil {
		return nil, err
	}
	return s.Invoke(ctx, req)
}

// Reset prepares the session for reuse by another caller. It refuses
// while a command is still streaming output or waiting for a reply. An
// open transaction is rolled back; Reset fails only if that rollback
// fails.
func (s *Session) Reset(ctx context.Context) bool {
	if s.broken.Load() {
		return false
	}

	s.mu.Lock()
	status, inTx := s.commandStatus, s.inTransaction
	s.mu.Unlock()

	if status == CommandMoreOutput || status == CommandReplyRequired {
		s.log.WithField("command_status", status).Debug("session not reset: command in progress")
		return false
	}
	if inTx {
		if err := s.RollbackTransaction(ctx); err != nil {
			s.log.WithError(err).Warn("session not reset: rollback failed")
			return false
		}
	}
	return true
}

// HealthCheck reports whether the session can be reused. A broken
// session is unhealthy without touching the socket.
func (s *Session) HealthCheck() bool {
	if s.broken.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil || s.State() != StateAuthenticated {
		return false
	}
	if !s.transport.Probe() {
		s.markBroken(ErrSessionBroken)
		return false
	}
	return true
}

// Close returns a pooled session to its pool and closes a standalone one.
func (s *Session) Close() error {
	if s.pool != nil {
		s.pool.Release(s)
		return nil
	}
	return s.hardClose()
}

// hardClose closes the socket regardless of pool affinity.
func (s *Session) hardClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SessionState(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.log.Debug("session closed")
	return err
}

func (s *Session) markBroken(err error) {
	if s.broken.CompareAndSwap(false, true) {
		s.log.WithError(err).Warn("session broken")
	}
}

func (s *Session) setLastClass(err error) {
	s.lastClass.Store(int32(Classify(err)))
}

// SetCommandStatus records the progress of a command execution. Command
// wrappers set it from server responses; Reset consults it.
func (s *Session) SetCommandStatus(status CommandStatus) {
	s.mu.Lock()
	s.commandStatus = status
	s.mu.Unlock()
}

// CommandStatus returns the last recorded command status.
func (s *Session) CommandStatus() CommandStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandStatus
}

// BeginTransaction starts a server transaction. Transactions do not nest.
func (s *Session) BeginTransaction(ctx context.Context) error {
	if s.InTransaction() {
		return ErrSessionBusy
	}
	if _, err := s.Execute(ctx, packet.Int(int32(FuncTransaction)), packet.Int(txStart)); err != nil {
		return err
	}
	s.setInTransaction(true)
	return nil
}

// CommitTransaction commits the open transaction.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if _, err := s.Execute(ctx, packet.Int(int32(FuncTransaction)), packet.Int(txCommit)); err != nil {
		return err
	}
	s.setInTransaction(false)
	return nil
}

// RollbackTransaction rolls back the open transaction.
func (s *Session) RollbackTransaction(ctx context.Context) error {
	if _, err := s.Execute(ctx, packet.Int(int32(FuncTransaction)), packet.Int(txRollback)); err != nil {
		return err
	}
	s.setInTransaction(false)
	return nil
}

func (s *Session) setInTransaction(v bool) {
	s.mu.Lock()
	s.inTransaction = v
	s.mu.Unlock()
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// Encode converts text to the session's wire encoding.
func (s *Session) Encode(text string) ([]byte, error) {
	return s.text.encode(text)
}

// Decode converts bytes in the session's wire encoding to text.
func (s *Session) Decode(b []byte) (string, error) {
	return s.text.decode(b)
}

// Encoding returns the name of the wire encoding in effect.
func (s *Session) Encoding() string {
	return s.text.name
}

// Marks returns the mark table negotiated at login.
func (s *Session) Marks() mvarray.MarkTable {
	return s.marks
}

// DecodeArray decodes a dynamic array received on this session.
func (s *Session) DecodeArray(b []byte) mvarray.Array {
	return mvarray.Decode(b, s.marks, mvarray.LevelField)
}

// EncodeArray encodes a dynamic array for this session.
func (s *Session) EncodeArray(a mvarray.Array) []byte {
	return mvarray.Encode(a, s.marks, mvarray.LevelField)
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) ServerID() string           { return s.serverID }
func (s *Session) NLSMode() NLSMode           { return s.nlsMode }
func (s *Session) State() SessionState        { return SessionState(s.state.Load()) }
func (s *Session) Broken() bool               { return s.broken.Load() }
func (s *Session) LastErrorClass() ErrorClass { return ErrorClass(s.lastClass.Load()) }
func (s *Session) Stats() SessionStats        { return s.stats.snapshot() }

// idleDuration is how long the session has been sitting in a pool.
func (s *Session) idleDuration() time.Duration {
	return s.idleSince.Age()
}

func buildPacket(args ...packet.Argument) (*packet.Packet, error) {
	p := packet.New()
	for i, arg := range args {
		if err := p.Write(i, arg); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// checkStatus turns a non-zero argument 0 into a *ServerError.
func checkStatus(resp *packet.Packet) error {
	rc, err := resp.ReadInt(0)
	if err != nil {
		return err
	}
	if rc == 0 {
		return nil
	}
	return &ServerError{Code: ErrorCode(rc), LastError: optionalText(resp, 1)}
}

// optionalText returns argument index as text when it exists and is a
// string-like argument.
func optionalText(p *packet.Packet, index int) string {
	if index >= p.ArgumentCount() {
		return ""
	}
	b, err := p.ReadBytes(index)
	if err != nil {
		return ""
	}
	return string(b)
}

// argText renders argument index as text whatever its type.
func argText(p *packet.Packet, index int) string {
	if v, err := p.ReadInt(index); err == nil {
		return fmt.Sprint(v)
	}
	return optionalText(p, index)
}

// mangle obfuscates the login password with the comms version byte.
func mangle(b []byte, key int32) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ byte(key)
	}
	return out
}

// ipv4Int32 packs the local IPv4 address as a signed big-endian int32.
func ipv4Int32(addr net.Addr) int32 {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0
	}
	ip := tcp.IP.To4()
	if ip == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(ip))
}
