package unirpc

import (
	"errors"
	"fmt"

	"github.com/pior/unirpc/packet"
	"github.com/sony/gobreaker/v2"
)

var (
	ErrPoolTimeout        = errors.New("unirpc: timed out waiting for a pooled session")
	ErrPoolClosed         = errors.New("unirpc: pool closed")
	ErrPoolingUnsupported = errors.New("unirpc: server does not support connection pooling")
	ErrSessionBroken      = errors.New("unirpc: session is broken")
	ErrNotConnected       = errors.New("unirpc: session is not connected")
	ErrSessionBusy        = errors.New("unirpc: session still has a command or transaction in progress")
)

// ErrorCode is a numeric UniRPC/UniObjects status code.
type ErrorCode int32

// Status codes known to the client. Codes returned by the server in
// argument 0 of a response are passed through even when not listed.
const (
	CodeOK ErrorCode = 0

	CodeNoSuchFile     ErrorCode = 14002
	CodeRecordNotFound ErrorCode = 30001
	CodeRecordLocked   ErrorCode = 30002
	CodeBadLogin       ErrorCode = 80011

	CodeRPCBadConnection     ErrorCode = 81001
	CodeRPCNoConnection      ErrorCode = 81002
	CodeRPCNotInitialized    ErrorCode = 81003
	CodeRPCInvalidArgType    ErrorCode = 81004
	CodeRPCWrongVersion      ErrorCode = 81005
	CodeRPCBadPacket         ErrorCode = 81006
	CodeRPCNoMoreConnections ErrorCode = 81007
	CodeRPCBadParameter      ErrorCode = 81008
	CodeRPCFailed            ErrorCode = 81009
	CodeRPCArgCount          ErrorCode = 81010
	CodeRPCUnknownHost       ErrorCode = 81011
	CodeRPCForkFailed        ErrorCode = 81012
	CodeRPCCantOpenServFile  ErrorCode = 81013
	CodeRPCCantFindService   ErrorCode = 81014
	CodeRPCTimeout           ErrorCode = 81015
	CodeRPCRefused           ErrorCode = 81016
	CodeRPCSocketInitFailed  ErrorCode = 81017
	CodeRPCServicePaused     ErrorCode = 81018
	CodeRPCBadTransport      ErrorCode = 81019
	CodeRPCBadPipe           ErrorCode = 81020
	CodeRPCPipeWriteError    ErrorCode = 81021
	CodeRPCPipeReadError     ErrorCode = 81022

	CodePoolingNotSupported ErrorCode = 81100
)

var codeMessages = map[ErrorCode]string{
	CodeOK:                   "No error",
	CodeNoSuchFile:           "No such file or directory",
	CodeRecordNotFound:       "Record not found",
	CodeRecordLocked:         "This file or record is locked by another user",
	CodeBadLogin:             "Incorrect user name or password",
	CodeRPCBadConnection:     "The connection is bad, and may be broken",
	CodeRPCNoConnection:      "The connection is not open",
	CodeRPCNotInitialized:    "The RPC system has not been initialized",
	CodeRPCInvalidArgType:    "An argument of an invalid type was supplied",
	CodeRPCWrongVersion:      "The server speaks a different RPC version",
	CodeRPCBadPacket:         "The packet is corrupt",
	CodeRPCNoMoreConnections: "No more connections are available",
	CodeRPCBadParameter:      "A bad parameter was passed",
	CodeRPCFailed:            "The RPC call failed",
	CodeRPCArgCount:          "Wrong number of arguments supplied",
	CodeRPCUnknownHost:       "The host name is not recognized",
	CodeRPCForkFailed:        "The server could not start a process for the service",
	CodeRPCCantOpenServFile:  "The server cannot open its services file",
	CodeRPCCantFindService:   "The service cannot be found in the services file",
	CodeRPCTimeout:           "The connection timed out",
	CodeRPCRefused:           "The server refused the connection",
	CodeRPCSocketInitFailed:  "The socket could not be initialized",
	CodeRPCServicePaused:     "The service is paused",
	CodeRPCBadTransport:      "An invalid transport type was used",
	CodeRPCBadPipe:           "The pipe is bad",
	CodeRPCPipeWriteError:    "Error writing to the pipe",
	CodeRPCPipeReadError:     "Error reading from the pipe",
	CodePoolingNotSupported:  "Connection pooling is not supported by the server",
}

// Message returns the fixed message for a code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error code %d", int32(c))
}

// ServerError is a non-zero status returned by the server.
// The session that received it is still usable.
//
// Connection handling: connection can be REUSED
type ServerError struct {
	Code      ErrorCode
	LastError string // text the server supplied with the status, if any
}

func (e *ServerError) Error() string {
	if e.LastError != "" {
		return fmt.Sprintf("unirpc: [%d] %s: %s", e.Code, e.Code.Message(), e.LastError)
	}
	return fmt.Sprintf("unirpc: [%d] %s", e.Code, e.Code.Message())
}

// ShouldCloseConnection returns false - the server answered in protocol
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// TransportError wraps failures of the socket itself: name resolution,
// connect, TLS, read/write and timeouts.
//
// Connection handling: connection is broken, CLOSE it
type TransportError struct {
	Op   string // dial, tls, send, receive
	Code ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unirpc: %s: %s", e.Op, e.Code.Message())
	}
	return fmt.Sprintf("unirpc: %s: %s: %v", e.Op, e.Code.Message(), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *TransportError) ShouldCloseConnection() bool {
	return true
}

// Timeout reports whether the error is a read/write/connect timeout.
func (e *TransportError) Timeout() bool {
	return e.Code == CodeRPCTimeout
}

// ErrorClass groups errors by how they affect the session.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassProtocol is a local contract violation; nothing was sent.
	ClassProtocol
	// ClassTransport invalidates the session permanently.
	ClassTransport
	// ClassServer is a status code from the server; the session stays usable.
	ClassServer
	// ClassPool is raised by the pool itself.
	ClassPool
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassProtocol:
		return "protocol"
	case ClassTransport:
		return "transport"
	case ClassServer:
		return "server"
	case ClassPool:
		return "pool"
	}
	return "unknown"
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	switch {
	case errors.Is(err, ErrPoolTimeout), errors.Is(err, ErrPoolClosed), errors.Is(err, ErrPoolingUnsupported),
		errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ClassPool
	case errors.Is(err, ErrSessionBusy):
		return ClassProtocol
	}

	var orderErr *packet.OrderError
	var argErr *packet.ArgumentError
	if errors.As(err, &orderErr) || errors.As(err, &argErr) {
		return ClassProtocol
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return ClassServer
	}

	return ClassTransport
}

// ShouldCloseConnection reports whether err leaves the session unusable.
func ShouldCloseConnection(err error) bool {
	return packet.ShouldCloseConnection(err)
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout()
}
