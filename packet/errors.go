package packet

import (
	"errors"
	"fmt"
)

// Error types for packet operations.
// Like the rest of the client they say whether the connection they
// happened on can still be used.

// OrderError is returned when arguments are written out of order or
// past MaxArgs. It is a local contract violation; nothing was sent.
//
// Connection handling: connection is still valid
type OrderError struct {
	Index    int // index the caller tried to write
	Expected int // next valid index
}

func (e *OrderError) Error() string {
	if e.Index >= MaxArgs {
		return fmt.Sprintf("packet: a maximum of %d arguments is supported (index %d)", MaxArgs, e.Index)
	}
	return fmt.Sprintf("packet: arguments must be written in order starting with zero: got index %d, want %d", e.Index, e.Expected)
}

// ShouldCloseConnection returns false - nothing reached the wire
func (e *OrderError) ShouldCloseConnection() bool {
	return false
}

// ArgumentError is returned when reading an argument that does not
// exist or does not have the requested type.
//
// Connection handling: connection is still valid
type ArgumentError struct {
	Index   int
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("packet: argument %d: %s", e.Index, e.Message)
}

// ShouldCloseConnection returns false - the packet was fully read
func (e *ArgumentError) ShouldCloseConnection() bool {
	return false
}

// ParseError is returned when a received packet is malformed.
// The stream position is unknown afterwards.
//
// Connection handling: CLOSE connection
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "packet: parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "packet: parse error: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - stream state is corrupted
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps I/O errors from reading or writing a packet,
// including short reads where the peer stopped sending mid-packet.
//
// Connection handling: connection is broken, CLOSE it
type ConnectionError struct {
	Op  string // read or write
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("packet: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by errors that know whether
// the connection they occurred on must be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
// Unknown error types are treated as fatal.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
