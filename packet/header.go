package packet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"
)

// Header is the fixed 24-byte big-endian packet header.
type Header struct {
	PatternCheck    uint8  `struc:"uint8"`
	Version         uint8  `struc:"uint8"`
	Sequence        uint16 `struc:"uint16"`
	DataLength      uint32 `struc:"uint32"`
	PacketType      uint32 `struc:"uint32"`
	HighVersion     uint8  `struc:"uint8"`
	CompressionMask uint8  `struc:"uint8"`
	EncryptionMask  uint8  `struc:"uint8"`
	Reserved        uint8  `struc:"uint8"`
	ReturnCode      uint32 `struc:"uint32"`
	ArgumentCount   uint16 `struc:"uint16"`
	ProcLength      uint16 `struc:"uint16"`
}

func newHeader() Header {
	return Header{
		PatternCheck:    PatternCheck,
		Version:         Version,
		PacketType:      defaultPacketType,
		HighVersion:     Version,
		CompressionMask: Uncompressed,
		EncryptionMask:  NoEncryption,
	}
}

func (h *Header) pack(w io.Writer) error {
	return struc.Pack(w, h)
}

func unpackHeader(b []byte) (Header, error) {
	var h Header
	if len(b) != HeaderSize {
		return h, &ParseError{Message: fmt.Sprintf("header is %d bytes, want %d", len(b), HeaderSize)}
	}
	if err := struc.Unpack(bytes.NewReader(b), &h); err != nil {
		return h, &ParseError{Message: "decoding header", Err: err}
	}
	if h.PatternCheck != PatternCheck {
		return h, &ParseError{Message: fmt.Sprintf("bad pattern check 0x%02X", h.PatternCheck)}
	}
	return h, nil
}
