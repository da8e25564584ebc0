package packet

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Dump renders the header and arguments for debug logging.
func (p *Packet) Dump() string {
	var sb strings.Builder
	h := p.header

	fmt.Fprintf(&sb, "Version = %d\n", h.Version)
	fmt.Fprintf(&sb, "Sequence = %d\n", h.Sequence)
	fmt.Fprintf(&sb, "Length = %d\n", h.DataLength)
	fmt.Fprintf(&sb, "Packet type = %d\n", h.PacketType)
	fmt.Fprintf(&sb, "High Ver = %d\n", h.HighVersion)
	fmt.Fprintf(&sb, "Compression Mask = %d\n", h.CompressionMask)
	fmt.Fprintf(&sb, "Encryption Mask = %d\n", h.EncryptionMask)
	fmt.Fprintf(&sb, "Return Code = %d\n", h.ReturnCode)
	fmt.Fprintf(&sb, "Argument Count = %d\n", h.ArgumentCount)
	fmt.Fprintf(&sb, "Proc Length = %d\n", h.ProcLength)

	for i, a := range p.args {
		fmt.Fprintf(&sb, "Arguments[%d] = %s type = %d(%s) Length=%d\n", i, dumpValue(a), a.Type, a.Type, a.Length)
	}
	return sb.String()
}

func dumpValue(a Argument) string {
	switch a.Type {
	case TypeInt:
		v, _ := a.AsInt()
		return fmt.Sprint(v)
	case TypeDouble:
		v, _ := a.AsDouble()
		return fmt.Sprint(v)
	case TypeIntPtr:
		v, _ := a.AsIntArray()
		return fmt.Sprint(v)
	case TypeDoublePtr:
		v, _ := a.AsDoubleArray()
		return fmt.Sprint(v)
	}
	if utf8.Valid(a.Data) {
		return fmt.Sprintf("%q", a.Data)
	}
	return "0x" + hex.EncodeToString(a.Data)
}
