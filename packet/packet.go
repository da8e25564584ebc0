package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pior/unirpc/internal/bufpool"
)

var buffers = bufpool.New(512)

// readChunk bounds how much is allocated ahead of data actually received.
const readChunk = 64 << 10

// Packet is a UniRPC request or response: a header followed by
// positional, typed arguments.
//
// A Packet is not safe for concurrent use.
type Packet struct {
	header Header
	args   []Argument

	// CompressionThreshold marks packets whose data section exceeds it
	// as compressed. The payload itself is never compressed. Zero disables.
	CompressionThreshold int
}

// New returns an empty packet.
func New() *Packet {
	return &Packet{header: newHeader()}
}

// Reset drops all arguments and restores the default header.
func (p *Packet) Reset() {
	p.header = newHeader()
	p.args = p.args[:0]
}

// Header returns a copy of the packet header.
func (p *Packet) Header() Header {
	return p.header
}

// ArgumentCount returns the number of arguments written or received.
func (p *Packet) ArgumentCount() int {
	return len(p.args)
}

// Write sets the argument at index. Arguments must be written in
// order: index must equal ArgumentCount(). The payload must be exactly
// as long as the descriptor says.
func (p *Packet) Write(index int, arg Argument) error {
	if index != len(p.args) || index >= MaxArgs {
		return &OrderError{Index: index, Expected: len(p.args)}
	}
	if _, size := layout(arg.Type, arg.Length); int64(len(arg.Data)) != size {
		return &ArgumentError{
			Index:   index,
			Message: fmt.Sprintf("%d payload bytes do not match descriptor (%s, length %d)", len(arg.Data), arg.Type, arg.Length),
		}
	}
	p.args = append(p.args, arg)
	return nil
}

func (p *Packet) WriteInt(index int, v int32) error {
	return p.Write(index, Int(v))
}

func (p *Packet) WriteDouble(index int, v float64) error {
	return p.Write(index, Double(v))
}

func (p *Packet) WriteBytes(index int, b []byte) error {
	return p.Write(index, Bytes(b))
}

func (p *Packet) WriteString(index int, s string) error {
	return p.Write(index, Bytes([]byte(s)))
}

func (p *Packet) WriteCharArray(index int, b []byte) error {
	return p.Write(index, CharArray(b))
}

func (p *Packet) WriteFuncName(index int, name string) error {
	return p.Write(index, FuncName(name))
}

func (p *Packet) WriteIntArray(index int, vs []int32) error {
	return p.Write(index, IntArray(vs))
}

func (p *Packet) WriteDoubleArray(index int, vs []float64) error {
	return p.Write(index, DoubleArray(vs))
}

// Read returns the argument at index.
func (p *Packet) Read(index int) (Argument, error) {
	if index < 0 || index >= len(p.args) {
		return Argument{}, &ArgumentError{Index: index, Message: "no such argument"}
	}
	return p.args[index], nil
}

func (p *Packet) ReadInt(index int) (int32, error) {
	arg, err := p.Read(index)
	if err != nil {
		return 0, err
	}
	v, ok := arg.AsInt()
	if !ok {
		return 0, typeMismatch(index, arg, TypeInt)
	}
	return v, nil
}

func (p *Packet) ReadDouble(index int) (float64, error) {
	arg, err := p.Read(index)
	if err != nil {
		return 0, err
	}
	v, ok := arg.AsDouble()
	if !ok {
		return 0, typeMismatch(index, arg, TypeDouble)
	}
	return v, nil
}

// ReadBytes returns the payload of a String, Char or FuncName argument.
func (p *Packet) ReadBytes(index int) ([]byte, error) {
	arg, err := p.Read(index)
	if err != nil {
		return nil, err
	}
	b, ok := arg.AsBytes()
	if !ok {
		return nil, typeMismatch(index, arg, TypeString)
	}
	return b, nil
}

func (p *Packet) ReadString(index int) (string, error) {
	b, err := p.ReadBytes(index)
	return string(b), err
}

func (p *Packet) ReadIntArray(index int) ([]int32, error) {
	arg, err := p.Read(index)
	if err != nil {
		return nil, err
	}
	v, ok := arg.AsIntArray()
	if !ok {
		return nil, typeMismatch(index, arg, TypeIntPtr)
	}
	return v, nil
}

func (p *Packet) ReadDoubleArray(index int) ([]float64, error) {
	arg, err := p.Read(index)
	if err != nil {
		return nil, err
	}
	v, ok := arg.AsDoubleArray()
	if !ok {
		return nil, typeMismatch(index, arg, TypeDoublePtr)
	}
	return v, nil
}

func typeMismatch(index int, arg Argument, want ArgType) error {
	return &ArgumentError{Index: index, Message: fmt.Sprintf("is %s, not %s", arg.Type, want)}
}

// dataLength is the size of the descriptor table plus padded payloads.
func (p *Packet) dataLength() int {
	n := DescriptorSize * len(p.args)
	for _, a := range p.args {
		n += a.paddedSize()
	}
	return n
}

// encode writes header, descriptor table and payloads to w.
func (p *Packet) encode(w io.Writer) error {
	length := p.dataLength()

	p.header.DataLength = uint32(length)
	p.header.ArgumentCount = uint16(len(p.args))
	p.header.EncryptionMask = NoEncryption
	if p.CompressionThreshold > 0 && length > p.CompressionThreshold {
		p.header.CompressionMask = Compressed
	} else {
		p.header.CompressionMask = Uncompressed
	}

	if err := p.header.pack(w); err != nil {
		return err
	}

	var scratch [DescriptorSize]byte
	for _, a := range p.args {
		binary.BigEndian.PutUint32(scratch[0:4], a.Length)
		binary.BigEndian.PutUint32(scratch[4:8], uint32(a.Type))
		if _, err := w.Write(scratch[:]); err != nil {
			return err
		}
	}

	var zeros [8]byte
	for _, a := range p.args {
		if _, err := w.Write(a.Data); err != nil {
			return err
		}
		if pad := a.paddedSize() - len(a.Data); pad > 0 {
			if _, err := w.Write(zeros[:pad]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pack serializes the packet: the 24-byte header, the descriptor table
// and the 4-byte aligned payloads.
func (p *Packet) Pack() ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := p.encode(buf); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// WriteTo sends the packed packet to w in a single write.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := p.encode(buf); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return int64(n), &ConnectionError{Op: "write", Err: err}
	}
	return int64(n), nil
}

// ReadPacket reads one packet from r: exactly HeaderSize bytes, then
// exactly DataLength bytes, looping over short reads.
func ReadPacket(r io.Reader) (*Packet, error) {
	hb, err := ReadExact(r, HeaderSize)
	if err != nil {
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	h, err := unpackHeader(hb)
	if err != nil {
		return nil, err
	}

	data, err := ReadExact(r, int(h.DataLength))
	if err != nil {
		return nil, &ConnectionError{Op: "read", Err: err}
	}

	p := &Packet{header: h}
	if err := p.decodeArguments(data, int(h.ArgumentCount)); err != nil {
		return nil, err
	}
	return p, nil
}

// Unpack decodes a complete packet held in b.
func Unpack(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, &ParseError{Message: "short packet", Err: io.ErrUnexpectedEOF}
	}
	h, err := unpackHeader(b[:HeaderSize])
	if err != nil {
		return nil, err
	}
	data := b[HeaderSize:]
	if len(data) != int(h.DataLength) {
		return nil, &ParseError{Message: fmt.Sprintf("data length %d does not match header %d", len(data), h.DataLength)}
	}
	p := &Packet{header: h}
	if err := p.decodeArguments(data, int(h.ArgumentCount)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Packet) decodeArguments(data []byte, count int) error {
	table := DescriptorSize * count
	if table > len(data) {
		return &ParseError{Message: fmt.Sprintf("argument table of %d entries exceeds data length %d", count, len(data))}
	}

	p.args = make([]Argument, count)
	for i := range p.args {
		d := data[i*DescriptorSize:]
		p.args[i].Length = binary.BigEndian.Uint32(d[0:4])
		p.args[i].Type = ArgType(binary.BigEndian.Uint32(d[4:8]))
	}

	off := int64(table)
	for i := range p.args {
		consumed, size := layout(p.args[i].Type, p.args[i].Length)
		if off+consumed > int64(len(data)) {
			return &ParseError{Message: fmt.Sprintf("argument %d (%s, length %d) overruns data", i, p.args[i].Type, p.args[i].Length)}
		}
		value := make([]byte, size)
		copy(value, data[off:off+size])
		p.args[i].Data = value
		off += consumed
	}
	return nil
}

// ReadExact reads exactly n bytes from r. A read that makes no progress
// or ends the stream early is an error.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, min(n, readChunk))
	got := 0
	for got < n {
		if got == len(buf) {
			grown := make([]byte, min(n, 2*len(buf)))
			copy(grown, buf[:got])
			buf = grown
		}
		m, err := r.Read(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if m == 0 {
			return nil, io.ErrNoProgress
		}
	}
	return buf[:n], nil
}
