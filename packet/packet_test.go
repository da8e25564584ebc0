package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_IntAndString(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 5))
	require.NoError(t, p.WriteBytes(1, []byte("hi")))

	raw, err := p.Pack()
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize+24)

	assert.Equal(t, byte(PatternCheck), raw[0])
	assert.Equal(t, byte(Version), raw[1])
	assert.Equal(t, uint32(24), binary.BigEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(raw[20:22]))

	data := raw[HeaderSize:]
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 0}, data[0:8], "int descriptor")
	assert.Equal(t, []byte{0, 0, 0, 2, 0, 0, 0, 3}, data[8:16], "string descriptor")
	assert.Equal(t, []byte{0, 0, 0, 5}, data[16:20])
	assert.Equal(t, []byte{'h', 'i', 0, 0}, data[20:24])

	got, err := Unpack(raw)
	require.NoError(t, err)
	require.Equal(t, 2, got.ArgumentCount())

	v, err := got.ReadInt(0)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	s, err := got.ReadString(1)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
}

func TestPack_CharArrayReservesTerminator(t *testing.T) {
	cases := []struct {
		value  string
		padded int
	}{
		{"", 4},
		{"abc", 4},
		{"abcd", 8},
		{"uvcs", 8},
		{"abcdefg", 8},
	}
	for _, tc := range cases {
		p := New()
		require.NoError(t, p.WriteCharArray(0, []byte(tc.value)))
		raw, err := p.Pack()
		require.NoError(t, err)
		assert.Len(t, raw, HeaderSize+DescriptorSize+tc.padded, "value %q", tc.value)
	}
}

func TestPackUnpack_AllTypes(t *testing.T) {
	args := []Argument{
		Int(-7),
		Double(3.25),
		CharArray([]byte("uvcs")),
		Bytes([]byte("hello")),
		IntArray([]int32{1, -2, 3}),
		DoubleArray([]float64{0.5, -1.5}),
		FuncName("SUB"),
		Bytes(nil),
	}

	p := New()
	for i, a := range args {
		require.NoError(t, p.Write(i, a))
	}
	raw, err := p.Pack()
	require.NoError(t, err)

	got, err := ReadPacket(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, len(args), got.ArgumentCount())
	for i, want := range args {
		a, err := got.Read(i)
		require.NoError(t, err)
		assert.Equal(t, want.Type, a.Type, "arg %d type", i)
		assert.Equal(t, want.Length, a.Length, "arg %d length", i)
		assert.Equal(t, len(want.Data), len(a.Data), "arg %d size", i)
		if len(want.Data) > 0 {
			assert.Equal(t, want.Data, a.Data, "arg %d bytes", i)
		}
	}

	ints, err := got.ReadIntArray(4)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 3}, ints)

	doubles, err := got.ReadDoubleArray(5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -1.5}, doubles)

	d, err := got.ReadDouble(1)
	require.NoError(t, err)
	assert.Equal(t, 3.25, d)
}

func TestWrite_OutOfOrderAlwaysFails(t *testing.T) {
	for count := 0; count < 4; count++ {
		for k := -1; k < 8; k++ {
			if k == count {
				continue
			}
			p := New()
			for i := 0; i < count; i++ {
				require.NoError(t, p.WriteInt(i, int32(i)))
			}

			err := p.WriteInt(k, 1)
			var orderErr *OrderError
			require.ErrorAs(t, err, &orderErr, "count=%d k=%d", count, k)
			assert.Equal(t, count, orderErr.Expected)
			assert.False(t, ShouldCloseConnection(err))
			assert.Equal(t, count, p.ArgumentCount(), "failed write must not change the packet")
		}
	}
}

func TestWrite_MaxArgs(t *testing.T) {
	p := New()
	for i := 0; i < MaxArgs; i++ {
		require.NoError(t, p.WriteInt(i, 0))
	}
	err := p.WriteInt(MaxArgs, 0)
	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Contains(t, err.Error(), "maximum")
}

func TestWrite_PayloadMustMatchDescriptor(t *testing.T) {
	cases := []Argument{
		{Type: TypeString, Length: 1, Data: []byte("hello")},
		{Type: TypeChar, Length: 4, Data: []byte("ab")},
		{Type: TypeInt, Length: 1, Data: []byte{0, 1}},
		{Type: TypeDouble, Length: 1, Data: make([]byte, 4)},
		{Type: TypeIntPtr, Length: 3, Data: make([]byte, 8)},
		{Type: TypeDoublePtr, Length: 1, Data: nil},
	}
	for _, arg := range cases {
		p := New()
		err := p.Write(0, arg)
		var argErr *ArgumentError
		require.ErrorAs(t, err, &argErr, "%s length %d", arg.Type, arg.Length)
		assert.Equal(t, 0, argErr.Index)
		assert.False(t, ShouldCloseConnection(err))
		assert.Equal(t, 0, p.ArgumentCount())
	}

	p := New()
	require.NoError(t, p.Write(0, Argument{Type: TypeString, Length: 5, Data: []byte("hello")}))
	raw, err := p.Pack()
	require.NoError(t, err)
	assert.Equal(t, uint32(len(raw)-HeaderSize), binary.BigEndian.Uint32(raw[4:8]))
	_, err = Unpack(raw)
	require.NoError(t, err)
}

func TestRead_NoSuchArgument(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 1))

	for _, idx := range []int{-1, 1, 5} {
		_, err := p.Read(idx)
		var argErr *ArgumentError
		require.ErrorAs(t, err, &argErr)
		assert.Contains(t, err.Error(), "no such argument")
	}

	_, err := p.ReadBytes(0)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestReset(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 1))
	p.Reset()
	assert.Equal(t, 0, p.ArgumentCount())
	require.NoError(t, p.WriteInt(0, 2))
}

func TestReadPacket_ShortReads(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 42))
	require.NoError(t, p.WriteBytes(1, bytes.Repeat([]byte("x"), 1000)))
	raw, err := p.Pack()
	require.NoError(t, err)

	got, err := ReadPacket(iotest.OneByteReader(bytes.NewReader(raw)))
	require.NoError(t, err)
	b, err := got.ReadBytes(1)
	require.NoError(t, err)
	assert.Len(t, b, 1000)
}

func TestReadPacket_EOFMidPacket(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteBytes(0, []byte("truncated payload")))
	raw, err := p.Pack()
	require.NoError(t, err)

	_, err = ReadPacket(bytes.NewReader(raw[:len(raw)-3]))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, ShouldCloseConnection(err))

	_, err = ReadPacket(bytes.NewReader(raw[:10]))
	require.ErrorAs(t, err, &connErr)
}

type stalledReader struct{}

func (stalledReader) Read([]byte) (int, error) { return 0, nil }

func TestReadExact_ZeroByteReadIsFatal(t *testing.T) {
	_, err := ReadExact(stalledReader{}, 4)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestReadPacket_BadPattern(t *testing.T) {
	p := New()
	raw, err := p.Pack()
	require.NoError(t, err)
	raw[0] = 0x00

	_, err = ReadPacket(bytes.NewReader(raw))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.True(t, ShouldCloseConnection(err))
}

func TestUnpack_TruncatedTable(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 1))
	raw, err := p.Pack()
	require.NoError(t, err)

	// claim three arguments with data for one
	binary.BigEndian.PutUint16(raw[20:22], 3)
	_, err = Unpack(raw)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestUnpack_PayloadOverrun(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteBytes(0, []byte("abcd")))
	raw, err := p.Pack()
	require.NoError(t, err)

	binary.BigEndian.PutUint32(raw[HeaderSize:], 400)
	_, err = Unpack(raw)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestPack_CompressionMaskOnly(t *testing.T) {
	p := New()
	p.CompressionThreshold = 8
	require.NoError(t, p.WriteBytes(0, []byte("0123456789")))
	raw, err := p.Pack()
	require.NoError(t, err)

	assert.Equal(t, byte(Compressed), raw[13])
	got, err := Unpack(raw)
	require.NoError(t, err)
	s, err := got.ReadString(0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", s, "payload passes through unchanged")

	p.CompressionThreshold = 0
	raw, err = p.Pack()
	require.NoError(t, err)
	assert.Equal(t, byte(Uncompressed), raw[13])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteTo_ConnectionError(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 1))
	_, err := p.WriteTo(failingWriter{})
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "write", connErr.Op)
}

func TestDump(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInt(0, 9))
	require.NoError(t, p.WriteBytes(1, []byte{0xFF, 0xFE}))
	out := p.Dump()
	assert.Contains(t, out, "Arguments[0] = 9 type = 0(Int)")
	assert.Contains(t, out, "0xfffe")
}

func TestShouldCloseConnection(t *testing.T) {
	assert.False(t, ShouldCloseConnection(nil))
	assert.True(t, ShouldCloseConnection(errors.New("unknown")))
	assert.False(t, ShouldCloseConnection(&ArgumentError{}))
	assert.True(t, ShouldCloseConnection(&ParseError{}))
}

func FuzzUnpack(f *testing.F) {
	p := New()
	_ = p.WriteInt(0, 5)
	_ = p.WriteBytes(1, []byte("hi"))
	seed, _ := p.Pack()
	f.Add(seed)
	f.Add(make([]byte, HeaderSize))

	f.Fuzz(func(t *testing.T, raw []byte) {
		got, err := Unpack(raw)
		if err != nil {
			return
		}
		again, err := got.Pack()
		if err != nil {
			t.Fatalf("repacking a decoded packet failed: %v", err)
		}
		if _, err := Unpack(again); err != nil {
			t.Fatalf("repacked packet does not decode: %v", err)
		}
	})
}
