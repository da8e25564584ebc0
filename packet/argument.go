package packet

import (
	"encoding/binary"
	"math"
)

// Argument is one positional value of a packet.
//
// Length is the descriptor length as it appears on the wire: the byte
// count for String/Char/FuncName, the element count for IntPtr and
// DoublePtr, and 1 for Int and Double. Data is the unpadded payload.
type Argument struct {
	Type   ArgType
	Length uint32
	Data   []byte
}

// Int returns a 32-bit integer argument.
func Int(v int32) Argument {
	return Argument{Type: TypeInt, Length: 1, Data: binary.BigEndian.AppendUint32(nil, uint32(v))}
}

// Double returns a float64 argument.
func Double(v float64) Argument {
	return Argument{Type: TypeDouble, Length: 1, Data: binary.BigEndian.AppendUint64(nil, math.Float64bits(v))}
}

// Bytes returns a byte string argument.
func Bytes(b []byte) Argument {
	return Argument{Type: TypeString, Length: uint32(len(b)), Data: b}
}

// CharArray returns a zero-terminated character array argument.
func CharArray(b []byte) Argument {
	return Argument{Type: TypeChar, Length: uint32(len(b)), Data: b}
}

// FuncName returns a function name argument. It is laid out like a CharArray.
func FuncName(name string) Argument {
	return Argument{Type: TypeFuncName, Length: uint32(len(name)), Data: []byte(name)}
}

// IntArray returns an array of 32-bit integers.
func IntArray(vs []int32) Argument {
	data := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		data = binary.BigEndian.AppendUint32(data, uint32(v))
	}
	return Argument{Type: TypeIntPtr, Length: uint32(len(vs)), Data: data}
}

// DoubleArray returns an array of float64 values.
func DoubleArray(vs []float64) Argument {
	data := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		data = binary.BigEndian.AppendUint64(data, math.Float64bits(v))
	}
	return Argument{Type: TypeDoublePtr, Length: uint32(len(vs)), Data: data}
}

// paddedSize returns the number of payload bytes the argument occupies
// on the wire, including alignment padding.
func (a Argument) paddedSize() int {
	consumed, _ := layout(a.Type, a.Length)
	return int(consumed)
}

// layout returns, for a descriptor, how many payload bytes it consumes
// on the wire and how many of them are value bytes.
func layout(t ArgType, length uint32) (consumed, size int64) {
	n := int64(length)
	switch t {
	case TypeInt:
		return 4, 4
	case TypeDouble:
		return 8, 8
	case TypeIntPtr:
		return 4 * n, 4 * n
	case TypeDoublePtr:
		return 8 * n, 8 * n
	case TypeChar, TypeFuncName:
		return int64(align4(int(n) + 1)), n
	default:
		return int64(align4(int(n))), n
	}
}

// AsInt decodes an Int argument.
func (a Argument) AsInt() (int32, bool) {
	if a.Type != TypeInt || len(a.Data) < 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(a.Data)), true
}

// AsDouble decodes a Double argument.
func (a Argument) AsDouble() (float64, bool) {
	if a.Type != TypeDouble || len(a.Data) < 8 {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(a.Data)), true
}

// AsBytes returns the payload of a String, Char or FuncName argument.
func (a Argument) AsBytes() ([]byte, bool) {
	switch a.Type {
	case TypeString, TypeChar, TypeFuncName:
		return a.Data, true
	}
	return nil, false
}

// AsIntArray decodes an IntPtr argument.
func (a Argument) AsIntArray() ([]int32, bool) {
	if a.Type != TypeIntPtr {
		return nil, false
	}
	out := make([]int32, len(a.Data)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(a.Data[4*i:]))
	}
	return out, true
}

// AsDoubleArray decodes a DoublePtr argument.
func (a Argument) AsDoubleArray() ([]float64, bool) {
	if a.Type != TypeDoublePtr {
		return nil, false
	}
	out := make([]float64, len(a.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(a.Data[8*i:]))
	}
	return out, true
}
