package packet

// Protocol constants
const (
	// Version is the UniRPC protocol version written in every header.
	Version = 2

	// HeaderSize is the fixed size of a packet header in bytes.
	HeaderSize = 24

	// DescriptorSize is the size of one argument descriptor (length + type).
	DescriptorSize = 8

	// MaxArgs is the maximum number of arguments in one packet.
	MaxArgs = 2048

	// PatternCheck is the magic first byte of every header.
	PatternCheck = 0x6C

	defaultPacketType = 0
)

// Compression mask values. Compression is only ever marked, never applied.
const (
	Uncompressed = 0x00
	Compressed   = 0x01
)

// NoEncryption is the only encryption mask the client writes.
const NoEncryption = 0

// ArgType is the type tag of a packet argument.
type ArgType uint32

// Argument type tags
const (
	TypeInt       ArgType = 0
	TypeDouble    ArgType = 1
	TypeChar      ArgType = 2
	TypeString    ArgType = 3
	TypeIntPtr    ArgType = 4
	TypeDoublePtr ArgType = 5
	TypeFuncName  ArgType = 6
)

func (t ArgType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeDouble:
		return "Double"
	case TypeChar:
		return "Char"
	case TypeString:
		return "String"
	case TypeIntPtr:
		return "IntPtr"
	case TypeDoublePtr:
		return "DoublePtr"
	case TypeFuncName:
		return "FuncName"
	default:
		return "Unknown"
	}
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}
