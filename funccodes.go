package unirpc

// FuncCode is the opaque operation code written as argument 0 of a
// request. Object wrappers built on Session pass their own codes
// through Call unchanged.
type FuncCode int32

// Codes issued by the session itself.
const (
	FuncExecute     FuncCode = 2
	FuncTransaction FuncCode = 33
	FuncNLSInit     FuncCode = 70
	FuncSetMap      FuncCode = 71
)

// Sub-operations of FuncTransaction, sent as argument 1.
const (
	txStart    int32 = 1
	txCommit   int32 = 2
	txRollback int32 = 3
)

// CommandStatus tracks a command execution streaming through a session.
type CommandStatus int

const (
	CommandComplete CommandStatus = iota
	CommandMoreOutput
	CommandReplyRequired
)

func (s CommandStatus) String() string {
	switch s {
	case CommandComplete:
		return "complete"
	case CommandMoreOutput:
		return "more-output"
	case CommandReplyRequired:
		return "reply-required"
	}
	return "unknown"
}

// NLSMode is the server NLS mode reported at login.
type NLSMode int32

const (
	NLSOff     NLSMode = 0
	NLSOn      NLSMode = 1
	NLSUniData NLSMode = 2
	NLSD3      NLSMode = 3
)

// forcesUTF8 reports whether the mode requires the no-remap character
// map and UTF-8 text on the client side.
func (m NLSMode) forcesUTF8() bool {
	return m == NLSOn || m == NLSUniData
}

func (m NLSMode) String() string {
	switch m {
	case NLSOff:
		return "off"
	case NLSOn:
		return "nls"
	case NLSUniData:
		return "unidata"
	case NLSD3:
		return "d3"
	}
	return "unknown"
}
