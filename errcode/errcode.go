// Package errcode holds the RESPONSE_ERROR codes shared with clients and
// masters over the wire, plus project-wide sentinel errors.
package errcode

import "github.com/pkg/errors"

// Codes carried in value1 of a RESPONSE_ERROR frame.
const (
	InvalidType  uint32 = 201600001
	StoreSeq     uint32 = 201600002
	Overflow     uint32 = 201600003
	LabelExpired uint32 = 201600004
	InvalidLabel uint32 = 201600005
	NoLabel      uint32 = 201600006
	LabelNotHold uint32 = 201600007
	Database     uint32 = 201600008
	Parameter    uint32 = 201600009
	Mismatch     uint32 = 201600010
	Unexpected   uint32 = 201600011
	Illegal      uint32 = 201600012
)

// Name returns the symbolic name of a wire error code, for logging.
func Name(code uint32) string {
	switch code {
	case InvalidType:
		return "INVALID_TYPE"
	case StoreSeq:
		return "STORE_SEQ"
	case Overflow:
		return "OVERFLOW"
	case LabelExpired:
		return "LABEL_EXPIRED"
	case InvalidLabel:
		return "INVALID_LABEL"
	case NoLabel:
		return "NO_LABEL"
	case LabelNotHold:
		return "LABEL_NOT_HOLD"
	case Database:
		return "DATABASE"
	case Parameter:
		return "PARAMETER"
	case Mismatch:
		return "MISMATCH"
	case Unexpected:
		return "UNEXPECTED"
	case Illegal:
		return "ILLEGAL"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for internal (non-wire) use.
var (
	ErrCorruptBlock    = errors.New("sequence block: bad magic")
	ErrIOLatched       = errors.New("sequence store: io error latched")
	ErrStoreExhausted  = errors.New("sequence store: allocation returned 0")
	ErrLabelExpired    = errors.New("label lease: expired")
	ErrLabelNotHold    = errors.New("label lease: not held by this agent")
	ErrNoMaster        = errors.New("label lease: no master nodes configured")
	ErrAcquireTimeout  = errors.New("label lease: synchronous acquisition timed out")
	ErrFrameDropped    = errors.New("wire: frame dropped")
	ErrShuttingDown    = errors.New("agent: shutting down")
)
