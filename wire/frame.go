// Package wire implements the fixed-size UDP request/response frame
// shared by the agent, its clients, and its masters.
//
// Layout (network byte order for every multi-byte field):
//
//	major_ver:u8 | minor_ver:u8 | len:u16 | type:u16 | echo:u32 |
//	value1:u32 | value2:u32 | value3:u64 | magic:u32
//
// The layout is an external contract; it is encoded by hand with
// encoding/binary rather than through reflection or a generic codec so
// that the on-wire byte order never depends on struct field order.
package wire

import (
	"encoding/binary"
)

// Size is the exact byte length of a frame. Frames of any other length
// are dropped by Decode.
const Size = 1 + 1 + 2 + 2 + 4 + 4 + 4 + 8 + 4

// MajorVersion is the wire protocol major version this agent speaks.
// Decode drops any frame whose MajorVer differs.
const MajorVersion = 1

// MinorVersion is advisory; it is not checked by Decode.
const MinorVersion = 0

// Type enumerates the frame's message kind.
type Type uint16

const (
	RequestLabel        Type = 1
	ResponseLabel       Type = 2
	RequestUniqID       Type = 3
	ResponseUniqID      Type = 4
	RequestUniqSeq      Type = 5
	ResponseUniqSeq     Type = 6
	RequestLabelAndSeq  Type = 7
	ResponseLabelAndSeq Type = 8
	ResponseError       Type = 9
)

// Frame is the decoded, in-memory form of the wire frame. Encode and
// Decode are the only things that touch bytes; every other package
// works with Frame values.
type Frame struct {
	MajorVer uint8
	MinorVer uint8
	Type     Type
	Echo     uint32
	Value1   uint32
	Value2   uint32
	Value3   uint64
}

// magic is the arithmetic tamper/corruption check shared with the
// persisted sequence block: a cheap detector, not a MAC, scaled to 32
// bits to fit the frame's narrower magic field. The arithmetic
// definition itself must stay fixed for implementations to interoperate.
func magic(f Frame) uint32 {
	others := uint64(f.MajorVer) + uint64(f.MinorVer) + uint64(f.Type) +
		uint64(f.Echo) + uint64(f.Value1) + uint64(f.Value2)
	if f.Value3 >= others {
		return uint32(f.Value3 - others)
	}
	return uint32(others - f.Value3)
}

// Encode serializes f into a Size-byte frame with a freshly computed
// magic. Echo is copied through unchanged — it is opaque to the codec.
func Encode(f Frame) []byte {
	buf := make([]byte, Size)
	buf[0] = f.MajorVer
	buf[1] = f.MinorVer
	binary.BigEndian.PutUint16(buf[2:4], Size)
	binary.BigEndian.PutUint16(buf[4:6], uint16(f.Type))
	binary.BigEndian.PutUint32(buf[6:10], f.Echo)
	binary.BigEndian.PutUint32(buf[10:14], f.Value1)
	binary.BigEndian.PutUint32(buf[14:18], f.Value2)
	binary.BigEndian.PutUint64(buf[18:26], f.Value3)
	binary.BigEndian.PutUint32(buf[26:30], magic(f))
	return buf
}

// Decode parses b into a Frame. ok is false — and the frame must be
// silently dropped by the caller — when the datagram's length doesn't
// match the embedded len field or Size, when MajorVer differs from
// MajorVersion, or when the magic check fails.
func Decode(b []byte) (f Frame, ok bool) {
	if len(b) != Size {
		return Frame{}, false
	}
	length := binary.BigEndian.Uint16(b[2:4])
	if int(length) != Size {
		return Frame{}, false
	}
	f = Frame{
		MajorVer: b[0],
		MinorVer: b[1],
		Type:     Type(binary.BigEndian.Uint16(b[4:6])),
		Echo:     binary.BigEndian.Uint32(b[6:10]),
		Value1:   binary.BigEndian.Uint32(b[10:14]),
		Value2:   binary.BigEndian.Uint32(b[14:18]),
		Value3:   binary.BigEndian.Uint64(b[18:26]),
	}
	if f.MajorVer != MajorVersion {
		return Frame{}, false
	}
	wantMagic := binary.BigEndian.Uint32(b[26:30])
	if magic(f) != wantMagic {
		return Frame{}, false
	}
	return f, true
}
