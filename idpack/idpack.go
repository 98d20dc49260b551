// Package idpack packs and unpacks the agent's 64-bit unique id.
//
// Bit layout (LSB first):
//
//	user:6 | label:8 | year:7 | month:4 | day:5 | hour:5 | seq:29
//
// Pack and Unpack are pure functions using explicit shifts and masks —
// deliberately not a bit-field struct overlaid on a uint64 — because
// the wire order of the fields is part of an external contract and
// must not depend on how any particular compiler lays out bit-fields.
package idpack

const (
	userBits  = 6
	labelBits = 8
	yearBits  = 7
	monthBits = 4
	dayBits   = 5
	hourBits  = 5
	seqBits   = 29

	userShift  = 0
	labelShift = userShift + userBits
	yearShift  = labelShift + labelBits
	monthShift = yearShift + yearBits
	dayShift   = monthShift + monthBits
	hourShift  = dayShift + dayBits
	seqShift   = hourShift + hourBits
)

const (
	userMask  = (1 << userBits) - 1
	labelMask = (1 << labelBits) - 1
	yearMask  = (1 << yearBits) - 1
	monthMask = (1 << monthBits) - 1
	dayMask   = (1 << dayBits) - 1
	hourMask  = (1 << hourBits) - 1
	seqMask   = (1 << seqBits) - 1
)

// YearEpoch is subtracted from the calendar year before packing.
// year is valid through YearEpoch+2^yearBits-1 == 2143.
const YearEpoch = 2016

// MaxSeq is the largest seq value that fits in seqBits.
const MaxSeq = seqMask // 536,870,911

// Failure sentinels. Legitimate ids always have a nonzero label or
// year field, so these never collide with a packed id.
const (
	// StoreFailure signals the sequence store could not allocate.
	StoreFailure uint64 = 0
	// Overflow signals intra-hour sequence reuse.
	Overflow uint64 = 1
)

// Fields is the decomposed form of a packed id.
type Fields struct {
	User  uint8
	Label uint8
	Year  uint8 // calendar year - YearEpoch
	Month uint8
	Day   uint8
	Hour  uint8
	Seq   uint32
}

// Pack assembles Fields into the 64-bit wire value. Callers are
// responsible for range-checking fields that come from untrusted
// input; Pack masks every field so it never panics, but silently
// truncates out-of-range values.
func Pack(f Fields) uint64 {
	var v uint64
	v |= uint64(f.User&userMask) << userShift
	v |= uint64(f.Label&labelMask) << labelShift
	v |= uint64(f.Year&yearMask) << yearShift
	v |= uint64(f.Month&monthMask) << monthShift
	v |= uint64(f.Day&dayMask) << dayShift
	v |= uint64(f.Hour&hourMask) << hourShift
	v |= (uint64(f.Seq) & seqMask) << seqShift
	return v
}

// Unpack decomposes a packed id back into Fields.
func Unpack(v uint64) Fields {
	return Fields{
		User:  uint8((v >> userShift) & userMask),
		Label: uint8((v >> labelShift) & labelMask),
		Year:  uint8((v >> yearShift) & yearMask),
		Month: uint8((v >> monthShift) & monthMask),
		Day:   uint8((v >> dayShift) & dayMask),
		Hour:  uint8((v >> hourShift) & hourMask),
		Seq:   uint32((v >> seqShift) & seqMask),
	}
}
