package idpack

import "time"

// cacheTTL bounds how long a cached year/month/day/hour decomposition
// is reused — only the hour matters for overflow detection, so
// re-deriving it on every call would be wasted work.
const cacheTTL = 30 * time.Second

// Assembler packs ids for a single label, detecting intra-hour
// sequence wrap by remembering the last tuple it emitted. It is not
// safe for concurrent use — callers must serialize access themselves.
type Assembler struct {
	label uint8

	cachedAt time.Time
	year     uint8
	month    int
	day      int
	hour     int

	havePrev bool
	prevTime struct {
		year, month, day, hour uint8
	}
	prevSeq uint32
}

// NewAssembler creates an Assembler for the agent's current label.
func NewAssembler(label uint8) *Assembler {
	return &Assembler{label: label}
}

// SetLabel updates the label used for subsequently assembled ids,
// following a lease renewal that changed it.
func (a *Assembler) SetLabel(label uint8) {
	a.label = label
}

func (a *Assembler) decompose(now time.Time) (year uint8, month, day, hour int) {
	if !a.cachedAt.IsZero() && now.Sub(a.cachedAt) < cacheTTL {
		return a.year, a.month, a.day, a.hour
	}
	local := now.Local()
	y := local.Year() - YearEpoch
	if y < 0 {
		y = 0
	}
	a.year = uint8(y)
	a.month = int(local.Month())
	a.day = local.Day()
	a.hour = local.Hour()
	a.cachedAt = now
	return a.year, a.month, a.day, a.hour
}

// Assemble packs user, a freshly allocated seq, and a reference time
// into a 64-bit id. It returns the Overflow sentinel if the tuple
// (year,month,day,hour) matches the previously emitted one and seq is
// less than the previously emitted seq — the signature of intra-hour
// sequence reuse.
func (a *Assembler) Assemble(user uint8, seq uint32, now time.Time) uint64 {
	year, month, day, hour := a.decompose(now)

	sameHour := a.havePrev &&
		a.prevTime.year == year &&
		a.prevTime.month == uint8(month) &&
		a.prevTime.day == uint8(day) &&
		a.prevTime.hour == uint8(hour)

	if sameHour && seq < a.prevSeq {
		return Overflow
	}

	a.havePrev = true
	a.prevTime.year = year
	a.prevTime.month = uint8(month)
	a.prevTime.day = uint8(day)
	a.prevTime.hour = uint8(hour)
	a.prevSeq = seq

	return Pack(Fields{
		User:  user,
		Label: a.label,
		Year:  year,
		Month: uint8(month),
		Day:   uint8(day),
		Hour:  uint8(hour),
		Seq:   seq,
	})
}
