// Package seqstore defines the durable, crash-safe sequence allocator
// as a config.Provider, with concrete backends in the file and redis
// subpackages.
package seqstore

import "context"

// Store hands out reservation-ahead sequence numbers. Allocate(n)
// never returns a value that could be reissued across a crash and
// never returns 0 — 0 signals allocation failure.
type Store interface {
	Name() string
	Configure(ctx context.Context, config map[string]interface{}) error

	// Allocate reserves n (>=1) sequence numbers and returns the first
	// one in the contiguous block [result, result+n). It returns 0 on
	// I/O failure, at which point the store latches IOError() true.
	Allocate(n uint32) (uint32, error)

	// Label is the machine label currently recorded in the store's
	// persisted block.
	Label() uint8
	// SetLabel updates the persisted label, rewriting the block.
	SetLabel(label uint8) error

	// LastRenewalTime is the persisted timestamp of the last
	// successful label renewal.
	LastRenewalTime() int64
	// SetLastRenewalTime updates it, rewriting the block.
	SetLastRenewalTime(unixSeconds int64) error

	// IOError reports whether a short write has latched the store
	// into permanent refusal. Only a restart clears it.
	IOError() bool

	// Uncommitted is the number of ids issued since the last fsync.
	Uncommitted() uint32

	// Flush durably persists the store (fdatasync for the file
	// backend); called by the background fsync task.
	Flush() error

	Close() error
}

// Waker is implemented by backends that can signal the background
// fsync task early, instead of making it wait out its full interval.
// The file backend implements it; the redis backend, which has no
// local durability step, does not.
type Waker interface {
	WakeChan() <-chan struct{}
}

// Block is the persisted layout:
//
//	version:u32 | label:u32 | sequence:u32 | timestamp:u64 | magic:u64
//
// Invariant: magic == |timestamp - (sequence + label + version)|.
type Block struct {
	Version   uint32
	Label     uint32
	Sequence  uint32
	Timestamp uint64
	Magic     uint64
}

// CurrentVersion is the only block version this implementation writes
// or accepts.
const CurrentVersion = 1

// ComputeMagic derives the arithmetic integrity field for b, ignoring
// whatever is currently in b.Magic.
func ComputeMagic(b Block) uint64 {
	sum := uint64(b.Sequence) + uint64(b.Label) + uint64(b.Version)
	if b.Timestamp >= sum {
		return b.Timestamp - sum
	}
	return sum - b.Timestamp
}

// ValidMagic reports whether b.Magic matches ComputeMagic(b).
func ValidMagic(b Block) bool {
	return b.Magic == ComputeMagic(b)
}
