// Package audit defines the best-effort, non-gating issued-id log.
// It follows the same config.Provider pattern as the sequence store,
// so a backend can be selected and swapped the same way.
package audit

import (
	"context"
	"time"
)

// Entry is one issued-id record.
type Entry struct {
	Label    uint8
	Seq      uint32
	ID       uint64
	User     uint8
	IssuedAt time.Time
}

// Log is satisfied by every audit backend.
type Log interface {
	Name() string
	Configure(ctx context.Context, config map[string]interface{}) error

	// Record enqueues e for durable storage. It must never block the
	// caller for longer than it takes to push onto a bounded buffer,
	// and must never return an error that the dispatcher is expected
	// to act on — audit failures are observability, not correctness.
	Record(e Entry)

	Close() error
}

// Noop discards every record. It is the default when --audit_dsn is
// empty, so the Record call site is always exercised even when the
// feature is off.
type Noop struct{}

var _ Log = Noop{}

func (Noop) Name() string                                           { return "noop" }
func (Noop) Configure(context.Context, map[string]interface{}) error { return nil }
func (Noop) Record(Entry)                                           {}
func (Noop) Close() error                                            { return nil }
