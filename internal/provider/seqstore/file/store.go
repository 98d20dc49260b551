// Package file implements a durable sequence store: a single
// fixed-layout block in one file (".uniq.seq" unless a path is
// configured), written synchronously on reservation bumps and fsynced
// by a background task. A relative path is resolved against the
// working directory, not the program's directory.
package file

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zfair/uniqd/errcode"
	"github.com/zfair/uniqd/internal/provider/seqstore"
)

// defaultSteps is the default reservation block size.
const defaultSteps = 100000

// Store is the file-backed seqstore.Store.
//
// Concurrency contract: everything here except uncommitted, ioError,
// and the wake channel is touched exclusively by the single dispatcher
// goroutine that owns the Store. The fsync background task (started by
// the caller, see agent's Server.fsyncLoop) only ever calls Flush, which
// touches only the open file descriptor.
type Store struct {
	path  string
	steps uint32

	file *os.File

	block seqstore.Block // sequence == the on-disk reservation ceiling
	next  uint32         // next value to hand out

	uncommitted uint32 // atomic; dispatcher-only increment, dispatcher-only reset
	ioError     int32  // atomic bool

	wake chan struct{} // buffered 1; Allocate signals, the fsync loop drains
}

var _ seqstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{wake: make(chan struct{}, 1)}
}

// Open is a direct constructor for callers (and tests) that already
// know the path and reservation size, bypassing the
// config.Provider-style Configure.
func Open(path string, steps uint32) (*Store, error) {
	s := New()
	if err := s.open(path, steps); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "file" }

// Configure opens (or creates) the block file named by config["path"],
// defaulting to ".uniq.seq" in the working directory, with the
// reservation size in config["steps"] (default 100000). A freshly
// created file starts with label 0, an agent-recognized "unleased"
// sentinel; the caller is responsible for calling SetLabel once it has
// synchronously acquired a real label.
func (s *Store) Configure(_ context.Context, config map[string]interface{}) error {
	path := ".uniq.seq"
	if v, ok := config["path"].(string); ok && v != "" {
		path = v
	}
	steps := uint32(defaultSteps)
	if v, ok := config["steps"].(int); ok && v > 0 {
		steps = uint32(v)
	} else if v, ok := config["steps"].(uint32); ok && v > 0 {
		steps = v
	}
	return s.open(path, steps)
}

func (s *Store) open(path string, steps uint32) error {
	s.path = path
	s.steps = steps

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open sequence file %s", path)
	}
	s.file = f

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat sequence file")
	}

	if info.Size() == 0 {
		s.block = seqstore.Block{
			Version:  seqstore.CurrentVersion,
			Label:    0,
			Sequence: steps,
		}
		s.block.Magic = seqstore.ComputeMagic(s.block)
		if err := s.writeBlock(); err != nil {
			return err
		}
		s.next = steps
		return nil
	}

	buf := make([]byte, blockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return errors.Wrap(err, "read sequence block")
	}
	block, ok := decodeBlock(buf)
	if !ok {
		return errors.New("sequence file: short block")
	}
	if !seqstore.ValidMagic(block) {
		return errcode.ErrCorruptBlock
	}
	s.block = block

	// The last in-flight reservation may not have reached disk before
	// a crash; add a full extra reservation so no seq handed out
	// before the crash can be handed out again.
	newCeiling := s.block.Sequence + 2*steps
	s.next = s.block.Sequence + 2*steps
	s.block.Sequence = newCeiling
	s.block.Magic = seqstore.ComputeMagic(s.block)
	return s.writeBlock()
}

func (s *Store) writeBlock() error {
	buf := encodeBlock(s.block)
	n, err := s.file.WriteAt(buf, 0)
	if err != nil || n != len(buf) {
		atomic.StoreInt32(&s.ioError, 1)
		if err == nil {
			err = errors.Errorf("short write: wrote %d of %d bytes", n, len(buf))
		}
		return errors.Wrap(err, "write sequence block")
	}
	return nil
}

// Allocate implements the reservation-ahead algorithm: it hands out n
// consecutive sequence numbers, bumping and persisting the on-disk
// ceiling in larger steps whenever the cheaply-incremented in-memory
// cursor would run past it.
func (s *Store) Allocate(n uint32) (uint32, error) {
	if s.IOError() {
		return 0, errcode.ErrIOLatched
	}
	if n == 0 {
		n = 1
	}

	if uint64(s.next)+uint64(n) > uint64(s.block.Sequence) {
		ceiling := uint64(s.next) + uint64(s.steps)
		if ceiling < uint64(s.next)+uint64(n) {
			ceiling = uint64(s.next) + uint64(n)
		}
		s.block.Sequence = uint32(ceiling)
		s.block.Magic = seqstore.ComputeMagic(s.block)
		if err := s.writeBlock(); err != nil {
			return 0, err
		}
	}

	result := s.next
	s.next += n
	if result == 0 {
		// Skip the reserved failure sentinel on 32-bit wraparound.
		result = s.next
		s.next += n
	}

	newUncommitted := atomic.AddUint32(&s.uncommitted, n)
	if newUncommitted >= s.steps {
		atomic.StoreUint32(&s.uncommitted, 0)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	return result, nil
}

func (s *Store) Label() uint8 { return uint8(s.block.Label) }

func (s *Store) SetLabel(label uint8) error {
	s.block.Label = uint32(label)
	s.block.Magic = seqstore.ComputeMagic(s.block)
	return s.writeBlock()
}

func (s *Store) LastRenewalTime() int64 { return int64(s.block.Timestamp) }

func (s *Store) SetLastRenewalTime(unixSeconds int64) error {
	s.block.Timestamp = uint64(unixSeconds)
	s.block.Magic = seqstore.ComputeMagic(s.block)
	return s.writeBlock()
}

func (s *Store) IOError() bool { return atomic.LoadInt32(&s.ioError) == 1 }

func (s *Store) Uncommitted() uint32 { return atomic.LoadUint32(&s.uncommitted) }

// WakeChan fires (best-effort, non-blocking) whenever Allocate has
// pushed enough uncommitted ids to warrant an early fsync, letting the
// background fsync task wake before its 1s timeout.
func (s *Store) WakeChan() <-chan struct{} { return s.wake }

// Flush fdatasyncs the sequence file. It is the only method the
// background fsync context calls; it touches nothing but the fd.
func (s *Store) Flush() error {
	if err := unix.Fdatasync(int(s.file.Fd())); err != nil {
		return errors.Wrap(err, "fdatasync sequence file")
	}
	return nil
}

func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
