package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zfair/uniqd/internal/provider/seqstore"
)

func TestS1AllocationAndRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	s, err := Open(path, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got, err := s.Allocate(1); err != nil || got != 100 {
		t.Fatalf("first allocation: got (%d, %v), want (100, nil)", got, err)
	}
	for i := 0; i < 98; i++ {
		if _, err := s.Allocate(1); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	// That was allocations 2..99, handing out seq 101..198. The 100th
	// call hands out 199.
	if got, err := s.Allocate(1); err != nil || got != 199 {
		t.Fatalf("100th allocation: got (%d, %v), want (199, nil)", got, err)
	}
	if s.block.Sequence != 200 {
		t.Fatalf("disk ceiling should still be 200 before the 101st call, got %d", s.block.Sequence)
	}

	// The 101st call exhausts the first reservation and must bump the
	// on-disk ceiling before handing out 200.
	if got, err := s.Allocate(1); err != nil || got != 200 {
		t.Fatalf("101st allocation: got (%d, %v), want (200, nil)", got, err)
	}
	if s.block.Sequence != 300 {
		t.Fatalf("disk ceiling should have bumped to 300, got %d", s.block.Sequence)
	}

	reread, err := Open(path, 100)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reread.Close()
	if reread.block.Sequence < 300 {
		t.Fatalf("rewrite was not observable on disk: %d", reread.block.Sequence)
	}
}

func TestReservationNeverBehindIssuance(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var maxIssued uint32
	for i := 0; i < 1000; i++ {
		got, err := s.Allocate(1)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got > maxIssued {
			maxIssued = got
		}
		if s.block.Sequence < maxIssued {
			t.Fatalf("on-disk ceiling %d fell behind issued seq %d", s.block.Sequence, maxIssued)
		}
	}
}

func TestRestartAdvancesPastPriorCeiling(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	steps := uint32(50)

	s, err := Open(path, steps)
	if err != nil {
		t.Fatal(err)
	}
	// Issue a handful of seqs (50..54), simulating a crash before any
	// further reservation bump — the on-disk ceiling is the one the
	// first Allocate wrote, next+steps == 2*steps.
	var last uint32
	for i := 0; i < 5; i++ {
		last, err = s.Allocate(1)
		if err != nil {
			t.Fatal(err)
		}
	}
	diskCeilingBeforeCrash := s.block.Sequence
	_ = s.Close() // no explicit fsync — simulates a crash

	restarted, err := Open(path, steps)
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer restarted.Close()

	first, err := restarted.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	if first <= last {
		t.Fatalf("post-restart seq %d did not advance past pre-crash seq %d", first, last)
	}
	if first < diskCeilingBeforeCrash+steps {
		t.Fatalf("post-restart seq %d should be >= prior ceiling + steps (%d)", first, diskCeilingBeforeCrash+steps)
	}
}

func TestMagicRoundTrip(t *testing.T) {
	b := seqstore.Block{Version: 1, Label: 7, Sequence: 12345, Timestamp: 1700000000}
	b.Magic = seqstore.ComputeMagic(b)
	if !seqstore.ValidMagic(b) {
		t.Fatalf("freshly computed magic did not validate")
	}
	mutated := b
	mutated.Label++
	if seqstore.ValidMagic(mutated) {
		t.Fatalf("mutating Label should invalidate magic")
	}
	mutated = b
	mutated.Sequence++
	if seqstore.ValidMagic(mutated) {
		t.Fatalf("mutating Sequence should invalidate magic")
	}
	mutated = b
	mutated.Timestamp++
	if seqstore.ValidMagic(mutated) {
		t.Fatalf("mutating Timestamp should invalidate magic")
	}
}

func TestCorruptBlockRefusesToStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Allocate(1)
	_ = s.Close()

	// Corrupt the on-disk label without recomputing magic.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, blockSize)
	_, _ = f.ReadAt(buf, 0)
	buf[4] ^= 0xFF
	_, _ = f.WriteAt(buf, 0)
	_ = f.Close()

	if _, err := Open(path, 10); err == nil {
		t.Fatalf("expected Open to refuse a corrupt block")
	}
}

func TestAllocateZeroMeansOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a, err := s.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	if b != a+1 {
		t.Fatalf("Allocate(0) should behave like Allocate(1): got %d then %d", a, b)
	}
}

func TestSetLabelPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uniq.seq")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetLabel(42); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	reopened, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Label() != 42 {
		t.Fatalf("label did not persist: got %d", reopened.Label())
	}
}
