package idpack

import (
	"testing"
	"time"
)

func TestAssemblerPacksExpectedFields(t *testing.T) {
	a := NewAssembler(7)
	now := time.Unix(1700000000, 0) // 2023-11-14 22:13:20 UTC
	id := a.Assemble(5, 100, now)

	got := Unpack(id)
	want := Fields{User: 5, Label: 7, Year: uint8(now.Local().Year() - YearEpoch),
		Month: uint8(now.Local().Month()), Day: uint8(now.Local().Day()),
		Hour: uint8(now.Local().Hour()), Seq: 100}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAssemblerDetectsIntraHourOverflow(t *testing.T) {
	a := NewAssembler(7)
	now := time.Unix(1700000000, 0)

	if id := a.Assemble(1, 500, now); id == Overflow || id == StoreFailure {
		t.Fatalf("unexpected sentinel on first assemble: %d", id)
	}
	// A smaller seq in the same hour means the sequence store wrapped.
	if id := a.Assemble(1, 100, now); id != Overflow {
		t.Fatalf("expected Overflow sentinel, got %d", id)
	}
}

func TestAssemblerAllowsLowerSeqInNewHour(t *testing.T) {
	a := NewAssembler(7)
	t1 := time.Unix(1700000000, 0)
	t2 := t1.Add(2 * time.Hour)

	a.Assemble(1, 500, t1)
	if id := a.Assemble(1, 1, t2); id == Overflow {
		t.Fatalf("a new hour bucket must not trigger overflow detection")
	}
}

func TestAssemblerSetLabel(t *testing.T) {
	a := NewAssembler(7)
	a.SetLabel(9)
	id := a.Assemble(0, 1, time.Unix(1700000000, 0))
	if got := Unpack(id).Label; got != 9 {
		t.Fatalf("SetLabel did not take effect: got label %d", got)
	}
}
