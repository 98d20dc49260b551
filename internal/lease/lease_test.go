package lease

import (
	"context"
	"testing"
	"time"

	"github.com/zfair/uniqd/errcode"
	"github.com/zfair/uniqd/wire"
)

type fakeStore struct {
	label       uint8
	renewalTime int64
}

func (f *fakeStore) Label() uint8                          { return f.label }
func (f *fakeStore) SetLabel(l uint8) error                { f.label = l; return nil }
func (f *fakeStore) LastRenewalTime() int64                { return f.renewalTime }
func (f *fakeStore) SetLastRenewalTime(t int64) error       { f.renewalTime = t; return nil }

type fakeSender struct {
	sent []wire.Frame
	addr []string
}

func (f *fakeSender) SendTo(addr string, fr wire.Frame) error {
	f.sent = append(f.sent, fr)
	f.addr = append(f.addr, addr)
	return nil
}

type fakeRequester struct {
	responses []wire.Frame
	errs      []error
	calls     int
}

func (f *fakeRequester) Do(_ context.Context, _ string, _ wire.Frame) (wire.Frame, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return wire.Frame{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return wire.Frame{}, nil
}

func TestExpired(t *testing.T) {
	store := &fakeStore{renewalTime: 1000}
	c := New(store, []string{"m1:1"}, &fakeSender{}, &fakeRequester{}, 20*time.Second, 5*time.Second, nil)

	if c.Expired(time.Unix(1010, 0)) {
		t.Fatalf("should not be expired 10s after renewal with a 20s expiry")
	}
	if !c.Expired(time.Unix(1021, 0)) {
		t.Fatalf("should be expired 21s after renewal with a 20s expiry")
	}
}

func TestMaybeRenewRespectsInterval(t *testing.T) {
	store := &fakeStore{label: 7}
	sender := &fakeSender{}
	c := New(store, []string{"m1:1"}, sender, &fakeRequester{}, 20*time.Second, 5*time.Second, nil)

	c.MaybeRenew(time.Unix(1000, 0))
	c.MaybeRenew(time.Unix(1002, 0)) // within interval, should be a no-op
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one renewal send, got %d", len(sender.sent))
	}

	c.MaybeRenew(time.Unix(1006, 0)) // past the 5s interval
	if len(sender.sent) != 2 {
		t.Fatalf("expected a second renewal send after the interval elapsed, got %d", len(sender.sent))
	}
}

func TestMaybeRenewNoopWithoutMasters(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	c := New(store, nil, sender, &fakeRequester{}, 20*time.Second, 5*time.Second, nil)
	c.MaybeRenew(time.Unix(1000, 0))
	if len(sender.sent) != 0 {
		t.Fatalf("expected no send without any configured masters")
	}
}

func TestOnRenewalResponseUpdatesLabelAndTimestamp(t *testing.T) {
	store := &fakeStore{label: 7, renewalTime: 100}
	c := New(store, []string{"m1:1"}, &fakeSender{}, &fakeRequester{}, 20*time.Second, 5*time.Second, nil)

	err := c.OnRenewalResponse(wire.Frame{Type: wire.ResponseLabel, Value1: 9}, time.Unix(500, 0))
	if err != nil {
		t.Fatal(err)
	}
	if store.label != 9 || store.renewalTime != 500 {
		t.Fatalf("renewal response did not update state: %+v", store)
	}
}

func TestAcquireSucceedsOnFirstTry(t *testing.T) {
	store := &fakeStore{}
	req := &fakeRequester{responses: []wire.Frame{{Type: wire.ResponseLabel, Value1: 12}}}
	c := New(store, []string{"m1:1"}, &fakeSender{}, req, 20*time.Second, 5*time.Second, nil)

	label, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if label != 12 || store.label != 12 {
		t.Fatalf("expected label 12, got %d (store=%d)", label, store.label)
	}
}

func TestAcquireRetriesOnceOnLabelNotHold(t *testing.T) {
	store := &fakeStore{label: 3}
	req := &fakeRequester{responses: []wire.Frame{
		{Type: wire.ResponseError, Value1: errcode.LabelNotHold},
		{Type: wire.ResponseLabel, Value1: 8},
	}}
	c := New(store, []string{"m1:1"}, &fakeSender{}, req, 20*time.Second, 5*time.Second, nil)

	label, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if label != 8 {
		t.Fatalf("expected label 8 after retry, got %d", label)
	}
}

func TestAcquireFailsImmediatelyOnTimeout(t *testing.T) {
	store := &fakeStore{label: 3}
	req := &fakeRequester{errs: []error{context.DeadlineExceeded, nil}, responses: []wire.Frame{
		{}, {Type: wire.ResponseLabel, Value1: 8},
	}}
	c := New(store, []string{"m1:1"}, &fakeSender{}, req, 20*time.Second, 5*time.Second, nil)

	if _, err := c.Acquire(context.Background()); err == nil {
		t.Fatalf("expected a timeout to be fatal on the first attempt")
	}
	if req.calls != 1 {
		t.Fatalf("expected no retry after a timeout, got %d calls", req.calls)
	}
}

func TestAcquireFailsImmediatelyOnNonLabelNotHoldError(t *testing.T) {
	store := &fakeStore{label: 3}
	req := &fakeRequester{responses: []wire.Frame{
		{Type: wire.ResponseError, Value1: errcode.StoreSeq},
		{Type: wire.ResponseLabel, Value1: 8},
	}}
	c := New(store, []string{"m1:1"}, &fakeSender{}, req, 20*time.Second, 5*time.Second, nil)

	if _, err := c.Acquire(context.Background()); err == nil {
		t.Fatalf("expected a non-LABEL_NOT_HOLD error response to be fatal on the first attempt")
	}
	if req.calls != 1 {
		t.Fatalf("expected no retry after a non-LABEL_NOT_HOLD error, got %d calls", req.calls)
	}
}

func TestAcquireFailsWithoutMasters(t *testing.T) {
	store := &fakeStore{}
	c := New(store, nil, &fakeSender{}, &fakeRequester{}, 20*time.Second, 5*time.Second, nil)
	if _, err := c.Acquire(context.Background()); err == nil {
		t.Fatalf("expected an error acquiring with no masters configured")
	}
}

func TestSelectRoundRobinCyclesThroughMasters(t *testing.T) {
	masters := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		seen[SelectRoundRobin(masters, 0)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("round robin should visit all masters, saw %v", seen)
	}
}

func TestSelectHashedIsStablePerLabel(t *testing.T) {
	masters := []string{"a", "b", "c", "d"}
	first := SelectHashed(masters, 42)
	for i := 0; i < 5; i++ {
		if got := SelectHashed(masters, 42); got != first {
			t.Fatalf("SelectHashed should be stable for a fixed label: got %s, want %s", got, first)
		}
	}
}
