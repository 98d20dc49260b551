package redis

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestConfigureRequiresAddr(t *testing.T) {
	s := New(zap.NewNop())
	err := s.Configure(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected error when addr is missing")
	}
}

func TestSetLabelRekeys(t *testing.T) {
	s := New(zap.NewNop())
	s.label = 3
	s.key = "uniqd:seq:3"
	if err := s.SetLabel(9); err != nil {
		t.Fatal(err)
	}
	if s.key != "uniqd:seq:9" {
		t.Fatalf("SetLabel did not update the redis key: %s", s.key)
	}
	if s.Label() != 9 {
		t.Fatalf("Label() should reflect SetLabel: got %d", s.Label())
	}
}

func TestLastRenewalTimeRoundTrip(t *testing.T) {
	s := New(zap.NewNop())
	if err := s.SetLastRenewalTime(1700000000); err != nil {
		t.Fatal(err)
	}
	if got := s.LastRenewalTime(); got != 1700000000 {
		t.Fatalf("got %d, want 1700000000", got)
	}
}
