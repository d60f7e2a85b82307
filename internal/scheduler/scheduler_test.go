package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateSpec(t *testing.T) {
	for _, spec := range []string{"*/15 * * * *", "0 9 * * MON-FRI", "@hourly", "@every 10m"} {
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("ValidateSpec(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "* * *", "61 * * * *"} {
		if err := ValidateSpec(spec); err == nil {
			t.Errorf("ValidateSpec(%q) accepted", spec)
		}
	}
}

func TestAddRejectsBadJobs(t *testing.T) {
	s := New(time.UTC)
	noop := func(context.Context) error { return nil }

	if _, err := s.Add("@hourly", Job{Name: "", Run: noop}); err == nil {
		t.Fatal("nameless job accepted")
	}
	if _, err := s.Add("not a spec", Job{Name: "x", Run: noop}); err == nil {
		t.Fatal("bad spec accepted")
	}
	if _, err := s.Add("@hourly", Job{Name: "x", Run: noop}); err != nil {
		t.Fatalf("add after failed add: %v", err)
	}
	if _, err := s.Add("@hourly", Job{Name: "x", Run: noop}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestRunNow(t *testing.T) {
	s := New(time.UTC)
	var calls atomic.Int32
	boom := errors.New("boom")
	if _, err := s.Add("@daily", Job{Name: "count", Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("@daily", Job{Name: "fail", Run: func(context.Context) error { return boom }}); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow(context.Background(), "count"); err != nil || calls.Load() != 1 {
		t.Fatalf("RunNow = %v, calls %d", err, calls.Load())
	}
	if err := s.RunNow(context.Background(), "fail"); !errors.Is(err, boom) {
		t.Fatalf("want job error, got %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("unknown job ran")
	}
}

func TestStartStop(t *testing.T) {
	s := New(time.UTC)
	fired := make(chan struct{}, 1)
	if _, err := s.Add("@every 1s", Job{Name: "tick", Run: func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()
	if next := s.Next(); len(next) != 1 || next[0].IsZero() {
		t.Fatalf("next = %v", next)
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
}
