package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/echogate/internal/registry"
	"github.com/MrWong99/echogate/internal/vad"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Config{
		MaxClients: 8,
		SampleRate: 16000,
		ChunkSize:  1024,
		VAD: vad.Config{
			Threshold:      0.8,
			HangoverFrames: 5,
			MaxUtterance:   30 * time.Second,
			SampleRate:     16000,
		},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

// probeRecorder records probed session IDs.
type probeRecorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *probeRecorder) probe(s *registry.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, s.ID)
	return p.err
}

func (p *probeRecorder) probed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	probe := func(*registry.Session) error { return nil }

	tests := []struct {
		name     string
		cfg      Config
		sessions Sessions
		probe    ProbeFunc
	}{
		{"zero interval", Config{Interval: 0, TimeoutMult: 3}, reg, probe},
		{"multiplier below two", Config{Interval: time.Second, TimeoutMult: 1}, reg, probe},
		{"nil sessions", Config{Interval: time.Second, TimeoutMult: 3}, nil, probe},
		{"nil probe", Config{Interval: time.Second, TimeoutMult: 3}, reg, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg, tt.sessions, tt.probe); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSweep_FreshSessionUntouched(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	s, err := reg.Admit("10.0.0.1:1234")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	now := time.Now()
	s.Touch(now)
	rec := &probeRecorder{}
	mon, err := New(Config{Interval: 10 * time.Second, TimeoutMult: 3}, reg, rec.probe,
		withClock(func() time.Time { return now.Add(time.Second) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon.Sweep(context.Background())
	if got := rec.probed(); len(got) != 0 {
		t.Errorf("probed %v, want none", got)
	}
	if reg.Lookup(s.ID) == nil {
		t.Error("fresh session was removed")
	}
}

func TestSweep_IdleSessionProbed(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	s, err := reg.Admit("10.0.0.1:1234")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	now := time.Now()
	s.Touch(now)
	rec := &probeRecorder{}
	mon, err := New(Config{Interval: 10 * time.Second, TimeoutMult: 3}, reg, rec.probe,
		withClock(func() time.Time { return now.Add(15 * time.Second) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon.Sweep(context.Background())
	if got := rec.probed(); len(got) != 1 || got[0] != s.ID {
		t.Errorf("probed %v, want [%s]", got, s.ID)
	}
	if reg.Lookup(s.ID) == nil {
		t.Error("probed session was removed before timeout")
	}
}

func TestSweep_TimedOutSessionReaped(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	s, err := reg.Admit("10.0.0.1:1234")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	now := time.Now()
	s.Touch(now)
	rec := &probeRecorder{}
	mon, err := New(Config{Interval: 10 * time.Second, TimeoutMult: 3}, reg, rec.probe,
		withClock(func() time.Time { return now.Add(31 * time.Second) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon.Sweep(context.Background())
	if reg.Lookup(s.ID) != nil {
		t.Error("timed-out session still tracked")
	}
	if got := rec.probed(); len(got) != 0 {
		t.Errorf("probed %v, want none for an already timed-out session", got)
	}
}

func TestSweep_ProbeFailureReaps(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	s, err := reg.Admit("10.0.0.1:1234")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	now := time.Now()
	s.Touch(now)
	rec := &probeRecorder{err: errors.New("broken pipe")}
	mon, err := New(Config{Interval: 10 * time.Second, TimeoutMult: 3}, reg, rec.probe,
		withClock(func() time.Time { return now.Add(15 * time.Second) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon.Sweep(context.Background())
	if reg.Lookup(s.ID) != nil {
		t.Error("session with failed probe still tracked")
	}
}

func TestSweep_OnlyIdleSessionsAffected(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	fresh, err := reg.Admit("10.0.0.1:1")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	stale, err := reg.Admit("10.0.0.1:2")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	now := time.Now()
	fresh.Touch(now.Add(29 * time.Second))
	stale.Touch(now)
	rec := &probeRecorder{}
	mon, err := New(Config{Interval: 10 * time.Second, TimeoutMult: 3}, reg, rec.probe,
		withClock(func() time.Time { return now.Add(30 * time.Second) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon.Sweep(context.Background())
	if reg.Lookup(fresh.ID) == nil {
		t.Error("fresh session was removed")
	}
	if reg.Lookup(stale.ID) != nil {
		t.Error("stale session survived the sweep")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	mon, err := New(Config{Interval: 10 * time.Millisecond, TimeoutMult: 3}, reg,
		func(*registry.Session) error { return nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
