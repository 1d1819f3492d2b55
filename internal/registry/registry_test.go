package registry_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/echogate/internal/registry"
	"github.com/MrWong99/echogate/internal/vad"
)

func newTestRegistry(t *testing.T, maxClients int) *registry.Registry {
	t.Helper()
	r, err := registry.New(registry.Config{
		MaxClients: maxClients,
		SampleRate: 16000,
		ChunkSize:  1024,
		VAD: vad.Config{
			Threshold:      0.8,
			HangoverFrames: 5,
			SampleRate:     16000,
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := registry.New(registry.Config{MaxClients: 0}); err == nil {
		t.Error("expected error for zero max clients")
	}
}

func TestAdmitLookupRemove(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 4)

	s, err := r.Admit("10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if s.State() != registry.StateConnecting {
		t.Errorf("state = %v, want connecting", s.State())
	}
	if s.SampleRate != 16000 || s.ChunkSize != 1024 {
		t.Errorf("negotiated format = %d/%d, want 16000/1024", s.SampleRate, s.ChunkSize)
	}
	if s.Segmenter == nil {
		t.Fatal("session has no segmenter")
	}

	if got := r.Lookup(s.ID); got != s {
		t.Errorf("Lookup(%q) = %v, want the admitted session", s.ID, got)
	}

	if !s.Activate() {
		t.Error("Activate() failed on a connecting session")
	}
	if s.State() != registry.StateActive {
		t.Errorf("state = %v, want active", s.State())
	}

	r.Remove(s.ID)
	if got := r.Lookup(s.ID); got != nil {
		t.Errorf("Lookup after Remove = %v, want nil", got)
	}
	if s.State() != registry.StateClosed {
		t.Errorf("state after Remove = %v, want closed", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() channel not closed after Remove")
	}
}

func TestCapacityBound(t *testing.T) {
	t.Parallel()

	const maxClients = 3
	r := newTestRegistry(t, maxClients)

	for i := 0; i < maxClients; i++ {
		if _, err := r.Admit("10.0.0.1:5000"); err != nil {
			t.Fatalf("Admit() %d error: %v", i, err)
		}
	}

	_, err := r.Admit("10.0.0.1:6000")
	if !errors.Is(err, registry.ErrCapacity) {
		t.Fatalf("Admit() beyond capacity error = %v, want ErrCapacity", err)
	}
	if r.Len() != maxClients {
		t.Errorf("Len() = %d, want %d", r.Len(), maxClients)
	}
}

func TestRemoveFreesSlot(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 1)
	s, err := r.Admit("a")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	r.Remove(s.ID)

	if _, err := r.Admit("b"); err != nil {
		t.Errorf("Admit() after Remove error: %v, want slot to be free", err)
	}
}

func TestConcurrentAdmitNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const (
		maxClients = 8
		attempts   = 64
	)
	r := newTestRegistry(t, maxClients)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Admit("race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, registry.ErrCapacity):
				rejected++
			default:
				t.Errorf("unexpected Admit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != maxClients {
		t.Errorf("admitted = %d, want %d", admitted, maxClients)
	}
	if rejected != attempts-maxClients {
		t.Errorf("rejected = %d, want %d", rejected, attempts-maxClients)
	}
	if r.Len() != maxClients {
		t.Errorf("Len() = %d, want %d", r.Len(), maxClients)
	}
}

func TestOnRemoveHookRuns(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 2)
	var (
		mu      sync.Mutex
		removed []string
	)
	r.OnRemove(func(s *registry.Session) {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, s.ID)
	})

	s, err := r.Admit("a")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	r.Remove(s.ID)
	r.Remove(s.ID) // idempotent; hook must fire once

	mu.Lock()
	defer mu.Unlock()
	if len(removed) != 1 || removed[0] != s.ID {
		t.Errorf("removal hooks fired for %v, want exactly [%s]", removed, s.ID)
	}
}

func TestActiveSnapshot(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 4)
	a, _ := r.Admit("a")
	b, _ := r.Admit("b")
	_ = b // stays in Connecting
	a.Activate()

	active := r.Active()
	if len(active) != 1 || active[0] != a {
		t.Errorf("Active() = %v, want only the activated session", active)
	}
}

func TestTouchAndLastActivity(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 1)
	s, err := r.Admit("a")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}

	mark := time.Now().Add(5 * time.Second)
	s.Touch(mark)
	if got := s.LastActivity(); !got.Equal(mark) {
		t.Errorf("LastActivity() = %v, want %v", got, mark)
	}
}
