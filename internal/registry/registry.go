// Package registry tracks active client sessions and enforces the
// configured concurrent-session capacity.
//
// The registry is the only shared mutable state on the inbound path besides
// the work queue: admission, lookup, and removal are all linearized through
// one mutex so the capacity invariant (never more than max concurrent
// sessions) holds under any interleaving of connection lifecycles.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echogate/internal/vad"
)

// ErrCapacity is returned by [Registry.Admit] when the active-session count
// has reached the configured maximum.
var ErrCapacity = errors.New("session registry at capacity")

// Config holds the session parameters stamped onto every admitted session.
type Config struct {
	// MaxClients bounds the number of concurrently tracked sessions.
	MaxClients int

	// SampleRate and ChunkSize are the audio format offered to every
	// client in the configuration handshake.
	SampleRate int
	ChunkSize  int

	// VAD configures the per-session segmenter.
	VAD vad.Config
}

// Registry owns all active sessions. All exported methods are safe for
// concurrent use.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	seq      uint64

	// onRemove hooks are called (outside the lock) after a session is
	// removed, letting the dispatcher and metrics release per-session state.
	onRemove []func(*Session)
}

// New creates a Registry. MaxClients must be positive.
func New(cfg Config) (*Registry, error) {
	if cfg.MaxClients <= 0 {
		return nil, fmt.Errorf("registry: max clients must be positive, got %d", cfg.MaxClients)
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session, cfg.MaxClients),
	}, nil
}

// OnRemove registers a hook invoked after every session removal, regardless
// of why the session ended. Hooks run outside the registry lock. Register
// all hooks before serving traffic.
func (r *Registry) OnRemove(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Admit creates and tracks a session for a newly accepted connection.
// Returns [ErrCapacity] when the registry is full. The session starts in
// Connecting; the caller transitions it to Active once the configuration
// handshake completes.
func (r *Registry) Admit(remoteAddr string) (*Session, error) {
	seg, err := vad.New(r.cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("registry: create segmenter: %w", err)
	}

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxClients {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	r.seq++
	now := time.Now()
	s := &Session{
		ID:         fmt.Sprintf("sess-%s-%d", now.UTC().Format("20060102T150405Z"), r.seq),
		RemoteAddr: remoteAddr,
		SampleRate: r.cfg.SampleRate,
		ChunkSize:  r.cfg.ChunkSize,
		Segmenter:  seg,
		StartedAt:  now,
		closed:     make(chan struct{}),
	}
	s.Touch(now)
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	slog.Info("session admitted", "session_id", s.ID, "remote_addr", remoteAddr, "active", n)
	return s, nil
}

// Lookup returns the session with the given ID, or nil if it is not tracked.
func (r *Registry) Lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove releases the session and its capacity slot. It is idempotent and
// is invoked from both the connection teardown path and the liveness
// reaper; whichever runs first wins. All session-owned state (open VAD
// segment, queued playback jobs) is released via the removal hooks.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	s.beginClose()
	s.Segmenter.Reset()
	for _, fn := range r.onRemove {
		fn(s)
	}
	s.state.Store(int32(StateClosed))

	slog.Info("session removed", "session_id", id, "active", n)
}

// Len returns the number of currently tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Active returns a snapshot of all sessions currently in the Active state.
// Used by the liveness monitor's probe sweep.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.State() == StateActive {
			out = append(out, s)
		}
	}
	return out
}
