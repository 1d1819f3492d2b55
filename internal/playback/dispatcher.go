// Package playback delivers synthesized audio back to clients in strict
// per-session utterance order.
//
// Workers complete utterances out of order, so the dispatcher holds a small
// reorder buffer per session keyed by utterance sequence number. A result is
// transmitted only once every earlier sequence number for that session has
// been transmitted or skipped. Failed utterances are skipped via [Dispatcher.Skip]
// so a single failure never stalls delivery of later results.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/internal/protocol"
)

// Job is one synthesized utterance ready for delivery.
type Job struct {
	SessionID  string
	Seq        uint64
	Samples    []float32
	SampleRate int
	Text       string
}

// SendFunc transmits one encoded message to a client. Implementations are
// called sequentially per session.
type SendFunc func(payload []byte) error

type pendingItem struct {
	job  Job
	skip bool
}

type sessionState struct {
	mu      sync.Mutex
	send    SendFunc
	next    uint64
	pending map[uint64]pendingItem
}

// Dispatcher routes completed pipeline results to their sessions in order.
type Dispatcher struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Register starts ordered delivery for a session. Sequence numbers begin
// at zero. Registering an already-registered session replaces its sender
// and resets its ordering state.
func (d *Dispatcher) Register(sessionID string, send SendFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = &sessionState{
		send:    send,
		pending: make(map[uint64]pendingItem),
	}
}

// Unregister stops delivery for a session and discards any buffered
// results. Safe to call for unknown sessions.
func (d *Dispatcher) Unregister(ctx context.Context, sessionID string) {
	d.mu.Lock()
	st, ok := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	dropped := 0
	for _, it := range st.pending {
		if !it.skip {
			dropped++
		}
	}
	st.pending = nil
	st.mu.Unlock()

	if dropped > 0 {
		d.metrics.PlaybackDiscarded.Add(ctx, int64(dropped))
	}
}

// Enqueue buffers one result and transmits every consecutively ready
// result for the session. Results for unknown sessions are discarded,
// covering clients that disconnected while their utterance was in flight.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	st := d.lookup(job.SessionID)
	if st == nil {
		d.metrics.PlaybackDiscarded.Add(ctx, 1)
		d.logger.Debug("discarding playback for closed session",
			slog.String("session_id", job.SessionID),
			slog.Uint64("seq", job.Seq),
		)
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil {
		// Teardown won the race after lookup; the session is gone.
		d.metrics.PlaybackDiscarded.Add(ctx, 1)
		return nil
	}
	if job.Seq < st.next {
		// Already flushed past this sequence number.
		d.metrics.PlaybackDiscarded.Add(ctx, 1)
		return nil
	}
	st.pending[job.Seq] = pendingItem{job: job}
	return d.drainLocked(ctx, st)
}

// Skip marks a sequence number as handled without transmitting anything,
// unblocking delivery of later results. Call it when the pipeline fails
// for an utterance.
func (d *Dispatcher) Skip(ctx context.Context, sessionID string, seq uint64) error {
	st := d.lookup(sessionID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil || seq < st.next {
		return nil
	}
	st.pending[seq] = pendingItem{skip: true}
	return d.drainLocked(ctx, st)
}

// Flush discards all buffered results for the session, treats every
// sequence number below upTo as handled, and tells the client to stop
// local playback. The ordering cursor always advances past the dropped
// items so delivery cannot stall on a flushed sequence; pass the session's
// next unassigned utterance sequence as upTo to also discard results still
// in flight when they arrive, or 0 to flush only what is buffered.
func (d *Dispatcher) Flush(ctx context.Context, sessionID string, upTo uint64) error {
	st := d.lookup(sessionID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	if st.pending == nil {
		st.mu.Unlock()
		return nil
	}
	dropped := 0
	for seq, it := range st.pending {
		if !it.skip {
			dropped++
		}
		if seq >= upTo {
			upTo = seq + 1
		}
		delete(st.pending, seq)
	}
	if upTo > st.next {
		st.next = upTo
	}
	send := st.send
	st.mu.Unlock()

	if dropped > 0 {
		d.metrics.PlaybackDiscarded.Add(ctx, int64(dropped))
	}
	payload, err := protocol.EncodeStopPlayback()
	if err != nil {
		return fmt.Errorf("playback: encode stop: %w", err)
	}
	if err := send(payload); err != nil {
		return fmt.Errorf("playback: send stop to %s: %w", sessionID, err)
	}
	return nil
}

// ErrUnknownSession is returned by [Dispatcher.Notify] when the session is
// not registered.
var ErrUnknownSession = errors.New("playback: unknown session")

// Notify transmits one message outside the ordered playback stream, for
// error notices and keepalive probes. Ordering relative to playback
// messages is not guaranteed.
func (d *Dispatcher) Notify(sessionID string, payload []byte) error {
	st := d.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	st.mu.Lock()
	send := st.send
	st.mu.Unlock()
	if err := send(payload); err != nil {
		return fmt.Errorf("playback: notify %s: %w", sessionID, err)
	}
	return nil
}

func (d *Dispatcher) lookup(sessionID string) *sessionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[sessionID]
}

// drainLocked transmits every consecutively ready pending item starting at
// st.next. Caller must hold st.mu.
func (d *Dispatcher) drainLocked(ctx context.Context, st *sessionState) error {
	for {
		it, ok := st.pending[st.next]
		if !ok {
			return nil
		}
		delete(st.pending, st.next)
		st.next++
		if it.skip {
			continue
		}
		payload, err := protocol.EncodePlayback(it.job.Samples, it.job.SampleRate, it.job.Text)
		if err != nil {
			return fmt.Errorf("playback: encode seq %d: %w", it.job.Seq, err)
		}
		if err := st.send(payload); err != nil {
			d.metrics.PlaybackDiscarded.Add(ctx, 1)
			return fmt.Errorf("playback: send to %s seq %d: %w", it.job.SessionID, it.job.Seq, err)
		}
		d.metrics.PlaybackDelivered.Add(ctx, 1)
	}
}
