package playback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// captureSender records decoded messages delivered to one session.
type captureSender struct {
	mu   sync.Mutex
	msgs []map[string]any
	err  error
}

func (c *captureSender) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureSender) texts(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		switch m["type"] {
		case "audio_playback":
			text, _ := m["text"].(string)
			out = append(out, text)
		case "stop_playback":
			out = append(out, "<stop>")
		default:
			t.Fatalf("unexpected message type %v", m["type"])
		}
	}
	return out
}

func job(session string, seq uint64, text string) Job {
	return Job{
		SessionID:  session,
		Seq:        seq,
		Samples:    []float32{0.1, -0.1},
		SampleRate: 24000,
		Text:       text,
	}
}

func equalTexts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDispatcher_InOrderDelivery(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	for i, text := range []string{"a", "b", "c"} {
		if err := d.Enqueue(ctx, job("sess-1", uint64(i), text)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if got, want := snd.texts(t), []string{"a", "b", "c"}; !equalTexts(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestDispatcher_ReordersOutOfOrderCompletions(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	// Seq 1 completes first and must be held back.
	if err := d.Enqueue(ctx, job("sess-1", 1, "second")); err != nil {
		t.Fatalf("Enqueue seq 1: %v", err)
	}
	if got := snd.texts(t); len(got) != 0 {
		t.Fatalf("delivered %v before seq 0 arrived", got)
	}

	if err := d.Enqueue(ctx, job("sess-1", 0, "first")); err != nil {
		t.Fatalf("Enqueue seq 0: %v", err)
	}
	if got, want := snd.texts(t), []string{"first", "second"}; !equalTexts(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestDispatcher_SkipUnblocksLaterResults(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	// Seq 1 is ready but seq 0 failed in the pipeline.
	if err := d.Enqueue(ctx, job("sess-1", 1, "later")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Skip(ctx, "sess-1", 0); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if got, want := snd.texts(t), []string{"later"}; !equalTexts(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestDispatcher_SessionsIndependent(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd1 := &captureSender{}
	snd2 := &captureSender{}
	d.Register("sess-1", snd1.send)
	d.Register("sess-2", snd2.send)

	// sess-1 is stalled waiting on seq 0; sess-2 must not be affected.
	if err := d.Enqueue(ctx, job("sess-1", 1, "stalled")); err != nil {
		t.Fatalf("Enqueue sess-1: %v", err)
	}
	if err := d.Enqueue(ctx, job("sess-2", 0, "flows")); err != nil {
		t.Fatalf("Enqueue sess-2: %v", err)
	}

	if got := snd1.texts(t); len(got) != 0 {
		t.Errorf("sess-1 delivered %v, want none", got)
	}
	if got, want := snd2.texts(t), []string{"flows"}; !equalTexts(got, want) {
		t.Errorf("sess-2 delivered %v, want %v", got, want)
	}
}

func TestDispatcher_UnknownSessionDiscards(t *testing.T) {
	t.Parallel()

	d := New()
	if err := d.Enqueue(context.Background(), job("gone", 0, "x")); err != nil {
		t.Fatalf("Enqueue for unknown session: %v", err)
	}
	if err := d.Skip(context.Background(), "gone", 0); err != nil {
		t.Fatalf("Skip for unknown session: %v", err)
	}
}

func TestDispatcher_UnregisterDiscardsPending(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	if err := d.Enqueue(ctx, job("sess-1", 1, "held")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d.Unregister(ctx, "sess-1")

	// Late completion after unregister must be dropped, not delivered.
	if err := d.Enqueue(ctx, job("sess-1", 0, "late")); err != nil {
		t.Fatalf("Enqueue after unregister: %v", err)
	}
	if got := snd.texts(t); len(got) != 0 {
		t.Errorf("delivered %v after unregister, want none", got)
	}
}

// Worker sinks complete utterances concurrently with session teardown from
// the connection defer and the liveness reaper. Enqueue and Skip capture
// the session state before locking it, so they must tolerate an Unregister
// finishing in that window instead of writing into released state.
func TestDispatcher_TeardownRace(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}

	for i := 0; i < 500; i++ {
		d.Register("sess-1", snd.send)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = d.Enqueue(ctx, job("sess-1", 0, "racing"))
		}()
		go func() {
			defer wg.Done()
			_ = d.Skip(ctx, "sess-1", 1)
		}()
		go func() {
			defer wg.Done()
			d.Unregister(ctx, "sess-1")
		}()
		wg.Wait()

		// Whatever the interleaving, the session must be gone afterwards.
		if err := d.Enqueue(ctx, job("sess-1", 2, "late")); err != nil {
			t.Fatalf("Enqueue after teardown: %v", err)
		}
	}
}

func TestDispatcher_FlushDropsPendingAndSendsStop(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	if err := d.Enqueue(ctx, job("sess-1", 0, "a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Enqueue(ctx, job("sess-1", 2, "held")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Seqs 0..3 are considered handled after the flush.
	if err := d.Flush(ctx, "sess-1", 4); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// In-flight results below upTo arrive late and are discarded.
	if err := d.Enqueue(ctx, job("sess-1", 1, "stale")); err != nil {
		t.Fatalf("Enqueue stale: %v", err)
	}
	// Delivery resumes at upTo.
	if err := d.Enqueue(ctx, job("sess-1", 4, "fresh")); err != nil {
		t.Fatalf("Enqueue fresh: %v", err)
	}

	want := []string{"a", "<stop>", "fresh"}
	if got := snd.texts(t); !equalTexts(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestDispatcher_Notify(t *testing.T) {
	t.Parallel()

	d := New()
	snd := &captureSender{}
	d.Register("sess-1", snd.send)

	if err := d.Notify("sess-1", []byte(`{"type":"error","message":"busy"}`)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	snd.mu.Lock()
	n := len(snd.msgs)
	snd.mu.Unlock()
	if n != 1 {
		t.Errorf("delivered %d messages, want 1", n)
	}

	if err := d.Notify("gone", nil); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Notify unknown session = %v, want ErrUnknownSession", err)
	}
}

func TestDispatcher_SendErrorPropagates(t *testing.T) {
	t.Parallel()

	d := New()
	ctx := context.Background()
	wantErr := errors.New("connection reset")
	snd := &captureSender{err: wantErr}
	d.Register("sess-1", snd.send)

	if err := d.Enqueue(ctx, job("sess-1", 0, "a")); !errors.Is(err, wantErr) {
		t.Errorf("Enqueue error = %v, want %v", err, wantErr)
	}
}
