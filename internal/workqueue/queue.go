// Package workqueue implements the bounded admission queue that feeds
// segmented utterances into the processing pipeline.
//
// The queue is a single global FIFO shared by all sessions, drained by a
// fixed pool of workers. Submission never blocks: when the queue is full the
// utterance is rejected immediately with [ErrBackpressure] so the caller can
// notify the client instead of stalling its read loop.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echogate/internal/engine"
	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/pkg/audio"
)

// ErrBackpressure is returned by [Queue.Submit] when the queue is at
// capacity and the utterance cannot be accepted.
var ErrBackpressure = errors.New("workqueue: queue full")

// Sink receives the outcome of every processed work item. It is invoked from
// worker goroutines and must be safe for concurrent use. On failure res is
// the zero value and err describes the failing stage.
type Sink func(sessionID string, seq uint64, res engine.Result, err error)

// Config holds the queue sizing parameters.
type Config struct {
	// Capacity is the maximum number of utterances waiting for a worker.
	Capacity int

	// Workers is the number of concurrent pipeline workers. This bounds
	// how many utterances are processed at once across all sessions.
	Workers int
}

// Queue is a bounded FIFO work queue with a fixed worker pool.
type Queue struct {
	cfg      Config
	pipeline engine.Pipeline
	sink     Sink
	metrics  *observe.Metrics
	logger   *slog.Logger

	ch    chan audio.Utterance
	depth atomic.Int64
}

// Option configures a [Queue].
type Option func(*Queue)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue draining into pipeline, reporting outcomes to sink.
func New(cfg Config, pipeline engine.Pipeline, sink Sink, opts ...Option) (*Queue, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("workqueue: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workqueue: workers must be positive, got %d", cfg.Workers)
	}
	if pipeline == nil {
		return nil, errors.New("workqueue: pipeline must not be nil")
	}
	if sink == nil {
		return nil, errors.New("workqueue: sink must not be nil")
	}
	q := &Queue{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     sink,
		ch:       make(chan audio.Utterance, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q, nil
}

// Submit offers an utterance to the queue. It never blocks: when the queue
// is full it returns [ErrBackpressure] and the utterance is dropped.
func (q *Queue) Submit(ctx context.Context, u audio.Utterance) error {
	select {
	case q.ch <- u:
		q.depth.Add(1)
		q.metrics.QueueDepth.Add(ctx, 1)
		return nil
	default:
		q.metrics.QueueRejections.Add(ctx, 1)
		return ErrBackpressure
	}
}

// Len reports the number of utterances currently waiting for a worker.
func (q *Queue) Len() int {
	return int(q.depth.Load())
}

// Run starts the worker pool and blocks until ctx is cancelled. Queued
// utterances left behind at shutdown are discarded.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			return q.worker(ctx)
		})
	}
	err := g.Wait()

	if n := audio.Drain(q.ch); n > 0 {
		q.depth.Add(-int64(n))
		q.metrics.QueueDepth.Add(context.Background(), -int64(n))
		q.logger.Info("discarded queued utterances at shutdown", slog.Int("count", n))
	}
	return err
}

func (q *Queue) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-q.ch:
			q.depth.Add(-1)
			q.metrics.QueueDepth.Add(ctx, -1)
			q.process(ctx, u)
		}
	}
}

func (q *Queue) process(ctx context.Context, u audio.Utterance) {
	res, err := q.pipeline.Process(ctx, u)
	if err != nil {
		q.logger.Warn("pipeline processing failed",
			slog.String("session_id", u.SessionID),
			slog.Uint64("seq", u.Seq),
			slog.String("error", err.Error()),
		)
	}
	q.sink(u.SessionID, u.Seq, res, err)
}
