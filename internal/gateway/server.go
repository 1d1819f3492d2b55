// Package gateway implements the WebSocket front door of echogate.
//
// Each accepted connection is admitted against the session registry, sent
// the configuration handshake, and then pumped: inbound audio messages feed
// the session's VAD segmenter, completed utterances are submitted to the
// work queue, and the playback dispatcher writes results back over the same
// connection. Malformed messages are logged and dropped without ending the
// session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/echogate/internal/engine"
	"github.com/MrWong99/echogate/internal/observe"
	"github.com/MrWong99/echogate/internal/playback"
	"github.com/MrWong99/echogate/internal/protocol"
	"github.com/MrWong99/echogate/internal/registry"
	"github.com/MrWong99/echogate/internal/workqueue"
	"github.com/MrWong99/echogate/pkg/audio"
)

// Client-visible error messages.
const (
	msgCapacity = "server at maximum capacity"
	msgBusy     = "server busy, utterance dropped"
	msgFailed   = "utterance processing failed"
)

// writeTimeout bounds a single outbound WebSocket write.
const writeTimeout = 10 * time.Second

// Config holds the gateway's serving parameters.
type Config struct {
	// Addr is the TCP listen address.
	Addr string

	// SampleRate and ChunkSize are advertised in the handshake; ChunkSize
	// also bounds inbound audio payloads.
	SampleRate int
	ChunkSize  int

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Server accepts WebSocket connections and runs one session pump per client.
type Server struct {
	cfg        Config
	reg        *registry.Registry
	queue      *workqueue.Queue
	dispatcher *playback.Dispatcher
	metrics    *observe.Metrics
	logger     *slog.Logger

	httpSrv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the gateway server. The registry, queue, and dispatcher are
// all required.
func New(cfg Config, reg *registry.Registry, queue *workqueue.Queue, dispatcher *playback.Dispatcher, opts ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("gateway: registry must not be nil")
	}
	if queue == nil {
		return nil, errors.New("gateway: queue must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("gateway: dispatcher must not be nil")
	}
	srv := &Server{
		cfg:        cfg,
		reg:        reg,
		queue:      queue,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.metrics == nil {
		srv.metrics = observe.DefaultMetrics()
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleWS)
	srv.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return srv, nil
}

// Sink returns the work-queue sink that routes pipeline outcomes through
// the playback dispatcher. Failed utterances are skipped in the ordering
// and the client is notified out of band.
func (srv *Server) Sink() workqueue.Sink {
	return func(sessionID string, seq uint64, res engine.Result, err error) {
		ctx := context.Background()
		if err != nil {
			if skipErr := srv.dispatcher.Skip(ctx, sessionID, seq); skipErr != nil {
				srv.logger.Warn("skip failed", slog.String("session_id", sessionID), slog.String("error", skipErr.Error()))
			}
			if payload, encErr := protocol.EncodeError(msgFailed); encErr == nil {
				if notifyErr := srv.dispatcher.Notify(sessionID, payload); notifyErr != nil && !errors.Is(notifyErr, playback.ErrUnknownSession) {
					srv.logger.Warn("error notify failed", slog.String("session_id", sessionID), slog.String("error", notifyErr.Error()))
				}
			}
			return
		}
		if enqErr := srv.dispatcher.Enqueue(ctx, playback.Job{
			SessionID:  sessionID,
			Seq:        seq,
			Samples:    res.Samples,
			SampleRate: res.SampleRate,
			Text:       res.Text,
		}); enqErr != nil {
			srv.logger.Warn("playback delivery failed",
				slog.String("session_id", sessionID),
				slog.Uint64("seq", seq),
				slog.String("error", enqErr.Error()),
			)
		}
	}
}

// Probe returns the liveness probe function, sending a keepalive ping over
// the session's connection.
func (srv *Server) Probe() func(s *registry.Session) error {
	return func(s *registry.Session) error {
		payload, err := protocol.EncodePing()
		if err != nil {
			return err
		}
		return srv.dispatcher.Notify(s.ID, payload)
	}
}

// Run serves WebSocket traffic until ctx is cancelled, then shuts down
// gracefully.
func (srv *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.cfg.TLSCertFile != "" && srv.cfg.TLSKeyFile != "" {
			err = srv.httpSrv.ListenAndServeTLS(srv.cfg.TLSCertFile, srv.cfg.TLSKeyFile)
		} else {
			err = srv.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the WebSocket endpoint for tests.
func (srv *Server) Handler() http.Handler {
	return srv.httpSrv.Handler
}

func (srv *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		srv.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	sender := newConnSender(conn)

	s, err := srv.reg.Admit(r.RemoteAddr)
	if err != nil {
		if errors.Is(err, registry.ErrCapacity) {
			srv.metrics.SessionsRejected.Add(ctx, 1)
			if payload, encErr := protocol.EncodeError(msgCapacity); encErr == nil {
				_ = sender.send(payload)
			}
			conn.Close(websocket.StatusTryAgainLater, "capacity")
			return
		}
		conn.Close(websocket.StatusInternalError, "admission failed")
		return
	}
	srv.metrics.ActiveSessions.Add(ctx, 1)

	defer func() {
		srv.reg.Remove(s.ID)
		srv.metrics.ActiveSessions.Add(context.Background(), -1)
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}()

	srv.dispatcher.Register(s.ID, sender.send)
	defer srv.dispatcher.Unregister(context.Background(), s.ID)

	// Close the connection when the registry drops the session, e.g. after
	// a liveness timeout, so the read loop below unblocks.
	go func() {
		select {
		case <-s.Done():
			conn.Close(websocket.StatusGoingAway, "session removed")
		case <-ctx.Done():
		}
	}()

	handshake, err := protocol.EncodeConfig(srv.cfg.SampleRate, srv.cfg.ChunkSize)
	if err != nil {
		srv.logger.Error("encode handshake", slog.String("error", err.Error()))
		return
	}
	if err := sender.send(handshake); err != nil {
		srv.logger.Debug("handshake write failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.Activate()

	srv.pump(ctx, conn, s, sender)
}

// pump is the per-session read loop. It exits when the connection closes,
// the session is removed, or ctx is cancelled.
func (srv *Server) pump(ctx context.Context, conn *websocket.Conn, s *registry.Session, sender *connSender) {
	log := srv.logger.With(slog.String("session_id", s.ID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("session read ended", slog.String("error", err.Error()))
			return
		}

		ev, err := protocol.Decode(data, srv.cfg.ChunkSize)
		if err != nil {
			srv.metrics.FramesMalformed.Add(ctx, 1)
			log.Debug("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		s.Touch(time.Now())

		switch ev.Kind {
		case protocol.EventPong:
			// Answer to our keepalive probe; the Touch above is all it
			// needed to accomplish.

		case protocol.EventPing:
			if payload, encErr := protocol.EncodePong(); encErr == nil {
				if sendErr := sender.send(payload); sendErr != nil {
					log.Debug("pong write failed", slog.String("error", sendErr.Error()))
					return
				}
			}

		case protocol.EventAudio:
			frame := audio.Frame{Samples: ev.Samples, Seq: s.NextFrameSeq()}
			utt := s.Segmenter.Process(frame)
			if utt == nil {
				continue
			}
			utt.SessionID = s.ID
			utt.Seq = s.UttSeq()
			srv.metrics.Utterances.Add(ctx, 1)

			if err := srv.queue.Submit(ctx, *utt); err != nil {
				if errors.Is(err, workqueue.ErrBackpressure) {
					log.Warn("utterance dropped under backpressure", slog.Uint64("seq", utt.Seq))
					if payload, encErr := protocol.EncodeError(msgBusy); encErr == nil {
						_ = sender.send(payload)
					}
					continue
				}
				log.Warn("submit failed", slog.String("error", err.Error()))
				continue
			}
			// The sequence number is burned only once the queue has the
			// utterance, so rejected utterances leave no delivery gap.
			s.ConsumeUttSeq()
		}
	}
}

// connSender serializes writes to one WebSocket connection.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSender(conn *websocket.Conn) *connSender {
	return &connSender{conn: conn}
}

func (c *connSender) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}
