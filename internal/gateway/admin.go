package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/echogate/internal/health"
	"github.com/MrWong99/echogate/internal/playback"
	"github.com/MrWong99/echogate/internal/registry"
	"github.com/MrWong99/echogate/pkg/audio"
	"github.com/MrWong99/echogate/pkg/provider/tts"
)

// synthesizeTimeout bounds one admin synthesis request.
const synthesizeTimeout = 30 * time.Second

// AdminServer serves the operational HTTP surface: health and readiness
// probes, the Prometheus scrape endpoint, session inspection and playback
// control, and a synthesis test endpoint for verifying the TTS provider
// without a WebSocket client.
type AdminServer struct {
	addr        string
	synthesizer tts.Synthesizer
	reg         *registry.Registry
	dispatcher  *playback.Dispatcher
	logger      *slog.Logger

	httpSrv *http.Server
}

// NewAdminServer builds the admin server. checkers feed the /readyz
// endpoint. synthesizer may be nil, which disables POST /synthesize;
// reg and dispatcher may be nil, which disables the /sessions routes.
func NewAdminServer(addr string, synthesizer tts.Synthesizer, reg *registry.Registry, dispatcher *playback.Dispatcher, logger *slog.Logger, checkers ...health.Checker) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AdminServer{
		addr:        addr,
		synthesizer: synthesizer,
		reg:         reg,
		dispatcher:  dispatcher,
		logger:      logger,
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /synthesize", a.handleSynthesize)
	if reg != nil && dispatcher != nil {
		mux.HandleFunc("GET /sessions", a.handleSessions)
		mux.HandleFunc("POST /sessions/{id}/stop", a.handleStopPlayback)
	}
	a.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return a
}

// Handler exposes the admin mux for tests.
func (a *AdminServer) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *AdminServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	}
}

// sessionInfo is one entry of the GET /sessions response.
type sessionInfo struct {
	ID           string `json:"id"`
	RemoteAddr   string `json:"remote_addr"`
	State        string `json:"state"`
	StartedAt    string `json:"started_at"`
	LastActivity string `json:"last_activity"`
}

// handleSessions lists all tracked sessions.
func (a *AdminServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.reg.Active()
	out := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo{
			ID:           s.ID,
			RemoteAddr:   s.RemoteAddr,
			State:        s.State().String(),
			StartedAt:    s.StartedAt.Format(time.RFC3339),
			LastActivity: s.LastActivity().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		a.logger.Debug("session list write failed", slog.String("error", err.Error()))
	}
}

// handleStopPlayback flushes a session's queued playback and tells the
// client to stop locally, the operator-side equivalent of interrupting the
// assistant mid-reply.
func (a *AdminServer) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.reg.Lookup(id) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if err := a.dispatcher.Flush(r.Context(), id, 0); err != nil {
		a.logger.Warn("session flush failed", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, "flush failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// synthesizeRequest is the POST /synthesize body.
type synthesizeRequest struct {
	Text string `json:"text"`
}

// handleSynthesize runs the TTS provider on the supplied text and returns
// the audio as a WAV file. Intended for smoke-testing provider credentials
// and voices from the command line.
func (a *AdminServer) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if a.synthesizer == nil {
		http.Error(w, "no synthesizer configured", http.StatusServiceUnavailable)
		return
	}

	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), synthesizeTimeout)
	defer cancel()

	samples, rate, err := a.synthesizer.Synthesize(ctx, req.Text)
	if err != nil {
		a.logger.Warn("admin synthesis failed", slog.String("error", err.Error()))
		http.Error(w, "synthesis failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	wav := audio.EncodeWAV(audio.FloatToPCM16(samples), rate, 1)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", fmt.Sprint(len(wav)))
	if _, err := w.Write(wav); err != nil {
		a.logger.Debug("admin synthesis write failed", slog.String("error", err.Error()))
	}
}
