// Package web is the HTTP surface: health probes, Prometheus metrics, and
// the processing status API with a websocket push channel. Handlers are
// thin; all state lives behind the status bus and the store.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/podscrub/internal/health"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/status"
)

// shutdownGrace bounds graceful shutdown after ctx cancellation.
const shutdownGrace = 10 * time.Second

// Server serves the HTTP API.
type Server struct {
	addr    string
	bus     *status.Bus
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New wires a Server. metrics enables the observability middleware and may
// not be nil.
func New(addr string, bus *status.Bus, h *health.Handler, metrics *observe.Metrics, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		bus:     bus,
		health:  h,
		metrics: metrics,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/ws", s.handleStatusWS)
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Get())
}

// handleStatusWS upgrades to a websocket and pushes every status snapshot
// until the client disconnects. The current snapshot is sent immediately.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// Discard client frames; their only signal is disconnecting.
	ctx := conn.CloseRead(r.Context())

	snapshots := make(chan status.Snapshot, 16)
	unsubscribe := s.bus.Subscribe(func(snap status.Snapshot) {
		select {
		case snapshots <- snap:
		default: // slow client drops intermediate snapshots
		}
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, s.bus.Get()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap := <-snapshots:
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
