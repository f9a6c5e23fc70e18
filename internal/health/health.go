// Package health reports whether this podscrub instance can do useful work.
//
// Liveness (/healthz) only says the process serves HTTP. Readiness (/readyz)
// runs the registered checks against the things the pipeline cannot run
// without: the state store, the ffmpeg and ffprobe binaries, and the whisper
// model file. Responses are JSON with a top-level "status" ("ok" or "fail")
// and a per-check "checks" map, so an operator can see which dependency is
// down without reading logs.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. A store ping hanging on a
// dead connection must not stall the probe past the orchestrator's own
// timeout.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when the
// dependency is usable and an error describing the problem otherwise; it
// must respect ctx cancellation.
type Checker struct {
	// Name keys the check in the JSON response ("store", "ffmpeg",
	// "whisper_model", ...).
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON body both endpoints return.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the liveness and readiness endpoints. The checker list is
// fixed at construction, so it is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating the given checkers, in order, on every
// readiness request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200: a process that can serve this request is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers 200 only when every check passes, 503 otherwise. Each check
// runs under its own checkTimeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	rep := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
