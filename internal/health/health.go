// Package health provides HTTP health, readiness and status handlers for the
// admin server.
//
// The package exposes three endpoints:
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz is the readiness probe. It returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz returns the pipeline [pipeline.Stats] snapshot, when a
//     [StatusSource] is configured.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail"), the pipeline "state" when known, and a "checks" map containing the
// result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/opusloop/internal/pipeline"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "pipeline").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusSource reports the pipeline state and counters.
// [*pipeline.Controller] satisfies it.
type StatusSource interface {
	State() pipeline.State
	Stats() pipeline.Stats
}

var _ StatusSource = (*pipeline.Controller)(nil)

// PipelineChecker returns a [Checker] that passes while the pipeline holds
// codec handles, that is in [pipeline.Ready] or [pipeline.Running].
func PipelineChecker(src StatusSource) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			switch s := src.State(); s {
			case pipeline.Ready, pipeline.Running:
				return nil
			default:
				return fmt.Errorf("pipeline is %s", s)
			}
		},
	}
}

// probe is the JSON body of /healthz and /readyz. State carries the
// pipeline state when a [StatusSource] is configured.
type probe struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe and status endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   StatusSource
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatus enables /statusz backed by src.
func WithStatus(src StatusSource) Option {
	return func(h *Handler) { h.status = src }
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.probe("ok", nil))
}

func (h *Handler) probe(status string, checks map[string]string) probe {
	p := probe{Status: status, Checks: checks}
	if h.status != nil {
		p.State = h.status.State().String()
	}
	return p
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		if err == nil {
			err = ctx.Err()
		}
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	if !allOK {
		writeJSON(w, http.StatusServiceUnavailable, h.probe("fail", checks))
		return
	}
	writeJSON(w, http.StatusOK, h.probe("ok", checks))
}

// Statusz writes the current pipeline stats. It returns 404 when no
// [StatusSource] is configured.
func (h *Handler) Statusz(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status.Stats())
}

// Register adds the /healthz, /readyz and /statusz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
