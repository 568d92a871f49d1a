// Package health serves liveness and readiness probes.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers 503 when any of them fails.
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts p to a Checker.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// DirWritable reports whether a file can be created in dir.
func DirWritable(name, dir string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".ready-*")
		if err != nil {
			return fmt.Errorf("%s not writable: %w", filepath.Base(dir), err)
		}
		f.Close()
		return os.Remove(f.Name())
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
