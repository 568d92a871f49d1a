package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_Results(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "artifacts", Check: func(context.Context) error { return errors.New("connection refused") }},
		Checker{Name: "voices", Check: func(context.Context) error { return nil }},
	)

	code, body := readyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if got := body.Checks["artifacts"]; got != "fail: connection refused" {
		t.Errorf("artifacts check = %q", got)
	}
	if got := body.Checks["voices"]; got != "ok" {
		t.Errorf("voices check = %q, want %q", got, "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, body := readyz(t, New(), context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("readyz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context) error {
		if running.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("checks ran sequentially")
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	code, body := readyz(t, h, context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200; checks = %v", code, body.Checks)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestDirWritable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := DirWritable("voices", dir).Check(context.Background()); err != nil {
		t.Fatalf("writable dir: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe left %d files behind", len(entries))
	}

	missing := filepath.Join(dir, "absent")
	err := DirWritable("voices", missing).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "absent not writable") {
		t.Errorf("missing dir error = %v", err)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPing(t *testing.T) {
	t.Parallel()
	c := Ping("artifacts", pinger{err: errors.New("no responders")})
	if c.Name != "artifacts" {
		t.Errorf("name = %q, want %q", c.Name, "artifacts")
	}
	if err := c.Check(context.Background()); err == nil || err.Error() != "no responders" {
		t.Errorf("Check = %v, want no responders", err)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
