// Package api exposes assistant turns and speaker management over HTTP.
//
// All routes live under a configurable prefix (default "/api/v1"). Errors are
// answered as {"detail": "..."} with a status derived from the error's
// [fault.Kind].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/assistant"
	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/voice"
)

// Defaults applied by New.
const (
	DefaultPrefix         = "/api/v1"
	DefaultMaxUploadBytes = 32 << 20
)

// Assistant runs turns. *assistant.Orchestrator implements it.
type Assistant interface {
	Turn(ctx context.Context, req assistant.Request) (assistant.Result, error)
	Stream(ctx context.Context, req assistant.Request) <-chan assistant.Event
}

// Config configures a Server.
type Config struct {
	// Prefix is prepended to every API route. Defaults to DefaultPrefix.
	Prefix string

	// UploadsDir receives recordings for the duration of a voice turn.
	UploadsDir string

	// CORSOrigins lists allowed origins. "*" allows any origin; empty
	// disables CORS headers.
	CORSOrigins []string

	// MaxUploadBytes caps multipart bodies. Defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64

	// Health, when set, serves /healthz and /readyz.
	Health *health.Handler

	// MetricsHandler, when set, serves /metrics.
	MetricsHandler http.Handler

	// Metrics instruments the HTTP middleware. Defaults to
	// observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server is the HTTP front end.
type Server struct {
	cfg       Config
	assistant Assistant
	speakers  *voice.Store
	artifacts artifact.Store
	handler   http.Handler
}

// New builds a Server. UploadsDir must exist.
func New(a Assistant, speakers *voice.Store, artifacts artifact.Store, cfg Config) (*Server, error) {
	if a == nil || speakers == nil || artifacts == nil {
		return nil, errors.New("api: assistant, speakers and artifacts are required")
	}
	if cfg.UploadsDir == "" {
		return nil, errors.New("api: uploads dir must not be empty")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg, assistant: a, speakers: speakers, artifacts: artifacts}

	mux := http.NewServeMux()
	p := cfg.Prefix
	mux.HandleFunc("GET "+p+"/health", s.handleHealth)
	mux.HandleFunc("POST "+p+"/voice/enroll", s.handleEnroll)
	mux.HandleFunc("GET "+p+"/voice/speakers", s.handleSpeakers)
	mux.HandleFunc("GET "+p+"/voice/audio/{name}", s.handleAudio)
	mux.HandleFunc("POST "+p+"/assistant/chat", s.handleChat)
	mux.HandleFunc("POST "+p+"/assistant/chat-stream", s.handleChatStream)
	mux.HandleFunc("POST "+p+"/assistant/transcribe-and-chat", s.handleTranscribeAndChat)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.handler = observe.Middleware(cfg.Metrics)(cors(cfg.CORSOrigins, mux))
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// AudioPrefix returns the URL prefix artifacts are served under.
func (s *Server) AudioPrefix() string { return s.cfg.Prefix + "/voice/audio/" }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- responses ----

type errorBody struct {
	Detail string `json:"detail"`
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status of err's kind. Internal details are not
// exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "error", err)
		detail = "Internal server error"
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

// decodeJSON reads a single JSON object from r into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fault.Input("Invalid JSON body: " + err.Error())
	}
	return nil
}

// ---- CORS ----

func cors(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	wildcard := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
					h.Set("Access-Control-Allow-Headers", rh)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
