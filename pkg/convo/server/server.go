// Package server exposes the turn service over HTTP.
//
//	POST /chat         one turn, answered as JSON
//	POST /chat/stream  one turn, answered as a server-sent event stream
//	GET  /health       turn success rate; 503 when degraded
//	GET  /metrics      Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/randalmurphal/convograph/pkg/convo/monitor"
	"github.com/randalmurphal/convograph/pkg/convo/service"
	"github.com/randalmurphal/convograph/pkg/convo/stream"
)

// Turns runs conversation turns. *service.Service implements it.
type Turns interface {
	Stream(ctx context.Context, req service.Request, w stream.Writer) error
	Reply(ctx context.Context, req service.Request) (service.Reply, error)
}

// Monitor reports health and serves metrics. *monitor.Monitor implements it.
type Monitor interface {
	Health() monitor.Health
	Handler() http.Handler
}

// MaxBodyBytes caps a request body.
const MaxBodyBytes = 1 << 20

// ChatRequest is the body of both chat routes.
type ChatRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type server struct {
	turns       Turns
	monitor     Monitor
	logger      *slog.Logger
	turnTimeout time.Duration
}

// Option configures the handler.
type Option func(*server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTurnTimeout bounds every turn. Zero means no bound beyond the
// client's own connection.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *server) { s.turnTimeout = d }
}

// NewHandler returns the routed handler.
func NewHandler(turns Turns, mon Monitor, opts ...Option) http.Handler {
	s := &server{turns: turns, monitor: mon, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/chat", s.chat)
	r.Post("/chat/stream", s.chatStream)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", mon.Handler())
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearer returns the token of an "Authorization: Bearer <token>" header.
func bearer(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return ""
	}
	return fields[1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// decode reads a ChatRequest, answering 400 itself when it is unusable.
func (s *server) decode(w http.ResponseWriter, r *http.Request) (service.Request, bool) {
	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&body); err != nil {
		s.logger.Warn("invalid chat request body", "err", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return service.Request{}, false
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return service.Request{}, false
	}
	return service.Request{Message: body.Query, ThreadID: body.ThreadID, Token: bearer(r)}, true
}

func (s *server) turnContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.turnTimeout > 0 {
		return context.WithTimeout(r.Context(), s.turnTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *server) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.turnContext(r)
	defer cancel()

	reply, err := s.turns.Reply(ctx, req)
	if err != nil {
		s.logger.Error("chat turn failed", "thread_id", reply.ThreadID, "err", err)
		writeError(w, http.StatusInternalServerError, service.TurnFailedMessage)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) chatStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.turnContext(r)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w, stream.SSE)
	defer enc.Close()

	// Headers are sent: failures reach the client as an error event.
	if err := s.turns.Stream(ctx, req, enc); err != nil {
		if errors.Is(err, service.ErrClientGone) {
			s.logger.Info("stream client went away", "err", err)
			return
		}
		s.logger.Error("stream turn failed", "err", err)
	}
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	h := s.monitor.Health()
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}
