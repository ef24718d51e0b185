package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/user/newspulse/internal/cache"
	"github.com/user/newspulse/internal/types"
)

// IngestTrigger kicks one ingestion cycle on demand.
type IngestTrigger interface {
	RunCycle(ctx context.Context) error
}

// ReplayTrigger re-enqueues stale pending items on demand.
type ReplayTrigger interface {
	Sweep(ctx context.Context) (int, error)
}

// Server exposes the SSE stream, the cached range API, and the admin
// triggers.
type Server struct {
	dispatcher *Dispatcher
	cache      *cache.Manager
	ingest     IngestTrigger
	replay     ReplayTrigger
	mux        *http.ServeMux
}

func NewServer(dispatcher *Dispatcher, cacheManager *cache.Manager, ingest IngestTrigger, replay ReplayTrigger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		cache:      cacheManager,
		ingest:     ingest,
		replay:     replay,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stream", s.handleStream)
	s.mux.HandleFunc("GET /api/range", s.handleRange)
	s.mux.HandleFunc("POST /admin/ingest", s.handleAdminIngest)
	s.mux.HandleFunc("POST /admin/replay", s.handleAdminReplay)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStream upgrades the request to an SSE stream filtered to the
// requested subjects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	subjects := splitParam(r.URL.Query().Get("subjects"))
	if len(subjects) == 0 {
		http.Error(w, `{"error":"subjects parameter is required"}`, http.StatusBadRequest)
		return
	}
	since := time.Now().UTC()
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, `{"error":"since must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		since = parsed
	}

	release, err := s.dispatcher.register(clientIP(r))
	if err != nil {
		http.Error(w, `{"error":"too many connections"}`, http.StatusTooManyRequests)
		return
	}
	defer release()

	// Headers go out before the first event so clients see the stream
	// open immediately.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = s.dispatcher.stream(r.Context(), clientIP(r), subjects, since, func(event types.StreamEvent) error {
		payload, marshalErr := json.Marshal(event)
		if marshalErr != nil {
			return marshalErr
		}
		if _, writeErr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Debug("stream ended", "error", err)
	}
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject := q.Get("subject")
	res := types.Resolution(q.Get("resolution"))
	if subject == "" || res == "" {
		http.Error(w, `{"error":"subject and resolution are required"}`, http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, `{"error":"from must be RFC3339"}`, http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, `{"error":"to must be RFC3339"}`, http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, `{"error":"to must be after from"}`, http.StatusBadRequest)
		return
	}

	payload, err := s.cache.Get(r.Context(), subject, res, from, to)
	if err != nil {
		slog.Error("range query failed", "subject", subject, "error", err)
		http.Error(w, `{"error":"range unavailable"}`, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *Server) handleAdminIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.RunCycle(r.Context()); err != nil {
		slog.Error("manual ingest cycle failed", "error", err)
		http.Error(w, `{"error":"ingest cycle failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}

func (s *Server) handleAdminReplay(w http.ResponseWriter, r *http.Request) {
	n, err := s.replay.Sweep(r.Context())
	if err != nil {
		slog.Error("manual replay failed", "error", err)
		http.Error(w, `{"error":"replay failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "completed",
		"batch_id":    string(types.NewReplayBatchID()),
		"republished": n,
	})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// clientIP prefers the first X-Forwarded-For hop so the per-IP cap works
// behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
