package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cast"

	"github.com/elonfeng/dealmatch/internal/store"
	"github.com/elonfeng/dealmatch/pkg/metrics"
	"github.com/elonfeng/dealmatch/pkg/pipeline"
)

const maxLimit = 500

// Server provides the read-only HTTP API over the match set.
type Server struct {
	store   store.Store
	metrics *metrics.Manager
	port    int
	log     *slog.Logger
}

// New creates a new HTTP server. m may be nil, in which case /metrics is
// not served.
func New(s store.Store, m *metrics.Manager, port int, log *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:   s,
		metrics: m,
		port:    port,
		log:     log.With("component", "server"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/subjects/{id}/matches", s.handleSubjectMatches)
	mux.HandleFunc("GET /api/v1/matches", s.handleMatches)
	mux.HandleFunc("GET /api/v1/distribution", s.handleDistribution)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubjectMatches(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	subject, err := s.store.GetSubject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("subject %s not found", id))
		return
	}
	if err != nil {
		s.internal(w, r, err)
		return
	}

	matches, err := s.store.ListMatches(r.Context(), store.MatchListOpts{SubjectID: id, Limit: limit})
	if err != nil {
		s.internal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id":    subject.ID,
		"quality_score": subject.QualityScore,
		"status":        subject.Status,
		"data":          matches,
		"count":         len(matches),
	})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minScore := 0.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		if minScore, err = cast.ToFloat64E(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("min_score: %w", err))
			return
		}
	}

	matches, err := s.store.ListMatches(r.Context(), store.MatchListOpts{MinScore: minScore, Limit: limit})
	if err != nil {
		s.internal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  matches,
		"count": len(matches),
	})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.MatchScores(r.Context())
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.Distribute(scores))
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, err error) {
	s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

// queryInt reads a positive integer parameter capped at maxLimit.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return min(n, maxLimit), nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
