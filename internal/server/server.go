// Package server serves a directory.Backend over HTTP for the muna client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Config configures a Server.
type Config struct {
	Addr string
	// RateLimit is requests per second allowed per client address. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Server exposes key directory, wrapped-key store and membership routes.
type Server struct {
	backend directory.Backend
	metrics *metrics.Metrics
	limiter *clientLimiter
	log     logger.Logger
	now     func() time.Time
	mux     *http.ServeMux
	srv     *http.Server
}

// New builds a Server for backend. m may be nil.
func New(cfg Config, backend directory.Backend, m *metrics.Metrics, log logger.Logger) *Server {
	s := &Server{
		backend: backend,
		metrics: m,
		limiter: newClientLimiter(cfg.RateLimit, cfg.Burst),
		log:     log,
		now:     time.Now,
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.handle("POST /v1/keys/{user}", s.handlePublish)
	s.handle("GET /v1/keys/{user}", s.handleFetch)
	s.handle("GET /v1/keys/{user}/{version}", s.handleFetchVersion)
	s.handle("POST /v1/keys/{user}/deactivate", s.handleDeactivate)

	s.handle("PUT /v1/conversations/{conv}/keys/{user}/{epoch}", s.handleUpsert)
	s.handle("GET /v1/conversations/{conv}/keys/{user}", s.handleFetchLatest)
	s.handle("GET /v1/conversations/{conv}/keys/{user}/{epoch}", s.handleFetchEpoch)
	s.handle("GET /v1/conversations/{conv}/epochs/latest", s.handleLatestEpoch)
	s.handle("GET /v1/conversations/{conv}/epochs/{epoch}", s.handleListEpoch)
	s.handle("GET /v1/conversations/{conv}/members", s.handleMembers)
	s.handle("PUT /v1/conversations/{conv}/members", s.handleSetMembers)

	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handle registers h and records its outcome under the route pattern.
func (s *Server) handle(pattern string, h func(http.ResponseWriter, *http.Request) error) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if err := h(rec, r); err != nil {
			s.writeError(rec, r, err)
		}
		s.metrics.ObserveRequest(pattern, rec.status)
	})
}

// ServeHTTP applies rate limiting before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientKey(r), s.now()) {
		writeJSON(w, http.StatusTooManyRequests, directory.ErrorResponse{Error: "rate limit exceeded"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, kerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, kerrors.ErrInvalidEnvelope),
		errors.Is(err, kerrors.ErrInvalidKeyLength),
		errors.Is(err, kerrors.ErrDuplicateMember):
		return http.StatusBadRequest
	case errors.Is(err, kerrors.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, kerrors.ErrDirectoryOrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.WarnfAlways("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, directory.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil || n < 1 {
		return 0, badRequest{fmt.Sprintf("invalid %s %q", name, r.PathValue(name))}
	}
	return n, nil
}
