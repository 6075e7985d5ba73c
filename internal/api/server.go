// Package api exposes the submission pipeline over a JSON HTTP API guarded by
// bearer API tokens.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"threadify/internal/logging"
	"threadify/internal/metrics"
	"threadify/internal/model"
	"threadify/internal/pipeline"
)

// Service is the pipeline surface the handlers call. *pipeline.Orchestrator
// satisfies it.
type Service interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (pipeline.SubmitResult, error)
	Get(ctx context.Context, runID int64) (model.Run, error)
	Approve(ctx context.Context, runID int64) (pipeline.PostOutcome, error)
	Resume(ctx context.Context, runID int64) (pipeline.PostOutcome, error)
	UpdateTweet(ctx context.Context, runID int64, idx int, text string) error
	Regenerate(ctx context.Context, runID int64, settings *model.Settings) (model.Run, error)
}

// TokenStore lists the API tokens that may authenticate requests.
type TokenStore interface {
	ActiveAPITokens(ctx context.Context) ([]model.APIToken, error)
	TouchAPIToken(ctx context.Context, id int64, at time.Time) error
}

// Config wires a Server. MaxBodyBytes defaults to 1 MiB.
type Config struct {
	Service      Service
	Tokens       TokenStore
	PublicURL    string
	MaxBodyBytes int64
}

type Server struct {
	handler   http.Handler
	svc       Service
	tokens    TokenStore
	publicURL string
	maxBody   int64
	now       func() time.Time
}

// New builds a Server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		svc:       cfg.Service,
		tokens:    cfg.Tokens,
		publicURL: cfg.PublicURL,
		maxBody:   cfg.MaxBodyBytes,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	authed := s.requireToken
	mux.Handle("POST /api/submit", authed(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("GET /api/runs/{id}", authed(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("POST /api/runs/{id}/approve", authed(http.HandlerFunc(s.handleApprove)))
	mux.Handle("POST /api/runs/{id}/resume", authed(http.HandlerFunc(s.handleResume)))
	mux.Handle("PUT /api/runs/{id}/tweets/{idx}", authed(http.HandlerFunc(s.handleUpdateTweet)))
	mux.Handle("POST /api/runs/{id}/regenerate", authed(http.HandlerFunc(s.handleRegenerate)))

	s.handler = requestIDMiddleware(loggingMiddleware(mux))
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("api_listening", logging.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logging.Info("api_shutdown", nil)
	return srv.Shutdown(shutdownCtx)
}
