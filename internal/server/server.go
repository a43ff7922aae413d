package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/session"
)

// Config holds the HTTP server settings.
type Config struct {
	Port     int
	AllowAll bool
}

// Server exposes the triage pipeline over HTTP.
type Server struct {
	cfg      Config
	pipe     *pipeline.Pipeline
	sessions *session.Store
	ingestor *kb.Ingestor
	httpSrv  *http.Server
}

// New creates a server wired to the given pipeline, session store and
// knowledge base ingestor. The ingestor may be nil, in which case the
// upload endpoint returns 503.
func New(cfg Config, pipe *pipeline.Pipeline, sessions *session.Store, ingestor *kb.Ingestor) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8420
	}
	return &Server{cfg: cfg, pipe: pipe, sessions: sessions, ingestor: ingestor}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := []string{"http://localhost:*", "http://127.0.0.1:*"}
	if s.cfg.AllowAll {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/triage", s.handleTriage)
		r.Post("/conversation/message", s.handleConversationMessage)
		r.Get("/conversation/{id}/messages", s.handleConversationMessages)
		r.Post("/kb/upload", s.handleKBUpload)
	})

	r.Get("/ws/chat", s.handleWebSocket)

	return r
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("triage server listening on :%d", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
