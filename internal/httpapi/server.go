package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/streamdl/streamdl/internal/jobs"
)

// Server exposes the download job manager over HTTP.
type Server struct {
	manager *jobs.Manager

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func NewServer(manager *jobs.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/downloads", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleHistory)
			r.Get("/stream", s.handleStream)
			r.Get("/{jobID}", s.handleStatus)
			r.Post("/{jobID}/cancel", s.handleCancel)
			r.Get("/{jobID}/result", s.handleResult)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/downloads", s.handleAdminList)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
