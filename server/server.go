// Package server exposes the assistant over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vcell-ai/assistant/agent"
	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/logger"
	"github.com/vcell-ai/assistant/vcelldb"
)

// ============================================================================
// SERVER
// ============================================================================

// Server wires the HTTP API over the shared service components.
type Server struct {
	agent     *agent.Agent
	knowledge *knowledge.Service
	vcell     *vcelldb.Client
	config    *config.ServerConfig
	router    chi.Router
	log       *slog.Logger
}

// New creates the server and mounts all routes.
func New(a *agent.Agent, kb *knowledge.Service, vc *vcelldb.Client, cfg *config.ServerConfig) *Server {
	s := &Server{
		agent:     a,
		knowledge: kb,
		vcell:     vc,
		config:    cfg,
		log:       logger.With("server"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "address", s.config.Address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Info("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/query", s.handleQuery)
	r.Post("/analyse/{biomodelID}", s.handleAnalyseBiomodel)
	r.Post("/analyse/{biomodelID}/vcml", s.handleAnalyseVCML)
	r.Post("/analyse/{biomodelID}/diagram", s.handleAnalyseDiagram)

	r.Route("/knowledge-base", func(r chi.Router) {
		r.Post("/create-collection", s.handleCreateCollection)
		r.Get("/files", s.handleListFiles)
		r.Post("/upload-pdf", s.handleUploadPDF)
		r.Post("/upload-text", s.handleUploadText)
		r.Delete("/files/{fileName}", s.handleDeleteFile)
		r.Get("/files/{fileName}/chunks", s.handleFileChunks)
		r.Get("/similar", s.handleSimilar)
	})

	r.Get("/biomodel", s.handleSearchBiomodels)
	r.Get("/biomodel/{biomodelID}/simulation/{simID}", s.handleSimulationDetails)
	r.Get("/biomodel/{biomodelID}/biomodel.vcml", s.handleVCML)
	r.Get("/biomodel/{biomodelID}/biomodel.sbml", s.handleSBML)
	r.Get("/biomodel/{biomodelID}/diagram", s.handleDiagramURL)
	r.Get("/biomodel/{biomodelID}/diagram/image", s.handleDiagramImage)
	r.Get("/biomodel/{biomodelID}/applications/files", s.handleApplicationFiles)
	r.Get("/publications", s.handlePublications)

	return r
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
			for _, allowed := range s.config.AllowedOrigins {
				if allowed == r.Header.Get("Origin") {
					origin = allowed
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
