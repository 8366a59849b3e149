package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fieldtrack/internal/core"
	"fieldtrack/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services the HTTP API serves.
type Dependencies struct {
	Store       *store.Store
	Assignments *core.AssignmentService
	Ingestor    *core.Ingestor
	Analytics   *core.Analytics
	// MCP is mounted at /mcp when set.
	MCP      http.Handler
	Logger   *slog.Logger
	Location *time.Location
}

// Server holds the HTTP server state.
type Server struct {
	httpServer  *http.Server
	router      *chi.Mux
	store       *store.Store
	assignments *core.AssignmentService
	ingestor    *core.Ingestor
	analytics   *core.Analytics
	mcpHandler  http.Handler
	logger      *slog.Logger
	location    *time.Location
	authToken   string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, deps Dependencies) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	location := deps.Location
	if location == nil {
		location = time.Local
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:      router,
		store:       deps.Store,
		assignments: deps.Assignments,
		ingestor:    deps.Ingestor,
		analytics:   deps.Analytics,
		mcpHandler:  deps.MCP,
		logger:      logger,
		location:    location,
		authToken:   authToken,
	}
	s.registerRoutes()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Mount MCP endpoint with optional authentication
	if s.mcpHandler != nil {
		mcpHandler := s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		// Apply authentication to all API endpoints
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}
		r.Use(ActorMiddleware(s.store))

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", s.handleListAssignments)
			r.Post("/", requireActor(s.handleCreateAssignment))
			r.Get("/mine", requireActor(s.handleListMyAssignments))

			r.Route("/{assignmentID}", func(r chi.Router) {
				r.Get("/", s.handleGetAssignment)
				r.Delete("/", requireActor(s.handleDeleteAssignment))
				r.Post("/start", requireActor(s.handleTransition("start", startAssignment)))
				r.Post("/complete", requireActor(s.handleTransition("complete", completeAssignment)))
				r.Post("/report-filed", requireActor(s.handleTransition("complete", completeFromReport)))
				r.Post("/reset", requireActor(s.handleTransition("reset", resetAssignment)))
				r.Get("/locations", s.handleAssignmentLocations)
				r.Get("/locations/current", s.handleCurrentLocations)
				r.Get("/route", s.handleRoute)
				r.Get("/route/export", s.handleRouteExport)
			})
		})

		r.Route("/locations", func(r chi.Router) {
			r.Post("/", requireActor(s.handleRecordLocation))
			r.Post("/batch", requireActor(s.handleRecordBatch))
			r.Get("/nearby", s.handleNearby)
		})

		r.Get("/stats/locations", s.handleLocationStats)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", requireActor(s.handleCreateTask))
			r.Get("/{taskID}", s.handleGetTask)
		})

		r.Put("/users/{userID}", requireActor(s.handleUpsertUser))
	})
}
