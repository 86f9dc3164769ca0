// Package server is the composition root: it opens the database, builds the
// services and handlers, mounts the routes and runs the HTTP server until a
// shutdown signal arrives.
//
// ROUTES:
//
//	GET  /healthz                          → database ping
//	GET  /metrics                          → Prometheus exposition
//	POST /auth/login, /auth/logout         → operator session
//	     /api/...                          → JWT required, permission per route
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/care-assign/internal/auth"
	"github.com/sakif/care-assign/internal/config"
	"github.com/sakif/care-assign/internal/handler"
	"github.com/sakif/care-assign/internal/matching"
	"github.com/sakif/care-assign/internal/metrics"
	"github.com/sakif/care-assign/internal/middleware"
	sqliteRepo "github.com/sakif/care-assign/internal/repository/sqlite"
	"github.com/sakif/care-assign/internal/service"
)

// Server owns the database connection and the router.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	registry *prometheus.Registry
	tokens   *auth.TokenService
	auth     *service.AuthService
}

// New opens the database, wires every layer and provisions the configured
// administrator. The caller must call Start or Close.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path, sqliteRepo.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setup() error {
	cfg := s.config

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewPrometheus(s.registry, "care_assign")
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	s.tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	s.auth = service.NewAuthService(s.db, s.tokens, auth.NewPasswordService(), s.logger)

	if cfg.Auth.AdminPassword != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.auth.EnsureOperator(ctx, cfg.Auth.AdminLogin, cfg.Auth.AdminPassword, auth.AllPermissions); err != nil {
			return fmt.Errorf("provisioning admin operator: %w", err)
		}
	}

	assignments := service.NewAssignmentService(s.db, s.logger,
		service.WithMetrics(collector),
		service.WithTxTimeout(cfg.Matching.TxTimeout),
	)
	batch := service.NewBatchService(s.db, s.db, assignments,
		matching.NewScorer(cfg.Matching.Config),
		s.logger,
		service.WithMaxBatchSize(cfg.Matching.MaxBatchSize),
		service.WithBatchMetrics(collector),
	)
	directory := service.NewDirectoryService(s.db, s.db, s.logger)

	s.routes(
		handler.NewAuthHandler(s.auth, s.logger),
		handler.NewDirectoryHandler(directory, s.logger),
		handler.NewAssignmentHandler(assignments, s.logger),
		handler.NewBatchHandler(batch, s.logger),
	)
	return nil
}

// routes mounts middleware and handlers.
//
// Middleware runs in the order added: RequestID first so the logger can
// print it, Recoverer last so it sits closest to the handlers.
func (s *Server) routes(
	authH *handler.AuthHandler,
	dirH *handler.DirectoryHandler,
	asgH *handler.AssignmentHandler,
	batchH *handler.BatchHandler,
) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/auth/login", authH.HandleLogin)
	r.Post("/auth/logout", authH.HandleLogout)

	read := auth.RequirePermission(auth.PermAssignmentsRead, handler.WriteAuthError)
	write := auth.RequirePermission(auth.PermAssignmentsWrite, handler.WriteAuthError)
	directory := auth.RequirePermission(auth.PermDirectoryWrite, handler.WriteAuthError)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens, handler.WriteAuthError))

		r.Get("/me", authH.HandleMe)

		r.With(read).Get("/users", dirH.HandleListUsers)
		r.With(read).Get("/users/{id}", dirH.HandleGetUser)
		r.With(directory).Post("/users", dirH.HandleCreateUser)
		r.With(write).Post("/users/{id}/reassign", asgH.HandleReassign)

		r.With(read).Get("/providers", dirH.HandleListProviders)
		r.With(read).Get("/providers/{id}", dirH.HandleGetProvider)
		r.With(directory).Post("/providers", dirH.HandleCreateProvider)

		r.Route("/assignments", func(r chi.Router) {
			r.With(read).Get("/", asgH.HandleList)
			r.With(write).Post("/", asgH.HandleManualAssign)
			r.With(write).Post("/batch", batchH.HandleBatchAssign)
			r.With(read).Get("/{id}", asgH.HandleGet)
			r.With(read).Get("/{id}/history", asgH.HandleHistory)
			r.With(write).Post("/{id}/cancel", asgH.HandleCancel)
			r.With(write).Post("/{id}/complete", asgH.HandleComplete)
			r.With(write).Post("/{id}/start", asgH.HandleStart)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on the way out.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to server.shutdown_timeout and closes the database.
func (s *Server) Start() error {
	defer s.Close()

	cfg := s.config.Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("database", s.config.Database.Path),
			slog.String("default_algorithm", string(s.config.Matching.DefaultAlgorithm)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
