// Package server assembles the HTTP server: it owns the stores, wires the
// services and handlers together, mounts the routes, and runs the
// schedules.
//
// This is the composition root. Every dependency is constructed here and
// injected downward, so the rest of the codebase never reaches for a
// global:
//
//	config → stores (docstore, identity) → services → handlers → routes
//	                                     → sweeper  → cron runner
//
// main.go stays minimal: load config, build a Server, Start it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pathfit-backend/internal/config"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/handler"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/mail"
	"github.com/sakif/pathfit-backend/internal/middleware"
	"github.com/sakif/pathfit-backend/internal/service"
	"github.com/sakif/pathfit-backend/internal/sweep"
)

// Server owns the HTTP router and every long-lived resource behind it. All
// of them are released in Start's shutdown path, in reverse order of how
// requests flow through them.
type Server struct {
	router *chi.Mux
	cfg    config.Config
	logger *slog.Logger

	docs       *docstore.SQLite
	idp        *identity.SQLite
	dispatcher *mail.Dispatcher
	sweeps     *sweep.Runner
}

// New wires the full dependency graph.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	docs, err := docstore.Open(cfg.DocStoreDSN)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	tokens, err := identity.NewTokenService(cfg.TokenSecret)
	if err != nil {
		docs.Close()
		return nil, fmt.Errorf("building token service: %w", err)
	}
	passwords := identity.NewPasswordService()
	idp, err := identity.OpenSQLite(cfg.IdentityDSN, tokens, passwords)
	if err != nil {
		docs.Close()
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	relay := mail.NewSMTP(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From)
	dispatcher := mail.NewDispatcher(relay, logger)

	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		logger:     logger,
		docs:       docs,
		idp:        idp,
		dispatcher: dispatcher,
	}

	// Services carry the policy knobs from config; handlers only see
	// services.
	registration := service.NewRegistrationService(docs, idp, passwords, relay, dispatcher,
		service.RegistrationPolicy{
			CodeTTL:       cfg.CodeTTL,
			ResendCodeTTL: cfg.ResendCodeTTL,
			MaxResends:    cfg.MaxResends,
			ResendWindow:  cfg.ResendWindow,
		}, logger)
	login := service.NewLoginService(docs, idp,
		service.LoginPolicy{
			MaxAttempts:   cfg.MaxLoginAttempts,
			LockoutWindow: cfg.LockoutWindow,
		}, logger)
	accounts := service.NewAccountService(docs, idp, logger)

	sweeper := sweep.New(docs, idp, sweep.Policy{
		PendingTimeout: cfg.Sweep.PendingTimeout,
		MaxDocs:        cfg.Sweep.MaxDocs,
	}, logger)
	s.sweeps, err = sweep.NewRunner(sweeper, sweep.Schedules{
		Pending: cfg.Sweep.PendingSchedule,
		Quizzes: cfg.Sweep.QuizSchedule,
	}, logger)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	s.setupRoutes(
		handler.NewAuthHandler(registration, login, logger),
		handler.NewAccountHandler(accounts, logger),
	)
	return s, nil
}

// setupRoutes mounts middleware and endpoints.
//
//	POST   /api/auth/register     public
//	POST   /api/auth/resend-code  public
//	POST   /api/auth/verify       public
//	POST   /api/auth/login        public
//	POST   /api/account/sync      bearer token
//	DELETE /api/account           bearer token
//	GET    /healthz               public
func (s *Server) setupRoutes(authHandler *handler.AuthHandler, accountHandler *handler.AccountHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/resend-code", authHandler.HandleResendCode)
		r.Post("/auth/verify", authHandler.HandleVerify)
		r.Post("/auth/login", authHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAuth(s.idp))
			r.Post("/account/sync", accountHandler.HandleSync)
			r.Delete("/account", accountHandler.HandleDelete)
		})
	})
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, drain in-flight requests, stop the sweep
// schedules, flush the mail queue, and close the stores last.
func (s *Server) Start() error {
	defer s.closeResources()

	s.sweeps.Start()
	defer s.sweeps.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.Int("port", s.cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// closeResources flushes the mail queue and closes both stores. Safe to
// call once regardless of how far New got.
func (s *Server) closeResources() {
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.idp != nil {
		s.idp.Close()
	}
	if s.docs != nil {
		s.docs.Close()
	}
}
