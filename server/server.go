// Package server exposes the boundary's HTTP surface: the runtime endpoints
// agents call with signed requests, the unauthenticated connect and health
// routes, and the cookie-authenticated admin API with its embedded console.
package server

import (
	"context"
	"fmt"
	"net/http"
	stdtime "time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/dhannusch/pincer/admin"
	"github.com/dhannusch/pincer/auth"
	"github.com/dhannusch/pincer/db"
	"github.com/dhannusch/pincer/pairing"
	"github.com/dhannusch/pincer/proxy"
	"github.com/dhannusch/pincer/registry"
	"github.com/dhannusch/pincer/vault"
)

var log = logrus.WithField("prefix", "server")

// Config options for the boundary HTTP service.
type Config struct {
	Host           string
	Port           string
	AllowedOrigins []string
	Database       db.Database
	Verifier       *auth.Verifier
	Vault          *vault.Vault
	Registry       *registry.Registry
	Admin          *admin.Manager
	Pairing        *pairing.Store
	Proxy          *proxy.Proxy
}

// Service serves the boundary HTTP API.
type Service struct {
	cfg        *Config
	router     *mux.Router
	server     *http.Server
	failStatus error
}

// New constructs the HTTP service and its full route table.
func New(cfg *Config) *Service {
	s := &Service{cfg: cfg}
	s.router = s.newRouter()

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler: handler,
	}
	return s
}

func (s *Service) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.commonMiddleware)

	// Runtime surface.
	r.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/v1/adapters/proposals", s.withRuntimeAuth(s.handleSubmitProposal)).Methods(http.MethodPost)
	r.HandleFunc("/v1/adapters", s.withRuntimeAuth(s.handleListAdapters)).Methods(http.MethodGet)
	r.HandleFunc("/v1/adapter/{adapter}/{action}", s.handleProxy).Methods(http.MethodPost)

	// Admin surface, unauthenticated routes.
	r.HandleFunc("/v1/admin/bootstrap", s.handleBootstrapStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/bootstrap", s.handleBootstrap).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/session/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/session/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/session/me", s.handleSessionMe).Methods(http.MethodGet)
	r.HandleFunc("/admin", s.handleConsolePage).Methods(http.MethodGet)
	r.HandleFunc("/admin/bootstrap", s.handleBootstrapPage).Methods(http.MethodGet)

	// Admin surface, session enforced. CSRF is required on every
	// non-idempotent method.
	r.HandleFunc("/v1/admin/doctor", s.withSession(false, s.handleDoctor)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/metrics", s.withSession(false, s.handleMetrics)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/secrets", s.withSession(false, s.handleSecretsMetadata)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/secrets/{binding}", s.withSession(true, s.handlePutSecret)).Methods(http.MethodPut)
	r.HandleFunc("/v1/admin/secrets/{binding}", s.withSession(true, s.handleDeleteSecret)).Methods(http.MethodDelete)
	r.HandleFunc("/v1/admin/runtime/rotate", s.withSession(true, s.handleRotateRuntimeKey)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/pairing/generate", s.withSession(true, s.handleGeneratePairing)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/adapters", s.withSession(false, s.handleActiveAdapters)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/adapters/proposals", s.withSession(false, s.handleAdminProposals)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/adapters/proposals/{id}", s.withSession(false, s.handleAdminProposal)).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/adapters/proposals/{id}/reject", s.withSession(true, s.handleRejectProposal)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/adapters/apply", s.withSession(true, s.handleApply)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/adapters/{id}/enable", s.withSession(true, s.handleEnableAdapter)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/adapters/{id}/disable", s.withSession(true, s.handleDisableAdapter)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/audit", s.withSession(false, s.handleAudit)).Methods(http.MethodGet)

	return r
}

// Router exposes the route table. Used by tests.
func (s *Service) Router() *mux.Router {
	return s.router
}

// Start the HTTP service.
func (s *Service) Start() {
	log.WithField("address", s.server.Addr).Info("Starting boundary HTTP server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Could not serve HTTP")
			s.failStatus = err
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping boundary HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*stdtime.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	return s.failStatus
}
