// Package apiserver exposes the facade over HTTP (status/promote, JWT +
// optional OIDC auth) and gRPC/gRPC-Web.
package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/flowbase/repl-engine/config"
	"github.com/flowbase/repl-engine/facade"
)

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server owns the HTTP status/promote API and (via grpc.go) the gRPC/
// gRPC-Web status service sharing the same Facade.
type Server struct {
	facade *facade.Facade
	auth   *auth
	oidc   *oidcLogin
	router *mux.Router
	http   *http.Server
}

// New builds the HTTP router: a public /api/status endpoint, a public
// /metrics scrape endpoint, a JWT-gated /api/promote/{replica} endpoint,
// and, when OIDC is configured, the /api/auth/callback login endpoint.
// The status and promote routes are each wrapped in their own
// negroni.New(...) middleware chain.
func New(cfg config.Config, f *facade.Facade) (*Server, error) {
	a, err := newAuth()
	if err != nil {
		return nil, err
	}
	oidcClient, err := newOIDCLogin(context.Background(), cfg, a)
	if err != nil {
		log.WithError(err).Warn("oidc login disabled, continuing without it")
		oidcClient = nil
	}

	s := &Server{facade: f, auth: a, oidc: oidcClient, router: mux.NewRouter()}
	s.routes()

	s.http = &http.Server{
		Addr:         cfg.HTTPListen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.router.Handle("/api/status", negroni.New(
		negroni.Wrap(http.HandlerFunc(s.handleStatus)),
	)).Methods(http.MethodGet)

	s.router.Handle("/api/promote/{replica}", negroni.New(
		negroni.HandlerFunc(s.auth.validateTokenMiddleware),
		negroni.Wrap(http.HandlerFunc(s.handlePromote)),
	)).Methods(http.MethodPost)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.oidc != nil {
		s.router.HandleFunc("/api/auth/callback", s.oidc.handleCallback).Methods(http.MethodGet)
	}
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown is
// called or the listener fails.
func (s *Server) ListenAndServe() error {
	log.WithField("addr", s.http.Addr).Info("apiserver: http listening")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Status())
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["replica"]
	if err := s.facade.Promote(r.Context(), name); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.facade.Status())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
