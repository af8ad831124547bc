// Package httpserver exposes the GAEN protocol HTTP API.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/exposure-systems/gaen-backend/internal/model"
	"github.com/exposure-systems/gaen-backend/internal/service"
)

// ClaimsResolver turns a bearer header into a resolved principal, or nil.
type ClaimsResolver interface {
	FromRequest(r *http.Request) *model.AuthClaims
}

// Server wires the protocol service into HTTP handlers.
type Server struct {
	svc      service.GaenService
	resolver ClaimsResolver
	log      *zap.Logger
}

// New constructs a Server with injected collaborators.
func New(svc service.GaenService, resolver ClaimsResolver, log *zap.Logger) *Server {
	return &Server{svc: svc, resolver: resolver, log: log}
}

// Router builds the chi router with logging and panic recovery applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))

	r.Get("/healthz", s.health)
	r.Route("/v1/gaen", func(r chi.Router) {
		r.With(s.resolveClaims).Post("/exposed", s.addExposed)
		r.With(s.resolveClaims).Post("/exposednextday", s.addExposedSecond)
		r.Get("/exposed/{keyDate}", s.getExposed)
		r.Get("/exposedjson/{keyDate}", s.getExposedJSON)
		r.Get("/buckets/{dayDateStr}", s.getBuckets)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, "ok")
}

// resolveClaims resolves the bearer principal once at the boundary and hands
// it to the pipeline via the request context.
func (s *Server) resolveClaims(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := s.resolver.FromRequest(r); c != nil {
			r = r.WithContext(WithClaims(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}
