// Package api serves the Sign-In-With-Agent HTTP endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/agentrep/siwa-core/pkg/gateway"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Options configures the HTTP server.
type Options struct {
	// Policy is applied to every verification.
	Policy siwa.Policy

	// CORSOrigins lists browser origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string

	// MaxBodyBytes bounds request bodies (default: 64 KiB).
	MaxBodyBytes int64

	// RequestTimeout bounds each request (0 = no timeout).
	RequestTimeout time.Duration

	// AccessLog enables chi's request logger.
	AccessLog bool
}

// Server holds the handlers for the SIWA endpoints.
type Server struct {
	service *siwa.Service
	opts    Options
}

// NewServer creates a server for service.
func NewServer(service *siwa.Service, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{service: service, opts: opts}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", gateway.HeaderReceipt},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/nonce", s.handleNonce)
	r.Post("/verify", s.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(gateway.NewAuthMiddleware(s.service.Receipts, gateway.Options{}))
		r.Get("/session", s.handleSession)
	})

	return r
}

type healthResponse struct {
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
	Domain     string `json:"domain"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Configured: s.service.Configured(),
		Domain:     s.service.Config().Domain,
	})
}
