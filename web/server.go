// Package web serves the OBuoy pages, the JSON API and live updates.
//
// A Server is built in two steps: NewServer installs the middleware every
// environment gets, then the caller installs the environment specific pieces
// (exception handler, HSTS, HTTPS redirection, static files, antiforgery) in
// order and finally maps the pages.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"obuoy/config"
	"obuoy/maps"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// ErrorPath is the route re-executed by the exception handler
const ErrorPath = "/Error"

const (
	rateLimitCleanupInterval = time.Minute
	rateLimitIdle            = 10 * time.Minute
)

// Dependencies are the collaborators the pages read from
type Dependencies struct {
	Catalog Catalog
	// Refresher may be nil when the feed is disabled
	Refresher    Refresher
	Hub          *Hub
	Maps         *maps.Service
	Templates    *Templates
	Tracer       trace.Tracer
	HealthChecks []HealthCheck
}

// Server is the OBuoy HTTP front end
type Server struct {
	cfg         *config.Config
	deps        Dependencies
	logger      *zap.SugaredLogger
	pipeline    *Pipeline
	router      *mux.Router
	limiter     *ipRateLimiter
	antiforgery *Antiforgery

	mu          sync.Mutex
	httpServer  *http.Server
	httpsServer *http.Server
}

// NewServer creates a server with request IDs, access logging, security
// headers and rate limiting installed
func NewServer(cfg *config.Config, logger *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		pipeline: NewPipeline(),
		router:   mux.NewRouter(),
		limiter:  newIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	go s.limiter.cleanup(rateLimitCleanupInterval, rateLimitIdle)

	s.pipeline.Use(MiddlewareRequestID, requestIDMiddleware)
	s.pipeline.Use(MiddlewareAccessLog, accessLogMiddleware(logger, s.realIP))
	s.pipeline.Use(MiddlewareSecurityHeaders, securityHeadersMiddleware)
	s.pipeline.Use(MiddlewareRateLimit, rateLimitMiddleware(s.limiter, s.realIP))
	return s
}

func (s *Server) realIP(r *http.Request) string {
	return getRealIP(r, s.cfg.Server.TrustProxy, s.cfg.Server.TrustedProxyNetworks)
}

func (s *Server) secure(r *http.Request) bool {
	return isHTTPS(r, s.cfg.Server.TrustProxy, s.cfg.Server.TrustedProxyNetworks)
}

// Pipeline returns the installed middleware
func (s *Server) Pipeline() *Pipeline {
	return s.pipeline
}

// UseExceptionHandler re-executes errorPath for unhandled failures
func (s *Server) UseExceptionHandler(errorPath string) {
	errorPage := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.router.ServeHTTP(w, r)
	})
	s.pipeline.Use(MiddlewareExceptionHandler, exceptionHandlerMiddleware(errorPath, errorPage, s.logger))
}

// UseHSTS sends Strict-Transport-Security on secure responses
func (s *Server) UseHSTS() {
	header := hstsHeaderValue(s.cfg.HSTS.MaxAge, s.cfg.HSTS.IncludeSubDomains, s.cfg.HSTS.Preload)
	s.pipeline.Use(MiddlewareHSTS, hstsMiddleware(header, s.secure))
}

// UseHTTPSRedirection redirects plain HTTP requests to the HTTPS listener
func (s *Server) UseHTTPSRedirection() {
	s.pipeline.Use(MiddlewareHTTPSRedirection, httpsRedirectionMiddleware(s.redirectPort(), s.secure, s.logger))
}

// redirectPort is the public HTTPS port, 0 when unknown
func (s *Server) redirectPort() int {
	if s.cfg.Server.HTTPSPort > 0 {
		return s.cfg.Server.HTTPSPort
	}
	if s.cfg.TLSEnabled() {
		return 443
	}
	return 0
}

// UseStaticFiles serves the embedded assets under /static/
func (s *Server) UseStaticFiles() {
	s.pipeline.Use(MiddlewareStaticFiles, staticFilesMiddleware(StaticFS()))
}

// UseAntiforgery protects state-changing requests
func (s *Server) UseAntiforgery() error {
	af, err := NewAntiforgery(AntiforgeryOptions{
		CookieName: s.cfg.Antiforgery.CookieName,
		FieldName:  s.cfg.Antiforgery.FieldName,
		HeaderName: s.cfg.Antiforgery.HeaderName,
		SigningKey: s.cfg.Antiforgery.SigningKey,
		TokenTTL:   s.cfg.Antiforgery.TokenTTL,
	}, s.logger)
	if err != nil {
		return err
	}
	s.antiforgery = af
	s.pipeline.Use(MiddlewareAntiforgery, af.Middleware(s.secure))
	return nil
}

// MapPages registers the pages, the JSON API and the operational endpoints
// served from deps
func (s *Server) MapPages(deps Dependencies) error {
	if deps.Catalog == nil || deps.Maps == nil || deps.Templates == nil || deps.Hub == nil {
		return errors.New("web: catalog, maps, templates and hub are required")
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("obuoy/web")
	}
	s.deps = deps

	r := s.router
	r.Use(instrumentMiddleware(deps.Tracer))

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/buoys/{id}", s.handleBuoy).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/buoys/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(ErrorPath, s.handleError)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/buoys", s.handleAPIBuoys).Methods(http.MethodGet)
	api.HandleFunc("/buoys/{id}/observations", s.handleAPIObservations).Methods(http.MethodGet)

	r.HandleFunc("/_live", s.deps.Hub.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})
	return nil
}

// Handler returns the router wrapped in the installed middleware
func (s *Server) Handler() http.Handler {
	return s.pipeline.Then(s.router)
}

// Run serves until ctx is cancelled or a listener fails. HTTPS is served
// alongside HTTP when certificate files or autocert are configured.
func (s *Server) Run(ctx context.Context) error {
	handler := s.Handler()
	errLog := zap.NewStdLog(s.logger.Desugar())

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		ErrorLog:     errLog,
	}

	var manager *autocert.Manager
	if s.cfg.TLSEnabled() {
		port := s.cfg.Server.HTTPSPort
		if port <= 0 {
			port = 443
		}
		s.httpsServer = &http.Server{
			Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(port)),
			Handler:      handler,
			ReadTimeout:  s.cfg.Server.ReadTimeout,
			WriteTimeout: s.cfg.Server.WriteTimeout,
			IdleTimeout:  s.cfg.Server.IdleTimeout,
			ErrorLog:     errLog,
		}
		if s.cfg.Server.Autocert.Enabled {
			manager = &autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(s.cfg.Server.Autocert.Domains...),
				Cache:      autocert.DirCache(s.cfg.Server.Autocert.CacheDir),
				Email:      s.cfg.Server.Autocert.Email,
			}
			s.httpsServer.TLSConfig = manager.TLSConfig()
			// HTTP-01 challenges are answered on the plain listener
			s.httpServer.Handler = manager.HTTPHandler(handler)
		}
	}
	httpServer, httpsServer := s.httpServer, s.httpsServer
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if httpsServer != nil {
		go func() {
			s.logger.Infow("HTTPS server listening", "addr", httpsServer.Addr, "autocert", manager != nil)
			var err error
			if manager != nil {
				err = httpsServer.ListenAndServeTLS("", "")
			} else {
				err = httpsServer.ListenAndServeTLS(s.cfg.Server.CertFile, s.cfg.Server.KeyFile)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the listeners and background work
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()

	s.mu.Lock()
	servers := []*http.Server{s.httpServer, s.httpsServer}
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
