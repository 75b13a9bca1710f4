package web

import "net/http"

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Middleware names, in the order a production server installs them
const (
	MiddlewareRequestID        = "request_id"
	MiddlewareAccessLog        = "access_log"
	MiddlewareSecurityHeaders  = "security_headers"
	MiddlewareExceptionHandler = "exception_handler"
	MiddlewareHSTS             = "hsts"
	MiddlewareHTTPSRedirection = "https_redirection"
	MiddlewareStaticFiles      = "static_files"
	MiddlewareRateLimit        = "rate_limit"
	MiddlewareAntiforgery      = "antiforgery"
)

// Pipeline is an ordered, named list of middleware. The first middleware
// added sees the request first.
type Pipeline struct {
	names       []string
	middlewares []Middleware
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends a middleware
func (p *Pipeline) Use(name string, mw Middleware) {
	p.names = append(p.names, name)
	p.middlewares = append(p.middlewares, mw)
}

// Installed returns the names of the installed middleware in order
func (p *Pipeline) Installed() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Has reports whether a middleware with the given name is installed
func (p *Pipeline) Has(name string) bool {
	for _, n := range p.names {
		if n == name {
			return true
		}
	}
	return false
}

// Then wraps h with every installed middleware
func (p *Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		h = p.middlewares[i](h)
	}
	return h
}
