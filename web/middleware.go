package web

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"obuoy/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware reuses a sane incoming X-Request-ID or generates one
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// sanitizeRequestID keeps alphanumerics, dashes and underscores, up to 64 characters
func sanitizeRequestID(id string) string {
	const maxLen = 64
	if len(id) > maxLen {
		id = id[:maxLen]
	}
	result := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		}
	}
	return string(result)
}

// accessLogMiddleware logs every completed request
func accessLogMiddleware(logger *zap.SugaredLogger, realIP func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			logger.Infow("request_completed",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", sanitizeLogValue(r.URL.Path),
				"status", wrapped.statusCode,
				"remote_addr", realIP(r),
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

// instrumentMiddleware records metrics and a server span per routed request.
// It runs inside the router so the matched route template is known.
func instrumentMiddleware(tracer trace.Tracer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			recordRoute(r.Context(), route)

			ctx, span := tracer.Start(r.Context(), r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("http.route", route),
					attribute.String("request.id", GetRequestID(r.Context())),
				))
			defer span.End()

			start := time.Now()
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			status := wrapped.statusCode
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// contentSecurityPolicy follows Google's allowlist for the Maps JavaScript API.
// Vector maps (a configured map ID) need blob: workers and scripts.
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' https://*.googleapis.com https://*.gstatic.com *.google.com https://*.ggpht.com *.googleusercontent.com blob:; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"img-src 'self' data: https://*.googleapis.com https://*.gstatic.com *.google.com *.googleusercontent.com https://*.ggpht.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"connect-src 'self' ws: wss: https://*.googleapis.com *.google.com https://*.gstatic.com data: blob:; " +
	"frame-src *.google.com; " +
	"worker-src blob:; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

// securityHeadersMiddleware adds Content Security Policy and related headers
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(self)")
		next.ServeHTTP(w, r)
	})
}

// hstsMiddleware sends Strict-Transport-Security on secure requests.
// Loopback hosts are excluded so local browsers do not pin them.
func hstsMiddleware(header string, secure func(*http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secure(r) && !isLoopbackHost(r.Host) {
				w.Header().Set("Strict-Transport-Security", header)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hstsHeaderValue formats the Strict-Transport-Security header
func hstsHeaderValue(maxAge time.Duration, includeSubDomains, preload bool) string {
	value := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
	if includeSubDomains {
		value += "; includeSubDomains"
	}
	if preload {
		value += "; preload"
	}
	return value
}

func isLoopbackHost(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i != -1 && !strings.HasSuffix(h, "]") {
		h = h[:i]
	}
	h = strings.Trim(h, "[]")
	return strings.EqualFold(h, "localhost") || h == "127.0.0.1" || h == "::1"
}

// httpsRedirectionMiddleware redirects plain HTTP requests to HTTPS with 307.
// When no HTTPS port is known it logs once and lets requests through.
func httpsRedirectionMiddleware(httpsPort int, secure func(*http.Request) bool, logger *zap.SugaredLogger) Middleware {
	var warnOnce sync.Once
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secure(r) {
				next.ServeHTTP(w, r)
				return
			}
			if httpsPort <= 0 {
				warnOnce.Do(func() {
					logger.Warn("Failed to determine the https port for redirect")
				})
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, httpsURL(r, httpsPort), http.StatusTemporaryRedirect)
		})
	}
}

// httpsURL builds the redirect target for r on the given port
func httpsURL(r *http.Request, port int) string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	if port != 443 {
		host = host + ":" + strconv.Itoa(port)
	}
	return "https://" + host + r.URL.RequestURI()
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	rps      rate.Limit
	burst    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newIPRateLimiter(rps, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		stopCh:   make(chan struct{}),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// cleanup periodically removes inactive limiters until stop is called
func (l *ipRateLimiter) cleanup(interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.prune(idle)
		case <-l.stopCh:
			return
		}
	}
}

func (l *ipRateLimiter) prune(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.limiters {
		if time.Since(entry.lastSeen) > idle {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipRateLimiter) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// rateLimitMiddleware limits the JSON API and state-changing requests per IP
func rateLimitMiddleware(l *ipRateLimiter, realIP func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited := strings.HasPrefix(r.URL.Path, "/api/") || !isSafeMethod(r.Method)
			if limited && !l.allow(realIP(r)) {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
