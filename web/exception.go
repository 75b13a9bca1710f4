package web

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"obuoy/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// exceptionState collects a failure from the handlers below the exception
// handler
type exceptionState struct {
	err   error
	stack string
	route string
}

// exceptionHandlerMiddleware turns panics and reported handler errors into a
// re-execution of errorPath. The error page runs with a new request ID and
// sees the failed path through GetOriginalPath. Nothing about the failure
// reaches the client except that request ID.
func exceptionHandlerMiddleware(errorPath string, errorPage http.Handler, logger *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &exceptionState{route: "unmatched"}
			wrapped := wrapResponseWriter(w)
			ctx := context.WithValue(r.Context(), contextKeyException, state)

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						if rec == http.ErrAbortHandler {
							panic(rec)
						}
						state.err = fmt.Errorf("panic: %v", rec)
						state.stack = string(debug.Stack())
						metrics.PanicsRecovered.WithLabelValues(r.Method, state.route).Inc()
					}
				}()
				next.ServeHTTP(wrapped, r.WithContext(ctx))
			}()

			if state.err == nil {
				return
			}

			originalID := GetRequestID(r.Context())
			if wrapped.written {
				logger.Errorw("Unhandled exception after the response started, the error page cannot be executed",
					"request_id", originalID,
					"path", sanitizeLogValue(r.URL.Path),
					"error", state.err)
				return
			}

			errorID := uuid.New().String()
			logger.Errorw("Unhandled exception",
				"request_id", originalID,
				"error_request_id", errorID,
				"method", r.Method,
				"path", sanitizeLogValue(r.URL.Path),
				"error", state.err,
				"stack_trace", state.stack)

			errCtx := WithRequestID(r.Context(), errorID)
			errCtx = context.WithValue(errCtx, ContextKeyOriginalPath, r.URL.Path)
			errCtx = context.WithValue(errCtx, contextKeyException, (*exceptionState)(nil))

			errReq := r.Clone(errCtx)
			errReq.Method = http.MethodGet
			errReq.URL.Path = errorPath
			errReq.URL.RawPath = ""
			errReq.URL.RawQuery = ""
			errReq.Body = http.NoBody
			errReq.ContentLength = 0

			h := wrapped.Header()
			for _, key := range []string{"Content-Type", "Content-Length", "Content-Disposition", "Location", "ETag", "Last-Modified"} {
				h.Del(key)
			}
			h.Set(requestIDHeader, errorID)
			h.Set("Cache-Control", "no-cache, no-store")

			errorPage.ServeHTTP(wrapped, errReq)
		})
	}
}

// recordRoute tells an enclosing exception handler which route was matched
func recordRoute(ctx context.Context, route string) {
	if state, ok := ctx.Value(contextKeyException).(*exceptionState); ok && state != nil {
		state.route = route
	}
}

// reportError hands err to the exception handler if one is installed. Without
// one (Development) the error text is written to the response.
func reportError(w http.ResponseWriter, r *http.Request, err error, logger *zap.SugaredLogger) {
	if state, ok := r.Context().Value(contextKeyException).(*exceptionState); ok && state != nil {
		state.err = err
		return
	}

	logger.Errorw("Request failed",
		"request_id", GetRequestID(r.Context()),
		"path", sanitizeLogValue(r.URL.Path),
		"error", err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, "An unhandled exception occurred while processing the request.\n\n%s %s\n\n%v\n",
		r.Method, r.URL.Path, err)
}
