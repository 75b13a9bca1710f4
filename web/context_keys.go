package web

import "context"

// contextKey is a private type to prevent context key collisions across packages
type contextKey string

const (
	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyOriginalPath stores the path that failed when the error page
	// is re-executed (string)
	ContextKeyOriginalPath contextKey = "original_path"

	// ContextKeyAntiforgeryToken stores the request token for forms (string)
	ContextKeyAntiforgeryToken contextKey = "antiforgery_token"

	contextKeyException contextKey = "exception"
)

// WithRequestID returns a context carrying the request ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// GetOriginalPath returns the failed path when serving a re-executed error page
func GetOriginalPath(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(ContextKeyOriginalPath).(string)
	return p, ok
}

// GetAntiforgeryToken returns the request token to embed in forms. It is
// empty when anti-forgery protection is not installed.
func GetAntiforgeryToken(ctx context.Context) string {
	t, _ := ctx.Value(ContextKeyAntiforgeryToken).(string)
	return t
}
