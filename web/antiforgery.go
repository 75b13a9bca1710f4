package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"obuoy/metrics"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// maxFormSize bounds the body parsed while looking for the form token
const maxFormSize = 1 << 20

const antiforgeryIssuer = "obuoy"

var (
	errCookieMissing = errors.New("antiforgery cookie missing")
	errTokenMissing  = errors.New("antiforgery request token missing")
	errTokenInvalid  = errors.New("antiforgery request token invalid")
	errTokenMismatch = errors.New("antiforgery request token does not match cookie")
)

// AntiforgeryOptions configures anti-forgery protection
type AntiforgeryOptions struct {
	CookieName string
	FieldName  string
	HeaderName string
	// SigningKey signs request tokens. When empty a random key is generated
	// and tokens do not survive a restart.
	SigningKey string
	TokenTTL   time.Duration
}

// Antiforgery implements the double-submit pattern: a random token lives in
// an HttpOnly cookie and every form carries a signed request token bound to
// it. State-changing requests must present both.
type Antiforgery struct {
	opts   AntiforgeryOptions
	key    []byte
	logger *zap.SugaredLogger
	now    func() time.Time
}

type requestTokenClaims struct {
	CookieHash string `json:"cth"`
	jwt.RegisteredClaims
}

// NewAntiforgery creates the protection with opts
func NewAntiforgery(opts AntiforgeryOptions, logger *zap.SugaredLogger) (*Antiforgery, error) {
	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate antiforgery signing key: %w", err)
		}
		logger.Warn("No antiforgery signing key configured, forms issued before a restart will be rejected")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Hour
	}
	return &Antiforgery{opts: opts, key: key, logger: logger, now: time.Now}, nil
}

// Middleware issues tokens on safe requests and validates unsafe ones
func (a *Antiforgery) Middleware(secure func(*http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isSafeMethod(r.Method) {
				if err := a.validate(w, r); err != nil {
					reason := "invalid"
					switch {
					case errors.Is(err, errCookieMissing):
						reason = "cookie_missing"
					case errors.Is(err, errTokenMissing):
						reason = "token_missing"
					case errors.Is(err, errTokenMismatch):
						reason = "mismatch"
					}
					metrics.AntiforgeryRejections.WithLabelValues(reason).Inc()
					a.logger.Warnw("Antiforgery validation failed",
						"request_id", GetRequestID(r.Context()),
						"method", r.Method,
						"path", sanitizeLogValue(r.URL.Path),
						"reason", reason)
					http.Error(w, "Bad Request", http.StatusBadRequest)
					return
				}
			}

			cookieToken, err := a.cookieToken(w, r, secure(r))
			if err != nil {
				reportError(w, r, err, a.logger)
				return
			}
			requestToken, err := a.issue(cookieToken)
			if err != nil {
				reportError(w, r, err, a.logger)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAntiforgeryToken, requestToken)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FieldName is the form field carrying the request token
func (a *Antiforgery) FieldName() string {
	return a.opts.FieldName
}

// cookieToken returns the existing cookie token or sets a new one
func (a *Antiforgery) cookieToken(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	if c, err := r.Cookie(a.opts.CookieName); err == nil && validCookieToken(c.Value) {
		return c.Value, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate antiforgery token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	// Later middleware in this request reads the cookie
	r.AddCookie(&http.Cookie{Name: a.opts.CookieName, Value: token})
	return token, nil
}

func validCookieToken(token string) bool {
	b, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(b) == 32
}

func cookieHash(cookieToken string) string {
	sum := sha256.Sum256([]byte(cookieToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// issue signs a request token bound to cookieToken
func (a *Antiforgery) issue(cookieToken string) (string, error) {
	now := a.now()
	claims := &requestTokenClaims{
		CookieHash: cookieHash(cookieToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    antiforgeryIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.opts.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign antiforgery token: %w", err)
	}
	return token, nil
}

// validate checks the cookie and request token of an unsafe request
func (a *Antiforgery) validate(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(a.opts.CookieName)
	if err != nil || !validCookieToken(cookie.Value) {
		return errCookieMissing
	}

	token := r.Header.Get(a.opts.HeaderName)
	if token == "" {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
		token = r.PostFormValue(a.opts.FieldName)
	}
	if token == "" {
		return errTokenMissing
	}

	claims := &requestTokenClaims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(antiforgeryIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenInvalid, err)
	}

	expected := cookieHash(cookie.Value)
	if subtle.ConstantTimeCompare([]byte(claims.CookieHash), []byte(expected)) != 1 {
		return errTokenMismatch
	}
	return nil
}
