package web

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAntiforgery(t *testing.T) *Antiforgery {
	t.Helper()
	af, err := NewAntiforgery(AntiforgeryOptions{
		CookieName: ".OBuoy.Antiforgery",
		FieldName:  "__RequestVerificationToken",
		HeaderName: "X-CSRF-Token",
		SigningKey: "test-signing-key",
		TokenTTL:   time.Hour,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return af
}

// issueTokens runs a GET through the middleware and returns the cookie and
// the request token a rendered form would carry
func issueTokens(t *testing.T, h http.Handler) (*http.Cookie, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/buoys/41001", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0], rr.Body.String()
}

func tokenEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetAntiforgeryToken(r.Context())))
	})
}

func postForm(h http.Handler, cookie *http.Cookie, field, token string) *httptest.ResponseRecorder {
	form := url.Values{}
	if token != "" {
		form.Set(field, token)
	}
	req := httptest.NewRequest(http.MethodPost, "/buoys/41001/refresh", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAntiforgery_IssuesCookieAndToken(t *testing.T) {
	af := newTestAntiforgery(t)
	h := af.Middleware(func(*http.Request) bool { return true })(tokenEcho())

	cookie, token := issueTokens(t, h)
	assert.Equal(t, ".OBuoy.Antiforgery", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.NotEmpty(t, token)

	// An existing valid cookie is reused
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Result().Cookies())
}

func TestAntiforgery_AcceptsValidForm(t *testing.T) {
	af := newTestAntiforgery(t)
	h := af.Middleware(func(*http.Request) bool { return false })(tokenEcho())

	cookie, token := issueTokens(t, h)
	rr := postForm(h, cookie, af.FieldName(), token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAntiforgery_AcceptsHeaderToken(t *testing.T) {
	af := newTestAntiforgery(t)
	h := af.Middleware(func(*http.Request) bool { return false })(tokenEcho())

	cookie, token := issueTokens(t, h)
	req := httptest.NewRequest(http.MethodPost, "/buoys/41001/refresh", nil)
	req.AddCookie(cookie)
	req.Header.Set("X-CSRF-Token", token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAntiforgery_Rejects(t *testing.T) {
	af := newTestAntiforgery(t)
	h := af.Middleware(func(*http.Request) bool { return false })(tokenEcho())
	cookie, token := issueTokens(t, h)
	otherCookie, otherToken := issueTokens(t, h)

	t.Run("missing cookie", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, postForm(h, nil, af.FieldName(), token).Code)
	})
	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, postForm(h, cookie, af.FieldName(), "").Code)
	})
	t.Run("garbage token", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, postForm(h, cookie, af.FieldName(), "not-a-jwt").Code)
	})
	t.Run("token bound to another cookie", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, postForm(h, cookie, af.FieldName(), otherToken).Code)
		assert.Equal(t, http.StatusOK, postForm(h, otherCookie, af.FieldName(), otherToken).Code)
	})
	t.Run("token signed with another key", func(t *testing.T) {
		other, err := NewAntiforgery(AntiforgeryOptions{
			CookieName: ".OBuoy.Antiforgery",
			FieldName:  "__RequestVerificationToken",
			HeaderName: "X-CSRF-Token",
			SigningKey: "different-key",
		}, zap.NewNop().Sugar())
		require.NoError(t, err)
		forged, err := other.issue(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, postForm(h, cookie, af.FieldName(), forged).Code)
	})
}

func TestAntiforgery_ExpiredToken(t *testing.T) {
	af := newTestAntiforgery(t)
	h := af.Middleware(func(*http.Request) bool { return false })(tokenEcho())
	cookie, token := issueTokens(t, h)

	af.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, http.StatusBadRequest, postForm(h, cookie, af.FieldName(), token).Code)
}

func TestNewAntiforgery_GeneratesKey(t *testing.T) {
	af, err := NewAntiforgery(AntiforgeryOptions{CookieName: "c", FieldName: "f", HeaderName: "h"}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Len(t, af.key, 32)
	assert.Equal(t, 2*time.Hour, af.opts.TokenTTL)
}
