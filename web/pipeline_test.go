package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tagMiddleware(tag string, trace *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*trace = append(*trace, tag)
			next.ServeHTTP(w, r)
		})
	}
}

func TestPipeline_OrderAndNames(t *testing.T) {
	var trace []string
	p := NewPipeline()
	p.Use("first", tagMiddleware("first", &trace))
	p.Use("second", tagMiddleware("second", &trace))
	p.Use("third", tagMiddleware("third", &trace))

	h := p.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = append(trace, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third", "handler"}, trace)
	assert.Equal(t, []string{"first", "second", "third"}, p.Installed())
	assert.True(t, p.Has("second"))
	assert.False(t, p.Has("fourth"))
}

func TestPipeline_InstalledIsACopy(t *testing.T) {
	p := NewPipeline()
	p.Use("a", func(h http.Handler) http.Handler { return h })

	names := p.Installed()
	names[0] = "changed"

	assert.Equal(t, []string{"a"}, p.Installed())
}

func TestPipeline_Empty(t *testing.T) {
	called := false
	h := NewPipeline().Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
