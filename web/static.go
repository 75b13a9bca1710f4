package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFiles embed.FS

// StaticPrefix is the URL prefix of embedded static assets
const StaticPrefix = "/static/"

// staticFilesMiddleware serves files from fsys under StaticPrefix. Requests
// for anything else, including missing files, continue down the pipeline.
func staticFilesMiddleware(fsys fs.FS) Middleware {
	fileServer := http.StripPrefix(StaticPrefix, http.FileServer(http.FS(fsys)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (r.Method != http.MethodGet && r.Method != http.MethodHead) || !strings.HasPrefix(r.URL.Path, StaticPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			name := path.Clean(strings.TrimPrefix(r.URL.Path, StaticPrefix))
			info, err := fs.Stat(fsys, name)
			if err != nil || info.IsDir() {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Cache-Control", "public, max-age=86400")
			fileServer.ServeHTTP(w, r)
		})
	}
}

// StaticFS returns the embedded static asset tree
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
