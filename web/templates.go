package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"obuoy/core"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Page template names
const (
	PageIndex    = "index.html"
	PageBuoy     = "buoy.html"
	PageError    = "error.html"
	PageNotFound = "notfound.html"
)

var pageNames = []string{PageIndex, PageBuoy, PageError, PageNotFound}

// Templates holds the parsed page templates
type Templates struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"value": func(v *float64, precision int) string {
		if v == nil {
			return "n/a"
		}
		return strconv.FormatFloat(*v, 'f', precision, 64)
	},
	"compass": func(v *float64) string {
		if v == nil {
			return ""
		}
		return core.CompassPoint(*v)
	},
	"utc": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// ParseTemplates parses the embedded page templates
func ParseTemplates() (*Templates, error) {
	t := &Templates{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		page, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFiles, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		t.pages[name] = page
	}
	return t, nil
}

// pageData is passed to every page
type pageData struct {
	Title            string
	RequestID        string
	AntiforgeryField string
	AntiforgeryToken string
	Development      bool
	Content          interface{}
}

// render executes a page into a buffer first so template errors never
// produce half a page
func (t *Templates) render(w http.ResponseWriter, status int, name string, data pageData) error {
	page, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("unknown template %s", name)
	}

	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
