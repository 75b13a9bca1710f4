package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"obuoy/core"
	"obuoy/maps"
	"obuoy/ndbc"
	"obuoy/storage"

	"github.com/gorilla/mux"
)

// maxObservationLimit caps the limit query parameter of the observations API
const maxObservationLimit = 500

// Catalog is the read model behind the pages and the JSON API
type Catalog interface {
	Buoy(ctx context.Context, id string) (*core.Buoy, error)
	Recent(ctx context.Context, stationID string, limit int) ([]core.Observation, error)
	Markers(ctx context.Context) ([]core.Marker, error)
	Marker(ctx context.Context, b core.Buoy) core.Marker
	Degraded() bool
}

// Refresher fetches fresh observations for one station on demand
type Refresher interface {
	Refresh(ctx context.Context, stationID string) (*core.Observation, error)
}

// HealthCheck is one dependency checked by /healthz
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type indexView struct {
	Options   maps.Options
	Markers   []core.Marker
	ScriptURL string
	HasKey    bool
	Degraded  bool
}

type buoyView struct {
	Buoy           core.Buoy
	Observations   []core.Observation
	Options        maps.Options
	Markers        []core.Marker
	ScriptURL      string
	RefreshMessage string
}

var refreshMessages = map[string]string{
	"ok":          "Station refreshed.",
	"none":        "The station has not reported any data.",
	"notfound":    "NDBC has no realtime data for this station.",
	"unavailable": "NDBC is temporarily unavailable, try again in a minute.",
	"failed":      "Refreshing the station failed.",
	"disabled":    "Live refresh is disabled.",
}

// validStationID accepts NDBC style identifiers
func validStationID(id string) bool {
	if id == "" || len(id) > core.MaxStationIDLength {
		return false
	}
	for _, c := range id {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name, title string, content interface{}) {
	data := pageData{
		Title:            title,
		RequestID:        GetRequestID(r.Context()),
		AntiforgeryToken: GetAntiforgeryToken(r.Context()),
		Development:      s.cfg.IsDevelopment(),
		Content:          content,
	}
	if s.antiforgery != nil {
		data.AntiforgeryField = s.antiforgery.FieldName()
	}
	if err := s.deps.Templates.render(w, status, name, data); err != nil {
		reportError(w, r, err, s.logger)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	markers, err := s.deps.Catalog.Markers(r.Context())
	if err != nil {
		reportError(w, r, fmt.Errorf("failed to load markers: %w", err), s.logger)
		return
	}

	s.renderPage(w, r, http.StatusOK, PageIndex, "Buoy map", indexView{
		Options:   s.deps.Maps.Options(),
		Markers:   markers,
		ScriptURL: s.deps.Maps.ScriptURL(),
		HasKey:    s.deps.Maps.HasKey(),
		Degraded:  s.deps.Catalog.Degraded(),
	})
}

func (s *Server) handleBuoy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validStationID(id) {
		s.handleNotFound(w, r)
		return
	}

	buoy, err := s.deps.Catalog.Buoy(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.handleNotFound(w, r)
			return
		}
		reportError(w, r, fmt.Errorf("failed to load buoy %s: %w", id, err), s.logger)
		return
	}

	observations, err := s.deps.Catalog.Recent(r.Context(), buoy.ID, core.DefaultObservationLimit)
	if err != nil {
		reportError(w, r, fmt.Errorf("failed to load observations for %s: %w", buoy.ID, err), s.logger)
		return
	}

	s.renderPage(w, r, http.StatusOK, PageBuoy, buoy.Title(), buoyView{
		Buoy:           *buoy,
		Observations:   observations,
		Options:        s.deps.Maps.Centered(*buoy, 8),
		Markers:        []core.Marker{s.deps.Catalog.Marker(r.Context(), *buoy)},
		ScriptURL:      s.deps.Maps.ScriptURL(),
		RefreshMessage: refreshMessages[r.URL.Query().Get("refresh")],
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validStationID(id) {
		s.handleNotFound(w, r)
		return
	}

	buoy, err := s.deps.Catalog.Buoy(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.handleNotFound(w, r)
			return
		}
		reportError(w, r, fmt.Errorf("failed to load buoy %s: %w", id, err), s.logger)
		return
	}

	outcome := "disabled"
	if s.deps.Refresher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		latest, err := s.deps.Refresher.Refresh(ctx, buoy.ID)
		cancel()

		switch {
		case err == nil && latest == nil:
			outcome = "none"
		case err == nil:
			outcome = "ok"
		case errors.Is(err, ndbc.ErrStationNotFound):
			outcome = "notfound"
		case errors.Is(err, ndbc.ErrUnavailable):
			outcome = "unavailable"
		default:
			outcome = "failed"
			s.logger.Warnw("Manual refresh failed",
				"request_id", GetRequestID(r.Context()),
				"station", buoy.ID,
				"error", err)
		}
	}

	http.Redirect(w, r, "/buoys/"+buoy.ID+"?refresh="+outcome, http.StatusSeeOther)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if _, reexecuted := GetOriginalPath(r.Context()); reexecuted {
		status = http.StatusInternalServerError
	}
	s.renderPage(w, r, status, PageError, "Error", nil)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, PageNotFound, "Not found", nil)
}

func (s *Server) handleAPIBuoys(w http.ResponseWriter, r *http.Request) {
	markers, err := s.deps.Catalog.Markers(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load buoys", err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

func (s *Server) handleAPIObservations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validStationID(id) {
		writeError(w, r, http.StatusBadRequest, "Invalid station id", nil, s.logger)
		return
	}

	limit := core.DefaultObservationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxObservationLimit {
			writeError(w, r, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxObservationLimit), err, s.logger)
			return
		}
		limit = n
	}

	buoy, err := s.deps.Catalog.Buoy(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Buoy not found", nil, s.logger)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Failed to load buoy", err, s.logger)
		return
	}

	observations, err := s.deps.Catalog.Recent(r.Context(), buoy.ID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load observations", err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.deps.HealthChecks))}
	status := http.StatusOK
	for _, hc := range s.deps.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = "unhealthy"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			s.logger.Warnw("Health check failed", "check", hc.Name, "error", err)
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	if status == http.StatusOK && s.deps.Catalog.Degraded() {
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}
