// Package maps registers the Google Maps widget used by the buoy pages.
//
// The browser loads the Maps JavaScript API directly from Google. This package
// only decides which API key is used, builds the loader URL, and shapes the
// options and marker data handed to the page templates.
package maps

import (
	"net/url"
	"os"

	"obuoy/core"
)

// KeySource selects where the API key may come from
type KeySource int

const (
	// KeyFromEnvOrConfig prefers the GoogleApiKey environment variable and
	// falls back to the configuration value
	KeyFromEnvOrConfig KeySource = iota
	// KeyFromEnvOnly reads only the environment variable; an unset variable
	// yields a nil key
	KeyFromEnvOnly
)

// EnvKeyName is the environment variable holding the API key
const EnvKeyName = "GoogleApiKey"

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ResolveAPIKey returns the key to register with the widget, or nil when
// there is none. An environment variable that is set but empty counts as set.
func ResolveAPIKey(source KeySource, lookup LookupFunc, configValue string) *string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvKeyName); ok {
		return &v
	}
	if source == KeyFromEnvOnly {
		return nil
	}
	if configValue == "" {
		return nil
	}
	return &configValue
}

// Options are the map settings rendered into the page
type Options struct {
	CenterLat float64 `json:"centerLat"`
	CenterLng float64 `json:"centerLng"`
	Zoom      int     `json:"zoom"`
	MapID     string  `json:"mapId,omitempty"`
}

// Service is the registered maps widget
type Service struct {
	apiKey    *string
	scriptURL string
	options   Options
}

// NewService registers the widget with key, which may be nil
func NewService(key *string, scriptURL string, opts Options) *Service {
	if scriptURL == "" {
		scriptURL = "https://maps.googleapis.com/maps/api/js"
	}
	return &Service{
		apiKey:    key,
		scriptURL: scriptURL,
		options:   opts,
	}
}

// HasKey reports whether an API key was registered
func (s *Service) HasKey() bool {
	return s.apiKey != nil && *s.apiKey != ""
}

// ScriptURL returns the loader URL for the Maps JavaScript API.
// Without a key Google serves the map in development mode.
func (s *Service) ScriptURL() string {
	u, err := url.Parse(s.scriptURL)
	if err != nil {
		return s.scriptURL
	}
	q := u.Query()
	if s.HasKey() {
		q.Set("key", *s.apiKey)
	}
	q.Set("callback", "initMap")
	q.Set("loading", "async")
	q.Set("libraries", "marker")
	u.RawQuery = q.Encode()
	return u.String()
}

// Options returns the default map options
func (s *Service) Options() Options {
	return s.options
}

// Centered returns options centered on a single buoy
func (s *Service) Centered(b core.Buoy, zoom int) Options {
	opts := s.options
	opts.CenterLat = b.Latitude
	opts.CenterLng = b.Longitude
	if zoom > 0 {
		opts.Zoom = zoom
	}
	return opts
}
