// Package ndbc fetches realtime observations published by the National Data
// Buoy Center and keeps the buoy store up to date.
package ndbc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"obuoy/core"
	"obuoy/metrics"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ClientName is the name of the outbound HTTP client used for NDBC requests
const ClientName = "ndbc"

// maxBodySize bounds a realtime2 file. A full 45 day file is about 600 KB.
const maxBodySize = 4 << 20

var (
	// ErrStationNotFound is returned when NDBC has no realtime file for a station
	ErrStationNotFound = errors.New("station has no realtime data")

	// ErrUnavailable is returned while the circuit breaker is open
	ErrUnavailable = errors.New("ndbc temporarily unavailable")
)

// BreakerSettings configures the circuit breaker in front of NDBC
type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// Client downloads and parses station files
type Client struct {
	http    *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.SugaredLogger
}

// NewClient creates an NDBC client. tracer may be nil.
func NewClient(httpClient *http.Client, baseURL string, settings BreakerSettings, tracer trace.Tracer, logger *zap.SugaredLogger) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        ClientName,
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		// A station without data, or a caller that gave up, says nothing
		// about NDBC's health. Timeouts still count.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrStationNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		breaker: breaker,
		tracer:  tracer,
		logger:  logger,
	}
}

// StationURL returns the realtime2 file URL for a station
func (c *Client) StationURL(stationID string) string {
	return c.baseURL + core.NormalizeStationID(stationID) + ".txt"
}

// Observations fetches the station's realtime file, newest observation first
func (c *Client) Observations(ctx context.Context, stationID string) ([]core.Observation, error) {
	stationID = core.NormalizeStationID(stationID)

	ctx, span := c.tracer.Start(ctx, "ndbc.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("station.id", stationID)))
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, stationID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, ErrStationNotFound):
			metrics.FeedPolls.WithLabelValues("not_found").Inc()
			return nil, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.FeedPolls.WithLabelValues("breaker_open").Inc()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			metrics.FeedPolls.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	observations := result.([]core.Observation)
	span.SetAttributes(attribute.Int("observations", len(observations)))
	metrics.FeedPolls.WithLabelValues("ok").Inc()
	return observations, nil
}

func (c *Client) fetch(ctx context.Context, stationID string) ([]core.Observation, error) {
	url := c.StationURL(stationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status fetching %s: %d", url, resp.StatusCode)
	}

	observations, err := ParseRealtime(io.LimitReader(resp.Body, maxBodySize), stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data for %s: %w", stationID, err)
	}

	c.logger.Debugw("Fetched station data",
		"station", stationID,
		"observations", len(observations))
	return observations, nil
}
