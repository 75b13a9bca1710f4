package ndbc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"obuoy/core"
	"obuoy/metrics"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// historyWindow is how much of a station file is stored per refresh,
// measured back from the newest row
const historyWindow = 24 * time.Hour

// maxConcurrentFetches bounds parallel requests to NDBC during a poll
const maxConcurrentFetches = 4

// Fetcher downloads observations for a station, newest first
type Fetcher interface {
	Observations(ctx context.Context, stationID string) ([]core.Observation, error)
}

// BuoyLister lists the stations to poll
type BuoyLister interface {
	ListBuoys(ctx context.Context, activeOnly bool) ([]core.Buoy, error)
}

// ObservationStore persists observations
type ObservationStore interface {
	InsertObservations(ctx context.Context, observations []core.Observation) (int, error)
	CleanupOld(ctx context.Context, retention time.Duration) (int64, error)
}

// Listener is told about the newest observation of a station after a refresh
// stored something new
type Listener func(ctx context.Context, latest core.Observation)

// PollerConfig configures a Poller
type PollerConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// Poller periodically refreshes every active buoy
type Poller struct {
	fetcher   Fetcher
	buoys     BuoyLister
	store     ObservationStore
	clock     clockwork.Clock
	cfg       PollerConfig
	logger    *zap.SugaredLogger
	listeners []Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPoller creates a poller. clock may be nil for the real clock.
func NewPoller(fetcher Fetcher, buoys BuoyLister, store ObservationStore, clock clockwork.Clock, cfg PollerConfig, logger *zap.SugaredLogger) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Poller{
		fetcher: fetcher,
		buoys:   buoys,
		store:   store,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// OnObservation registers a listener. Must be called before Start.
func (p *Poller) OnObservation(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Start polls once immediately and then on every interval until Stop
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Infow("NDBC poller started", "interval", p.cfg.Interval)
}

// Stop stops polling and waits for an in-flight poll to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info("NDBC poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.PollAll(ctx)
		}
	}
}

// PollAll refreshes every active buoy and prunes observations past retention
func (p *Poller) PollAll(ctx context.Context) {
	buoys, err := p.buoys.ListBuoys(ctx, true)
	if err != nil {
		p.logger.Errorw("Failed to list buoys for polling", "error", err)
		return
	}

	sem := make(chan struct{}, maxConcurrentFetches)
	var wg sync.WaitGroup
	for _, b := range buoys {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := p.Refresh(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warnw("Failed to refresh station", "station", id, "error", err)
			}
		}(b.ID)
	}
	wg.Wait()

	if p.cfg.Retention > 0 {
		deleted, err := p.store.CleanupOld(ctx, p.cfg.Retention)
		if err != nil {
			p.logger.Errorw("Failed to prune old observations", "error", err)
		} else if deleted > 0 {
			p.logger.Infow("Pruned old observations", "deleted", deleted)
		}
	}
}

// Refresh fetches one station now, stores what is new and returns the newest
// observation. It returns nil without error when the station file is empty.
func (p *Poller) Refresh(ctx context.Context, stationID string) (*core.Observation, error) {
	stationID = core.NormalizeStationID(stationID)

	observations, err := p.fetcher.Observations(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, nil
	}

	recent := withinWindow(observations, historyWindow)
	inserted, err := p.store.InsertObservations(ctx, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to store observations for %s: %w", stationID, err)
	}
	metrics.ObservationsStored.Add(float64(inserted))

	latest := observations[0]
	if inserted > 0 {
		p.logger.Debugw("Stored new observations",
			"station", stationID,
			"inserted", inserted,
			"observed_at", latest.ObservedAt)
		for _, l := range p.listeners {
			l(ctx, latest)
		}
	}

	return &latest, nil
}

// withinWindow returns the leading rows no older than window before the first
func withinWindow(observations []core.Observation, window time.Duration) []core.Observation {
	cutoff := observations[0].ObservedAt.Add(-window)
	for i, o := range observations {
		if o.ObservedAt.Before(cutoff) {
			return observations[:i]
		}
	}
	return observations
}
