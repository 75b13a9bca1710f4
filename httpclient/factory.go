// Package httpclient provides named, reusable outbound HTTP clients.
package httpclient

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"obuoy/config"
	"obuoy/metrics"

	"go.uber.org/zap"
)

// ConfigFunc returns the settings for a named client
type ConfigFunc func(name string) config.HTTPClientConfig

// Factory creates named clients on first use and hands out the same client
// afterwards. Each client pools connections on its own copy of the base
// transport, sized by its MaxIdleConnsPerHost.
type Factory struct {
	mu         sync.Mutex
	clients    map[string]*http.Client
	transports map[string]*http.Transport
	configFor  ConfigFunc
	transport  *http.Transport
	logger     *zap.SugaredLogger
}

// NewFactory creates a client factory. configFor may be nil.
func NewFactory(configFor ConfigFunc, logger *zap.SugaredLogger) *Factory {
	if configFor == nil {
		configFor = (&config.Config{}).HTTPClient
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Factory{
		clients:    make(map[string]*http.Client),
		transports: make(map[string]*http.Transport),
		configFor:  configFor,
		transport:  transport,
		logger:     logger,
	}
}

// Client returns the client registered under name, creating it if needed.
// Names are case-insensitive; "" is the default client.
func (f *Factory) Client(name string) *http.Client {
	name = strings.ToLower(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[name]; ok {
		return c
	}

	cc := f.configFor(name)
	label := name
	if label == "" {
		label = "default"
	}
	transport := f.transport.Clone()
	transport.MaxIdleConnsPerHost = cc.MaxIdleConnsPerHost
	f.transports[name] = transport

	c := &http.Client{
		Timeout: cc.Timeout,
		Transport: &instrumentedTransport{
			base:      transport,
			client:    label,
			userAgent: cc.UserAgent,
		},
	}
	f.clients[name] = c
	if f.logger != nil {
		f.logger.Debugw("HTTP client created", "client", label, "timeout", cc.Timeout,
			"max_idle_conns_per_host", cc.MaxIdleConnsPerHost)
	}
	return c
}

// CloseIdleConnections releases pooled connections of every client
func (f *Factory) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}

// instrumentedTransport records metrics and sets the User-Agent header
type instrumentedTransport struct {
	base      http.RoundTripper
	client    string
	userAgent string
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	metrics.OutboundRequestDuration.WithLabelValues(t.client).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.OutboundRequests.WithLabelValues(t.client, status).Inc()

	return resp, err
}
