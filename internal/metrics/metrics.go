// Package metrics turns storefront and proxy events into Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/marketctx/internal/eventbus"
	events "github.com/hanpama/marketctx/internal/events"
)

// OtherMarket labels markets the collector was not told about.
const OtherMarket = "other"

// Collector owns a registry with the storefront metrics.
type Collector struct {
	registry *prometheus.Registry
	markets  map[string]struct{}

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	graphQLErrors   *prometheus.CounterVec
	proxyRequests   *prometheus.CounterVec
}

// New creates a collector registered on a fresh registry. Only the given
// markets appear as market label values; any other market is counted as
// OtherMarket, so request-chosen handles cannot grow the series set.
func New(markets ...string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry(), markets: make(map[string]struct{}, len(markets))}
	for _, m := range markets {
		if m != "" {
			c.markets[m] = struct{}{}
		}
	}

	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_requests_total",
			Help: "Storefront API requests by operation, market and HTTP status (0 when no response)",
		},
		[]string{"operation", "market", "status"},
	)
	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_request_duration_seconds",
			Help:    "Storefront API request duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	c.graphQLErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_graphql_errors_total",
			Help: "GraphQL errors returned by the Storefront API",
		},
		[]string{"operation"},
	)
	c.proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketctx_proxy_requests_total",
			Help: "Requests served by the proxy by market and status",
		},
		[]string{"market", "status"},
	)

	c.registry.MustRegister(c.requestsTotal, c.requestDuration, c.graphQLErrors, c.proxyRequests)
	return c
}

// Subscribe attaches the collector to the global event bus.
func (c *Collector) Subscribe() (unsubscribe func()) {
	offs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.StorefrontFinish) { c.observeStorefront(e) }),
		eventbus.Subscribe(func(_ context.Context, e events.ProxyFinish) { c.observeProxy(e) }),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (c *Collector) observeStorefront(e events.StorefrontFinish) {
	op := operationLabel(e.OperationName)
	c.requestsTotal.WithLabelValues(op, c.marketLabel(e.Market), strconv.Itoa(e.Status)).Inc()
	c.requestDuration.WithLabelValues(op).Observe(e.Duration.Seconds())
	if e.ErrorCount > 0 {
		c.graphQLErrors.WithLabelValues(op).Add(float64(e.ErrorCount))
	}
}

func (c *Collector) observeProxy(e events.ProxyFinish) {
	c.proxyRequests.WithLabelValues(c.marketLabel(e.Market), strconv.Itoa(e.Status)).Inc()
}

func (c *Collector) marketLabel(market string) string {
	if market == "" {
		return ""
	}
	if _, ok := c.markets[market]; ok {
		return market
	}
	return OtherMarket
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func operationLabel(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}
