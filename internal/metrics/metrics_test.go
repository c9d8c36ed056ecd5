package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/marketctx/internal/eventbus"
	events "github.com/hanpama/marketctx/internal/events"
)

func TestCollectorObservesEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	c := New("uk")
	off := c.Subscribe()
	defer off()

	ctx := context.Background()
	eventbus.Publish(ctx, events.StorefrontFinish{OperationName: "Layout", Market: "uk", Status: 200, ErrorCount: 2, Duration: 10 * time.Millisecond})
	eventbus.Publish(ctx, events.StorefrontFinish{Market: "uk", Status: 0})
	eventbus.Publish(ctx, events.ProxyFinish{Market: "uk", Status: 200})

	require.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("Layout", "uk", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("anonymous", "uk", "0")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.graphQLErrors.WithLabelValues("Layout")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.proxyRequests.WithLabelValues("uk", "200")))

	off()
	eventbus.Publish(ctx, events.ProxyFinish{Market: "uk", Status: 200})
	require.Equal(t, 1.0, testutil.ToFloat64(c.proxyRequests.WithLabelValues("uk", "200")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New("de")
	c.observeStorefront(events.StorefrontFinish{OperationName: "Shop", Market: "de", Status: 200})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `storefront_requests_total{market="de",operation="Shop",status="200"} 1`)
}

func TestUnknownMarketsShareOneSeries(t *testing.T) {
	c := New("uk", "de")
	for i := 0; i < 50; i++ {
		m := fmt.Sprintf("m%d", i)
		c.observeStorefront(events.StorefrontFinish{OperationName: "Layout", Market: m, Status: 200})
		c.observeProxy(events.ProxyFinish{Market: m, Status: 200})
	}
	c.observeStorefront(events.StorefrontFinish{OperationName: "Layout", Market: "uk", Status: 200})
	c.observeStorefront(events.StorefrontFinish{OperationName: "Layout", Status: 200})

	require.Equal(t, 3, testutil.CollectAndCount(c.requestsTotal))
	require.Equal(t, 50.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("Layout", OtherMarket, "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("Layout", "uk", "200")))
	require.Equal(t, 1, testutil.CollectAndCount(c.proxyRequests))
	require.Equal(t, 50.0, testutil.ToFloat64(c.proxyRequests.WithLabelValues(OtherMarket, "200")))
}
