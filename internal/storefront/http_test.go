package storefront

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/marketctx/internal/eventbus"
	events "github.com/hanpama/marketctx/internal/events"
	reqid "github.com/hanpama/marketctx/internal/reqid"
)

type capturedRequest struct {
	Path    string
	Header  http.Header
	Payload graphQLRequest
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	captured := make(chan capturedRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p graphQLRequest
		_ = json.Unmarshal(body, &p)
		captured <- capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Payload: p}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *HTTPClient {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := New("shop.example.com", "public-token", opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New("", "tok")
	require.ErrorIs(t, err, ErrMissingDomain)
	_, err = New("shop.example.com", "")
	require.ErrorIs(t, err, ErrMissingToken)

	c, err := New("https://shop.example.com/", "tok", WithAPIVersion("2024-10"), WithI18n("EN", "GB"))
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/api/2024-10/graphql.json", c.APIURL())
	require.Equal(t, I18n{Language: "EN", Country: "GB"}, c.I18n())
	require.Equal(t, "tok", c.PublicHeaders().Get(TokenHeader))
}

func TestQuerySendsRequest(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"shop":{"id":"gid://shopify/Shop/1"}}}`)
	})
	c := newTestClient(t, srv)

	ctx, rid := reqid.NewContext(context.Background())
	res, err := c.Query(ctx, `query Layout($market: String!) { shop { id } }`, &QueryOptions{
		Variables: map[string]any{"market": "uk"},
		Headers:   http.Header{"Buyer-Ip": []string{"127.0.0.1"}},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	var data struct {
		Shop struct{ ID string } `json:"shop"`
	}
	require.NoError(t, res.UnmarshalData(&data))
	require.Equal(t, "gid://shopify/Shop/1", data.Shop.ID)

	req := <-captured
	require.Equal(t, "/api/"+DefaultAPIVersion+"/graphql.json", req.Path)
	require.Equal(t, "public-token", req.Header.Get(TokenHeader))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, rid, req.Header.Get(reqid.Header))
	require.Equal(t, "127.0.0.1", req.Header.Get("Buyer-Ip"))
	require.Equal(t, "Layout", req.Payload.OperationName)
	require.Equal(t, map[string]any{"market": "uk"}, req.Payload.Variables)
}

func TestQueryReturnsGraphQLErrors(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"Variable $market of type String! was provided invalid value","path":["shop"]}]}`)
	})
	c := newTestClient(t, srv)

	res, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.ErrorContains(t, res.Err(), "invalid value")
}

func TestQueryRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"data":{}}`)
	})
	c := newTestClient(t, srv)

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, hits.Load())
}

func TestQueryStatusErrorAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})
	c := newTestClient(t, srv)

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.Equal(t, "upstream down", se.Body)
	require.EqualValues(t, 3, hits.Load())
}

func TestQueryDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, srv)

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.EqualValues(t, 1, hits.Load())
}

func TestQueryInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>`)
	})
	c := newTestClient(t, srv)

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	require.ErrorContains(t, err, "decode response")
}

func TestQueryContextCanceled(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, srv, WithRetry(5, time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := c.Query(ctx, `query Layout { shop { id } }`, nil)
	require.Error(t, err)
	require.Less(t, time.Since(begin), 900*time.Millisecond)
}

func TestQueryPublishesEvents(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{},"errors":[{"message":"a"},{"message":"b"}]}`)
	})
	c := newTestClient(t, srv)

	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	var start events.StorefrontStart
	var finish events.StorefrontFinish
	eventbus.Subscribe(func(_ context.Context, e events.StorefrontStart) { start = e })
	eventbus.Subscribe(func(_ context.Context, e events.StorefrontFinish) { finish = e })

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, &QueryOptions{Variables: map[string]any{"market": "uk"}})
	require.NoError(t, err)

	require.Equal(t, "Layout", start.OperationName)
	require.Equal(t, "query", start.OperationType)
	require.Equal(t, "uk", start.Market)
	require.Equal(t, http.StatusOK, finish.Status)
	require.Equal(t, 1, finish.Attempts)
	require.Equal(t, 2, finish.ErrorCount)
	require.NoError(t, finish.Err)
	require.NotZero(t, start.Call)
	require.Equal(t, start.Call, finish.Call)

	first := finish.Call
	_, err = c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, finish.Call)
	require.Equal(t, start.Call, finish.Call)
}

func TestWithMarketOverHTTP(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	})
	c := WithMarket(newTestClient(t, srv), "uk")

	_, err := c.Query(context.Background(), `query Layout { shop { id } }`, nil)
	require.NoError(t, err)

	req := <-captured
	require.Equal(t, `query Layout($market: String!) @inContext(market: { handle: $market }) { shop { id } }`, req.Payload.Query)
	require.Equal(t, map[string]any{"market": "uk"}, req.Payload.Variables)
}
