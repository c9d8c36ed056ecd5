package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	eventbus "github.com/hanpama/marketctx/internal/eventbus"
	events "github.com/hanpama/marketctx/internal/events"
	language "github.com/hanpama/marketctx/internal/language"
	reqid "github.com/hanpama/marketctx/internal/reqid"
	"github.com/hanpama/marketctx/internal/rewrite"
)

// TokenHeader carries the public Storefront API access token.
const TokenHeader = "X-Shopify-Storefront-Access-Token"

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 1 << 10

// HTTPClient is a Client posting GraphQL requests to the Storefront API.
type HTTPClient struct {
	url   string
	token string
	opt   *Options
	exec  failsafe.Executor[*http.Response]
}

var _ Client = (*HTTPClient)(nil)

// calls numbers requests for matching start and finish events.
var calls atomic.Uint64

// New creates a client for the store at domain (e.g. "shop.example.com")
// authenticated with a public access token.
func New(domain, token string, opts ...Option) (*HTTPClient, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, ErrMissingDomain
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	base := o.BaseURL
	if base == "" {
		base = "https://" + strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	}
	url := strings.TrimSuffix(base, "/") + "/api/" + o.APIVersion + "/graphql.json"
	return &HTTPClient{url: url, token: token, opt: o, exec: newExecutor(o)}, nil
}

func newExecutor(o *Options) failsafe.Executor[*http.Response] {
	delay, maxDelay := o.RetryDelay, o.MaxRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	retries := o.MaxRetries
	if retries < 0 {
		retries = 0
	}
	builder := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		ReturnLastFailure()
	if maxDelay > delay {
		builder = builder.WithBackoff(delay, maxDelay)
	} else {
		builder = builder.WithDelay(delay)
	}
	return failsafe.With[*http.Response](builder.Build())
}

// shouldRetry retries network errors, rate limits and server errors.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

func (c *HTTPClient) Query(ctx context.Context, query string, opts *QueryOptions) (*Response, error) {
	return c.do(ctx, query, opts)
}

func (c *HTTPClient) Mutate(ctx context.Context, mutation string, opts *QueryOptions) (*Response, error) {
	return c.do(ctx, mutation, opts)
}

func (c *HTTPClient) APIURL() string { return c.url }

func (c *HTTPClient) PublicHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set(TokenHeader, c.token)
	return h
}

func (c *HTTPClient) I18n() I18n { return c.opt.I18n }

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (c *HTTPClient) do(ctx context.Context, query string, opts *QueryOptions) (*Response, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}
	if _, ok := ctx.Deadline(); !ok && c.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opt.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.Ensure(ctx)

	name, op := language.OperationOf(query)
	if opts.OperationName != "" {
		name = opts.OperationName
	}
	body, err := json.Marshal(graphQLRequest{Query: query, OperationName: name, Variables: opts.Variables})
	if err != nil {
		return nil, fmt.Errorf("storefront: encode request: %w", err)
	}

	market, _ := opts.Variables[rewrite.Variable].(string)
	call := calls.Add(1)
	fin := events.StorefrontFinish{Call: call, URL: c.url, OperationName: name, OperationType: string(op), Market: market}
	start := time.Now()
	eventbus.Publish(ctx, events.StorefrontStart{Call: call, URL: c.url, OperationName: name, OperationType: string(op), Market: market})
	defer func() {
		fin.Duration = time.Since(start)
		eventbus.Publish(ctx, fin)
		c.opt.Logger.WithFields(logrus.Fields{
			"request_id": rid,
			"operation":  name,
			"market":     market,
			"status":     fin.Status,
			"attempts":   fin.Attempts,
			"duration":   fin.Duration,
		}).Debug("storefront request")
	}()

	var prev *http.Response
	resp, err := c.exec.WithContext(ctx).Get(func() (*http.Response, error) {
		if prev != nil {
			_ = prev.Body.Close()
		}
		fin.Attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = c.PublicHeaders()
		req.Header.Set(reqid.Header, rid)
		for k, vs := range opts.Headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		prev, err = c.opt.HTTPClient.Do(req)
		return prev, err
	})
	if err != nil {
		if prev != nil {
			_ = prev.Body.Close()
		}
		fin.Err = err
		return nil, fmt.Errorf("storefront: %s: %w", describe(name), err)
	}
	defer resp.Body.Close()
	fin.Status = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fin.Err = err
		return nil, fmt.Errorf("storefront: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		fin.Err = se
		return nil, se
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		fin.Err = err
		return nil, fmt.Errorf("storefront: decode response: %w", err)
	}
	fin.ErrorCount = len(out.Errors)
	return &out, nil
}

func describe(name string) string {
	if name == "" {
		return "anonymous operation"
	}
	return name
}
