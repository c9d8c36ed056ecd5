package storefront

import (
	"context"
	"maps"
	"net/http"

	"github.com/hanpama/marketctx/internal/rewrite"
)

// WithMarket returns a Client that runs every Query in the context of the
// given market: the document gets the $market variable and @inContext
// argument added, and the market handle is bound to $market unless the
// caller already supplied a value. All other methods go straight to c.
//
// An empty market returns c itself.
func WithMarket(c Client, market string) Client {
	if market == "" {
		return c
	}
	return &marketClient{next: c, market: market}
}

// MarketOf returns the market a client was wrapped with, or "".
func MarketOf(c Client) string {
	if mc, ok := c.(*marketClient); ok {
		return mc.market
	}
	return ""
}

type marketClient struct {
	next   Client
	market string
}

func (c *marketClient) Query(ctx context.Context, query string, opts *QueryOptions) (*Response, error) {
	return c.next.Query(ctx, rewrite.Inject(query, c.market), c.merge(opts))
}

func (c *marketClient) Mutate(ctx context.Context, mutation string, opts *QueryOptions) (*Response, error) {
	return c.next.Mutate(ctx, mutation, opts)
}

func (c *marketClient) APIURL() string { return c.next.APIURL() }

func (c *marketClient) PublicHeaders() http.Header { return c.next.PublicHeaders() }

func (c *marketClient) I18n() I18n { return c.next.I18n() }

// merge builds fresh options for the delegated call; opts is never written.
func (c *marketClient) merge(opts *QueryOptions) *QueryOptions {
	out := &QueryOptions{}
	if opts != nil {
		*out = *opts
		out.Headers = opts.Headers.Clone()
	}
	vars := make(map[string]any, len(out.Variables)+1)
	maps.Copy(vars, out.Variables)
	if !supplied(vars[rewrite.Variable]) {
		vars[rewrite.Variable] = c.market
	}
	out.Variables = vars
	return out
}

// supplied reports whether a caller-provided variable value should be kept.
// Missing, nil and empty-string values are replaced by the configured market.
func supplied(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}
