package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/hanpama/marketctx/internal/eventbus"
	events "github.com/hanpama/marketctx/internal/events"
	language "github.com/hanpama/marketctx/internal/language"
	reqid "github.com/hanpama/marketctx/internal/reqid"
	storefront "github.com/hanpama/marketctx/internal/storefront"
)

// Handler is an http.Handler that accepts GraphQL requests and forwards them
// to the Storefront API in the context of a market.
type Handler struct {
	client storefront.Client
	market string
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MarketHeader names a request header that overrides the default market
	// for that request. Empty disables the override.
	MarketHeader string

	// ForwardHeaders lists request headers copied onto the storefront call.
	// Header names are case-insensitive. Default is none.
	ForwardHeaders []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMarketHeader(name string) Option { return func(o *Options) { o.MarketHeader = name } }
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler forwarding to client. market is the default market;
// empty means requests are forwarded without market context unless the
// market header supplies one.
func New(client storefront.Client, market string, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, errors.New("server: nil storefront client")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{client: client, market: market, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	market := h.marketFor(r)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.ProxyStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.ProxyFinish{Request: r, Market: market, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Error() == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr.Error()), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	client := storefront.WithMarket(h.client, market)
	headers := h.forwardedHeaders(r)

	if batch != nil {
		out := make([]any, len(batch))
		for i := range batch {
			out[i], _ = h.executeOne(ctx, client, batch[i], headers)
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	res, code := h.executeOne(ctx, client, req, headers)
	status = code
	writeJSON(w, status, res, h.opt.Pretty)
}

func (h *Handler) marketFor(r *http.Request) string {
	if h.opt.MarketHeader != "" {
		if m := strings.TrimSpace(r.Header.Get(h.opt.MarketHeader)); m != "" {
			return m
		}
	}
	return h.market
}

func (h *Handler) forwardedHeaders(r *http.Request) http.Header {
	if len(h.opt.ForwardHeaders) == 0 {
		return nil
	}
	out := http.Header{}
	for _, name := range h.opt.ForwardHeaders {
		if vs := r.Header.Values(name); len(vs) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), vs...)
		}
	}
	return out
}

// executeOne forwards a single request and returns the response body along
// with the HTTP status to use when it is the only request.
func (h *Handler) executeOne(ctx context.Context, client storefront.Client, req GraphQLRequest, headers http.Header) (any, int) {
	opts := &storefront.QueryOptions{
		Variables:     req.Variables,
		OperationName: req.OperationName,
		Headers:       headers,
	}
	var (
		res *storefront.Response
		err error
	)
	if _, op := language.OperationOf(req.Query); op == language.Mutation {
		res, err = client.Mutate(ctx, req.Query, opts)
	} else {
		res, err = client.Query(ctx, req.Query, opts)
	}
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		return errorResponse(err.Error()), code
	}
	return res, http.StatusOK
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type requestError string

func (e requestError) Error() string { return string(e) }

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, requestError("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, requestError("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, requestError("unsupported Content-Type")
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, requestError("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, requestError(errBodyTooLargeMessage)
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, requestError("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, requestError("empty batch")
		}
		for _, item := range arr {
			if item.Query == "" {
				return GraphQLRequest{}, nil, requestError("missing 'query'")
			}
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, requestError("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, requestError("missing 'query'")
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type errorEntry struct {
	Message string `json:"message"`
}

type errorResult struct {
	Data   any         `json:"data"`
	Errors []errorEntry `json:"errors,omitempty"`
}

func errorResponse(msg string) errorResult {
	return errorResult{Errors: []errorEntry{{Message: msg}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
