package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hanpama/marketctx/internal/config"
	"github.com/hanpama/marketctx/internal/eventbus"
	language "github.com/hanpama/marketctx/internal/language"
	"github.com/hanpama/marketctx/internal/logging"
	"github.com/hanpama/marketctx/internal/metrics"
	"github.com/hanpama/marketctx/internal/operations"
	"github.com/hanpama/marketctx/internal/otel"
	"github.com/hanpama/marketctx/internal/rewrite"
	"github.com/hanpama/marketctx/internal/server"
	"github.com/hanpama/marketctx/internal/storefront"
)

const rootUsage = `marketctx: storefront market context tools

USAGE:
  marketctx <command> [flags]

COMMANDS:
  rewrite          Print an operation document with the market context injected
  query            Run an operation against the Storefront API in a market
  operations       List the bundled storefront operations
  proxy            Serve a GraphQL endpoint that forwards to the Storefront API in a market
  help             Show help for any command

Settings are read from the environment (and .env/.env.local): STOREFRONT_DOMAIN,
STOREFRONT_TOKEN, STOREFRONT_API_VERSION, STOREFRONT_MARKET, STOREFRONT_LANGUAGE,
STOREFRONT_COUNTRY, OTEL_ENDPOINT, OTEL_SERVICE, LOG_LEVEL. Flags override them.
`

const rewriteUsage = `rewrite FLAGS:
  -market <handle>    Market handle (default: $STOREFRONT_MARKET)
  -op <name>          Bundled operation to rewrite
  -in <file>          Read the document from file (default: stdin)
`

const queryUsage = `query FLAGS:
  -market <handle>         Market handle (default: $STOREFRONT_MARKET)
  -op <name>               Bundled operation to run
  -in <file>               Read the document from file (default: stdin)
  -vars <json>             Variables as a JSON object
  -domain <host>           Store domain (default: $STOREFRONT_DOMAIN)
  -token <token>           Public access token (default: $STOREFRONT_TOKEN)
  -api-version <version>   API version (default: $STOREFRONT_API_VERSION or 2025-01)
  -base-url <url>          Override https://{domain}, e.g. a local mock
  -timeout <duration>      Request timeout (default: 10s)
  -retries <n>             Retries on 429/5xx and network errors (default: 2)
`

const proxyUsage = `proxy FLAGS:
  -addr <addr>               HTTP listen address (default: :8080)
  -market <handle>           Default market handle (default: $STOREFRONT_MARKET)
  -market-header <name>      Request header overriding the market per request
  -forward-header <name>     Forward request header to the Storefront API. Repeatable
  -cors <origin>             Allowed CORS origin. Repeatable
  -pretty                    Pretty-print JSON responses
  -timeout <duration>        Per-request timeout (default: 10s)
  -max-body <bytes>          Max request body size, 0 for unlimited (default: 1048576)
  -metrics-market <handle>   Market reported by name in /metrics. Repeatable; the default
                             market is always included, any other market counts as "other"
  -domain, -token, -api-version, -base-url, -retries   As for query
  -otel.endpoint <addr>      OTLP collector endpoint (default: $OTEL_ENDPOINT)
  -otel.service <name>       OpenTelemetry service name (default: marketctx)
`

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("marketctx", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	logger := logging.New(stderr, config.GetEnv("LOG_LEVEL", "info"))
	config.LoadEnv(logger)
	cfg := config.FromEnv()
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "rewrite":
		return cmdRewrite(cfg, cmdArgs)
	case "query":
		return cmdQuery(cfg, logger, cmdArgs)
	case "operations":
		return cmdOperations()
	case "proxy":
		return cmdProxy(cfg, logger, cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "rewrite":
		fmt.Fprint(stdout, rewriteUsage)
	case "query":
		fmt.Fprint(stdout, queryUsage)
	case "proxy":
		fmt.Fprint(stdout, proxyUsage)
	case "operations":
		fmt.Fprintln(stdout, "operations: no flags")
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// readDocument returns the bundled operation op, or the contents of file
// (stdin when empty).
func readDocument(op, file string) (string, error) {
	if op != "" {
		cat, err := operations.Default()
		if err != nil {
			return "", err
		}
		return cat.Document(op)
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func cmdRewrite(cfg config.Config, args []string) error {
	market := cfg.Market
	op := ""
	in := ""
	fs := flag.NewFlagSet("rewrite", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&market, "market", market, "Market handle")
	fs.StringVar(&op, "op", op, "Bundled operation")
	fs.StringVar(&in, "in", in, "Input file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, rewriteUsage)
		return err
	}
	doc, err := readDocument(op, in)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, rewrite.Inject(doc, market))
	return nil
}

func cmdOperations() error {
	cat, err := operations.Default()
	if err != nil {
		return err
	}
	for _, n := range cat.Names() {
		fmt.Fprintln(stdout, n)
	}
	return nil
}

// clientFlags registers the flags shared by query and proxy.
type clientFlags struct {
	domain     string
	token      string
	apiVersion string
	baseURL    string
	retries    int
}

func (c *clientFlags) register(fs *flag.FlagSet, cfg config.Config) {
	c.domain, c.token, c.apiVersion, c.retries = cfg.Domain, cfg.Token, cfg.APIVersion, 2
	fs.StringVar(&c.domain, "domain", c.domain, "Store domain")
	fs.StringVar(&c.token, "token", c.token, "Public access token")
	fs.StringVar(&c.apiVersion, "api-version", c.apiVersion, "Storefront API version")
	fs.StringVar(&c.baseURL, "base-url", c.baseURL, "Override https://{domain}")
	fs.IntVar(&c.retries, "retries", c.retries, "Retries on 429/5xx")
}

func (c *clientFlags) client(cfg config.Config, logger logging.Logger, timeout time.Duration) (*storefront.HTTPClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.IdleConnTimeout = 90 * time.Second
	opts := []storefront.Option{
		storefront.WithHTTPClient(&http.Client{Transport: transport}),
		storefront.WithAPIVersion(c.apiVersion),
		storefront.WithI18n(cfg.Language, cfg.Country),
		storefront.WithLogger(logger),
		storefront.WithTimeout(timeout),
		storefront.WithRetry(c.retries, 100*time.Millisecond, 2*time.Second),
	}
	if c.baseURL != "" {
		opts = append(opts, storefront.WithBaseURL(c.baseURL))
	}
	return storefront.New(c.domain, c.token, opts...)
}

func cmdQuery(cfg config.Config, logger logging.Logger, args []string) error {
	market := cfg.Market
	op := ""
	in := ""
	vars := ""
	timeout := 10 * time.Second
	var cf clientFlags
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&market, "market", market, "Market handle")
	fs.StringVar(&op, "op", op, "Bundled operation")
	fs.StringVar(&in, "in", in, "Input file")
	fs.StringVar(&vars, "vars", vars, "Variables JSON")
	fs.DurationVar(&timeout, "timeout", timeout, "Request timeout")
	cf.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, queryUsage)
		return err
	}

	doc, err := readDocument(op, in)
	if err != nil {
		return err
	}
	variables := map[string]any{}
	if vars != "" {
		if err := json.Unmarshal([]byte(vars), &variables); err != nil {
			return fmt.Errorf("invalid -vars JSON: %w", err)
		}
	}
	base, err := cf.client(cfg, logger, timeout)
	if err != nil {
		return err
	}
	client := storefront.WithMarket(base, market)
	logger.WithFields(logging.Fields{"url": client.APIURL(), "market": storefront.MarketOf(client)}).Debug("running operation")

	opts := &storefront.QueryOptions{Variables: variables}
	var res *storefront.Response
	if _, kind := language.OperationOf(doc); kind == language.Mutation {
		res, err = client.Mutate(context.Background(), doc, opts)
	} else {
		res, err = client.Query(context.Background(), doc, opts)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return res.Err()
}

func cmdProxy(cfg config.Config, logger logging.Logger, args []string) error {
	addr := ":8080"
	market := cfg.Market
	marketHeader := ""
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	otelEndpoint := cfg.OTelEndpoint
	otelService := cfg.OTelService
	var forward, cors, metricsMarkets stringListFlag
	var cf clientFlags
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "addr", addr, "HTTP listen address")
	fs.StringVar(&market, "market", market, "Default market handle")
	fs.StringVar(&marketHeader, "market-header", marketHeader, "Market override header")
	fs.Var(&forward, "forward-header", "Forward request header")
	fs.Var(&cors, "cors", "Allowed CORS origin")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "max-body", maxBody, "Max request body size")
	fs.Var(&metricsMarkets, "metrics-market", "Market reported by name in /metrics")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	cf.register(fs, cfg)
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, proxyUsage)
		return err
	}

	client, err := cf.client(cfg, logger, timeout)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	collector := metrics.New(append([]string{market}, metricsMarkets...)...)
	defer collector.Subscribe()()

	sopts := []server.Option{server.WithTimeout(timeout), server.WithMaxBodyBytes(maxBody)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if marketHeader != "" {
		sopts = append(sopts, server.WithMarketHeader(marketHeader))
	}
	if len(forward) > 0 {
		sopts = append(sopts, server.WithForwardHeaders(forward...))
	}
	if len(cors) > 0 {
		sopts = append(sopts, server.WithCORS(cors...))
	}
	h, err := server.New(client, market, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/metrics", collector.Handler())

	logging.WithService(logger, otelService).WithFields(logging.Fields{
		"addr":     addr,
		"market":   market,
		"upstream": client.APIURL(),
	}).Info("GraphQL proxy listening")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
