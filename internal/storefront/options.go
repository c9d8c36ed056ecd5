package storefront

import (
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures the HTTP client.
//
// Defaults:
// - APIVersion:    2025-01
// - Timeout:       10s (used only if the context has no deadline)
// - MaxRetries:    2, backing off from 100ms up to 2s
// - HTTPClient:    http.DefaultClient
// - Logger:        discards everything
type Options struct {
	HTTPClient *http.Client
	APIVersion string
	// BaseURL replaces "https://{domain}" when set, e.g. for tests.
	BaseURL string
	Timeout time.Duration

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	I18n   I18n
	Logger logrus.FieldLogger
}

// Option mutates Options.
type Option func(*Options)

// DefaultAPIVersion is the Storefront API version used when none is set.
const DefaultAPIVersion = "2025-01"

func defaultOptions() *Options {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Options{
		HTTPClient:    http.DefaultClient,
		APIVersion:    DefaultAPIVersion,
		Timeout:       10 * time.Second,
		MaxRetries:    2,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
		Logger:        discard,
	}
}

func WithHTTPClient(hc *http.Client) Option { return func(o *Options) { o.HTTPClient = hc } }
func WithAPIVersion(v string) Option        { return func(o *Options) { o.APIVersion = v } }
func WithBaseURL(u string) Option           { return func(o *Options) { o.BaseURL = u } }
func WithTimeout(d time.Duration) Option    { return func(o *Options) { o.Timeout = d } }
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}
func WithI18n(language, country string) Option {
	return func(o *Options) { o.I18n = I18n{Language: language, Country: country} }
}

// WithRetry sets how often a failed call is retried and the backoff bounds.
// max 0 disables retries.
func WithRetry(max int, delay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = max
		o.RetryDelay = delay
		o.MaxRetryDelay = maxDelay
	}
}
