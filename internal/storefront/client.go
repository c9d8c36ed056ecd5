// Package storefront defines the client used to talk to the Storefront
// GraphQL API, an HTTP implementation of it, and WithMarket, which threads a
// market handle through every query made by a client.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Client executes operations against the Storefront API.
// Implementations must be safe for concurrent use.
type Client interface {
	// Query runs a query document. opts may be nil.
	Query(ctx context.Context, query string, opts *QueryOptions) (*Response, error)
	// Mutate runs a mutation document. opts may be nil.
	Mutate(ctx context.Context, mutation string, opts *QueryOptions) (*Response, error)
	// APIURL is the GraphQL endpoint the client posts to.
	APIURL() string
	// PublicHeaders returns the headers needed to call the API with the
	// public access token. The returned header is a copy.
	PublicHeaders() http.Header
	// I18n is the locale the client was configured with.
	I18n() I18n
}

// QueryOptions are per-call execution options.
type QueryOptions struct {
	Variables     map[string]any
	OperationName string
	// Headers are added to the outgoing request.
	Headers http.Header
}

// I18n identifies a storefront locale.
type I18n struct {
	Language string
	Country  string
}

// Response is a GraphQL response as returned by the API.
type Response struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     gqlerror.List   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// UnmarshalData decodes the data member into v. A response without data
// leaves v untouched.
func (r *Response) UnmarshalData(v any) error {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns the GraphQL errors of the response, or nil.
func (r *Response) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors
}

var (
	// ErrMissingDomain is returned by New when no store domain is given.
	ErrMissingDomain = errors.New("storefront: missing store domain")
	// ErrMissingToken is returned by New when no access token is given.
	ErrMissingToken = errors.New("storefront: missing access token")
)

// StatusError reports a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storefront: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("storefront: unexpected status %d: %s", e.Code, e.Body)
}
