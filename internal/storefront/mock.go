package storefront

import (
	"context"
	"net/http"
	"sync"
)

// MockCall records a single Query or Mutate invocation on a MockClient.
type MockCall struct {
	Method  string // "query" or "mutate"
	Query   string
	Options *QueryOptions
}

// MockClient implements Client for tests. It records every call and answers
// with Result, or with Err when set.
type MockClient struct {
	URL     string
	Headers http.Header
	Locale  I18n

	mu     sync.Mutex
	calls  []MockCall
	Result *Response
	Err    error
}

var _ Client = (*MockClient)(nil)

// NewMockClient returns a MockClient answering every call with res.
func NewMockClient(res *Response) *MockClient {
	return &MockClient{URL: "https://mock.test/api/graphql.json", Headers: http.Header{}, Result: res}
}

func (m *MockClient) record(method, query string, opts *QueryOptions) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Query: query, Options: opts})
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func (m *MockClient) Query(ctx context.Context, query string, opts *QueryOptions) (*Response, error) {
	return m.record("query", query, opts)
}

func (m *MockClient) Mutate(ctx context.Context, mutation string, opts *QueryOptions) (*Response, error) {
	return m.record("mutate", mutation, opts)
}

func (m *MockClient) APIURL() string { return m.URL }

func (m *MockClient) PublicHeaders() http.Header { return m.Headers.Clone() }

func (m *MockClient) I18n() I18n { return m.Locale }

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
