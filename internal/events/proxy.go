package events

import (
	"net/http"
	"time"
)

// ProxyStart is emitted when the proxy receives an HTTP request.
type ProxyStart struct {
	Request *http.Request
}

// ProxyFinish is emitted after the proxy handler wrote its response.
type ProxyFinish struct {
	Request  *http.Request
	Market   string
	Status   int
	Duration time.Duration
}
