// Package events defines the in-process events published around storefront
// API calls. Subscribers (tracing, metrics) receive them through eventbus.
package events

import "time"

// StorefrontStart is emitted before a request is sent to the Storefront API.
// Call identifies the request and is repeated on its StorefrontFinish.
type StorefrontStart struct {
	Call          uint64
	URL           string
	OperationName string
	OperationType string
	Market        string
}

// StorefrontFinish is emitted once the request completed, failed or ran out
// of retries. Status is 0 when no HTTP response was received.
type StorefrontFinish struct {
	Call          uint64
	URL           string
	OperationName string
	OperationType string
	Market        string
	Status        int
	Attempts      int
	ErrorCount    int
	Err           error
	Duration      time.Duration
}
