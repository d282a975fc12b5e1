package dify

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstreamUnreachable means the connection could not be established.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrUpstreamTimeout means the upstream did not answer within the stream timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrSkip marks a stream line that carries nothing usable. Callers log
	// it and continue reading.
	ErrSkip = errors.New("line skipped")
)

// HTTPError is a non-2xx answer from the upstream.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Dify API responded with status %d: %s", e.Status, e.Message)
}

// Transient reports whether the status is a gateway or rate limit error.
func (e *HTTPError) Transient() bool {
	switch e.Status {
	case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// StreamError is an abnormal end of an already opened stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// EventError is an error reported by the upstream inside the stream.
type EventError struct {
	Message string
}

func (e *EventError) Error() string {
	return "upstream reported error: " + e.Message
}
