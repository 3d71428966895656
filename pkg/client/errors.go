package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrConflict reports HTTP 409: the resource already exists or was
	// concurrently modified. Distinct so callers can special-case it.
	ErrConflict = errors.New("client: resource already exists")

	// ErrQueueFull reports that an event was dropped because the submission
	// queue stayed full past the enqueue block timeout.
	ErrQueueFull = errors.New("client: submission queue is full")
)

// DeliveryError is a non-2xx, non-conflict response from the ingestion
// service, surfaced after retries are exhausted.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("client: delivery failed with status %d: %s", e.StatusCode, e.Body)
}

// readBodyPrefix keeps the leading slice of an error response for reporting.
func readBodyPrefix(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(b))
}
