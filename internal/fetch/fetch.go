// Package fetch retrieves VAST documents over HTTP or from data URIs, with
// per-attempt timeouts, bounded retries and ordered credential fallbacks.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Request is a single fetch of a URI with one credentials mode.
type Request struct {
	URI         string
	Credentials Credentials
}

// Response is a successfully fetched body.
type Response struct {
	URI         string
	Body        []byte
	Header      http.Header
	StatusCode  int
	ContentType string
	Latency     time.Duration
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Fetcher retrieves one document.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
