package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/dgallion1/vastchain/internal/vast"
)

// HTTPOptions controls HTTP fetching behaviour.
type HTTPOptions struct {
	UserAgent    string
	Headers      map[string]string
	MaxBodyBytes int64

	// Jar supplies cookies for requests made with credentials.
	Jar http.CookieJar
	// Authorization is sent only with credentialed requests.
	Authorization string
	// Origin decides same-origin credentials. Empty means every target is
	// cross-origin.
	Origin string

	Limiter *HostLimiter
}

// HTTPFetcher implements Fetcher via the Go http.Client. Timeouts come from
// the request context.
type HTTPFetcher struct {
	client       *http.Client
	opts         HTTPOptions
	origin       *url.URL
	maxBodyBytes int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 * 1024 * 1024
	}

	var origin *url.URL
	if strings.TrimSpace(opts.Origin) != "" {
		u, err := url.Parse(opts.Origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin: %w", err)
		}
		origin = u
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		client:       &http.Client{Transport: transport},
		opts:         opts,
		origin:       origin,
		maxBodyBytes: opts.MaxBodyBytes,
	}, nil
}

// Fetch downloads a single URI with a GET request.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := url.Parse(req.URI)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("parse uri: %w", err)}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, &PermanentError{Err: fmt.Errorf("unsupported scheme %q", target.Scheme)}
	}

	if err := f.opts.Limiter.Wait(ctx, target.Host); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.opts.UserAgent)
	}
	httpReq.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range f.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	if f.sendCredentials(req.Credentials, target) {
		if f.opts.Jar != nil {
			for _, c := range f.opts.Jar.Cookies(target) {
				httpReq.AddCookie(c)
			}
		}
		if f.opts.Authorization != "" {
			httpReq.Header.Set("Authorization", f.opts.Authorization)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBodyBytes))
		resp.Body.Close()
		return nil, &vast.HTTPError{
			Status:     resp.StatusCode,
			StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))),
		}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	if f.sendCredentials(req.Credentials, target) && f.opts.Jar != nil {
		f.opts.Jar.SetCookies(target, resp.Cookies())
	}

	return &Response{
		URI:         req.URI,
		Body:        body,
		Header:      resp.Header.Clone(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Latency:     time.Since(start),
	}, nil
}

func (f *HTTPFetcher) sendCredentials(mode Credentials, target *url.URL) bool {
	switch mode {
	case CredentialsInclude:
		return true
	case CredentialsSameOrigin:
		return f.origin != nil &&
			strings.EqualFold(f.origin.Scheme, target.Scheme) &&
			strings.EqualFold(f.origin.Host, target.Host)
	default:
		return false
	}
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() {
	f.client.CloseIdleConnections()
}
