package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultDataMediaType = "text/plain;charset=US-ASCII"

// IsDataURI reports whether uri uses the data: scheme.
func IsDataURI(uri string) bool {
	return len(uri) >= 5 && strings.EqualFold(uri[:5], "data:")
}

// DecodeDataURI returns the payload and media type of a data URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	if !IsDataURI(uri) {
		return nil, "", errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(uri[5:], ",")
	if !ok {
		return nil, "", errors.New("data uri without payload separator")
	}

	isBase64 := false
	if i := strings.LastIndex(meta, ";"); i >= 0 && strings.EqualFold(strings.TrimSpace(meta[i+1:]), "base64") {
		isBase64 = true
		meta = meta[:i]
	}
	mediaType := strings.TrimSpace(meta)
	if mediaType == "" {
		mediaType = defaultDataMediaType
	}

	if isBase64 {
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, mediaType, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	return []byte(text), mediaType, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// DataURIFetcher answers data URIs locally and hands every other URI to Next.
type DataURIFetcher struct {
	Next Fetcher
}

func (d *DataURIFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if !IsDataURI(req.URI) {
		if d.Next == nil {
			return nil, &PermanentError{Err: fmt.Errorf("no fetcher for %s", req.URI)}
		}
		return d.Next.Fetch(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, mediaType, err := DecodeDataURI(req.URI)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}
	header := http.Header{}
	header.Set("Content-Type", mediaType)
	return &Response{
		URI:         req.URI,
		Body:        body,
		Header:      header,
		StatusCode:  http.StatusOK,
		ContentType: mediaType,
	}, nil
}
