package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// RequestDescriptor describes one logical request. Fetcher builds a fresh
// *http.Request from it for every attempt, so the descriptor itself is never
// modified.
type RequestDescriptor struct {
	// Name is the logical resource name, used for logging and metrics.
	Name   string
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Body   []byte
	// Guard inspects a successful body and reports whether it signals that
	// the session may not see this data.
	Guard func(body []byte) bool
}

// newRequest builds the HTTP request for one attempt
func (d RequestDescriptor) newRequest(ctx context.Context) (*http.Request, error) {
	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	target := d.URL
	if len(d.Query) > 0 {
		u, err := url.Parse(d.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", d.URL, err)
		}
		q := u.Query()
		for k, vs := range d.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body io.Reader
	if d.Body != nil {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}
