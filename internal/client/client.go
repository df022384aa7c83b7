// Package client calls the catalog and ledger API over HTTP.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

// Config points a client at the API.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type httpClient struct {
	base string
	http *http.Client
}

func newHTTPClient(cfg Config, transport http.RoundTripper) httpClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return httpClient{
		base: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.Timeout,
		},
	}
}

// requestError is a call that got no response. It matches the sentinel of
// the calling client and unwraps to the transport cause.
type requestError struct {
	sentinel error
	err      error
}

func (e *requestError) Error() string { return e.sentinel.Error() + ": " + e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

func (e *requestError) Is(target error) bool { return target == e.sentinel }

type response struct {
	status int
	body   []byte
}

func (c httpClient) do(ctx context.Context, method, path string, body []byte, header http.Header) (response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return response{}, errors.Wrap(err, "create request")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, errors.Wrap(err, "read response")
	}
	return response{status: resp.StatusCode, body: data}, nil
}
