// Package paypal is a PayPal Orders v2 REST client implementing widget.Provider.
package paypal

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/downpay/internal/widget"
)

var _ widget.Provider = (*Client)(nil)

const (
	// SandboxURL is the PayPal sandbox API root.
	SandboxURL = "https://api-m.sandbox.paypal.com"

	tokenSkew    = 30 * time.Second
	maxBodyBytes = 1 << 20
)

// Config holds the credentials and endpoint of the PayPal API.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Currency     string
	Timeout      time.Duration
}

// Client talks to the PayPal Orders API.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates a Client. A nil transport uses http.DefaultTransport; either
// way the transport is instrumented.
func New(cfg Config, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Currency == "" {
		cfg.Currency = "PHP"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.Timeout,
		},
		now: time.Now,
	}
}

// CreateOrder opens a CAPTURE order for amount. The reference is sent as
// PayPal-Request-Id so a retried create returns the same order.
func (c *Client) CreateOrder(ctx context.Context, amount, reference string) (widget.Intent, error) {
	body := encodeCreateOrder(c.cfg.Currency, amount)

	resp, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, reference)
	if err != nil {
		return widget.Intent{}, err
	}

	id, status, err := decodeOrder(resp)
	if err != nil {
		return widget.Intent{}, &widget.ProviderError{Kind: widget.KindProvider, Message: "decode order", Err: err}
	}
	if id == "" {
		return widget.Intent{}, &widget.ProviderError{Kind: widget.KindProvider, Message: "order without id"}
	}
	if status != "" && status != "CREATED" && status != "PAYER_ACTION_REQUIRED" {
		return widget.Intent{}, &widget.ProviderError{Kind: widget.KindProvider, Message: "unexpected order status " + status}
	}
	return widget.Intent{ID: id, Amount: amount}, nil
}

// Capture captures an approved order. The capture is sent with a
// PayPal-Request-Id derived from the order id, so repeating it after an
// unconfirmed outcome returns the original result instead of charging twice.
func (c *Client) Capture(ctx context.Context, intent widget.Intent) (widget.AuthorizationResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(intent.ID) + "/capture"

	resp, err := c.do(ctx, http.MethodPost, path, []byte("{}"), "capture-"+intent.ID)
	if err != nil {
		return widget.AuthorizationResult{}, err
	}

	captured, err := decodeCapture(resp)
	if err != nil {
		// PayPal accepted the capture, so the funds may already be taken.
		return widget.AuthorizationResult{}, &widget.ProviderError{Kind: widget.KindPending, Message: "decode capture", Err: err}
	}
	if captured.Status != "COMPLETED" {
		return widget.AuthorizationResult{}, &widget.ProviderError{
			Kind:    captureKind(captured.Status),
			Message: "capture status " + captured.Status,
		}
	}
	return widget.AuthorizationResult{
		TransactionID: captured.ID,
		PayerName:     captured.payerName(),
		Raw:           resp,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, requestID string) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &widget.ProviderError{Kind: widget.KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &widget.ProviderError{Kind: widget.KindNetwork, Message: "read response", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, data)
	}
	return data, nil
}

// accessToken returns a cached OAuth token, fetching a new one when the
// cached one is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "create token request")
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := c.send(req)
	if err != nil {
		return "", err
	}

	token, ttl, err := decodeToken(data)
	if err != nil {
		return "", &widget.ProviderError{Kind: widget.KindProvider, Message: "decode token", Err: err}
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl - tokenSkew)
	return token, nil
}
