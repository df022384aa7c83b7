package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/domain/order"
)

// IdempotencyKeyHeader carries the authorization id of a persisted order.
const IdempotencyKeyHeader = "Idempotency-Key"

// Orders is the order persistence client. It records completed partial
// payments through POST /api/orders.
type Orders struct {
	c httpClient
}

// NewOrders creates a ledger client. A nil transport uses
// http.DefaultTransport.
func NewOrders(cfg Config, transport http.RoundTripper) *Orders {
	return &Orders{c: newHTTPClient(cfg, transport)}
}

// Persist records rec and returns the ledger's order id. Calls are
// idempotent on rec.AuthorizationID: resending the same record returns the
// same id.
//
// Failures wrap order.ErrPersistenceUnavailable, or order.ErrRejected when
// the ledger refused the record.
func (o *Orders) Persist(ctx context.Context, rec order.Record) (string, error) {
	var e jx.Encoder
	api.EncodeOrderRequest(&e, rec)

	header := http.Header{}
	header.Set(IdempotencyKeyHeader, rec.AuthorizationID)

	resp, err := o.c.do(ctx, http.MethodPost, "/api/orders", e.Bytes(), header)
	if err != nil {
		return "", &requestError{sentinel: order.ErrPersistenceUnavailable, err: err}
	}

	var orderID string
	env, err := api.DecodeEnvelope(resp.body, func(d *jx.Decoder) error {
		var err error
		orderID, _, err = api.DecodePersisted(d)
		return err
	})
	switch {
	case resp.status >= 400 && resp.status < 500 && resp.status != http.StatusTooManyRequests:
		msg := env.Message
		if err != nil {
			msg = http.StatusText(resp.status)
		}
		return "", errors.Wrapf(order.ErrRejected, "status %d: %s", resp.status, msg)
	case err != nil:
		return "", errors.Wrapf(order.ErrPersistenceUnavailable, "status %d: %s", resp.status, err)
	case resp.status >= 300 || !env.OK():
		return "", errors.Wrapf(order.ErrPersistenceUnavailable, "status %d: %s", resp.status, env.Message)
	case orderID == "":
		return "", errors.Wrap(order.ErrPersistenceUnavailable, "response without order id")
	}
	return orderID, nil
}

// ListByUser returns the orders recorded for userID, newest first.
func (o *Orders) ListByUser(ctx context.Context, userID string) ([]order.Record, error) {
	resp, err := o.c.do(ctx, http.MethodGet, "/api/orders?userId="+url.QueryEscape(userID), nil, nil)
	if err != nil {
		return nil, &requestError{sentinel: order.ErrPersistenceUnavailable, err: err}
	}

	var out []order.Record
	env, err := api.DecodeEnvelope(resp.body, func(d *jx.Decoder) error {
		var err error
		out, err = api.DecodeOrders(d)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(order.ErrPersistenceUnavailable, "status %d: %s", resp.status, err)
	}
	if resp.status != http.StatusOK || !env.OK() {
		return nil, errors.Wrapf(order.ErrPersistenceUnavailable, "status %d: %s", resp.status, env.Message)
	}
	return out, nil
}
