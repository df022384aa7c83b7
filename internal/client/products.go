package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/domain/product"
)

var _ product.Repository = (*Products)(nil)

// Products fetches catalog entries from GET /api/products/{id}.
type Products struct {
	c httpClient
}

// NewProducts creates a catalog client. A nil transport uses
// http.DefaultTransport.
func NewProducts(cfg Config, transport http.RoundTripper) *Products {
	return &Products{c: newHTTPClient(cfg, transport)}
}

// GetByID returns the product with the given id. A missing product wraps
// product.ErrNotFound, and every other failure wraps product.ErrUnavailable.
// Both mean the product cannot be checked out.
func (p *Products) GetByID(ctx context.Context, id string) (*product.Product, error) {
	resp, err := p.c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, &requestError{sentinel: product.ErrUnavailable, err: err}
	}

	var got product.Product
	env, err := api.DecodeEnvelope(resp.body, func(d *jx.Decoder) error {
		var err error
		got, err = api.DecodeProduct(d)
		return err
	})
	switch {
	case resp.status == http.StatusNotFound:
		return nil, errors.Wrapf(product.ErrNotFound, "product %q", id)
	case err != nil:
		return nil, errors.Wrapf(product.ErrUnavailable, "status %d: %s", resp.status, err)
	case resp.status != http.StatusOK || !env.OK():
		return nil, errors.Wrapf(product.ErrUnavailable, "status %d: %s", resp.status, env.Message)
	case got.ID == "" || !got.Price.IsPositive():
		return nil, errors.Wrapf(product.ErrUnavailable, "product %q has no valid price", id)
	}
	return &got, nil
}
