// Package handler serves the catalog and ledger API and the checkout server
// over net/http.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/checkout"
	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/internal/widget"
)

const maxBodyBytes = 64 << 10

var (
	errBadRequest      = errors.New("bad request")
	errUnauthenticated = errors.New("customer identity required")
)

// badRequest marks err as a client mistake.
func badRequest(msg string) error {
	return errors.Wrap(errBadRequest, msg)
}

// mapError maps a domain error to an HTTP status and the message shown to
// the client.
func mapError(err error) (int, string) {
	var (
		validation *order.ValidationError
		provider   *widget.ProviderError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, validation.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, product.ErrUnavailable):
		return http.StatusServiceUnavailable, "product catalog unavailable"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrIdempotencyConflict):
		return http.StatusConflict, "authorization already recorded for a different order"
	case errors.Is(err, checkout.ErrSessionNotFound):
		return http.StatusNotFound, "checkout session not found"
	case errors.Is(err, checkout.ErrSessionClosed), errors.Is(err, widget.ErrUnmounted):
		return http.StatusGone, "checkout session closed"
	case errors.Is(err, checkout.ErrTooManySessions):
		return http.StatusServiceUnavailable, "too many checkout sessions, try again later"
	case errors.Is(err, checkout.ErrNotAwaiting),
		errors.Is(err, checkout.ErrNotRetryable),
		errors.Is(err, widget.ErrIntentPending),
		errors.Is(err, widget.ErrAlreadyApproved):
		return http.StatusConflict, err.Error()
	case errors.Is(err, widget.ErrUnknownIntent):
		return http.StatusNotFound, "unknown payment intent"
	case errors.Is(err, widget.ErrCaptureUnconfirmed):
		return http.StatusBadGateway, checkout.MessageUnconfirmed
	case errors.As(err, &provider):
		if provider.Kind == widget.KindFunding {
			return http.StatusPaymentRequired, checkout.MessageAuthFailed
		}
		return http.StatusBadGateway, checkout.MessageAuthFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeSuccess(w http.ResponseWriter, status int, data func(e *jx.Encoder)) {
	var e jx.Encoder
	api.EncodeSuccess(&e, data)
	writeJSON(w, status, &e)
}

// writeError answers with the error envelope. Server-side failures are
// logged with the full error.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	var e jx.Encoder
	api.EncodeError(&e, msg)
	writeJSON(w, status, &e)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest("read body")
	}
	if len(body) > maxBodyBytes {
		return nil, badRequest("body too large")
	}
	return body, nil
}
