package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
)

func newServer(t *testing.T, h http.HandlerFunc) Config {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return Config{BaseURL: srv.URL + "/"}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestProducts_GetByID(t *testing.T) {
	cfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/42", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"status":"success","data":{
			"id":"42","name":"Antique Clock","price":1000,
			"imageUrl":"/uploads/clock.jpg",
			"seller":{"name":"Lola's","contact":"0917","location":"Manila"}
		}}`)
	})

	p, err := NewProducts(cfg, nil).GetByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Antique Clock", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "Lola's", p.Seller.StoreName)
}

func TestProducts_GetByID_Errors(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"NotFound", http.StatusNotFound, `{"status":"error","message":"product not found"}`, product.ErrNotFound},
		{"ErrorStatus", http.StatusOK, `{"status":"error","message":"db down"}`, product.ErrUnavailable},
		{"ServerError", http.StatusInternalServerError, `{"status":"error","message":"boom"}`, product.ErrUnavailable},
		{"NotJSON", http.StatusBadGateway, `<html>bad gateway</html>`, product.ErrUnavailable},
		{"ZeroPrice", http.StatusOK, `{"status":"success","data":{"id":"42","name":"x","price":0}}`, product.ErrUnavailable},
		{"NoData", http.StatusOK, `{"status":"success","data":null}`, product.ErrUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := NewProducts(cfg, nil).GetByID(context.Background(), "42")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProducts_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewProducts(Config{BaseURL: srv.URL}, nil).GetByID(context.Background(), "42")
	require.ErrorIs(t, err, product.ErrUnavailable)
}

func testRecord() order.Record {
	return order.Record{
		UserID:           "7",
		ProductID:        "42",
		ProductName:      "Antique Clock",
		Price:            decimal.NewFromInt(1000),
		DownPayment:      decimal.NewFromInt(500),
		RemainingPayment: decimal.NewFromInt(500),
		AuthorizationID:  "TXN1",
		PayerName:        "Juan Dela Cruz",
	}
}

func TestOrders_Persist(t *testing.T) {
	var calls atomic.Int32
	cfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders", r.URL.Path)
		assert.Equal(t, "TXN1", r.Header.Get(IdempotencyKeyHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{
			"userId":"7","productId":"42","productName":"Antique Clock",
			"price":1000,"downPayment":500,"remainingPayment":500,
			"authorizationId":"TXN1","payerName":"Juan Dela Cruz"
		}`, string(body))
		writeJSON(w, http.StatusCreated, `{"status":"success","data":{"orderId":"ord-1","replayed":false}}`)
	})

	id, err := NewOrders(cfg, nil).Persist(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrders_Persist_Errors(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"ServerError", http.StatusServiceUnavailable, `{"status":"error","message":"db down"}`, order.ErrPersistenceUnavailable},
		{"ErrorBody", http.StatusOK, `{"status":"error","message":"could not save"}`, order.ErrPersistenceUnavailable},
		{"GarbageBody", http.StatusOK, `not json`, order.ErrPersistenceUnavailable},
		{"MissingID", http.StatusCreated, `{"status":"success","data":{}}`, order.ErrPersistenceUnavailable},
		{"RateLimited", http.StatusTooManyRequests, `{"status":"error","message":"slow down"}`, order.ErrPersistenceUnavailable},
		{"Rejected", http.StatusUnprocessableEntity, `{"status":"error","message":"remainingPayment: mismatch"}`, order.ErrRejected},
		{"Conflict", http.StatusConflict, `{"status":"error","message":"conflict"}`, order.ErrRejected},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := NewOrders(cfg, nil).Persist(context.Background(), testRecord())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOrders_Persist_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewOrders(Config{BaseURL: srv.URL}, nil).Persist(context.Background(), testRecord())
	require.ErrorIs(t, err, order.ErrPersistenceUnavailable)
}

func TestOrders_Persist_Cancelled(t *testing.T) {
	cfg := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, `{"status":"success","data":{"orderId":"ord-1"}}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOrders(cfg, nil).Persist(ctx, testRecord())
	require.ErrorIs(t, err, order.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, order.ErrRejected))
}

func TestClient_DeadlineKeepsCause(t *testing.T) {
	release := make(chan struct{})
	cfg := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	// Runs before the server's Close, which waits for handlers to return.
	t.Cleanup(func() { close(release) })

	for _, tt := range []struct {
		name     string
		call     func(ctx context.Context) error
		sentinel error
	}{
		{"Persist", func(ctx context.Context) error {
			_, err := NewOrders(cfg, nil).Persist(ctx, testRecord())
			return err
		}, order.ErrPersistenceUnavailable},
		{"ListByUser", func(ctx context.Context) error {
			_, err := NewOrders(cfg, nil).ListByUser(ctx, "7")
			return err
		}, order.ErrPersistenceUnavailable},
		{"GetByID", func(ctx context.Context) error {
			_, err := NewProducts(cfg, nil).GetByID(ctx, "42")
			return err
		}, product.ErrUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := tt.call(ctx)
			require.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Contains(t, err.Error(), tt.sentinel.Error())
		})
	}
}

func TestOrders_ListByUser(t *testing.T) {
	cfg := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("userId"))
		writeJSON(w, http.StatusOK, `{"status":"success","data":[
			{"id":"ord-2","userId":"7","productId":"43","productName":"Lamp","price":20,
			 "downPayment":10,"remainingPayment":10,"authorizationId":"TXN2","payerName":"J",
			 "createdAt":"2026-01-02T10:00:00Z"},
			{"id":"ord-1","userId":"7","productId":"42","productName":"Clock","price":1000,
			 "downPayment":500,"remainingPayment":500,"authorizationId":"TXN1","payerName":"J"}
		]}`)
	})

	got, err := NewOrders(cfg, nil).ListByUser(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ord-2", got[0].ID)
	assert.Equal(t, 2026, got[0].CreatedAt.Year())
	assert.Equal(t, "TXN1", got[1].AuthorizationID)
}
