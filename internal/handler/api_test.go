package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/downpay/internal/client"
	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
)

type mockProducts struct {
	products map[string]product.Product
	err      error
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type mockLedger struct {
	persisted []order.Record
	replayed  bool
	err       error
	orders    []order.Record
	userID    string
	limit     int
}

func (m *mockLedger) Persist(_ context.Context, rec order.Record) (*order.PersistResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.persisted = append(m.persisted, rec)
	rec.ID = "order-1"
	return &order.PersistResult{Order: &rec, Replayed: m.replayed}, nil
}

func (m *mockLedger) ListByUser(_ context.Context, userID string, limit int) ([]order.Record, error) {
	m.userID, m.limit = userID, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.orders, nil
}

func newTestAPI(products *mockProducts, ledger *mockLedger) http.Handler {
	mux := http.NewServeMux()
	NewAPI(APIConfig{ImageBaseURL: "https://cdn.example.com"}, products, ledger).Register(mux)
	return mux
}

func serve(h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

var vase = product.Product{
	ID:       "42",
	Name:     "Porcelain Vase",
	Price:    decimal.RequireFromString("999.99"),
	ImageURL: "/images/vase.jpg",
	Seller:   product.Seller{StoreName: "Old Things", Contact: "0917", Location: "Manila"},
}

func TestAPI_GetProduct(t *testing.T) {
	h := newTestAPI(&mockProducts{products: map[string]product.Product{"42": vase}}, &mockLedger{})

	w := serve(h, http.MethodGet, "/api/products/42", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"status": "success",
		"data": {
			"id": "42",
			"name": "Porcelain Vase",
			"price": 999.99,
			"imageUrl": "https://cdn.example.com/uploads/images/vase.jpg",
			"seller": {"name": "Old Things", "contact": "0917", "location": "Manila"}
		}
	}`, w.Body.String())
}

func TestAPI_GetProduct_Errors(t *testing.T) {
	tests := []struct {
		name     string
		products *mockProducts
		want     int
	}{
		{"NotFound", &mockProducts{}, http.StatusNotFound},
		{"Unavailable", &mockProducts{err: errors.Wrap(product.ErrUnavailable, "query")}, http.StatusServiceUnavailable},
		{"Internal", &mockProducts{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newTestAPI(tt.products, &mockLedger{}), http.MethodGet, "/api/products/42", "", nil)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"error"`)
		})
	}
}

const orderBody = `{
	"userId": "u1",
	"productId": "42",
	"productName": "Porcelain Vase",
	"price": 999.99,
	"downPayment": 500.00,
	"remainingPayment": 499.99,
	"authorizationId": "TXN1",
	"payerName": "Juan Dela Cruz"
}`

func TestAPI_PersistOrder(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		ledger := &mockLedger{}
		w := serve(newTestAPI(&mockProducts{}, ledger), http.MethodPost, "/api/orders", orderBody,
			http.Header{client.IdempotencyKeyHeader: {"TXN1"}})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.JSONEq(t, `{"status":"success","data":{"orderId":"order-1","replayed":false}}`, w.Body.String())
		require.Len(t, ledger.persisted, 1)
		rec := ledger.persisted[0]
		assert.Equal(t, "u1", rec.UserID)
		assert.True(t, rec.DownPayment.Equal(decimal.RequireFromString("500")))
		assert.True(t, rec.RemainingPayment.Equal(decimal.RequireFromString("499.99")))
	})
	t.Run("Replayed", func(t *testing.T) {
		w := serve(newTestAPI(&mockProducts{}, &mockLedger{replayed: true}), http.MethodPost, "/api/orders", orderBody, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"success","data":{"orderId":"order-1","replayed":true}}`, w.Body.String())
	})
	t.Run("KeyMismatch", func(t *testing.T) {
		ledger := &mockLedger{}
		w := serve(newTestAPI(&mockProducts{}, ledger), http.MethodPost, "/api/orders", orderBody,
			http.Header{client.IdempotencyKeyHeader: {"OTHER"}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Empty(t, ledger.persisted)
	})
	t.Run("Malformed", func(t *testing.T) {
		w := serve(newTestAPI(&mockProducts{}, &mockLedger{}), http.MethodPost, "/api/orders", `{"price":`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("Invalid", func(t *testing.T) {
		ledger := &mockLedger{err: &order.ValidationError{Field: "remainingPayment", Reason: "down and remaining payment must sum to price"}}
		w := serve(newTestAPI(&mockProducts{}, ledger), http.MethodPost, "/api/orders", orderBody, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "remainingPayment")
	})
	t.Run("Conflict", func(t *testing.T) {
		ledger := &mockLedger{err: errors.Wrap(order.ErrIdempotencyConflict, "authorization TXN1")}
		w := serve(newTestAPI(&mockProducts{}, ledger), http.MethodPost, "/api/orders", orderBody, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestAPI_ListOrders(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := &mockLedger{orders: []order.Record{{
		ID:               "order-1",
		UserID:           "u1",
		ProductID:        "42",
		ProductName:      "Porcelain Vase",
		Price:            decimal.RequireFromString("999.99"),
		DownPayment:      decimal.RequireFromString("500"),
		RemainingPayment: decimal.RequireFromString("499.99"),
		AuthorizationID:  "TXN1",
		PayerName:        "Juan Dela Cruz",
		CreatedAt:        created,
	}}}
	h := newTestAPI(&mockProducts{}, ledger)

	w := serve(h, http.MethodGet, "/api/orders?userId=u1&limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", ledger.userID)
	assert.Equal(t, 5, ledger.limit)
	assert.Contains(t, w.Body.String(), `"id":"order-1"`)
	assert.Contains(t, w.Body.String(), `"authorizationId":"TXN1"`)

	for _, target := range []string{"/api/orders", "/api/orders?userId=u1&limit=0", "/api/orders?userId=u1&limit=x"} {
		w := serve(h, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}
