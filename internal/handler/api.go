package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/client"
	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/pkg/httpmiddleware"
)

// Ledger records and lists partial-payment orders.
type Ledger interface {
	Persist(ctx context.Context, rec order.Record) (*order.PersistResult, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]order.Record, error)
}

// APIConfig holds non-dependency configuration of the API.
type APIConfig struct {
	// ImageBaseURL is prepended to image paths in product responses.
	ImageBaseURL string
}

// API serves the catalog and order ledger under /api.
type API struct {
	products     product.Repository
	ledger       Ledger
	imageBaseURL string
}

// NewAPI creates the catalog and ledger handlers.
func NewAPI(cfg APIConfig, products product.Repository, ledger Ledger) *API {
	return &API{
		products:     products,
		ledger:       ledger,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts the API routes on mux.
func (h *API) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/products/{id}", httpmiddleware.Route(http.HandlerFunc(h.GetProduct)))
	mux.Handle("POST /api/orders", httpmiddleware.Route(http.HandlerFunc(h.PersistOrder)))
	mux.Handle("GET /api/orders", httpmiddleware.Route(http.HandlerFunc(h.ListOrders)))
}

// GetProduct returns a single product by id.
func (h *API) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, func(e *jx.Encoder) {
		api.EncodeProduct(e, *p, h.imageBaseURL)
	})
}

// PersistOrder records a partial payment. Replays of the same authorization
// answer 200 with the original order id, new orders answer 201.
func (h *API) PersistOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	rec, err := api.DecodeOrderRequest(body)
	if err != nil {
		writeError(ctx, w, badRequest(err.Error()))
		return
	}
	if key := r.Header.Get(client.IdempotencyKeyHeader); key != "" && key != rec.AuthorizationID {
		writeError(ctx, w, &order.ValidationError{
			Field:  client.IdempotencyKeyHeader,
			Reason: "must equal authorizationId",
		})
		return
	}

	res, err := h.ledger.Persist(ctx, rec)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	zctx.From(ctx).Info("Order persisted",
		zap.String("order_id", res.Order.ID),
		zap.String("authorization_id", res.Order.AuthorizationID),
		zap.Bool("replayed", res.Replayed),
	)
	writeSuccess(w, status, func(e *jx.Encoder) {
		api.EncodePersisted(e, res.Order.ID, res.Replayed)
	})
}

// ListOrders returns the orders of ?userId=, newest first.
func (h *API) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		writeError(ctx, w, badRequest("userId is required"))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(ctx, w, badRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	orders, err := h.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, o := range orders {
			api.EncodeOrder(e, o)
		}
		e.ArrEnd()
	})
}
