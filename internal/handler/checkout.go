package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/checkout"
	"github.com/xenking/downpay/internal/domain/identity"
	"github.com/xenking/downpay/internal/widget"
	"github.com/xenking/downpay/pkg/httpmiddleware"
)

// Sessions is the checkout session store the handlers drive.
type Sessions interface {
	Open(productID, userID string) (*checkout.Orchestrator, error)
	Get(id string) (*checkout.Orchestrator, error)
	Remove(id string) bool
}

// CheckoutConfig configures the checkout handlers.
type CheckoutConfig struct {
	// DemoMode lets anonymous buyers check out as the demo customer.
	DemoMode bool
	// WaitTimeout bounds how long a request waits for a session to settle.
	WaitTimeout time.Duration
	// ImageBaseURL is prepended to product image paths.
	ImageBaseURL string
}

// Checkout serves the checkout session routes.
type Checkout struct {
	sessions Sessions
	cfg      CheckoutConfig
}

// NewCheckout creates the checkout handlers on top of sessions.
func NewCheckout(cfg CheckoutConfig, sessions Sessions) *Checkout {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	return &Checkout{sessions: sessions, cfg: cfg}
}

// Register mounts the checkout routes on mux.
func (h *Checkout) Register(mux *http.ServeMux) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpmiddleware.Route(fn))
	}
	handle("POST /checkout/sessions", h.Open)
	handle("GET /checkout/sessions/{id}", h.Get)
	handle("DELETE /checkout/sessions/{id}", h.Leave)
	handle("POST /checkout/sessions/{id}/orders", h.CreateIntent)
	handle("POST /checkout/sessions/{id}/orders/{intentId}/capture", h.Capture)
	handle("POST /checkout/sessions/{id}/errors", h.ReportError)
	handle("POST /checkout/sessions/{id}/retry", h.Retry)
	handle("POST /checkout/sessions/{id}/retry-persistence", h.RetryPersistence)
}

// Open starts a session for the resolved customer and answers once the
// session is awaiting payment or has failed.
func (h *Checkout) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := identity.Resolve(r, h.cfg.DemoMode)
	if !ok {
		h.fail(ctx, w, errUnauthenticated)
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	productID, err := api.DecodeSessionRequest(body)
	if err != nil {
		h.fail(ctx, w, badRequest(err.Error()))
		return
	}
	if productID == "" {
		h.fail(ctx, w, badRequest("productId is required"))
		return
	}

	o, err := h.sessions.Open(productID, userID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	zctx.From(ctx).Info("Checkout session opened",
		zap.String("session_id", o.ID()),
		zap.String("product_id", productID),
		zap.String("user_id", userID),
	)

	ctx, cancel := context.WithTimeout(ctx, h.cfg.WaitTimeout)
	defer cancel()
	s, err := o.WaitSettled(ctx)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, s)
}

// Get returns the current session snapshot.
func (h *Checkout) Get(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeSession(w, http.StatusOK, o.Snapshot())
}

// Leave closes the session when the buyer navigates away.
func (h *Checkout) Leave(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !h.sessions.Remove(o.ID()) {
		h.fail(r.Context(), w, checkout.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateIntent asks the provider for a payment intent for the down payment.
func (h *Checkout) CreateIntent(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()

	in, err := o.CreateIntent(ctx)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, func(e *jx.Encoder) {
		api.EncodeIntent(e, in)
	})
}

// Capture approves the intent and answers with the settled session. A
// provider failure is answered with its error status; the session then
// carries the failure. An unconfirmed capture keeps the session awaiting and
// the same intent may be captured again.
func (h *Checkout) Capture(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()

	s, err := o.Approve(ctx, r.PathValue("intentId"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s)
}

// ReportError forwards a widget-side error such as a buyer cancellation.
func (h *Checkout) ReportError(w http.ResponseWriter, r *http.Request) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	pErr, err := api.DecodeProviderError(body)
	if err != nil {
		h.fail(r.Context(), w, badRequest(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()
	s, err := o.ReportError(ctx, pErr)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s)
}

// Retry restarts payment after an authorization failure.
func (h *Checkout) Retry(w http.ResponseWriter, r *http.Request) {
	h.retry(w, r, (*checkout.Orchestrator).Retry)
}

// RetryPersistence re-sends the captured payment to the ledger.
func (h *Checkout) RetryPersistence(w http.ResponseWriter, r *http.Request) {
	h.retry(w, r, (*checkout.Orchestrator).RetryPersistence)
}

func (h *Checkout) retry(
	w http.ResponseWriter,
	r *http.Request,
	fn func(*checkout.Orchestrator, context.Context) (checkout.Session, error),
) {
	o, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()

	s, err := fn(o, ctx)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s)
}

// lookup finds the session named in the path. Sessions of other customers
// are reported as missing.
func (h *Checkout) lookup(w http.ResponseWriter, r *http.Request) (*checkout.Orchestrator, bool) {
	userID, ok := identity.Resolve(r, h.cfg.DemoMode)
	if !ok {
		h.fail(r.Context(), w, errUnauthenticated)
		return nil, false
	}
	o, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return nil, false
	}
	if owner := o.Snapshot().UserID; owner != userID {
		zctx.From(r.Context()).Warn("Checkout session requested by another customer",
			zap.String("session_id", o.ID()),
			zap.String("user_id", userID),
		)
		h.fail(r.Context(), w, checkout.ErrSessionNotFound)
		return nil, false
	}
	return o, true
}

func (h *Checkout) writeSession(w http.ResponseWriter, status int, s checkout.Session) {
	writeSuccess(w, status, func(e *jx.Encoder) {
		api.EncodeSession(e, s, h.cfg.ImageBaseURL)
	})
}

func (h *Checkout) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var pErr *widget.ProviderError
	switch {
	case errors.Is(err, widget.ErrCaptureUnconfirmed):
		zctx.From(ctx).Error("Capture unconfirmed, buyer may re-approve", zap.Error(err))
	case errors.As(err, &pErr):
		zctx.From(ctx).Warn("Payment provider failure",
			zap.String("kind", string(pErr.Kind)),
			zap.Error(err),
		)
	}
	writeError(ctx, w, err)
}
