package widget

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter renders Buttons into containers. At most one Button is mounted per
// container.
type Adapter struct {
	provider Provider
	lg       *zap.Logger

	mu      sync.Mutex
	mounted map[string]*Button
}

// NewAdapter creates an Adapter backed by the given provider.
func NewAdapter(provider Provider, lg *zap.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		lg:       lg,
		mounted:  make(map[string]*Button),
	}
}

// Mount tears down any Button in container and mounts a new one that may
// authorize exactly amount.
func (a *Adapter) Mount(container string, amount decimal.Decimal, h Handlers) (*Button, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.Errorf("mount amount %s must be positive", amount)
	}

	b := &Button{
		container: container,
		amount:    amount,
		handlers:  h,
		provider:  a.provider,
		lg:        a.lg.With(zap.String("container", container)),
	}

	a.mu.Lock()
	prev := a.mounted[container]
	a.mounted[container] = b
	a.mu.Unlock()

	if prev != nil {
		prev.close()
		a.lg.Debug("Replaced mounted widget", zap.String("container", container))
	}
	return b, nil
}

// Unmount tears down the Button in container. It reports whether one was
// mounted.
func (a *Adapter) Unmount(container string) bool {
	a.mu.Lock()
	b := a.mounted[container]
	delete(a.mounted, container)
	a.mu.Unlock()

	if b == nil {
		return false
	}
	b.close()
	return true
}

// Lookup returns the Button currently mounted in container.
func (a *Adapter) Lookup(container string) (*Button, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.mounted[container]
	return b, ok
}

// Mounted returns the number of mounted Buttons.
func (a *Adapter) Mounted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mounted)
}

// Button is one rendered payment widget.
type Button struct {
	container string
	amount    decimal.Decimal
	handlers  Handlers
	provider  Provider
	lg        *zap.Logger

	mu        sync.Mutex
	closed    bool
	creating  bool
	approving bool
	approved  bool
	pending   *Intent
	// unconfirmed is set while the pending intent has a capture of unknown
	// outcome. Such an intent is never discarded.
	unconfirmed bool
}

// Amount is the amount the Button may authorize.
func (b *Button) Amount() decimal.Decimal { return b.amount }

// Closed reports whether the Button has been torn down.
func (b *Button) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// CreateOrder starts a payment. Only one intent may be in flight at a time.
func (b *Button) CreateOrder(ctx context.Context) (Intent, error) {
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return Intent{}, ErrUnmounted
	case b.approved:
		b.mu.Unlock()
		return Intent{}, ErrAlreadyApproved
	case b.creating, b.approving, b.pending != nil:
		b.mu.Unlock()
		return Intent{}, ErrIntentPending
	}
	b.creating = true
	b.mu.Unlock()

	intent, err := b.createOrder(ctx)

	b.mu.Lock()
	b.creating = false
	if err == nil {
		if b.closed {
			b.mu.Unlock()
			return Intent{}, ErrUnmounted
		}
		b.pending = &intent
	}
	b.mu.Unlock()
	return intent, err
}

func (b *Button) createOrder(ctx context.Context) (Intent, error) {
	req, err := b.handlers.OnCreateOrder(ctx)
	if err != nil {
		return Intent{}, err
	}
	if !req.Amount.Equal(b.amount) {
		return Intent{}, errors.Wrapf(ErrAmountMismatch, "requested %s, mounted %s", req.Amount, b.amount)
	}

	intent, err := b.provider.CreateOrder(ctx, b.amount.StringFixed(2), req.Reference)
	if err != nil {
		pErr := AsProviderError(err)
		b.emitError(ctx, pErr)
		return Intent{}, pErr
	}
	b.lg.Info("Authorization intent created",
		zap.String("intent_id", intent.ID),
		zap.String("amount", intent.Amount),
	)
	return intent, nil
}

// Approve captures the pending intent and delivers the result to OnApprove.
// It succeeds at most once per Button.
func (b *Button) Approve(ctx context.Context, intentID string) (AuthorizationResult, error) {
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return AuthorizationResult{}, ErrUnmounted
	case b.approved, b.approving:
		b.mu.Unlock()
		return AuthorizationResult{}, ErrAlreadyApproved
	case b.pending == nil || b.pending.ID != intentID:
		b.mu.Unlock()
		return AuthorizationResult{}, errors.Wrapf(ErrUnknownIntent, "intent %q", intentID)
	}
	intent := *b.pending
	b.approving = true
	b.mu.Unlock()

	res, err := b.provider.Capture(ctx, intent)
	var pErr *ProviderError
	if err != nil {
		pErr = AsProviderError(err)
	}
	unconfirmed := pErr != nil && pErr.OutcomeUnknown()

	b.mu.Lock()
	b.approving = false
	switch {
	case err == nil:
		b.pending = nil
		b.approved = true
		b.unconfirmed = false
	case unconfirmed:
		b.unconfirmed = true
	default:
		b.pending = nil
		b.unconfirmed = false
	}
	closed := b.closed
	b.mu.Unlock()

	if unconfirmed {
		b.lg.Error("Capture outcome unknown, intent kept for re-approval",
			zap.String("intent_id", intent.ID),
			zap.String("kind", string(pErr.Kind)),
			zap.Error(pErr),
		)
		if !closed && b.handlers.OnUnconfirmed != nil {
			b.handlers.OnUnconfirmed(ctx, intent, pErr)
		}
		return AuthorizationResult{}, &UnconfirmedCaptureError{IntentID: intent.ID, Err: pErr}
	}
	if err != nil {
		b.emitError(ctx, pErr)
		return AuthorizationResult{}, pErr
	}
	if closed {
		// The buyer was charged after the widget was torn down; nobody is
		// left to record the order.
		b.lg.Error("Authorization captured after unmount",
			zap.String("transaction_id", res.TransactionID),
		)
		return res, ErrUnmounted
	}

	b.handlers.OnApprove(ctx, res)
	return res, nil
}

// Fail reports a client-side provider failure or cancellation. Any pending
// intent is discarded so a retry can start a new one.
func (b *Button) Fail(ctx context.Context, pErr *ProviderError) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrUnmounted
	}
	if b.approving {
		b.mu.Unlock()
		return ErrIntentPending
	}
	if b.unconfirmed {
		b.mu.Unlock()
		return errors.Wrap(ErrIntentPending, "capture unconfirmed")
	}
	b.pending = nil
	b.mu.Unlock()

	b.emitError(ctx, pErr)
	return nil
}

func (b *Button) emitError(ctx context.Context, pErr *ProviderError) {
	if b.Closed() {
		return
	}
	b.lg.Warn("Payment provider error", zap.String("kind", string(pErr.Kind)), zap.Error(pErr))
	b.handlers.OnError(ctx, pErr)
}

func (b *Button) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.pending = nil
}
