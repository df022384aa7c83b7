// Package widget adapts a callback-driven payment provider to the checkout
// orchestrator.
//
// A Button is mounted into a named container with the amount it may
// authorize. Buyer actions (pay, approve, cancel) enter through the Button,
// which talks to the Provider and translates the outcome into the three
// Handlers events. Mounting into an occupied container tears the previous
// Button down first, and a torn-down Button rejects every call.
package widget

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnmounted is returned by a Button that has been torn down.
	ErrUnmounted = errors.New("widget unmounted")
	// ErrIntentPending is returned when the buyer starts a payment while a
	// previous intent is still being created or awaiting approval.
	ErrIntentPending = errors.New("authorization intent already pending")
	// ErrAmountMismatch is returned when the create-order handler asks for an
	// amount other than the one the Button was mounted with.
	ErrAmountMismatch = errors.New("intent amount does not match mounted amount")
	// ErrUnknownIntent is returned when approving an intent the Button did not create.
	ErrUnknownIntent = errors.New("unknown authorization intent")
	// ErrAlreadyApproved is returned for a second approval of the same Button.
	ErrAlreadyApproved = errors.New("authorization already approved")
)

// Intent is a provider-side order awaiting buyer approval.
type Intent struct {
	ID     string
	Amount string
}

// IntentRequest is what the orchestrator asks the provider to authorize.
type IntentRequest struct {
	Amount decimal.Decimal
	// Reference is forwarded to the provider as an idempotency hint.
	Reference string
}

// AuthorizationResult is produced once per successful approval. It means the
// payer approved and funds were captured, not that the order is recorded.
type AuthorizationResult struct {
	TransactionID string
	PayerName     string
	Raw           []byte
}

// Provider is the external payment authorization service.
type Provider interface {
	CreateOrder(ctx context.Context, amount string, reference string) (Intent, error)
	Capture(ctx context.Context, intent Intent) (AuthorizationResult, error)
}

// Handlers receive the widget events. OnCreateOrder, OnApprove and OnError
// are required.
type Handlers struct {
	// OnCreateOrder is called when the buyer initiates payment.
	OnCreateOrder func(ctx context.Context) (IntentRequest, error)
	// OnApprove is called once with the captured authorization.
	OnApprove func(ctx context.Context, res AuthorizationResult)
	// OnError is called on provider failure or buyer cancellation.
	OnError func(ctx context.Context, err *ProviderError)
	// OnUnconfirmed is called when a capture may have charged the payer but
	// did not confirm it. The intent stays pending.
	OnUnconfirmed func(ctx context.Context, intent Intent, err *ProviderError)
}

func (h Handlers) validate() error {
	if h.OnCreateOrder == nil || h.OnApprove == nil || h.OnError == nil {
		return errors.New("all widget handlers are required")
	}
	return nil
}
