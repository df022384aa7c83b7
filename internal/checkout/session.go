package checkout

import (
	"time"

	"github.com/xenking/downpay/internal/domain/money"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/internal/widget"
)

// User-facing messages per outcome.
const (
	MessageLoading        = "Loading..."
	MessageAwaiting       = "Complete your payment above to place the order."
	MessageProcessing     = "Processing your payment..."
	MessageCompleted      = "Payment completed successfully! Redirecting..."
	MessageAuthFailed     = "Payment failed. Please try again."
	MessageNotRecorded    = "Payment received, but we could not record your order. Please contact support."
	MessageProductMissing = "This product is currently unavailable."
	MessageInvalidAmount  = "This product cannot be checked out online."
	MessageUnconfirmed    = "We could not confirm your payment. Please approve it again; you will not be charged twice."
)

// Failure describes why a session reached PhaseFailed.
type Failure struct {
	Reason FailureReason
	Err    error
}

// Session is a point-in-time copy of an orchestrator's state.
type Session struct {
	ID        string
	UserID    string
	ProductID string
	Phase     Phase

	Product *product.Product
	Split   money.PaymentSplit

	Authorization *widget.AuthorizationResult
	OrderID       string
	// UnconfirmedIntent is the intent whose capture may have charged the
	// payer without confirmation. Only re-approving it can proceed.
	UnconfirmedIntent string
	// PersistCalls counts ledger persistence attempts.
	PersistCalls int

	Failure *Failure

	// Redirect is the order listing the buyer is sent to once completed.
	Redirect   string
	RedirectAt time.Time

	UpdatedAt time.Time
}

// Charged reports whether the provider captured a payment for this session.
func (s Session) Charged() bool {
	return s.Authorization != nil
}

// Message returns the text shown to the buyer for the current state.
func (s Session) Message() string {
	switch s.Phase {
	case PhaseLoading:
		return MessageLoading
	case PhaseReady, PhaseAwaitingAuthorization:
		if s.UnconfirmedIntent != "" {
			return MessageUnconfirmed
		}
		return MessageAwaiting
	case PhaseAuthorized, PhasePersisting:
		return MessageProcessing
	case PhaseCompleted:
		return MessageCompleted
	}

	if s.Failure == nil {
		return MessageAuthFailed
	}
	switch s.Failure.Reason {
	case ReasonPersistence:
		return MessageNotRecorded
	case ReasonProduct:
		return MessageProductMissing
	case ReasonAmount:
		return MessageInvalidAmount
	default:
		return MessageAuthFailed
	}
}

// Retryable reports whether a full retry from Ready is allowed.
func (s Session) Retryable() bool {
	if s.Phase != PhaseFailed || s.Failure == nil || s.Product == nil || s.Split.IsZero() {
		return false
	}
	return s.Failure.Reason == ReasonAuthorization
}

// PersistenceRetryable reports whether the ledger call alone may be retried.
func (s Session) PersistenceRetryable() bool {
	return s.Phase == PhaseFailed &&
		s.Failure != nil &&
		s.Failure.Reason == ReasonPersistence &&
		s.Authorization != nil
}

func (s Session) clone() Session {
	c := s
	if s.Product != nil {
		p := *s.Product
		c.Product = &p
	}
	if s.Authorization != nil {
		a := *s.Authorization
		c.Authorization = &a
	}
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	return c
}
