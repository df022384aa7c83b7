package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrIdempotencyConflict is returned when an authorization id is replayed
	// with an order body that differs from the recorded one.
	ErrIdempotencyConflict = errors.New("authorization already recorded for a different order")
	// ErrPersistenceUnavailable is returned by ledger clients when the ledger
	// could not be reached or failed to store the record.
	ErrPersistenceUnavailable = errors.New("order persistence unavailable")
	// ErrRejected is returned by ledger clients when the ledger refused the
	// record as invalid.
	ErrRejected = errors.New("order rejected by ledger")
)

// Record is a partial payment recorded against a product and user. The
// authorization id is the idempotency key: the ledger stores at most one
// record per authorization.
type Record struct {
	ID               string
	UserID           string
	ProductID        string
	ProductName      string
	Price            decimal.Decimal
	DownPayment      decimal.Decimal
	RemainingPayment decimal.Decimal
	AuthorizationID  string
	PayerName        string
	CreatedAt        time.Time
}

// Repository defines persistence operations for the order ledger.
type Repository interface {
	// CreateOrGet inserts rec unless a record with the same authorization id
	// exists. It returns the stored record and whether it was created.
	CreateOrGet(ctx context.Context, rec *Record) (*Record, bool, error)
	GetByAuthorization(ctx context.Context, authorizationID string) (*Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
}

// ValidationError describes a record rejected before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Validate checks the record invariants the ledger relies on.
func (r *Record) Validate() error {
	switch {
	case r.AuthorizationID == "":
		return &ValidationError{Field: "authorizationId", Reason: "required"}
	case r.UserID == "":
		return &ValidationError{Field: "userId", Reason: "required"}
	case r.ProductID == "":
		return &ValidationError{Field: "productId", Reason: "required"}
	case !r.Price.IsPositive():
		return &ValidationError{Field: "price", Reason: "must be positive"}
	case !r.DownPayment.IsPositive():
		return &ValidationError{Field: "downPayment", Reason: "must be positive"}
	case r.RemainingPayment.IsNegative():
		return &ValidationError{Field: "remainingPayment", Reason: "must not be negative"}
	case !r.DownPayment.Add(r.RemainingPayment).Equal(r.Price):
		return &ValidationError{Field: "remainingPayment", Reason: "down and remaining payment must sum to price"}
	}
	return nil
}

// sameOrder reports whether two records describe the same real-world payment.
func sameOrder(a, b *Record) bool {
	return a.UserID == b.UserID &&
		a.ProductID == b.ProductID &&
		a.Price.Equal(b.Price) &&
		a.DownPayment.Equal(b.DownPayment)
}
