// Package money computes the down-payment split of a product price.
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for a price that is not a finite positive amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidRatio is returned for a ratio outside (0, 1].
	ErrInvalidRatio = errors.New("invalid down payment ratio")
)

// DefaultRatio is the share of the price collected online at checkout.
var DefaultRatio = decimal.RequireFromString("0.5")

// PaymentSplit divides a price into the part authorized online and the
// balance paid outside the checkout flow. First + Second == Price exactly.
type PaymentSplit struct {
	Price  decimal.Decimal
	First  decimal.Decimal
	Second decimal.Decimal
}

// Split computes the split of price at the given ratio. First is rounded to
// cents (half away from zero); Second is the exact remainder and is never
// rounded again.
func Split(price, ratio decimal.Decimal) (PaymentSplit, error) {
	if !price.IsPositive() {
		return PaymentSplit{}, errors.Wrapf(ErrInvalidAmount, "price %s", price)
	}
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return PaymentSplit{}, errors.Wrapf(ErrInvalidRatio, "ratio %s", ratio)
	}

	first := price.Mul(ratio).Round(2)
	return PaymentSplit{
		Price:  price,
		First:  first,
		Second: price.Sub(first),
	}, nil
}

// SplitFloat is Split for float input, as received from JSON numbers.
func SplitFloat(price, ratio float64) (PaymentSplit, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return PaymentSplit{}, errors.Wrapf(ErrInvalidAmount, "price %v", price)
	}
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return PaymentSplit{}, errors.Wrapf(ErrInvalidRatio, "ratio %v", ratio)
	}
	return Split(decimal.NewFromFloat(price), decimal.NewFromFloat(ratio))
}

// AuthorizationAmount is the first payment in the provider wire format.
func (s PaymentSplit) AuthorizationAmount() string {
	return s.First.StringFixed(2)
}

// IsZero reports whether the split has not been computed.
func (s PaymentSplit) IsZero() bool {
	return s.Price.IsZero()
}
