package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrUnavailable is returned when the catalog could not be reached or
	// returned a product that cannot be checked out.
	ErrUnavailable = errors.New("product unavailable")
)

// Product represents a single catalog item offered for checkout.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	ImageURL string
	Seller   Seller
	// Demo marks the placeholder product shown when the catalog is down.
	// It is never persisted and never presented as a real listing.
	Demo bool
}

// Seller summarizes the store that lists a product.
type Seller struct {
	StoreName string
	Contact   string
	Location  string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}

// DemoID is the identifier carried by the demo product.
const DemoID = "demo"

// Demo returns the clearly labelled placeholder product used when the
// catalog is unavailable and demo mode is enabled.
func Demo() Product {
	return Product{
		ID:       DemoID,
		Name:     "Vintage Antique Item (Demo)",
		Price:    decimal.NewFromInt(1000),
		ImageURL: "https://via.placeholder.com/400x300?text=Demo+Product",
		Seller: Seller{
			StoreName: "Demo Store",
			Contact:   "n/a",
			Location:  "n/a",
		},
		Demo: true,
	}
}
