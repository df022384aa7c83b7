package order

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	filterCapacity = 1_000_000
	filterFPR      = 0.001

	// DefaultListLimit bounds the order listing view.
	DefaultListLimit = 50
)

// PersistResult holds the outcome of a Persist call.
type PersistResult struct {
	Order *Record
	// Replayed is set when the authorization id was already recorded and the
	// existing order was returned.
	Replayed bool
}

// Service records partial payments in the ledger.
//
// A bloom filter tracks authorization ids the process has stored. A hit means
// the request is probably a client retry, so the existing record is looked up
// before attempting an insert. A miss goes straight to the insert. The
// database constraint stays authoritative either way.
type Service struct {
	orders Repository

	mu     sync.Mutex
	filter *bloom.BloomFilter

	persisted metric.Int64Counter
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository, mp metric.MeterProvider) (*Service, error) {
	persisted, err := mp.Meter("downpay/ledger").Int64Counter("ledger.orders.persisted",
		metric.WithDescription("Partial payment records by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return &Service{
		orders:    orders,
		filter:    bloom.NewWithEstimates(filterCapacity, filterFPR),
		persisted: persisted,
	}, nil
}

// Persist validates rec and stores it, collapsing replays of the same
// authorization id onto the original order.
func (s *Service) Persist(ctx context.Context, rec Record) (*PersistResult, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if s.probablySeen(rec.AuthorizationID) {
		existing, err := s.orders.GetByAuthorization(ctx, rec.AuthorizationID)
		switch {
		case err == nil:
			return s.replay(ctx, existing, &rec)
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "lookup authorization")
		}
	}

	rec.ID = uuid.New().String()
	stored, created, err := s.orders.CreateOrGet(ctx, &rec)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.remember(rec.AuthorizationID)

	if !created {
		return s.replay(ctx, stored, &rec)
	}
	s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "created")))
	return &PersistResult{Order: stored}, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	records, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return records, nil
}

func (s *Service) replay(ctx context.Context, existing, req *Record) (*PersistResult, error) {
	if !sameOrder(existing, req) {
		s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "conflict")))
		return nil, errors.Wrapf(ErrIdempotencyConflict, "authorization %s", req.AuthorizationID)
	}
	s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "replayed")))
	return &PersistResult{Order: existing, Replayed: true}, nil
}

func (s *Service) probablySeen(authorizationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.TestString(authorizationID)
}

func (s *Service) remember(authorizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.AddString(authorizationID)
}
