package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/internal/widget"
)

type stubProducts struct {
	products map[string]product.Product
	err      error
}

func (s *stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type stubProvider struct {
	mu         sync.Mutex
	created    []string
	references []string
	captures   int
	captureErr error
	// captureCtxErr is the context error seen by the last capture.
	captureCtxErr error
	txn           string
}

func (p *stubProvider) CreateOrder(_ context.Context, amount, reference string) (widget.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, amount)
	p.references = append(p.references, reference)
	return widget.Intent{ID: fmt.Sprintf("INTENT-%d", len(p.created)), Amount: amount}, nil
}

func (p *stubProvider) Capture(ctx context.Context, intent widget.Intent) (widget.AuthorizationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	p.captureCtxErr = ctx.Err()
	if p.captureErr != nil {
		return widget.AuthorizationResult{}, p.captureErr
	}
	txn := p.txn
	if txn == "" {
		txn = "TXN1"
	}
	return widget.AuthorizationResult{TransactionID: txn, PayerName: "Juan Dela Cruz"}, nil
}

func (p *stubProvider) refs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.references...)
}

func (p *stubProvider) amounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...)
}

func (p *stubProvider) failCaptures(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captureErr = err
}

func (p *stubProvider) lastCaptureCtxErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captureCtxErr
}

func (p *stubProvider) captureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captures
}

type stubLedger struct {
	mu      sync.Mutex
	records []order.Record
	fail    int
	block   chan struct{}
}

func (l *stubLedger) Persist(ctx context.Context, rec order.Record) (string, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.fail > 0 {
		l.fail--
		return "", errors.Wrap(order.ErrPersistenceUnavailable, "connection refused")
	}
	return "order-" + rec.AuthorizationID, nil
}

func (l *stubLedger) calls() []order.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]order.Record(nil), l.records...)
}

type stubNavigator struct {
	visits chan Session
}

func (n *stubNavigator) Navigate(_ context.Context, s Session) error {
	n.visits <- s
	return nil
}

type fixture struct {
	products *stubProducts
	provider *stubProvider
	ledger   *stubLedger
	nav      *stubNavigator
	widgets  *widget.Adapter
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		products: &stubProducts{products: map[string]product.Product{
			"p1": {ID: "p1", Name: "Antique Clock", Price: decimal.NewFromInt(1000)},
			"p2": {ID: "p2", Name: "Odd Price", Price: decimal.RequireFromString("999.99")},
			"p0": {ID: "p0", Name: "Free", Price: decimal.Zero},
		}},
		provider: &stubProvider{},
		ledger:   &stubLedger{},
		nav:      &stubNavigator{visits: make(chan Session, 1)},
		cfg:      Config{RedirectDelay: 10 * time.Millisecond},
	}
	f.widgets = widget.NewAdapter(f.provider, zaptest.NewLogger(t))
	return f
}

func (f *fixture) start(t *testing.T, productID string) *Orchestrator {
	t.Helper()
	o := New("s1", productID, "u1", f.cfg, Deps{
		Products:  f.products,
		Ledger:    f.ledger,
		Widgets:   f.widgets,
		Navigator: f.nav,
		Logger:    zaptest.NewLogger(t),
	})
	o.Start()
	t.Cleanup(o.Close)
	return o
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func awaitPhase(t *testing.T, o *Orchestrator, phase Phase) Session {
	t.Helper()
	s, err := o.Wait(testContext(t), func(s Session) bool { return s.Phase == phase })
	require.NoError(t, err, "waiting for %s, last phase %s", phase, s.Phase)
	return s
}

func pay(t *testing.T, o *Orchestrator) (Session, error) {
	t.Helper()
	ctx := testContext(t)
	intent, err := o.CreateIntent(ctx)
	require.NoError(t, err)
	return o.Approve(ctx, intent.ID)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p1")

	s := awaitPhase(t, o, PhaseAwaitingAuthorization)
	assert.Equal(t, "500", s.Split.First.String())
	assert.Equal(t, "500", s.Split.Second.String())
	assert.Equal(t, MessageAwaiting, s.Message())
	assert.Equal(t, 1, f.widgets.Mounted())

	s, err := pay(t, o)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, "order-TXN1", s.OrderID)
	assert.Equal(t, "/items/u1", s.Redirect)
	assert.Equal(t, MessageCompleted, s.Message())
	assert.Equal(t, 0, f.widgets.Mounted())

	assert.Equal(t, []string{"500.00"}, f.provider.amounts())
	assert.Equal(t, []string{"s1-1"}, f.provider.refs())

	calls := f.ledger.calls()
	require.Len(t, calls, 1)
	rec := calls[0]
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "p1", rec.ProductID)
	assert.Equal(t, "Antique Clock", rec.ProductName)
	assert.True(t, rec.Price.Equal(decimal.NewFromInt(1000)))
	assert.True(t, rec.DownPayment.Equal(decimal.NewFromInt(500)))
	assert.True(t, rec.RemainingPayment.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "TXN1", rec.AuthorizationID)
	assert.Equal(t, "Juan Dela Cruz", rec.PayerName)

	select {
	case visit := <-f.nav.visits:
		assert.Equal(t, "/items/u1", visit.Redirect)
		assert.Equal(t, PhaseCompleted, visit.Phase)
	case <-time.After(5 * time.Second):
		t.Fatal("navigator not called")
	}
}

func TestOrchestrator_OddPriceSplit(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p2")

	awaitPhase(t, o, PhaseAwaitingAuthorization)
	s, err := pay(t, o)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, s.Phase)

	assert.Equal(t, []string{"500.00"}, f.provider.amounts())
	rec := f.ledger.calls()[0]
	assert.Equal(t, "500.00", rec.DownPayment.StringFixed(2))
	assert.Equal(t, "499.99", rec.RemainingPayment.StringFixed(2))
	assert.True(t, rec.DownPayment.Add(rec.RemainingPayment).Equal(rec.Price))
}

func TestOrchestrator_ProductFailure(t *testing.T) {
	f := newFixture(t)
	f.products.err = errors.Wrap(product.ErrUnavailable, "dial tcp: connection refused")
	o := f.start(t, "p1")

	s := awaitPhase(t, o, PhaseFailed)
	require.NotNil(t, s.Failure)
	assert.Equal(t, ReasonProduct, s.Failure.Reason)
	assert.ErrorIs(t, s.Failure.Err, product.ErrUnavailable)
	assert.Equal(t, MessageProductMissing, s.Message())
	assert.Equal(t, 0, f.widgets.Mounted())

	_, err := o.Retry(testContext(t))
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestOrchestrator_DemoFallback(t *testing.T) {
	f := newFixture(t)
	f.products.err = product.ErrUnavailable
	f.cfg.DemoMode = true
	o := f.start(t, "p1")

	s := awaitPhase(t, o, PhaseAwaitingAuthorization)
	require.NotNil(t, s.Product)
	assert.True(t, s.Product.Demo)
	assert.Equal(t, product.DemoID, s.Product.ID)
	assert.Equal(t, "500", s.Split.First.String())
}

func TestOrchestrator_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p0")

	s := awaitPhase(t, o, PhaseFailed)
	require.NotNil(t, s.Failure)
	assert.Equal(t, ReasonAmount, s.Failure.Reason)
	assert.Equal(t, 0, f.widgets.Mounted())
}

func TestOrchestrator_AuthorizationFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.failCaptures(&widget.ProviderError{Kind: widget.KindFunding, Message: "INSTRUMENT_DECLINED"})
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)
	first, ok := f.widgets.Lookup("s1")
	require.True(t, ok)

	s, err := pay(t, o)
	var pErr *widget.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, widget.KindFunding, pErr.Kind)

	require.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, ReasonAuthorization, s.Failure.Reason)
	assert.False(t, s.Charged())
	assert.Equal(t, MessageAuthFailed, s.Message())
	assert.Empty(t, f.ledger.calls(), "no order may be recorded without authorization")
	assert.True(t, first.Closed())

	// Retry remounts a fresh widget with the same split.
	f.provider.failCaptures(nil)

	s, err = o.Retry(testContext(t))
	require.NoError(t, err)
	require.Equal(t, PhaseAwaitingAuthorization, s.Phase)
	assert.Nil(t, s.Failure)
	assert.Equal(t, 1, f.widgets.Mounted())
	second, ok := f.widgets.Lookup("s1")
	require.True(t, ok)
	assert.NotSame(t, first, second)

	s, err = pay(t, o)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, []string{"s1-1", "s1-2"}, f.provider.refs())
	assert.Len(t, f.ledger.calls(), 1)
}

func TestOrchestrator_CaptureUnconfirmed(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
	}{
		{"Timeout", &widget.ProviderError{Kind: widget.KindNetwork, Err: context.DeadlineExceeded}},
		{"Cancelled", &widget.ProviderError{Kind: widget.KindCancelled, Err: context.Canceled}},
		{"Pending", &widget.ProviderError{Kind: widget.KindPending, Message: "capture status PENDING"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.failCaptures(tt.err)
			o := f.start(t, "p1")
			awaitPhase(t, o, PhaseAwaitingAuthorization)

			ctx := testContext(t)
			intent, err := o.CreateIntent(ctx)
			require.NoError(t, err)

			s, err := o.Approve(ctx, intent.ID)
			require.ErrorIs(t, err, widget.ErrCaptureUnconfirmed)
			require.Equal(t, PhaseAwaitingAuthorization, s.Phase)
			assert.Equal(t, intent.ID, s.UnconfirmedIntent)
			assert.Nil(t, s.Failure)
			assert.False(t, s.Retryable())
			assert.Equal(t, MessageUnconfirmed, s.Message())

			// Neither a fresh authorization nor a new intent is allowed.
			_, err = o.Retry(ctx)
			require.ErrorIs(t, err, ErrNotRetryable)
			_, err = o.CreateIntent(ctx)
			require.ErrorIs(t, err, widget.ErrIntentPending)
			_, err = o.ReportError(ctx, &widget.ProviderError{Kind: widget.KindCancelled})
			require.ErrorIs(t, err, widget.ErrIntentPending)

			f.provider.failCaptures(nil)

			s, err = o.Approve(ctx, intent.ID)
			require.NoError(t, err)
			require.Equal(t, PhaseCompleted, s.Phase)
			assert.Empty(t, s.UnconfirmedIntent)

			assert.Equal(t, []string{"s1-1"}, f.provider.refs())
			assert.Equal(t, 2, f.provider.captureCount())
			assert.Len(t, f.ledger.calls(), 1)
		})
	}
}

func TestOrchestrator_CaptureOutlivesRequest(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	intent, err := o.CreateIntent(testContext(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = o.Approve(ctx, intent.ID)

	s := awaitPhase(t, o, PhaseCompleted)
	assert.Equal(t, "order-TXN1", s.OrderID)
	assert.NoError(t, f.provider.lastCaptureCtxErr())
	assert.Equal(t, 1, f.provider.captureCount())
}

func TestOrchestrator_BuyerCancels(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	_, err := o.CreateIntent(testContext(t))
	require.NoError(t, err)

	s, err := o.ReportError(testContext(t), &widget.ProviderError{Kind: widget.KindCancelled, Message: "popup closed"})
	require.NoError(t, err)
	require.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, ReasonAuthorization, s.Failure.Reason)
	assert.Empty(t, f.ledger.calls())

	_, err = o.CreateIntent(testContext(t))
	assert.ErrorIs(t, err, ErrNotAwaiting)
}

func TestOrchestrator_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.fail = 1
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	s, err := pay(t, o)
	require.NoError(t, err)
	require.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, ReasonPersistence, s.Failure.Reason)
	assert.ErrorIs(t, s.Failure.Err, order.ErrPersistenceUnavailable)
	assert.True(t, s.Charged())
	assert.Equal(t, "TXN1", s.Authorization.TransactionID)
	assert.Equal(t, MessageNotRecorded, s.Message())

	// A full retry would charge the buyer again.
	_, err = o.Retry(testContext(t))
	require.ErrorIs(t, err, ErrNotRetryable)

	s, err = o.RetryPersistence(testContext(t))
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, "order-TXN1", s.OrderID)
	assert.Equal(t, 2, s.PersistCalls)

	calls := f.ledger.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
	assert.Equal(t, 1, f.provider.captureCount())
	assert.Len(t, f.provider.amounts(), 1)
}

func TestOrchestrator_DuplicateApproval(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	ctx := testContext(t)
	intent, err := o.CreateIntent(ctx)
	require.NoError(t, err)
	s, err := o.Approve(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, s.Phase)

	_, err = o.Approve(ctx, intent.ID)
	require.Error(t, err)
	assert.Len(t, f.ledger.calls(), 1)
	assert.Equal(t, 1, f.provider.captureCount())
}

func TestOrchestrator_ApprovalDeliveredTwice(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	f.ledger.block = block
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	ctx := testContext(t)
	_, err := o.CreateIntent(ctx)
	require.NoError(t, err)

	// Deliver two approvals straight to the loop, as a misbehaving widget
	// would.
	res := widget.AuthorizationResult{TransactionID: "TXN1"}
	o.onApproveHandler(ctx, res)
	o.onApproveHandler(ctx, res)
	awaitPhase(t, o, PhasePersisting)
	close(block)

	s := awaitPhase(t, o, PhaseCompleted)
	assert.Equal(t, 1, s.PersistCalls)
	assert.Len(t, f.ledger.calls(), 1)
}

func TestOrchestrator_CloseDuringPersist(t *testing.T) {
	f := newFixture(t)
	f.ledger.block = make(chan struct{})
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	ctx := testContext(t)
	intent, err := o.CreateIntent(ctx)
	require.NoError(t, err)

	approved := make(chan error, 1)
	go func() {
		_, err := o.Approve(ctx, intent.ID)
		approved <- err
	}()
	awaitPhase(t, o, PhasePersisting)

	o.Close()
	o.Close()
	assert.ErrorIs(t, <-approved, ErrSessionClosed)

	s := o.Snapshot()
	assert.Equal(t, PhasePersisting, s.Phase)
	assert.Equal(t, 0, f.widgets.Mounted())
	assert.Empty(t, f.ledger.calls())

	_, err = o.CreateIntent(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestOrchestrator_CloseBeforeStart(t *testing.T) {
	f := newFixture(t)
	o := New("s9", "p1", "u1", f.cfg, Deps{
		Products: f.products,
		Ledger:   f.ledger,
		Widgets:  f.widgets,
	})
	o.Close()

	select {
	case <-o.Done():
	default:
		t.Fatal("session not done")
	}
	o.Start()
	assert.Equal(t, PhaseLoading, o.Snapshot().Phase)
}

func TestOrchestrator_RetryWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	o := f.start(t, "p1")
	awaitPhase(t, o, PhaseAwaitingAuthorization)

	_, err := o.Retry(testContext(t))
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = o.RetryPersistence(testContext(t))
	assert.ErrorIs(t, err, ErrNotRetryable)
}
