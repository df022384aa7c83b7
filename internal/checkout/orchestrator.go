// Package checkout runs the partial-payment checkout state machine.
//
// Each session is owned by one goroutine that consumes events: product fetch
// results, widget callbacks, ledger responses and manual retries. Network
// calls run in helper goroutines and report back as events, so session state
// is never touched concurrently. Closing a session unmounts its widget and
// abandons whatever call is still in flight.
package checkout

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/downpay/internal/domain/money"
	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/internal/widget"
)

// Ledger records completed partial payments.
type Ledger interface {
	Persist(ctx context.Context, rec order.Record) (string, error)
}

// Navigator moves the buyer away from a completed session.
type Navigator interface {
	Navigate(ctx context.Context, s Session) error
}

// Config controls checkout behaviour.
type Config struct {
	// Ratio is the share of the price authorized online.
	Ratio decimal.Decimal
	// RedirectDelay keeps the success message visible before navigation.
	RedirectDelay time.Duration
	// DemoMode enables the demo product fallback. Never enable in production.
	DemoMode bool
	// LoadTimeout and PersistTimeout bound the catalog and ledger calls.
	LoadTimeout    time.Duration
	PersistTimeout time.Duration
	// CaptureTimeout bounds a capture. Captures run on the session context,
	// so a buyer disconnecting does not abandon one halfway.
	CaptureTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Ratio.IsZero() {
		c.Ratio = money.DefaultRatio
	}
	if c.RedirectDelay <= 0 {
		c.RedirectDelay = 2 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 30 * time.Second
	}
	return c
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Products  product.Repository
	Ledger    Ledger
	Widgets   *widget.Adapter
	Navigator Navigator
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

type eventKind int

const (
	evLoaded eventKind = iota
	evLoadFailed
	evCreateOrder
	evApproved
	evProviderError
	evCaptureUnconfirmed
	evPersisted
	evPersistFailed
	evRetry
	evRetryPersistence
)

var eventNames = [...]string{
	evLoaded:             "loaded",
	evLoadFailed:         "load_failed",
	evCreateOrder:        "create_order",
	evApproved:           "approved",
	evProviderError:      "provider_error",
	evCaptureUnconfirmed: "capture_unconfirmed",
	evPersisted:          "persisted",
	evPersistFailed:      "persist_failed",
	evRetry:              "retry",
	evRetryPersistence:   "retry_persistence",
}

func (k eventKind) String() string { return eventNames[k] }

type event struct {
	kind     eventKind
	product  *product.Product
	demo     bool
	auth     widget.AuthorizationResult
	orderID  string
	intentID string
	err      error
	reply    chan reply
}

type reply struct {
	intent widget.IntentRequest
	err    error
}

func (ev event) respond(r reply) {
	if ev.reply != nil {
		ev.reply <- r
	}
}

// Orchestrator drives one checkout session.
type Orchestrator struct {
	cfg  Config
	deps Deps
	lg   *zap.Logger

	events  chan event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started sync.Once
	closed  sync.Once

	// Owned by the loop goroutine.
	state    Session
	attempt  int
	record   order.Record
	stopCall context.CancelFunc
	timer    *time.Timer

	// Published copy for readers.
	mu      sync.RWMutex
	snap    Session
	button  *widget.Button
	changed chan struct{}
}

// New creates an Orchestrator for one buyer checking out one product. The
// session does not run until Start is called.
func New(id, productID, userID string, cfg Config, deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("checkout")
	}
	o := &Orchestrator{
		cfg:  cfg.withDefaults(),
		deps: deps,
		lg: deps.Logger.Named("checkout").With(
			zap.String("session_id", id),
			zap.String("product_id", productID),
		),
		events:  make(chan event, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		changed: make(chan struct{}),
		state: Session{
			ID:        id,
			UserID:    userID,
			ProductID: productID,
			Phase:     PhaseLoading,
			UpdatedAt: time.Now(),
		},
	}
	o.snap = o.state.clone()
	return o
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.state.ID }

// Start begins the session: loads the product, computes the split and
// mounts the payment widget. It is a no-op after the first call.
func (o *Orchestrator) Start() {
	o.started.Do(func() {
		go o.run()
	})
}

// Close abandons the session: the widget is unmounted, in-flight calls are
// cancelled and their results discarded. Close is idempotent.
func (o *Orchestrator) Close() {
	o.closed.Do(func() {
		o.cancel()
		o.started.Do(func() { close(o.done) })
		<-o.done
		o.deps.Widgets.Unmount(o.state.ID)
	})
}

// Done is closed once the session loop has stopped.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// Wait blocks until until(session) holds, the session closes or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, until func(Session) bool) (Session, error) {
	for {
		o.mu.RLock()
		s, changed := o.snap, o.changed
		o.mu.RUnlock()

		if until(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-o.done:
			return o.Snapshot(), ErrSessionClosed
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// WaitSettled waits until the session no longer waits on a network call.
func (o *Orchestrator) WaitSettled(ctx context.Context) (Session, error) {
	return o.Wait(ctx, func(s Session) bool { return s.Phase.Settled() })
}

// CreateIntent starts a payment through the mounted widget.
func (o *Orchestrator) CreateIntent(ctx context.Context) (widget.Intent, error) {
	b, err := o.currentButton()
	if err != nil {
		return widget.Intent{}, err
	}
	intent, err := b.CreateOrder(ctx)
	if err != nil {
		o.waitProviderFailure(ctx, err)
		return widget.Intent{}, err
	}
	return intent, nil
}

// Approve captures the intent the buyer approved and waits for the order to
// be recorded. If the capture outcome is unknown the session keeps awaiting
// and the same intent may be approved again.
func (o *Orchestrator) Approve(ctx context.Context, intentID string) (Session, error) {
	b, err := o.currentButton()
	if err != nil {
		return o.Snapshot(), err
	}
	cctx, cancel := context.WithTimeout(o.ctx, o.cfg.CaptureTimeout)
	defer cancel()
	if _, err := b.Approve(cctx, intentID); err != nil {
		if errors.Is(err, widget.ErrCaptureUnconfirmed) {
			s, _ := o.Wait(ctx, func(s Session) bool {
				return s.UnconfirmedIntent == intentID || s.Phase != PhaseAwaitingAuthorization
			})
			return s, err
		}
		o.waitProviderFailure(ctx, err)
		return o.Snapshot(), err
	}
	return o.Wait(ctx, func(s Session) bool {
		return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
	})
}

// ReportError forwards a client-side widget failure or cancellation.
func (o *Orchestrator) ReportError(ctx context.Context, pErr *widget.ProviderError) (Session, error) {
	b, err := o.currentButton()
	if err != nil {
		return o.Snapshot(), err
	}
	if err := b.Fail(ctx, pErr); err != nil {
		return o.Snapshot(), err
	}
	return o.Wait(ctx, func(s Session) bool { return s.Phase == PhaseFailed })
}

// Retry restarts a failed session from Ready with the same product and
// split. Only sessions that were not charged can be retried this way.
func (o *Orchestrator) Retry(ctx context.Context) (Session, error) {
	if _, err := o.call(ctx, event{kind: evRetry}); err != nil {
		return o.Snapshot(), err
	}
	return o.WaitSettled(ctx)
}

// RetryPersistence re-sends the same order record to the ledger after a
// persistence failure. The authorization is never repeated.
func (o *Orchestrator) RetryPersistence(ctx context.Context) (Session, error) {
	if _, err := o.call(ctx, event{kind: evRetryPersistence}); err != nil {
		return o.Snapshot(), err
	}
	return o.WaitSettled(ctx)
}

// waitProviderFailure lets the session record a provider error that the
// widget has just reported, so callers observe PhaseFailed.
func (o *Orchestrator) waitProviderFailure(ctx context.Context, err error) {
	var pErr *widget.ProviderError
	if !errors.As(err, &pErr) {
		return
	}
	_, _ = o.Wait(ctx, func(s Session) bool { return s.Phase == PhaseFailed })
}

func (o *Orchestrator) currentButton() (*widget.Button, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if o.button == nil || o.snap.Phase != PhaseAwaitingAuthorization {
		return nil, errors.Wrapf(ErrNotAwaiting, "phase %s", o.snap.Phase)
	}
	return o.button, nil
}

// post queues ev for the loop. It reports false if the session is closed.
func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.ctx.Done():
		return false
	}
}

// call posts ev and waits for the loop to answer it.
func (o *Orchestrator) call(ctx context.Context, ev event) (widget.IntentRequest, error) {
	ev.reply = make(chan reply, 1)
	if !o.post(ev) {
		return widget.IntentRequest{}, ErrSessionClosed
	}
	select {
	case r := <-ev.reply:
		return r.intent, r.err
	case <-o.done:
		return widget.IntentRequest{}, ErrSessionClosed
	case <-ctx.Done():
		return widget.IntentRequest{}, ctx.Err()
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	defer o.teardown()

	o.publish()
	o.load()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) teardown() {
	if o.stopCall != nil {
		o.stopCall()
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	if o.state.UnconfirmedIntent != "" {
		o.lg.Error("Session closed with unconfirmed capture",
			zap.String("intent_id", o.state.UnconfirmedIntent))
	}
	o.mu.Lock()
	o.button = nil
	o.mu.Unlock()
}

func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case evLoaded:
		o.onLoaded(ev)
	case evLoadFailed:
		o.onLoadFailed(ev)
	case evCreateOrder:
		o.onCreateOrder(ev)
	case evApproved:
		o.onApproved(ev)
	case evProviderError:
		o.onProviderError(ev)
	case evCaptureUnconfirmed:
		o.onCaptureUnconfirmed(ev)
	case evPersisted:
		o.onPersisted(ev)
	case evPersistFailed:
		o.onPersistFailed(ev)
	case evRetry:
		o.onRetry(ev)
	case evRetryPersistence:
		o.onRetryPersistence(ev)
	}
}

// drop ignores an event that is not valid in the current phase.
func (o *Orchestrator) drop(ev event) {
	fields := []zap.Field{
		zap.Stringer("event", ev.kind),
		zap.String("phase", string(o.state.Phase)),
	}
	if ev.kind == evApproved && o.state.Authorization == nil {
		// Charged with no session able to record it.
		o.lg.Error("Dropped authorization outside awaiting phase",
			append(fields, zap.String("transaction_id", ev.auth.TransactionID))...)
	} else {
		o.lg.Warn("Dropped event", fields...)
	}
	o.deps.Metrics.droppedEvent(o.ctx, ev.kind)
	ev.respond(reply{err: errors.Wrapf(ErrNotRetryable, "%s in phase %s", ev.kind, o.state.Phase)})
}

func (o *Orchestrator) load() {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.LoadTimeout)
	o.stopCall = cancel
	go func() {
		defer cancel()
		ctx, span := o.deps.Tracer.Start(ctx, "checkout.LoadProduct",
			trace.WithAttributes(attribute.String("product.id", o.state.ProductID)))
		defer span.End()

		p, err := o.deps.Products.GetByID(ctx, o.state.ProductID)
		if err != nil {
			span.RecordError(err)
			if o.ctx.Err() != nil {
				return
			}
			if o.cfg.DemoMode {
				demo := product.Demo()
				o.lg.Warn("Product unavailable, using demo product", zap.Error(err))
				o.post(event{kind: evLoaded, product: &demo, demo: true})
				return
			}
			span.SetStatus(codes.Error, "product unavailable")
			o.post(event{kind: evLoadFailed, err: errors.Wrap(err, "load product")})
			return
		}
		o.post(event{kind: evLoaded, product: p})
	}()
}

func (o *Orchestrator) onLoaded(ev event) {
	if o.state.Phase != PhaseLoading {
		o.drop(ev)
		return
	}
	o.stopCall = nil
	o.state.Product = ev.product

	split, err := money.Split(ev.product.Price, o.cfg.Ratio)
	if err != nil {
		o.fail(ReasonAmount, err)
		return
	}
	o.state.Split = split
	if ev.demo {
		o.lg.Info("Checking out demo product")
	}
	o.moveTo(PhaseReady)
	o.mount()
}

func (o *Orchestrator) onLoadFailed(ev event) {
	if o.state.Phase != PhaseLoading {
		o.drop(ev)
		return
	}
	o.stopCall = nil
	o.fail(ReasonProduct, ev.err)
}

// mount renders a fresh widget for the current split. Any previous widget
// is torn down first.
func (o *Orchestrator) mount() {
	o.deps.Widgets.Unmount(o.state.ID)
	o.attempt++

	b, err := o.deps.Widgets.Mount(o.state.ID, o.state.Split.First, widget.Handlers{
		OnCreateOrder: o.onCreateOrderHandler,
		OnApprove:     o.onApproveHandler,
		OnError:       o.onErrorHandler,
		OnUnconfirmed: o.onUnconfirmedHandler,
	})
	if err != nil {
		o.fail(ReasonAuthorization, errors.Wrap(err, "mount widget"))
		return
	}

	o.mu.Lock()
	o.button = b
	o.mu.Unlock()
	o.moveTo(PhaseAwaitingAuthorization)
}

func (o *Orchestrator) unmount() {
	o.mu.Lock()
	o.button = nil
	o.mu.Unlock()
	o.deps.Widgets.Unmount(o.state.ID)
}

// Widget handlers run on the caller's goroutine and only post events.

func (o *Orchestrator) onCreateOrderHandler(ctx context.Context) (widget.IntentRequest, error) {
	return o.call(ctx, event{kind: evCreateOrder})
}

func (o *Orchestrator) onApproveHandler(_ context.Context, res widget.AuthorizationResult) {
	if !o.post(event{kind: evApproved, auth: res}) {
		o.lg.Error("Authorization captured for closed session",
			zap.String("transaction_id", res.TransactionID))
	}
}

func (o *Orchestrator) onErrorHandler(_ context.Context, pErr *widget.ProviderError) {
	o.post(event{kind: evProviderError, err: pErr})
}

func (o *Orchestrator) onUnconfirmedHandler(_ context.Context, intent widget.Intent, pErr *widget.ProviderError) {
	if !o.post(event{kind: evCaptureUnconfirmed, intentID: intent.ID, err: pErr}) {
		o.lg.Error("Unconfirmed capture for closed session",
			zap.String("intent_id", intent.ID), zap.Error(pErr))
	}
}

func (o *Orchestrator) onCreateOrder(ev event) {
	if o.state.Phase != PhaseAwaitingAuthorization {
		ev.respond(reply{err: errors.Wrapf(ErrNotAwaiting, "phase %s", o.state.Phase)})
		return
	}
	ev.respond(reply{intent: widget.IntentRequest{
		Amount:    o.state.Split.First,
		Reference: o.state.ID + "-" + strconv.Itoa(o.attempt),
	}})
}

func (o *Orchestrator) onApproved(ev event) {
	if o.state.Phase != PhaseAwaitingAuthorization || o.state.Authorization != nil {
		o.drop(ev)
		return
	}
	auth := ev.auth
	o.state.Authorization = &auth
	o.state.UnconfirmedIntent = ""
	o.lg.Info("Authorization obtained",
		zap.String("transaction_id", auth.TransactionID),
		zap.String("amount", o.state.Split.AuthorizationAmount()),
	)
	o.moveTo(PhaseAuthorized)

	o.record = order.Record{
		UserID:           o.state.UserID,
		ProductID:        o.state.Product.ID,
		ProductName:      o.state.Product.Name,
		Price:            o.state.Split.Price,
		DownPayment:      o.state.Split.First,
		RemainingPayment: o.state.Split.Second,
		AuthorizationID:  auth.TransactionID,
		PayerName:        auth.PayerName,
	}
	o.persist()
}

func (o *Orchestrator) onProviderError(ev event) {
	if o.state.Phase != PhaseAwaitingAuthorization {
		o.drop(ev)
		return
	}
	o.fail(ReasonAuthorization, ev.err)
}

// onCaptureUnconfirmed keeps the session awaiting so the buyer can approve
// the same intent again. A fresh authorization is not offered.
func (o *Orchestrator) onCaptureUnconfirmed(ev event) {
	if o.state.Phase != PhaseAwaitingAuthorization || o.state.Authorization != nil {
		o.drop(ev)
		return
	}
	o.state.UnconfirmedIntent = ev.intentID
	o.state.UpdatedAt = time.Now()
	o.lg.Error("Capture outcome unknown, awaiting re-approval",
		zap.String("intent_id", ev.intentID), zap.Error(ev.err))
	o.deps.Metrics.captureUnconfirmed(o.ctx)
	o.publish()
}

// persist moves to Persisting and sends the order record to the ledger.
func (o *Orchestrator) persist() {
	o.state.PersistCalls++
	o.moveTo(PhasePersisting)

	rec := o.record
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.PersistTimeout)
	o.stopCall = cancel
	go func() {
		defer cancel()
		ctx, span := o.deps.Tracer.Start(ctx, "checkout.PersistOrder",
			trace.WithAttributes(attribute.String("authorization.id", rec.AuthorizationID)))
		defer span.End()

		id, err := o.deps.Ledger.Persist(ctx, rec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist order")
			o.post(event{kind: evPersistFailed, err: err})
			return
		}
		o.post(event{kind: evPersisted, orderID: id})
	}()
}

func (o *Orchestrator) onPersisted(ev event) {
	if o.state.Phase != PhasePersisting {
		o.drop(ev)
		return
	}
	o.stopCall = nil
	o.state.OrderID = ev.orderID
	o.state.Failure = nil
	o.state.Redirect = "/items/" + o.state.UserID
	o.state.RedirectAt = time.Now().Add(o.cfg.RedirectDelay)
	o.lg.Info("Order recorded", zap.String("order_id", ev.orderID))
	o.unmount()
	o.moveTo(PhaseCompleted)

	snap := o.state.clone()
	o.timer = time.AfterFunc(o.cfg.RedirectDelay, func() { o.navigate(snap) })
}

func (o *Orchestrator) onPersistFailed(ev event) {
	if o.state.Phase != PhasePersisting {
		o.drop(ev)
		return
	}
	o.stopCall = nil
	o.deps.Metrics.chargedUnrecorded(o.ctx)
	o.fail(ReasonPersistence, errors.Wrap(ev.err, "persist order"))
}

func (o *Orchestrator) onRetry(ev event) {
	if !o.state.Retryable() {
		ev.respond(reply{err: errors.Wrapf(ErrNotRetryable, "phase %s", o.state.Phase)})
		return
	}
	o.state.Failure = nil
	o.moveTo(PhaseReady)
	o.mount()
	ev.respond(reply{})
}

func (o *Orchestrator) onRetryPersistence(ev event) {
	if !o.state.PersistenceRetryable() {
		ev.respond(reply{err: errors.Wrapf(ErrNotRetryable, "phase %s", o.state.Phase)})
		return
	}
	o.state.Failure = nil
	o.lg.Info("Retrying order persistence",
		zap.String("transaction_id", o.record.AuthorizationID),
		zap.Int("attempt", o.state.PersistCalls+1),
	)
	o.persist()
	ev.respond(reply{})
}

func (o *Orchestrator) navigate(s Session) {
	if o.ctx.Err() != nil || o.deps.Navigator == nil {
		return
	}
	if err := o.deps.Navigator.Navigate(o.ctx, s); err != nil {
		o.lg.Warn("Navigation after checkout failed", zap.Error(err))
	}
}

func (o *Orchestrator) fail(reason FailureReason, err error) {
	o.state.Failure = &Failure{Reason: reason, Err: err}
	o.state.UnconfirmedIntent = ""
	o.unmount()

	fields := []zap.Field{zap.String("reason", string(reason)), zap.Error(err)}
	if o.state.Charged() {
		o.lg.Error("Checkout failed after charge", fields...)
	} else {
		o.lg.Warn("Checkout failed", fields...)
	}
	o.moveTo(PhaseFailed)
}

func (o *Orchestrator) moveTo(to Phase) {
	from := o.state.Phase
	if !CanTransition(from, to) {
		o.lg.DPanic("Illegal phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	o.state.Phase = to
	o.state.UpdatedAt = time.Now()
	o.lg.Debug("Phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	o.deps.Metrics.transition(o.ctx, from, to)
	o.publish()
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snap = o.state.clone()
	close(o.changed)
	o.changed = make(chan struct{})
}
