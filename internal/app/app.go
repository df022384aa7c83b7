package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/downpay/internal/checkout"
	"github.com/xenking/downpay/internal/client"
	"github.com/xenking/downpay/internal/domain/identity"
	"github.com/xenking/downpay/internal/domain/order"
	"github.com/xenking/downpay/internal/handler"
	"github.com/xenking/downpay/internal/paypal"
	"github.com/xenking/downpay/internal/storage/postgres"
	"github.com/xenking/downpay/internal/widget"
	"github.com/xenking/downpay/pkg/health"
	"github.com/xenking/downpay/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Catalog and order ledger.
	productRepo := postgres.NewProductRepository(pool)
	orderService, err := order.NewService(postgres.NewOrderRepository(pool), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// Checkout server: talks to the ledger API over HTTP and to PayPal.
	ratio, err := cfg.Checkout.ratio()
	if err != nil {
		return err
	}
	ledgerCfg := client.Config{BaseURL: cfg.ledgerURL(), Timeout: cfg.Ledger.Timeout}
	provider := paypal.New(paypal.Config{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Currency:     cfg.PayPal.Currency,
		Timeout:      cfg.PayPal.Timeout,
	}, nil)
	metrics, err := checkout.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout metrics")
	}
	registry := checkout.NewRegistry(checkout.RegistryConfig{
		TTL:         cfg.Checkout.SessionTTL,
		MaxSessions: cfg.Checkout.MaxSessions,
	}, checkout.Config{
		Ratio:          ratio,
		RedirectDelay:  cfg.Checkout.RedirectDelay,
		DemoMode:       cfg.Checkout.DemoMode,
		CaptureTimeout: cfg.Checkout.CaptureTimeout,
	}, checkout.Deps{
		Products: client.NewProducts(ledgerCfg, nil),
		Ledger:   client.NewOrders(ledgerCfg, nil),
		Widgets:  widget.NewAdapter(provider, lg.Named("widget")),
		Metrics:  metrics,
		Tracer:   m.TracerProvider().Tracer("github.com/xenking/downpay/internal/checkout"),
		Logger:   lg,
	})

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if cfg.Ledger.BaseURL != "" {
		healthSvc.AddReadinessCheck("ledger", 5*time.Second,
			health.HTTPCheck(&http.Client{}, cfg.ledgerURL()+"/livez"))
	}
	healthSvc.AddReadinessCheck("sessions", time.Second,
		health.CapacityCheck(registry.Len, cfg.Checkout.MaxSessions))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints, ledger API and checkout routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewAPI(handler.APIConfig{ImageBaseURL: cfg.ImageBaseURL}, productRepo, orderService).Register(mux)
	handler.NewCheckout(handler.CheckoutConfig{
		DemoMode:     cfg.Checkout.DemoMode,
		WaitTimeout:  cfg.Checkout.WaitTimeout,
		ImageBaseURL: cfg.ImageBaseURL,
	}, registry).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.WaitTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", identity.Header, client.IdempotencyKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isProbe,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("downpay", m),
			httpmiddleware.LogRequests(),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gCtx)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening",
			zap.String("addr", cfg.Addr),
			zap.String("ledger", cfg.ledgerURL()),
			zap.Bool("demo_mode", cfg.Checkout.DemoMode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

func isProbe(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/livez") || strings.HasPrefix(r.URL.Path, "/readyz")
}
