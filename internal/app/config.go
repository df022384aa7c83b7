package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (DOWNPAY_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"Server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (DOWNPAY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com)" flag:"image-base-url"`
	Checkout     CheckoutConfig
	PayPal       PayPalConfig
	Ledger       LedgerConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls checkout sessions.
type CheckoutConfig struct {
	Ratio          string        `default:"0.5" usage:"Share of the price charged as down payment"`
	RedirectDelay  time.Duration `default:"2s" usage:"Delay between completion and redirect" flag:"redirect-delay"`
	DemoMode       bool          `default:"false" usage:"Fall back to the demo product and customer" flag:"demo-mode"`
	SessionTTL     time.Duration `default:"30m" usage:"Idle time after which a session is dropped" flag:"session-ttl"`
	MaxSessions    int           `default:"10000" usage:"Maximum open checkout sessions" flag:"max-sessions"`
	WaitTimeout    time.Duration `default:"30s" usage:"Maximum time a request waits for a session" flag:"wait-timeout"`
	CaptureTimeout time.Duration `default:"30s" usage:"Maximum time a payment capture may take" flag:"capture-timeout"`
}

// PayPalConfig points the payment provider client at PayPal.
type PayPalConfig struct {
	BaseURL      string        `default:"https://api-m.sandbox.paypal.com" usage:"PayPal API base URL" flag:"paypal-url"`
	ClientID     string        `usage:"PayPal client id" flag:"paypal-client-id"`
	ClientSecret string        `usage:"PayPal client secret" flag:"paypal-client-secret"`
	Currency     string        `default:"PHP" usage:"Currency of authorized amounts"`
	Timeout      time.Duration `default:"15s" usage:"PayPal request timeout" flag:"paypal-timeout"`
}

// LedgerConfig points the checkout server at the catalog and order API. An
// empty BaseURL means this process serves the API itself.
type LedgerConfig struct {
	BaseURL string        `default:"" usage:"Catalog and order API base URL" flag:"ledger-url"`
	Timeout time.Duration `default:"10s" usage:"Ledger request timeout" flag:"ledger-timeout"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DOWNPAY",
		Files:     []string{"config.yaml", "/etc/downpay/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set DOWNPAY_DATABASE_URL or DATABASE_URL")
	}
	ratio, err := c.Checkout.ratio()
	if err != nil {
		return err
	}
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("checkout ratio %s must be in (0, 1]", ratio)
	}
	return nil
}

func (c CheckoutConfig) ratio() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.Ratio)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse checkout ratio %q", c.Ratio)
	}
	return v, nil
}

// ledgerURL returns the API the checkout server talks to.
func (c *Config) ledgerURL() string {
	if c.Ledger.BaseURL != "" {
		return strings.TrimSuffix(c.Ledger.BaseURL, "/")
	}
	port := defaultAddr[strings.LastIndex(defaultAddr, ":")+1:]
	if i := strings.LastIndex(c.Addr, ":"); i >= 0 {
		port = c.Addr[i+1:]
	}
	return "http://127.0.0.1:" + port
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DOWNPAY_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
