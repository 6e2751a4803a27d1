package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/caarlos0/env/v6"
)

type Config struct {
	Address            string        `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"INFO"`
	DatabaseConnection string        `env:"DATABASE_URI"`
	RedisAddress       string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	EventTTL           time.Duration `env:"WEBHOOK_EVENT_TTL" envDefault:"72h"`
	JWTSecret          string        `env:"JWT_SECRET" envDefault:"dontexposethis"`
	JWTTTL             time.Duration `env:"JWT_TTL" envDefault:"12h"`
	AdminLogin         string        `env:"ADMIN_LOGIN"`
	AdminPassword      string        `env:"ADMIN_PASSWORD"`

	PayPalMode      string        `env:"PAYPAL_MODE" envDefault:"sandbox"`
	PayPalBaseURL   string        `env:"PAYPAL_BASE_URL"`
	PayPalClientID  string        `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret    string        `env:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID string        `env:"PAYPAL_WEBHOOK_ID"`
	PayPalTimeout   time.Duration `env:"PAYPAL_TIMEOUT" envDefault:"15s"`
	BrandName       string        `env:"PAYPAL_BRAND_NAME" envDefault:"Perfume Shop"`
	ReturnURL       string        `env:"RETURN_URL" envDefault:"http://localhost:3000/checkout/success"`
	CancelURL       string        `env:"CANCEL_URL" envDefault:"http://localhost:3000/checkout/cancel"`

	SettlementCurrency  string        `env:"SETTLEMENT_CURRENCY" envDefault:"USD"`
	SupportedCurrencies []string      `env:"SUPPORTED_CURRENCIES" envSeparator:"," envDefault:"USD,EUR,GBP"`
	RatesURL            string        `env:"RATES_URL"`
	RatesTTL            time.Duration `env:"RATES_TTL" envDefault:"1h"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"orders@perfume.example"`

	ReconcileWorkers  int           `env:"RECONCILE_WORKERS" envDefault:"4"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileAge      time.Duration `env:"RECONCILE_AGE" envDefault:"5m"`
	OrphanTTL         time.Duration `env:"ORPHAN_TTL" envDefault:"15m"`
	RemoteOrderTTL    time.Duration `env:"REMOTE_ORDER_TTL" envDefault:"3h"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	address := flag.String("a", cfg.Address, "{Host:port} for server")
	loglevel := flag.String("l", cfg.LogLevel, "Log level for server")
	databaseConnection := flag.String("d", cfg.DatabaseConnection, "Database connection string (empty = in-memory)")
	redisAddress := flag.String("r", cfg.RedisAddress, "Redis address for webhook dedup")
	paypalURL := flag.String("p", cfg.PayPalBaseURL, "PayPal REST base URL (overrides PAYPAL_MODE)")
	workers := flag.Int("w", cfg.ReconcileWorkers, "Size of reconcile worker pool")
	interval := flag.Duration("i", cfg.ReconcileInterval, "Reconcile poll interval")
	jwtTTL := flag.Duration("t", cfg.JWTTTL, "TTL for JWT token(e.g. 24h; 30m )")

	flag.Parse()

	cfg.Address = *address
	cfg.LogLevel = *loglevel
	cfg.DatabaseConnection = *databaseConnection
	cfg.RedisAddress = *redisAddress
	cfg.PayPalBaseURL = *paypalURL
	cfg.ReconcileWorkers = *workers
	cfg.ReconcileInterval = *interval
	cfg.JWTTTL = *jwtTTL

	baseURL, err := paypalBaseURL(cfg.PayPalMode, cfg.PayPalBaseURL)
	if err != nil {
		return nil, err
	}
	cfg.PayPalBaseURL = baseURL

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("ENV JWT_SECRET must be set")
	}
	if cfg.ReconcileWorkers < 1 {
		return nil, fmt.Errorf("reconcile workers must be positive, got %d", cfg.ReconcileWorkers)
	}
	return cfg, nil
}

// paypalBaseURL picks the REST endpoint. An explicit URL wins over the mode.
func paypalBaseURL(mode, override string) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}
	switch strings.ToLower(mode) {
	case "", "sandbox":
		return paypal.SandboxURL, nil
	case "live":
		return paypal.LiveURL, nil
	}
	return "", fmt.Errorf("unknown PAYPAL_MODE %q, want sandbox or live", mode)
}
