package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrConversionUnavailable = errors.New("currency conversion unavailable")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
)

type Conversion struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Rate          decimal.Decimal `json:"rate"`
	UsingFallback bool            `json:"usingFallback"`
}

// FallbackRates are units of the settlement currency (USD) per unit of the key.
// The Gulf currencies are pegged, so these stay accurate when the feed is down.
var FallbackRates = map[string]decimal.Decimal{
	"SAR": decimal.RequireFromString("0.2666"),
	"AED": decimal.RequireFromString("0.2723"),
	"QAR": decimal.RequireFromString("0.2747"),
	"BHD": decimal.RequireFromString("2.6596"),
	"OMR": decimal.RequireFromString("2.6008"),
	"KWD": decimal.RequireFromString("3.2500"),
}

type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type HTTPRateSource struct {
	Client  *http.Client
	BaseURL string
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Rate calls GET {BaseURL}/latest?base=FROM&symbols=TO.
func (s *HTTPRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	q := url.Values{"base": {from}, "symbols": {to}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.BaseURL, "/")+"/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	var rr ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return decimal.Zero, fmt.Errorf("decode body: %w", err)
	}
	rate, ok := rr.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s rate for %s", to, from)
	}
	return rate, nil
}

type cachedRate struct {
	rate    decimal.Decimal
	fetched time.Time
}

type Converter struct {
	source     RateSource
	settlement string
	supported  map[string]bool
	fallback   map[string]decimal.Decimal
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cachedRate
}

// NewConverter converts into settlement. supported lists the currencies the
// payment provider accepts directly; they pass through unconverted.
func NewConverter(source RateSource, settlement string, supported []string, ttl time.Duration) *Converter {
	c := &Converter{
		source:     source,
		settlement: strings.ToUpper(settlement),
		supported:  make(map[string]bool, len(supported)),
		fallback:   FallbackRates,
		ttl:        ttl,
		cache:      make(map[string]cachedRate),
	}
	for _, s := range supported {
		c.supported[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	c.supported[c.settlement] = true
	return c
}

// NeedsConversion reports whether from cannot be charged as is.
func (c *Converter) NeedsConversion(from string) bool {
	return !c.supported[strings.ToUpper(from)]
}

func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from string) (Conversion, error) {
	from = strings.ToUpper(from)
	if !c.NeedsConversion(from) {
		return Conversion{Amount: amount, Currency: from, Rate: decimal.NewFromInt(1)}, nil
	}

	if rate, ok := c.cached(from); ok {
		return c.apply(amount, rate, false), nil
	}

	if c.source != nil {
		rate, err := c.source.Rate(ctx, from, c.settlement)
		if err == nil {
			c.store(from, rate)
			return c.apply(amount, rate, false), nil
		}
		logger.Log.Warn("exchange rate lookup failed",
			zap.String("from", from), zap.String("to", c.settlement), zap.Error(err))
	}

	rate, ok := c.fallback[from]
	if !ok && c.source == nil {
		return Conversion{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	if !ok || c.settlement != "USD" {
		return Conversion{}, fmt.Errorf("%w: %s to %s", ErrConversionUnavailable, from, c.settlement)
	}
	return c.apply(amount, rate, true), nil
}

func (c *Converter) apply(amount, rate decimal.Decimal, fallback bool) Conversion {
	return Conversion{
		Amount:        amount.Mul(rate).Round(2),
		Currency:      c.settlement,
		Rate:          rate,
		UsingFallback: fallback,
	}
}

func (c *Converter) cached(from string) (decimal.Decimal, bool) {
	if c.ttl <= 0 {
		return decimal.Zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, ok := c.cache[from]
	if !ok || time.Since(cr.fetched) > c.ttl {
		return decimal.Zero, false
	}
	return cr.rate, true
}

func (c *Converter) store(from string, rate decimal.Decimal) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[from] = cachedRate{rate: rate, fetched: time.Now()}
	c.mu.Unlock()
}
