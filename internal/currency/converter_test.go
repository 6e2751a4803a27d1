package currency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRateSource struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func TestConvertPassThrough(t *testing.T) {
	src := &stubRateSource{}
	c := NewConverter(src, "USD", []string{"EUR", "GBP"}, time.Minute)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "eur")
	require.NoError(t, err)
	assert.Equal(t, "EUR", conv.Currency)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, src.calls)
}

func TestConvertRemoteRate(t *testing.T) {
	src := &stubRateSource{rate: decimal.RequireFromString("0.2667")}
	c := NewConverter(src, "USD", nil, time.Minute)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "SAR")
	require.NoError(t, err)
	assert.Equal(t, "USD", conv.Currency)
	assert.Equal(t, "26.67", conv.Amount.StringFixed(2))
	assert.False(t, conv.UsingFallback)

	_, err = c.Convert(context.Background(), decimal.NewFromInt(50), "SAR")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second lookup should hit the cache")
}

func TestConvertFallback(t *testing.T) {
	src := &stubRateSource{err: errors.New("feed down")}
	c := NewConverter(src, "USD", nil, 0)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "SAR")
	require.NoError(t, err)
	assert.True(t, conv.UsingFallback)
	assert.Equal(t, "26.66", conv.Amount.StringFixed(2))
}

func TestConvertUnavailable(t *testing.T) {
	src := &stubRateSource{err: errors.New("feed down")}
	c := NewConverter(src, "USD", nil, 0)

	_, err := c.Convert(context.Background(), decimal.NewFromInt(100), "EGP")
	assert.ErrorIs(t, err, ErrConversionUnavailable)
}

func TestConvertUnknownCurrencyWithoutSource(t *testing.T) {
	c := NewConverter(nil, "USD", []string{"EUR"}, time.Minute)

	_, err := c.Convert(context.Background(), decimal.NewFromInt(100), "XYZ")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "SAR")
	require.NoError(t, err)
	assert.True(t, conv.UsingFallback)
}

func TestHTTPRateSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "SAR", r.URL.Query().Get("base"))
		w.Write([]byte(`{"base":"SAR","rates":{"USD":0.2666}}`))
	}))
	defer srv.Close()

	src := &HTTPRateSource{Client: srv.Client(), BaseURL: srv.URL}
	rate, err := src.Rate(context.Background(), "SAR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.2666", rate.String())

	_, err = src.Rate(context.Background(), "SAR", "EUR")
	assert.Error(t, err)
}
