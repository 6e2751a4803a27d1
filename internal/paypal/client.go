package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SandboxURL = "https://api-m.sandbox.paypal.com"
	LiveURL    = "https://api-m.paypal.com"
)

type Credentials struct {
	ClientID  string
	Secret    string
	WebhookID string
}

// StaticCredentials serves the same credentials for every request.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(ctx context.Context) (Credentials, error) {
	if s.ClientID == "" || s.Secret == "" {
		return Credentials{}, &AuthError{Code: "missing_credentials", Description: "client id or secret not configured"}
	}
	return Credentials(s), nil
}

type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (m Money) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(m.Value)
}

var zeroDecimalCurrencies = map[string]bool{"JPY": true, "HUF": true, "TWD": true}

func NewMoney(amount decimal.Decimal, currency string) Money {
	places := int32(2)
	if zeroDecimalCurrencies[currency] {
		places = 0
	}
	return Money{CurrencyCode: currency, Value: amount.StringFixed(places)}
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
	Timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Authenticate runs the client-credentials grant.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*AccessToken, error) {
	if creds.ClientID == "" || creds.Secret == "" {
		return nil, &AuthError{Code: "missing_credentials", Description: "client id or secret is empty"}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(creds.ClientID, creds.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &RequestError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: "authenticate", Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest:
		var te tokenError
		_ = json.Unmarshal(body, &te)
		return nil, &AuthError{StatusCode: resp.StatusCode, Code: te.Error, Description: te.Description}
	default:
		return nil, decodeAPIError("authenticate", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response", ErrMalformedResponse)
	}
	return &AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// call sends a JSON request with bearer auth and returns the status and body.
// Non-2xx answers come back as *RequestError.
func (c *Client) call(ctx context.Context, op, method, path string, token *AccessToken, requestID string, in any) (int, []byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var payload io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s: %w", op, err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != nil {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &RequestError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, decodeAPIError(op, resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}
