package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrAuthFailure = errors.New("payment provider authentication failed")
	ErrProvider    = errors.New("payment provider error")
)

// InitiateRequest describes one payment to start at the provider.
type InitiateRequest struct {
	// OrderCode is the provider-side transaction reference.
	OrderCode   string
	AmountMinor int64
	Description string
	// CallbackToken is echoed back by the provider in the callback
	// Authorization header.
	CallbackToken string
}

type InitiateResponse struct {
	RedirectURL string
}

type Provider interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
}

// StubProvider completes no payment; it sends the customer straight to the
// fallback page. Useful for local development without provider credentials.
type StubProvider struct {
	FallbackURL string
}

func (p StubProvider) InitiatePayment(_ context.Context, req InitiateRequest) (*InitiateResponse, error) {
	redirect, err := WithOrderCode(p.FallbackURL, req.OrderCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return &InitiateResponse{RedirectURL: redirect}, nil
}

// WithOrderCode appends the orderCode query parameter to rawURL.
func WithOrderCode(rawURL, code string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid fallback url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set("orderCode", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
