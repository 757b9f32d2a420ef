// Package vipps is a client for the Vipps eCom v2 payment API.
package vipps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mthsnx/caffe-diem/internal/config"
	"github.com/mthsnx/caffe-diem/internal/payment"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	accessTokenPath = "/accesstoken/get"
	paymentsPath    = "/ecomm/v2/payments"

	// tokenExpirySkew refreshes the access token this long before it expires.
	tokenExpirySkew = 60 * time.Second
	maxErrorBody    = 4 << 10

	tracerName = "github.com/mthsnx/caffe-diem/internal/payment/vipps"
)

type Client struct {
	cfg        config.VippsConfig
	httpClient *http.Client
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

type Option func(*Client)

// WithTracing replaces the global tracer provider and propagator.
func WithTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
		c.propagator = prop
	}
}

func NewClient(cfg config.VippsConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type accessTokenResponse struct {
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
	AccessToken string      `json:"access_token"`
}

type merchantInfo struct {
	MerchantSerialNumber string `json:"merchantSerialNumber"`
	CallbackPrefix       string `json:"callbackPrefix"`
	FallBack             string `json:"fallBack"`
	AuthToken            string `json:"authToken"`
	IsApp                bool   `json:"isApp"`
}

type transaction struct {
	OrderID         string `json:"orderId"`
	Amount          int64  `json:"amount"`
	TransactionText string `json:"transactionText"`
}

type initiateRequest struct {
	MerchantInfo merchantInfo `json:"merchantInfo"`
	Transaction  transaction  `json:"transaction"`
}

type initiateResponse struct {
	OrderID string `json:"orderId"`
	URL     string `json:"url"`
}

type apiError struct {
	ErrorGroup   string `json:"errorGroup"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// InitiatePayment starts an eCom payment and returns the landing page URL.
func (c *Client) InitiatePayment(ctx context.Context, req payment.InitiateRequest) (resp *payment.InitiateResponse, err error) {
	ctx, span := c.tracer.Start(ctx, "vipps.InitiatePayment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("order.code", req.OrderCode),
			attribute.Int64("payment.amount_minor", req.AmountMinor),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	fallback, err := payment.WithOrderCode(c.cfg.FallbackURL, req.OrderCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrProvider, err)
	}

	body, err := json.Marshal(initiateRequest{
		MerchantInfo: merchantInfo{
			MerchantSerialNumber: c.cfg.MerchantSerialNumber,
			CallbackPrefix:       c.cfg.CallbackPrefix,
			FallBack:             fallback,
			AuthToken:            req.CallbackToken,
		},
		Transaction: transaction{
			OrderID:         req.OrderCode,
			Amount:          req.AmountMinor,
			TransactionText: req.Description,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", payment.ErrProvider, err)
	}

	idempotencyKey, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate idempotency key: %v", payment.ErrProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+paymentsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", payment.ErrProvider, err)
	}
	c.setCommonHeaders(httpReq)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey.String())

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", payment.ErrProvider, err)
	}
	defer httpResp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	if httpResp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return nil, fmt.Errorf("%w: access token rejected: %s", payment.ErrAuthFailure, readErrorMessage(httpResp.Body))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := readErrorMessage(httpResp.Body)
		log.Warn().Int("status", httpResp.StatusCode).Str("order_code", req.OrderCode).Str("provider_message", msg).Msg("vipps: payment initiation rejected")
		return nil, fmt.Errorf("%w: %s (status %d)", payment.ErrProvider, msg, httpResp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", payment.ErrProvider, err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: response has no redirect url", payment.ErrProvider)
	}

	return &payment.InitiateResponse{RedirectURL: out.URL}, nil
}

// token returns the cached access token, fetching a new one when it is
// missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	token, ttl, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token
	c.expiresAt = c.now().Add(ttl - tokenExpirySkew)
	log.Debug().Time("expires_at", c.expiresAt).Msg("vipps: access token refreshed")

	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	ctx, span := c.tracer.Start(ctx, "vipps.AccessToken", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+accessTokenPath, http.NoBody)
	if err != nil {
		return "", 0, fmt.Errorf("%w: failed to build token request: %v", payment.ErrAuthFailure, err)
	}
	req.Header.Set("client_id", c.cfg.ClientID)
	req.Header.Set("client_secret", c.cfg.ClientSecret)
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", 0, fmt.Errorf("%w: token request failed: %v", payment.ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		span.SetStatus(codes.Error, msg)
		return "", 0, fmt.Errorf("%w: %s (status %d)", payment.ErrAuthFailure, msg, resp.StatusCode)
	}

	var out accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: invalid token response: %v", payment.ErrAuthFailure, err)
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", payment.ErrAuthFailure)
	}

	seconds, err := strconv.ParseInt(out.ExpiresIn.String(), 10, 64)
	if err != nil || seconds <= 0 {
		seconds = int64(tokenExpirySkew / time.Second)
	}

	return out.AccessToken, time.Duration(seconds) * time.Second, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	c.propagator.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	req.Header.Set("Merchant-Serial-Number", c.cfg.MerchantSerialNumber)
	req.Header.Set("Vipps-System-Name", "cafe-diem")
}

// readErrorMessage extracts a human-readable message from a provider error body.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return "no error details"
	}

	var list []apiError
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			if e.ErrorMessage != "" {
				msgs = append(msgs, e.ErrorMessage)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	var single struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(raw, &single) == nil {
		for _, m := range []string{single.ErrorDescription, single.Message, single.Error} {
			if m != "" {
				return m
			}
		}
	}

	return strings.TrimSpace(string(raw))
}

var _ payment.Provider = (*Client)(nil)
