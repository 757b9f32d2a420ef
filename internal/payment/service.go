package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotPayable           = errors.New("order cannot be paid")
	ErrAmountMismatch       = errors.New("amount does not match order total")
	ErrCallbackUnauthorized = errors.New("callback authorization failed")
)

// approvedStatuses are the provider transaction statuses that mark an order paid.
var approvedStatuses = map[string]bool{
	"SALE":     true,
	"RESERVED": true,
	"RESERVE":  true,
	"CAPTURED": true,
	"APPROVED": true,
}

// Callback is a provider notification about one transaction.
type Callback struct {
	OrderCode     string
	TransactionID string
	Status        string
	// AuthToken is the raw Authorization header value.
	AuthToken string
}

type Service interface {
	StartPayment(ctx context.Context, code string, total decimal.Decimal) (string, error)
	HandleCallback(ctx context.Context, cb Callback) (order.Status, error)
}

type service struct {
	orders   order.Service
	provider Provider
	hashCost int
}

func NewService(orders order.Service, provider Provider) Service {
	return &service{
		orders:   orders,
		provider: provider,
		hashCost: bcrypt.DefaultCost,
	}
}

// StartPayment asks the provider for a redirect URL and records the order as
// awaiting payment. The callback token hash is stored before the provider is
// called so that a callback can always be verified once the provider accepts.
func (s *service) StartPayment(ctx context.Context, code string, total decimal.Decimal) (string, error) {
	current, err := s.orders.GetOrder(ctx, code)
	if err != nil {
		return "", err
	}

	if !current.Status.IsPayable() {
		log.Warn().Str("order_code", code).Stringer("status", current.Status).Msg("payment: order is not payable")
		return "", fmt.Errorf("%w: order %s is %s", ErrNotPayable, code, current.Status)
	}

	if !total.Round(2).Equal(current.Total) {
		log.Warn().Str("order_code", code).Str("requested", total.String()).Str("stored", current.Total.String()).Msg("payment: amount mismatch")
		return "", fmt.Errorf("%w: requested %s, order total %s", ErrAmountMismatch, total.StringFixed(2), current.Total.StringFixed(2))
	}

	token, err := newCallbackToken()
	if err != nil {
		return "", err
	}
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(token), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("payment: failed to hash callback token: %w", err)
	}

	if err := s.orders.SetCallbackToken(ctx, code, string(tokenHash)); err != nil {
		if errors.Is(err, order.ErrInvalidStatusTransition) {
			return "", fmt.Errorf("%w: %v", ErrNotPayable, err)
		}
		return "", err
	}

	resp, err := s.provider.InitiatePayment(ctx, InitiateRequest{
		OrderCode:     code,
		AmountMinor:   ToMinorUnits(current.Total),
		Description:   "Cafe Diem order " + code,
		CallbackToken: token,
	})
	if err != nil {
		log.Error().Err(err).Str("order_code", code).Msg("payment: provider rejected payment initiation")
		return "", err
	}

	// The provider session exists from here on and its callback can be
	// verified, so a failed status write does not fail the request.
	if err := s.orders.MarkPaymentPending(ctx, code); err != nil {
		log.Warn().Err(err).Str("order_code", code).Msg("payment: payment initiated but order not marked pending")
	} else {
		log.Info().Str("order_code", code).Msg("payment: payment initiated")
	}

	return resp.RedirectURL, nil
}

// HandleCallback verifies and applies a provider notification. The returned
// status is the one written, or empty when nothing changed.
func (s *service) HandleCallback(ctx context.Context, cb Callback) (order.Status, error) {
	current, err := s.orders.GetOrder(ctx, cb.OrderCode)
	if err != nil {
		return "", err
	}

	if !verifyCallbackToken(current.CallbackTokenHash, cb.AuthToken) {
		log.Warn().Str("order_code", cb.OrderCode).Str("transaction_id", cb.TransactionID).Msg("payment: callback failed authorization")
		return "", ErrCallbackUnauthorized
	}

	target := order.StatusFailed
	if IsApproved(cb.Status) {
		target = order.StatusPaid
	}

	if current.Status.IsTerminal() {
		log.Info().
			Str("order_code", cb.OrderCode).
			Stringer("status", current.Status).
			Str("provider_status", cb.Status).
			Msg("payment: repeated callback for settled order ignored")
		return "", nil
	}

	err = s.orders.UpdateStatus(ctx, cb.OrderCode, target)
	if errors.Is(err, order.ErrInvalidStatusTransition) {
		// Lost a race with another callback that already settled the order.
		return "", nil
	}
	if err != nil {
		return "", err
	}

	log.Info().
		Str("order_code", cb.OrderCode).
		Str("transaction_id", cb.TransactionID).
		Str("provider_status", cb.Status).
		Stringer("status", target).
		Msg("payment: callback applied")
	return target, nil
}

// IsApproved reports whether a provider transaction status means the money was secured.
func IsApproved(status string) bool {
	return approvedStatuses[strings.ToUpper(strings.TrimSpace(status))]
}

// ToMinorUnits converts an amount to øre/cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func newCallbackToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("payment: failed to generate callback token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func verifyCallbackToken(hash, header string) bool {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
