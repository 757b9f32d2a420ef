package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mthsnx/caffe-diem/internal/events"
	"github.com/mthsnx/caffe-diem/internal/ordercode"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation              = errors.New("invalid order")
	ErrCodeCollision           = errors.New("order code collision")
	ErrStorageFailure          = errors.New("failed to store order")
	ErrStatusAlreadySet        = errors.New("status is already set to the desired value")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// totalTolerance is the largest accepted gap between the submitted total and
// the sum of item prices.
var totalTolerance = decimal.New(5, -3)

type SubmitInput struct {
	Code  string
	Items []Item
	Total decimal.Decimal
}

type Service interface {
	SubmitOrder(ctx context.Context, in SubmitInput) (*Order, error)
	GetOrder(ctx context.Context, code string) (*Order, error)
	UpdateStatus(ctx context.Context, code string, newStatus Status) error
	SetCallbackToken(ctx context.Context, code, callbackTokenHash string) error
	MarkPaymentPending(ctx context.Context, code string) error
}

type service struct {
	orderRepo     Repository
	publisher     events.Publisher
	initialStatus Status
	now           func() time.Time
}

func NewService(orderRepo Repository, publisher events.Publisher, initialStatus Status) Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &service{
		orderRepo:     orderRepo,
		publisher:     publisher,
		initialStatus: initialStatus,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) SubmitOrder(ctx context.Context, in SubmitInput) (*Order, error) {
	if err := validateSubmission(in); err != nil {
		log.Warn().Err(err).Str("order_code", in.Code).Msg("service: rejected order submission")
		return nil, err
	}

	order := &Order{
		Code:      in.Code,
		Items:     append([]Item(nil), in.Items...),
		Total:     storedTotal(in.Total),
		Status:    s.initialStatus,
		CreatedAt: s.now(),
	}

	if _, err := s.orderRepo.Insert(ctx, order); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			log.Info().Str("order_code", in.Code).Msg("service: order code already taken")
			return nil, fmt.Errorf("%w: %s", ErrCodeCollision, in.Code)
		}
		log.Error().Err(err).Str("order_code", in.Code).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	log.Info().
		Int64("order_id", order.ID).
		Str("order_code", order.Code).
		Stringer("status", order.Status).
		Str("total", order.Total.StringFixed(2)).
		Msg("service: order created successfully")

	s.publish(ctx, order.Code, order.Status)

	return order, nil
}

func validateSubmission(in SubmitInput) error {
	var problems []string

	switch {
	case in.Code == "":
		problems = append(problems, "order code is required")
	case !ordercode.Valid(in.Code):
		problems = append(problems, "order code must be a 6-digit number")
	}

	if len(in.Items) == 0 {
		problems = append(problems, "order must contain at least one item")
	}

	sum := decimal.Zero
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			problems = append(problems, fmt.Sprintf("item %d: name is required", i))
		}
		if item.Price.IsNegative() {
			problems = append(problems, fmt.Sprintf("item %d: price cannot be negative", i))
		}
		sum = sum.Add(item.Price)
	}

	if !storedTotal(in.Total).IsPositive() {
		problems = append(problems, "total must be at least 0.01")
	} else if len(in.Items) > 0 && in.Total.Sub(sum).Abs().GreaterThanOrEqual(totalTolerance) {
		problems = append(problems, fmt.Sprintf("total %s does not match item sum %s", in.Total.StringFixed(2), sum.StringFixed(2)))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// storedTotal is the total as persisted, rounded to cents.
func storedTotal(total decimal.Decimal) decimal.Decimal {
	return total.Round(2)
}

func (s *service) GetOrder(ctx context.Context, code string) (*Order, error) {
	order, err := s.orderRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Str("order_code", code).Msg("service: order not found by code")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Str("order_code", code).Msg("service: failed to fetch order by code in repository")
		return nil, fmt.Errorf("service: failed to fetch order by code: %w", err)
	}

	return order, nil
}

// UpdateStatus applies a forward transition. Repeating the current status is
// not an error.
func (s *service) UpdateStatus(ctx context.Context, code string, newStatus Status) error {
	err := s.orderRepo.UpdateStatus(ctx, code, newStatus)
	switch {
	case err == nil:
	case errors.Is(err, ErrStatusAlreadySet):
		log.Info().Str("order_code", code).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return nil
	case errors.Is(err, ErrOrderNotFound):
		log.Warn().Str("order_code", code).Stringer("new_status", newStatus).Msg("service: order not found, cannot update status")
		return ErrOrderNotFound
	case errors.Is(err, ErrInvalidStatusTransition):
		log.Warn().Err(err).Str("order_code", code).Stringer("new_status", newStatus).Msg("service: invalid status transition attempt")
		return err
	default:
		log.Error().Err(err).Str("order_code", code).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Str("order_code", code).Stringer("new_status", newStatus).Msg("service: order status updated successfully")
	s.publish(ctx, code, newStatus)
	return nil
}

// SetCallbackToken stores the hash of the token the provider will present on
// callback. The order status is left as is.
func (s *service) SetCallbackToken(ctx context.Context, code, callbackTokenHash string) error {
	if err := s.orderRepo.SetCallbackToken(ctx, code, callbackTokenHash); err != nil {
		return s.paymentWriteError(code, err, "service: failed to store callback token")
	}
	return nil
}

// MarkPaymentPending records that a provider payment was started.
func (s *service) MarkPaymentPending(ctx context.Context, code string) error {
	if err := s.orderRepo.MarkPaymentPending(ctx, code); err != nil {
		return s.paymentWriteError(code, err, "service: failed to mark payment pending")
	}

	log.Info().Str("order_code", code).Msg("service: order awaiting payment")
	s.publish(ctx, code, StatusPaymentPending)
	return nil
}

func (s *service) paymentWriteError(code string, err error, msg string) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, ErrInvalidStatusTransition):
		log.Warn().Err(err).Str("order_code", code).Msg("service: order can no longer be paid")
		return err
	default:
		log.Error().Err(err).Str("order_code", code).Msg(msg)
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
}

func (s *service) publish(ctx context.Context, code string, status Status) {
	evt := events.StatusChanged{OrderCode: code, Status: status.String(), OccurredAt: s.now()}
	if err := s.publisher.PublishStatusChanged(ctx, evt); err != nil {
		log.Warn().Err(err).Str("order_code", code).Stringer("status", status).Msg("service: failed to publish status event")
	}
}
